// Package output writes pipeline artefacts to a local directory or a GCS
// bucket.
package output

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/m-lab/go/uploader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var errAbsolutePath = errors.New("path must be relative to the output directory")

var writtenBytesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jpas_output_bytes_total",
	Help: "Bytes written to the output destination",
}, []string{
	"writer",
})

// Writer stores content at a path relative to its destination.
type Writer interface {
	Write(ctx context.Context, path string, content []byte) error
}

// New returns a GCSWriter for destinations of the form gs://bucket/prefix
// and a LocalWriter for anything else.
func New(ctx context.Context, dest string) (Writer, error) {
	if strings.HasPrefix(dest, "gs://") {
		bucket, prefix, err := ParseGCS(dest)
		if err != nil {
			return nil, err
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewGCSWriter(uploader.New(stiface.AdaptClient(client), bucket), prefix), nil
	}
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return nil, err
	}
	return NewLocalWriter(ctx, dest), nil
}

// ParseGCS splits gs://bucket/prefix into its bucket and prefix.
func ParseGCS(dest string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(dest, "gs://")
	if rest == dest {
		return "", "", fmt.Errorf("%q is not a gs:// URL", dest)
	}
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("%q has no bucket", dest)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return parts[0], prefix, nil
}

// GCSWriter provides Write operations to a GCS bucket.
type GCSWriter struct {
	up     *uploader.Uploader
	prefix string
}

// NewGCSWriter creates a new GCSWriter from the given uploader.Uploader.
// Object names are prefixed with prefix.
func NewGCSWriter(up *uploader.Uploader, prefix string) *GCSWriter {
	return &GCSWriter{up: up, prefix: prefix}
}

// Write creates a new object at path containing content.
func (u *GCSWriter) Write(ctx context.Context, p string, content []byte) error {
	_, err := u.up.Upload(ctx, path.Join(u.prefix, p), content)
	if err == nil {
		writtenBytesMetric.WithLabelValues("gcs").Add(float64(len(content)))
	}
	return err
}

// LocalWriter provides Write operations to a local directory.
type LocalWriter struct {
	dir  string
	c    *sync.Cond
	safe bool
}

// NewLocalWriter creates a new LocalWriter for the given output directory.
// Writes block while the filesystem holding dir is nearly full.
func NewLocalWriter(ctx context.Context, dir string) *LocalWriter {
	lu := &LocalWriter{dir: dir, c: sync.NewCond(&sync.Mutex{}), safe: true}
	go lu.monitorDir(ctx)
	return lu
}

// monitorDir gates writes on the free blocks and inodes of the output
// filesystem until ctx is canceled.
func (lu *LocalWriter) monitorDir(ctx context.Context) {
	for ctx.Err() == nil {
		time.Sleep(time.Second)

		stat := syscall.Statfs_t{}
		if err := syscall.Statfs(lu.dir, &stat); err != nil {
			log.Printf("Cannot stat output filesystem, disk space is no longer monitored: %v", err)
			return
		}

		lu.c.L.Lock()
		if float64(stat.Ffree)/float64(stat.Files) < 0.1 ||
			float64(stat.Bfree)/float64(stat.Blocks) < 0.1 {
			if lu.safe {
				log.Printf("Less than 10%% free space in %s, pausing writes", lu.dir)
			}
			lu.safe = false
		} else {
			lu.safe = true
			lu.c.Broadcast()
		}
		lu.c.L.Unlock()
	}
}

func (lu *LocalWriter) waitUntilSafeToWrite() {
	lu.c.L.Lock()
	for !lu.safe {
		lu.c.Wait()
	}
	lu.c.L.Unlock()
}

// Write creates a new file at path containing content. Missing parent
// directories are created. Absolute paths are rejected.
func (lu *LocalWriter) Write(ctx context.Context, p string, content []byte) error {
	if filepath.IsAbs(p) {
		return fmt.Errorf("%s: %w", p, errAbsolutePath)
	}
	full := filepath.Join(lu.dir, p)
	if err := os.MkdirAll(filepath.Dir(full), os.ModePerm); err != nil {
		return err
	}
	lu.waitUntilSafeToWrite()
	if err := os.WriteFile(full, content, 0664); err != nil {
		return err
	}
	writtenBytesMetric.WithLabelValues("local").Add(float64(len(content)))
	return nil
}
