// Package exporter renders one SED plot per catalogue row and writes it
// through an output.Writer.
package exporter

import (
	"bytes"
	"context"
	"log"
	"regexp"
	"strconv"
	"sync"
	"text/template"
	"text/template/parse"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jpas-survey/halpha-pipeline/catalog"
	"github.com/jpas-survey/halpha-pipeline/output"
	"github.com/jpas-survey/halpha-pipeline/sed"
)

var sedFilesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jpas_sed_files_total",
	Help: "SED plots exported",
}, []string{
	"status",
})

const (
	// DefaultPathTemplate names plots after the object number. When the
	// table has no number column the row index is used.
	DefaultPathTemplate = "sed_{{.number}}.pdf"

	progressEvery = 50
)

var fieldRegex = regexp.MustCompile(`{{\s*\.([A-Za-z0-9_]+)\s*}}`)

// Stats summarises an export.
type Stats struct {
	Total    int
	Exported int
	Failed   int
}

// RenderJob is a row waiting to be plotted.
type RenderJob struct {
	row     int
	objName string
}

// UploadJob is a rendered plot waiting to be written.
type UploadJob struct {
	row     int
	objName string
	content []byte
}

// UploadResult is the outcome for one row.
type UploadResult struct {
	row     int
	objName string
	err     error
}

// SEDExporter renders SED plots for every row of a table.
type SEDExporter struct {
	output output.Writer

	Filters []sed.Filter
	Options sed.Options
	// PathTemplate builds the output path of each plot from the row's
	// columns.
	PathTemplate *template.Template
	// Workers is the number of concurrent renderers and writers. The
	// default of 1 processes rows one after the other.
	Workers int
}

// New returns a sequential SEDExporter with the default path template.
func New(wr output.Writer, filters []sed.Filter, o sed.Options) *SEDExporter {
	return &SEDExporter{
		output:       wr,
		Filters:      filters,
		Options:      o,
		PathTemplate: template.Must(template.New("path").Parse(DefaultPathTemplate)),
		Workers:      1,
	}
}

// Export renders and writes one plot per row of t. Rows that cannot be
// rendered or written are logged and counted as failed; only a canceled
// context aborts the export.
func (e *SEDExporter) Export(ctx context.Context, t *catalog.Table) (Stats, error) {
	fields := templateFields(e.PathTemplate)
	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	renderJobs := make(chan *RenderJob)
	uploadJobs := make(chan *UploadJob)
	results := make(chan UploadResult)
	done := make(chan Stats)

	log.Printf("Processing %d objects...", t.Len())
	go collectStats(t.Len(), results, done)

	renderWg := sync.WaitGroup{}
	for w := 1; w <= workers; w++ {
		renderWg.Add(1)
		go e.renderWorker(ctx, &renderWg, t, renderJobs, uploadJobs, results)
	}
	uploadWg := sync.WaitGroup{}
	for w := 1; w <= workers; w++ {
		uploadWg.Add(1)
		go e.uploadWorker(ctx, &uploadWg, uploadJobs, results)
	}

feed:
	for r := 0; r < t.Len(); r++ {
		name, err := e.path(t, r, fields)
		if err != nil {
			results <- UploadResult{row: r, err: err}
			continue
		}
		select {
		case renderJobs <- &RenderJob{row: r, objName: name}:
		case <-ctx.Done():
			break feed
		}
	}
	close(renderJobs)
	renderWg.Wait()
	close(uploadJobs)
	uploadWg.Wait()
	close(results)
	stats := <-done
	return stats, ctx.Err()
}

// path executes the path template on row r. Template fields that are not
// columns of t, or are empty in this row, take the row index.
func (e *SEDExporter) path(t *catalog.Table, r int, fields []string) (string, error) {
	data := map[string]string{"index": strconv.Itoa(r)}
	for _, f := range fields {
		v := ""
		if t.Has(f) {
			v = t.String(r, f)
		}
		if v == "" {
			v = strconv.Itoa(r)
		}
		data[f] = v
	}
	buf := &bytes.Buffer{}
	if err := e.PathTemplate.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *SEDExporter) renderWorker(ctx context.Context, wg *sync.WaitGroup,
	t *catalog.Table, jobs <-chan *RenderJob, uploadJobs chan<- *UploadJob,
	results chan<- UploadResult) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			if j == nil {
				return
			}
			pts := sed.Points(t, j.row, e.Filters, e.Options)
			pdf, err := sed.Render(pts, sed.MetaOf(t, j.row), e.Options.Style)
			if err != nil {
				results <- UploadResult{row: j.row, objName: j.objName, err: err}
				continue
			}
			select {
			case uploadJobs <- &UploadJob{row: j.row, objName: j.objName, content: pdf}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *SEDExporter) uploadWorker(ctx context.Context, wg *sync.WaitGroup,
	jobs <-chan *UploadJob, results chan<- UploadResult) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			if j == nil {
				return
			}
			err := e.output.Write(ctx, j.objName, j.content)
			results <- UploadResult{row: j.row, objName: j.objName, err: err}
		}
	}
}

// collectStats counts results until the channel is closed, logging progress
// every 50 exported plots.
func collectStats(total int, results <-chan UploadResult, done chan<- Stats) {
	stats := Stats{Total: total}
	start := time.Now()
	for res := range results {
		if res.err != nil {
			stats.Failed++
			sedFilesMetric.WithLabelValues("error").Inc()
			log.Printf("Error in row %d: %v", res.row, res.err)
			continue
		}
		stats.Exported++
		sedFilesMetric.WithLabelValues("ok").Inc()
		if stats.Exported%progressEvery == 0 {
			log.Printf("Progress: %d/%d (%.1f%%), elapsed: %s", stats.Exported, total,
				100*float64(stats.Exported)/float64(total),
				time.Since(start).Round(time.Second))
		}
	}
	log.Printf("Result: %d/%d SEDs generated", stats.Exported, total)
	done <- stats
}

// templateFields returns the field names used by tpl, e.g. "number" for
// "sed_{{.number}}.pdf".
func templateFields(tpl *template.Template) []string {
	var fields []string
	for _, f := range listNodeFields(tpl.Tree.Root, nil) {
		if m := fieldRegex.FindStringSubmatch(f); m != nil {
			fields = append(fields, m[1])
		}
	}
	return fields
}

func listNodeFields(node parse.Node, res []string) []string {
	if node.Type() == parse.NodeAction {
		res = append(res, node.String())
	}

	if ln, ok := node.(*parse.ListNode); ok {
		for _, n := range ln.Nodes {
			res = listNodeFields(n, res)
		}
	}
	return res
}
