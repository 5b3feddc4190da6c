// Package histogram splits photometric catalogues into magnitude bins and
// writes one table file per bin.
package histogram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"text/template"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jpas-survey/halpha-pipeline/catalog"
	"github.com/jpas-survey/halpha-pipeline/output"
)

var binRowsMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "jpas_bin_objects",
	Help: "Objects written to each magnitude bin",
}, []string{
	"bin",
})

const fileNameTpl = "jpas_bin_{{.Index}}_{{.Min}}to{{.Max}}i.{{.Ext}}"

var fileName = template.Must(template.New("bin").Parse(fileNameTpl))

// Bin is a half-open magnitude interval [Min, Max).
type Bin struct {
	Min float64
	Max float64
}

// Contains reports whether mag falls inside the bin.
func (b Bin) Contains(mag float64) bool {
	return mag >= b.Min && mag < b.Max
}

// FileName returns the name of the file holding the i-th bin (1-based),
// e.g. jpas_bin_2_16.0to17.5i.fits.
func (b Bin) FileName(i int, ext string) string {
	buf := &bytes.Buffer{}
	// The template and its data are fixed, so Execute cannot fail.
	fileName.Execute(buf, map[string]string{
		"Index": strconv.Itoa(i),
		"Min":   decimal(b.Min),
		"Max":   decimal(b.Max),
		"Ext":   strings.TrimPrefix(ext, "."),
	})
	return buf.String()
}

// decimal formats v with the shortest representation that keeps at least
// one fractional digit: 13 -> "13.0", 17.5 -> "17.5".
func decimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Split returns, for every bin, the rows of t whose column value falls in
// the bin. Rows outside every bin or with a missing value are dropped.
func Split(t *catalog.Table, column string, bins []Bin) ([]*catalog.Table, error) {
	if !t.Has(column) {
		return nil, fmt.Errorf("bin column %q not found", column)
	}
	out := make([]*catalog.Table, len(bins))
	for i, b := range bins {
		out[i] = t.Filter(func(r int) bool {
			v := t.Value(r, column)
			return !math.IsNaN(v) && b.Contains(v)
		})
	}
	return out, nil
}

// Writer writes magnitude bins through an output.Writer.
type Writer struct {
	output output.Writer
	// Column is the magnitude column the bins apply to.
	Column string
	// Ext selects the file format: "fits" or "csv".
	Ext string
	// FloatFormat is used for CSV output.
	FloatFormat string
}

// NewWriter returns a Writer producing FITS files binned on column.
func NewWriter(wr output.Writer, column string) *Writer {
	return &Writer{output: wr, Column: column, Ext: "fits", FloatFormat: "%.4f"}
}

// BinFile is a bin that was written.
type BinFile struct {
	Name  string
	Table *catalog.Table
}

// WriteBins splits t and writes one file per bin, including empty bins.
// A bin that cannot be encoded or written is logged and skipped; the
// remaining bins are still written. It returns the bins written, in order,
// and an error joining every failure.
func (w *Writer) WriteBins(ctx context.Context, t *catalog.Table, bins []Bin) ([]BinFile, error) {
	parts, err := Split(t, w.Column, bins)
	if err != nil {
		return nil, err
	}
	var files []BinFile
	var errs []error
	for i, part := range parts {
		name := bins[i].FileName(i+1, w.Ext)
		if err := w.write(ctx, name, part); err != nil {
			log.Printf("Cannot write bin %d: %v", i+1, err)
			errs = append(errs, err)
			continue
		}
		log.Printf("Bin %d [%v, %v): %d objects saved in %s", i+1, bins[i].Min,
			bins[i].Max, part.Len(), name)
		binRowsMetric.WithLabelValues(strconv.Itoa(i + 1)).Set(float64(part.Len()))
		files = append(files, BinFile{Name: name, Table: part})
	}
	return files, errors.Join(errs...)
}

func (w *Writer) write(ctx context.Context, name string, part *catalog.Table) error {
	content, err := catalog.Encode(name, part, w.FloatFormat)
	if err != nil {
		return err
	}
	if err := w.output.Write(ctx, name, content); err != nil {
		return fmt.Errorf("cannot write %s: %w", name, err)
	}
	return nil
}
