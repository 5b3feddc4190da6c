// Package pipeline runs the survey workflow: download photometry into
// magnitude bins, select Hα candidates and plot their SEDs.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"text/template"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jpas-survey/halpha-pipeline/adql"
	"github.com/jpas-survey/halpha-pipeline/catalog"
	"github.com/jpas-survey/halpha-pipeline/config"
	"github.com/jpas-survey/halpha-pipeline/exporter"
	"github.com/jpas-survey/halpha-pipeline/halpha"
	"github.com/jpas-survey/halpha-pipeline/histogram"
	"github.com/jpas-survey/halpha-pipeline/output"
	"github.com/jpas-survey/halpha-pipeline/sed"
	"github.com/jpas-survey/halpha-pipeline/tap"
)

var stepsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jpas_pipeline_steps_total",
	Help: "Pipeline steps run, by outcome",
}, []string{
	"step", "status",
})

// FiltersFITS is the FITS copy of the filter metadata.
const FiltersFITS = "jpas_filters.fits"

// Step names a stage of the pipeline.
type Step string

// Steps accepted by ParseSteps.
const (
	downloadStep Step = "download"
	selectStep   Step = "select"
	sedStep      Step = "sed"
	allSteps     Step = "all"
)

// ParseSteps expands a step name into the steps to run, in order.
func ParseSteps(s string) ([]Step, error) {
	switch st := Step(s); st {
	case allSteps:
		return []Step{downloadStep, selectStep, sedStep}, nil
	case downloadStep, selectStep, sedStep:
		return []Step{st}, nil
	case "":
		return nil, errMissingStep
	}
	return nil, fmt.Errorf("%w: %q", errUnknownStep, s)
}

// Result reports the steps completed by a run and the error that stopped
// it, if any.
type Result struct {
	CompletedSteps []Step
	Errors         []string
}

// Querier runs ADQL queries.
type Querier interface {
	RunSync(ctx context.Context, query string) (*catalog.Table, error)
	RunAsync(ctx context.Context, query string) (*catalog.Table, error)
}

// Uploader receives the selected candidates.
type Uploader interface {
	Upload(ctx context.Context, t *catalog.Table) error
}

// Runner executes pipeline steps. Tables produced by a step are kept for
// the following steps of the same run; a step run on its own reads its
// input from InputDir.
type Runner struct {
	tap    Querier
	output output.Writer
	config config.Config

	// Sink optionally receives the candidates.
	Sink Uploader
	// InputDir is the local directory holding the files written by
	// previous runs.
	InputDir string

	bins       map[string]*catalog.Table
	candidates *catalog.Table
	filters    []sed.Filter
}

// NewRunner returns a Runner writing to wr.
func NewRunner(q Querier, wr output.Writer, cfg config.Config) *Runner {
	return &Runner{
		tap:      q,
		output:   wr,
		config:   cfg,
		InputDir: cfg.OutputDir,
	}
}

// Run executes the steps in order. The first failing step stops the run.
func (r *Runner) Run(ctx context.Context, steps []Step) Result {
	res := Result{
		CompletedSteps: []Step{},
		Errors:         []string{},
	}
	for _, s := range steps {
		log.Printf("Running step %s...", s)
		var err error
		switch s {
		case downloadStep:
			err = r.Download(ctx)
		case selectStep:
			err = r.Select(ctx)
		case sedStep:
			err = r.PlotSEDs(ctx)
		default:
			err = fmt.Errorf("%w: %q", errUnknownStep, s)
		}
		if err != nil {
			log.Printf("Step %s failed: %v", s, err)
			var qe *tap.QueryError
			if errors.As(err, &qe) {
				log.Printf("Query:\n%s", qe.Query)
			}
			stepsMetric.WithLabelValues(string(s), "error").Inc()
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", s, err))
			return res
		}
		stepsMetric.WithLabelValues(string(s), "ok").Inc()
		res.CompletedSteps = append(res.CompletedSteps, s)
	}
	return res
}

func (r *Runner) histogramBins() []histogram.Bin {
	bins := make([]histogram.Bin, len(r.config.Bins))
	for i, b := range r.config.Bins {
		bins[i] = histogram.Bin{Min: b.Min, Max: b.Max}
	}
	return bins
}

// Download queries the photometry, writes one file per magnitude bin and
// saves the filter metadata as FITS and CSV.
func (r *Runner) Download(ctx context.Context) error {
	cfg := r.config
	opts, err := adql.Preset(cfg.Preset, cfg.PhotometryTable, cfg.ErrorCut, cfg.FlagMax)
	if err != nil {
		return err
	}
	q, err := adql.Photometry(opts)
	if err != nil {
		return err
	}
	log.Printf("Querying %s (%d filters)...", cfg.PhotometryTable, len(opts.Filters))
	t, err := r.tap.RunAsync(ctx, q)
	if err != nil {
		return err
	}
	log.Printf("Downloaded %d objects", t.Len())

	files, err := histogram.NewWriter(r.output, cfg.BinColumn).WriteBins(ctx, t, r.histogramBins())
	if len(files) == 0 && err != nil {
		return err
	}
	if err != nil {
		log.Printf("Some bins were not written: %v", err)
	}
	r.bins = make(map[string]*catalog.Table, len(files))
	for _, f := range files {
		r.bins[f.Name] = f.Table
	}

	ft, err := r.tap.RunSync(ctx, adql.FilterMetadata(cfg.FilterTable))
	if err != nil {
		return err
	}
	if err := r.writeTable(ctx, FiltersFITS, ft, ""); err != nil {
		return err
	}
	csv, err := catalog.Encode(cfg.SED.FilterFile, ft, "")
	if err != nil {
		return err
	}
	if err := r.output.Write(ctx, cfg.SED.FilterFile, csv); err != nil {
		return err
	}
	r.filters, err = sed.LoadFilters(bytes.NewReader(csv))
	if err != nil {
		return err
	}
	log.Printf("Filter metadata saved in %s and %s", FiltersFITS, cfg.SED.FilterFile)
	return nil
}

// Select runs the Hα selection on the configured bin and writes the
// candidates, uploading them to Sink when set.
func (r *Runner) Select(ctx context.Context) error {
	cfg := r.config.Selection
	t, ok := r.bins[cfg.Input]
	if !ok {
		var err error
		if t, err = r.readInput(cfg.Input); err != nil {
			return err
		}
	}
	method, err := halpha.ParseVarianceMethod(cfg.VarianceMethod)
	if err != nil {
		return err
	}
	opts := halpha.DefaultOptions()
	opts.Method = method
	opts.SigmaThreshold = cfg.SigmaThreshold
	opts.FlagMax = float64(r.config.FlagMax)

	cands, results, err := halpha.Candidates(t, opts)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err == nil {
			log.Printf("Tile %.0f: %d/%d candidates (slope %.4f, sigma_int %.4f)",
				res.TileID, res.Candidates, res.Objects, res.Fit.Slope, res.Fit.SigmaInt)
		}
	}
	log.Printf("Selected %d candidates with the %s variance", cands.Len(), method)
	if err := r.writeTable(ctx, cfg.Output, cands, "%.4f"); err != nil {
		return err
	}
	r.candidates = cands
	if r.Sink != nil {
		return r.Sink.Upload(ctx, cands)
	}
	return nil
}

// PlotSEDs renders one SED per candidate.
func (r *Runner) PlotSEDs(ctx context.Context) error {
	cfg := r.config.SED
	if r.candidates == nil {
		t, err := r.readInput(r.config.Selection.Output)
		if err != nil {
			return err
		}
		r.candidates = t
	}
	if r.filters == nil {
		b, err := os.ReadFile(filepath.Join(r.InputDir, cfg.FilterFile))
		if err != nil {
			return err
		}
		if r.filters, err = sed.LoadFilters(bytes.NewReader(b)); err != nil {
			return err
		}
	}
	style, err := sed.ParseStyle(cfg.Style)
	if err != nil {
		return err
	}
	ex := exporter.New(r.output, r.filters, sed.Options{
		ZeroPoint:      cfg.ZeroPoint,
		Style:          style,
		ErrorThreshold: cfg.ErrorThreshold,
	})
	ex.PathTemplate, err = template.New("sed").Parse(path.Join(cfg.Output, exporter.DefaultPathTemplate))
	if err != nil {
		return err
	}
	stats, err := ex.Export(ctx, r.candidates)
	if err != nil {
		return err
	}
	if stats.Total > 0 && stats.Exported == 0 {
		return errNoSEDs
	}
	return nil
}

func (r *Runner) writeTable(ctx context.Context, name string, t *catalog.Table, floatFormat string) error {
	b, err := catalog.Encode(name, t, floatFormat)
	if err != nil {
		return err
	}
	return r.output.Write(ctx, name, b)
}

func (r *Runner) readInput(name string) (*catalog.Table, error) {
	p := filepath.Join(r.InputDir, name)
	log.Printf("Reading %s", p)
	t, err := catalog.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoInput, err)
	}
	return t, nil
}
