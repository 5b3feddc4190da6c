// halpha-select fits the stellar locus of every tile of a photometry file
// and writes the Hα emitter candidates.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/jpas-survey/halpha-pipeline/cmd/internal/cli"
	"github.com/jpas-survey/halpha-pipeline/output"
	"github.com/jpas-survey/halpha-pipeline/pipeline"
)

var (
	outputFile     string
	dest           string
	varianceMethod string
	sigmaThreshold float64
	bqTable        string
	flags          = cli.Flags{}

	mainCtx = context.Background()
)

func init() {
	flag.StringVar(&outputFile, "o", "resultados/halpha_candidates.csv", "Candidate CSV path")
	flag.StringVar(&dest, "dest", "", "Directory or gs://bucket/prefix the output path is relative to (default: the directory of -o)")
	flag.StringVar(&varianceMethod, "variance_method", "Fratta", "Variance formula: Maguio, Mine or Fratta")
	flag.Float64Var(&sigmaThreshold, "sigma_threshold", 5, "Selection threshold in sigma")
	flag.StringVar(&bqTable, "bq.table", "", "BigQuery table (project.dataset.table) receiving the candidates (default from config)")
	flags.Register(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <input.fits|input.csv>\n", os.Args[0])
		flag.PrintDefaults()
	}
}

// outputLocation returns the destination and the path within it where the
// candidates are written. Without a destination, -o is taken as a plain
// file path.
func outputLocation(dest, file string) (string, string) {
	if dest != "" {
		return dest, file
	}
	return filepath.Dir(file), filepath.Base(file)
}

func main() {
	flag.Parse()
	log.SetFlags(log.LUTC | log.Lshortfile | log.LstdFlags)
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	input := flag.Arg(0)

	cfg, err := flags.Survey()
	rtx.Must(err, "cannot load configuration")
	cfg.Selection.Input = filepath.Base(input)
	outDir, outPath := outputLocation(dest, outputFile)
	cfg.Selection.Output = outPath
	cfg.Selection.VarianceMethod = varianceMethod
	cfg.Selection.SigmaThreshold = sigmaThreshold

	wr, err := output.New(mainCtx, outDir)
	rtx.Must(err, "cannot open %s", outDir)
	r := pipeline.NewRunner(nil, wr, cfg)
	r.InputDir = filepath.Dir(input)
	if id := cli.SinkID(bqTable, cfg); id != "" {
		r.Sink, err = cli.NewSink(mainCtx, id)
		rtx.Must(err, "cannot initialize BigQuery sink")
	}
	if err := r.Select(mainCtx); err != nil {
		cli.Fatal(err)
	}
	log.Printf("Candidates written to %s/%s", outDir, outPath)
}
