// jpas-sed plots the spectral energy distribution of every object of a
// candidate CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/jpas-survey/halpha-pipeline/catalog"
	"github.com/jpas-survey/halpha-pipeline/exporter"
	"github.com/jpas-survey/halpha-pipeline/output"
	"github.com/jpas-survey/halpha-pipeline/sed"
)

var (
	filterFile     string
	dest           string
	zeroPoint      float64
	style          string
	errorThreshold float64
	workers        int

	mainCtx = context.Background()
)

func init() {
	flag.StringVar(&filterFile, "f", "Data/jpas_filters.csv", "Filter CSV (name, wavelength, color_representation)")
	flag.StringVar(&dest, "o", "jpas_seds", "Output directory or gs://bucket/prefix")
	flag.Float64Var(&zeroPoint, "zp", sed.DefaultZeroPoint, "Zero point of the flux conversion")
	flag.StringVar(&style, "style", string(sed.StyleColor), "Plot style: color or simple")
	flag.Float64Var(&errorThreshold, "error_threshold", 0.5, "Largest magnitude error plotted in the simple style")
	flag.IntVar(&workers, "workers", 1, "Concurrent renderers")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <input.csv>\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.LUTC | log.Lshortfile | log.LstdFlags)
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	t, err := catalog.ReadFile(flag.Arg(0))
	rtx.Must(err, "cannot read %s", flag.Arg(0))
	f, err := os.Open(filterFile)
	rtx.Must(err, "cannot open filter file")
	filters, err := sed.LoadFilters(f)
	f.Close()
	rtx.Must(err, "cannot load filters")
	s, err := sed.ParseStyle(style)
	rtx.Must(err, "invalid style")

	wr, err := output.New(mainCtx, dest)
	rtx.Must(err, "cannot open %s", dest)
	ex := exporter.New(wr, filters, sed.Options{
		ZeroPoint:      zeroPoint,
		Style:          s,
		ErrorThreshold: errorThreshold,
	})
	ex.Workers = workers

	stats, err := ex.Export(mainCtx, t)
	rtx.Must(err, "export interrupted")
	if stats.Total > 0 && stats.Exported == 0 {
		log.Fatal("no SED could be generated")
	}
}
