// jpas-download queries the survey photometry, writes one FITS file per
// magnitude bin and saves the filter metadata.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/jpas-survey/halpha-pipeline/cmd/internal/cli"
	"github.com/jpas-survey/halpha-pipeline/output"
	"github.com/jpas-survey/halpha-pipeline/pipeline"
)

var (
	preset string
	dest   string
	flags  = cli.Flags{}

	mainCtx = context.Background()
)

func init() {
	flag.StringVar(&preset, "preset", "", "Filters to download: all or halpha (default from config)")
	flag.StringVar(&dest, "o", "", "Output directory or gs://bucket/prefix (default from config)")
	flags.Register(flag.CommandLine)
}

func main() {
	flag.Parse()
	log.SetFlags(log.LUTC | log.Lshortfile | log.LstdFlags)
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	cfg, err := flags.Survey()
	rtx.Must(err, "cannot load configuration")
	if preset != "" {
		cfg.Preset = preset
	}
	if dest != "" {
		cfg.OutputDir = dest
	}

	client, err := flags.Connect(mainCtx, cfg)
	rtx.Must(err, "cannot log in")
	wr, err := output.New(mainCtx, cfg.OutputDir)
	rtx.Must(err, "cannot open %s", cfg.OutputDir)

	if err := pipeline.NewRunner(client, wr, cfg).Download(mainCtx); err != nil {
		cli.Fatal(err)
	}
	log.Printf("Download complete: %s", cfg.OutputDir)
}
