// jpas-explore logs in to the archive and prints a first look at the
// photometry and filter tables.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/jpas-survey/halpha-pipeline/adql"
	"github.com/jpas-survey/halpha-pipeline/catalog"
	"github.com/jpas-survey/halpha-pipeline/cmd/internal/cli"
)

var (
	top   int
	flags = cli.Flags{}

	mainCtx = context.Background()
)

func init() {
	flag.IntVar(&top, "top", 10, "Number of sample rows")
	flags.Register(flag.CommandLine)
}

func main() {
	flag.Parse()
	log.SetFlags(log.LUTC | log.Lshortfile | log.LstdFlags)
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	cfg, err := flags.Survey()
	rtx.Must(err, "cannot load configuration")
	client, err := flags.Connect(mainCtx, cfg)
	rtx.Must(err, "cannot log in")

	opts, err := adql.Preset(cfg.Preset, cfg.PhotometryTable, cfg.ErrorCut, cfg.FlagMax)
	rtx.Must(err, "invalid preset")

	q, err := adql.Count(opts)
	rtx.Must(err, "cannot build count query")
	count, err := client.RunSync(mainCtx, q)
	if err != nil {
		cli.Fatal(err)
	}
	if count.Len() > 0 {
		log.Printf("%s: %s objects pass the quality cuts", cfg.PhotometryTable,
			count.String(0, count.Columns[0]))
	}

	opts.Top = top
	q, err = adql.Photometry(opts)
	rtx.Must(err, "cannot build photometry query")
	sample, err := client.RunAsync(mainCtx, q)
	if err != nil {
		cli.Fatal(err)
	}
	log.Printf("Sample of %d objects, %d columns", sample.Len(), len(sample.Columns))
	rtx.Must(catalog.WriteCSV(os.Stdout, sample, "%.4f"), "cannot print sample")

	filters, err := client.RunSync(mainCtx, adql.FilterMetadata(cfg.FilterTable))
	if err != nil {
		cli.Fatal(err)
	}
	log.Printf("%s: %d filters", cfg.FilterTable, filters.Len())
	rtx.Must(catalog.WriteCSV(os.Stdout, filters, ""), "cannot print filters")
}
