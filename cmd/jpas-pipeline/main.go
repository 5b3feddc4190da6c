// jpas-pipeline runs download, select and sed from one configuration. With
// -listenaddr it serves /v0/pipeline instead and runs on request.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"runtime"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/jpas-survey/halpha-pipeline/cmd/internal/cli"
	"github.com/jpas-survey/halpha-pipeline/output"
	"github.com/jpas-survey/halpha-pipeline/pipeline"
)

var (
	step       string
	listenAddr string
	bqTable    string
	flags      = cli.Flags{}

	mainCtx = context.Background()
)

func init() {
	flag.StringVar(&step, "step", "all", "Step to run: download, select, sed or all")
	flag.StringVar(&listenAddr, "listenaddr", "", "Serve /v0/pipeline on this address instead of running once")
	flag.StringVar(&bqTable, "bq.table", "", "BigQuery table (project.dataset.table) receiving the candidates (default from config)")
	flags.Register(flag.CommandLine)
}

func makeHTTPServer(listenAddr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:    listenAddr,
		Handler: h,
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.LUTC | log.Lshortfile | log.LstdFlags)
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	cfg, err := flags.Survey()
	rtx.Must(err, "cannot load configuration")
	steps, err := pipeline.ParseSteps(step)
	rtx.Must(err, "invalid -step")

	client, err := flags.Connect(mainCtx, cfg)
	rtx.Must(err, "cannot log in")
	wr, err := output.New(mainCtx, cfg.OutputDir)
	rtx.Must(err, "cannot open %s", cfg.OutputDir)

	runner := pipeline.NewRunner(client, wr, cfg)
	if id := cli.SinkID(bqTable, cfg); id != "" {
		runner.Sink, err = cli.NewSink(mainCtx, id)
		rtx.Must(err, "cannot initialize BigQuery sink")
	}

	// Start Prometheus server for monitoring.
	promServer := prometheusx.MustServeMetrics()
	defer promServer.Close()

	if listenAddr == "" {
		res := runner.Run(mainCtx, steps)
		log.Printf("Completed steps: %v", res.CompletedSteps)
		if len(res.Errors) > 0 {
			log.Fatalf("Pipeline failed: %v", res.Errors)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/v0/pipeline", pipeline.NewHandler(runner))

	log.Printf("GOMAXPROCS is %d", runtime.GOMAXPROCS(0))

	s := makeHTTPServer(listenAddr, mux)
	rtx.Must(httpx.ListenAndServeAsync(s), "Could not start HTTP server")
	defer s.Close()

	// Keep serving until the context is canceled.
	<-mainCtx.Done()
}
