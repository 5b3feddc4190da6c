// jpas-clean-jobs deletes every asynchronous TAP job of the session, one
// at a time.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/jpas-survey/halpha-pipeline/cmd/internal/cli"
)

var (
	pause time.Duration
	flags = cli.Flags{}

	mainCtx = context.Background()
)

func init() {
	flag.DurationVar(&pause, "pause", 3*time.Second, "Delay after each deletion")
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

	deleted, failed, err := client.CleanJobs(mainCtx, pause)
	rtx.Must(err, "cannot list jobs")
	log.Printf("Deleted %d jobs, %d failures", deleted, failed)
}
