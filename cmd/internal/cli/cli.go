// Package cli holds the flags and setup shared by the survey commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/googleapis/google-cloud-go-testing/bigquery/bqiface"
	"github.com/m-lab/go/flagx"
	"golang.org/x/term"

	"github.com/jpas-survey/halpha-pipeline/bqsink"
	"github.com/jpas-survey/halpha-pipeline/config"
	"github.com/jpas-survey/halpha-pipeline/tap"
)

var errNoTerminal = errors.New("no password given and stdin is not a terminal")

// Flags are the archive credentials and the survey configuration file.
type Flags struct {
	User     string
	Password string
	Config   flagx.File
}

// Register adds the -tap.user, -tap.password and -config flags to fs.
func (f *Flags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.User, "tap.user", "", "Archive user name")
	fs.StringVar(&f.Password, "tap.password", "",
		"Archive password, prompted for when empty")
	fs.Var(&f.Config, "config", "JSON survey configuration file")
}

// Survey returns the configuration file merged over the defaults.
func (f *Flags) Survey() (config.Config, error) {
	return config.Load(f.Config.Get())
}

// Password returns p, or reads a password from the terminal without echo
// when p is empty.
func Password(p string) (string, error) {
	if p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Connect logs in to the TAP service of cfg.
func (f *Flags) Connect(ctx context.Context, cfg config.Config) (*tap.Client, error) {
	if f.User == "" {
		return nil, fmt.Errorf("missing mandatory flag: -tap.user")
	}
	password, err := Password(f.Password)
	if err != nil {
		return nil, err
	}
	c, err := tap.New(cfg.TAPURL, cfg.LoginURL)
	if err != nil {
		return nil, err
	}
	if err := c.Login(ctx, f.User, password); err != nil {
		return nil, err
	}
	return c, nil
}

// SinkID returns the BigQuery table receiving the candidates: the flag
// value when set, else the one in the configuration. Empty means none.
func SinkID(flagValue string, cfg config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	return cfg.Selection.BigQueryTable
}

// NewSink returns the BigQuery table named by id (project.dataset.table).
func NewSink(ctx context.Context, id string) (*bqsink.Table, error) {
	project, dataset, table, err := bqsink.ParseTableID(id)
	if err != nil {
		return nil, err
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, err
	}
	return bqsink.NewTable(table, dataset, bqiface.AdaptClient(client)), nil
}

// Fatal logs err and exits with status 1. Query errors also print the
// offending query.
func Fatal(err error) {
	var qe *tap.QueryError
	if errors.As(err, &qe) {
		log.Printf("Query error: %s", qe.Message)
		log.Printf("Query:\n%s", qe.Query)
		os.Exit(1)
	}
	log.Fatal(err)
}
