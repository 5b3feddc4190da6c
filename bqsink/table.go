// Package bqsink uploads Hα candidate tables to BigQuery.
package bqsink

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"cloud.google.com/go/bigquery"
	"github.com/googleapis/google-cloud-go-testing/bigquery/bqiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/api/googleapi"

	"github.com/jpas-survey/halpha-pipeline/catalog"
)

var uploadedRowsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "halpha_bigquery_rows_uploaded_total",
	Help: "Candidate rows streamed to BigQuery",
}, []string{
	"table",
})

const (
	deleteRowsTpl = "DELETE FROM {{.Table}} WHERE {{.Column}} IN ({{.Tiles}})"
	tileColumn    = "tile_id"
	batchSize     = 500
)

var deleteRows = template.Must(template.New("delete").Parse(deleteRowsTpl))

// Table is a BigQuery table holding candidates. Uploading the candidates of
// a tile replaces any rows previously uploaded for it.
type Table struct {
	bqiface.Table

	client bqiface.Client
}

// NewTable returns a Table for dataset.name.
func NewTable(name, ds string, client bqiface.Client) *Table {
	return &Table{
		Table:  client.Dataset(ds).Table(name),
		client: client,
	}
}

// ParseTableID splits project.dataset.table.
func ParseTableID(id string) (project, dataset, table string, err error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%q is not of the form project.dataset.table", id)
	}
	return parts[0], parts[1], parts[2], nil
}

// Schema maps the columns of t to nullable BigQuery fields.
func Schema(t *catalog.Table) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(t.Columns))
	for _, c := range t.Columns {
		f := &bigquery.FieldSchema{Name: c, Type: bigquery.FloatFieldType}
		switch {
		case t.IsText(c):
			f.Type = bigquery.StringFieldType
		case t.IsInt(c):
			f.Type = bigquery.IntegerFieldType
		}
		schema = append(schema, f)
	}
	return schema
}

// ensure creates the table when it does not exist yet. It reports whether
// the table was created.
func (t *Table) ensure(ctx context.Context, schema bigquery.Schema) (bool, error) {
	_, err := t.Metadata(ctx)
	if e, ok := err.(*googleapi.Error); ok && e.Code == http.StatusNotFound {
		log.Printf("Creating table %s", t.FullyQualifiedName())
		return true, t.Create(ctx, &bigquery.TableMetadata{Schema: schema})
	}
	return false, err
}

// deleteTiles removes the rows of the given tiles.
func (t *Table) deleteTiles(ctx context.Context, tiles []float64) error {
	ids := make([]string, len(tiles))
	for i, v := range tiles {
		ids[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	q := &bytes.Buffer{}
	err := deleteRows.Execute(q, map[string]string{
		"Table":  t.DatasetID() + "." + t.TableID(),
		"Column": tileColumn,
		"Tiles":  strings.Join(ids, ", "),
	})
	if err != nil {
		return err
	}
	log.Printf("Deleting existing candidate rows: %s", q.String())
	if _, err = t.client.Query(q.String()).Read(ctx); err != nil {
		log.Printf("Warning: cannot remove previous rows (%v)", err)
	}
	return err
}

// Upload streams the rows of cands, creating the table on first use.
func (t *Table) Upload(ctx context.Context, cands *catalog.Table) error {
	if cands.Len() == 0 {
		log.Printf("No candidates to upload to %s", t.TableID())
		return nil
	}
	schema := Schema(cands)
	created, err := t.ensure(ctx, schema)
	if err != nil {
		return err
	}
	if !created && cands.Has(tileColumn) {
		tiles, _, err := cands.GroupBy(tileColumn)
		if err != nil {
			return err
		}
		if err := t.deleteTiles(ctx, tiles); err != nil {
			return err
		}
	}

	up := t.Uploader()
	for start := 0; start < cands.Len(); start += batchSize {
		end := start + batchSize
		if end > cands.Len() {
			end = cands.Len()
		}
		savers := make([]*bigquery.ValuesSaver, 0, end-start)
		for r := start; r < end; r++ {
			savers = append(savers, row(cands, schema, r))
		}
		if err := up.Put(ctx, savers); err != nil {
			return fmt.Errorf("cannot upload rows %d-%d: %w", start, end, err)
		}
		uploadedRowsMetric.WithLabelValues(t.TableID()).Add(float64(len(savers)))
	}
	log.Printf("Uploaded %d candidates to %s", cands.Len(), t.TableID())
	return nil
}

func row(t *catalog.Table, schema bigquery.Schema, r int) *bigquery.ValuesSaver {
	values := make([]bigquery.Value, len(schema))
	for i, f := range schema {
		v := t.Value(r, f.Name)
		switch {
		case f.Type == bigquery.StringFieldType:
			values[i] = t.String(r, f.Name)
		case math.IsNaN(v) || math.IsInf(v, 0):
			values[i] = nil
		case f.Type == bigquery.IntegerFieldType:
			values[i] = int64(v)
		default:
			values[i] = v
		}
	}
	var id string
	if t.Has("number", tileColumn) {
		id = t.String(r, tileColumn) + "-" + t.String(r, "number")
	}
	return &bigquery.ValuesSaver{Schema: schema, InsertID: id, Row: values}
}
