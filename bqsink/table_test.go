package bqsink

import (
	"context"
	"errors"
	"math"
	"net/http"
	"reflect"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/googleapis/google-cloud-go-testing/bigquery/bqiface"
	"github.com/m-lab/go/prometheusx/promtest"
	"google.golang.org/api/googleapi"

	"github.com/jpas-survey/halpha-pipeline/catalog"
)

// ***** mockClient *****
type mockClient struct {
	bqiface.Client
	queryReadMustFail bool
	tableMissingErr   bool
	putMustFail       bool
	queries           []string
	table             *mockTable
}

func (c *mockClient) Dataset(name string) bqiface.Dataset {
	return &mockDataset{client: c, name: name}
}

func (c *mockClient) Query(query string) bqiface.Query {
	return &mockQuery{client: c, q: query}
}

// ***** mockDataset *****
type mockDataset struct {
	bqiface.Dataset
	client *mockClient
	name   string
}

func (ds *mockDataset) Table(name string) bqiface.Table {
	ds.client.table = &mockTable{client: ds.client, ds: ds.name, name: name}
	return ds.client.table
}

// ***** mockTable *****
type mockTable struct {
	bqiface.Table
	client  *mockClient
	ds      string
	name    string
	created *bigquery.TableMetadata
	puts    [][]*bigquery.ValuesSaver
}

func (t *mockTable) DatasetID() string          { return t.ds }
func (t *mockTable) TableID() string            { return t.name }
func (t *mockTable) FullyQualifiedName() string { return t.ds + "." + t.name }

func (t *mockTable) Metadata(ctx context.Context) (*bigquery.TableMetadata, error) {
	if t.client.tableMissingErr {
		return nil, &googleapi.Error{
			Code: http.StatusNotFound,
		}
	}
	return &bigquery.TableMetadata{}, nil
}

func (t *mockTable) Create(ctx context.Context, md *bigquery.TableMetadata) error {
	t.created = md
	return nil
}

func (t *mockTable) Uploader() bqiface.Uploader {
	return &mockUploader{table: t}
}

// ***** mockUploader *****
type mockUploader struct {
	bqiface.Uploader
	table *mockTable
}

func (u *mockUploader) Put(ctx context.Context, src interface{}) error {
	if u.table.client.putMustFail {
		return errors.New("Put() failed")
	}
	u.table.puts = append(u.table.puts, src.([]*bigquery.ValuesSaver))
	return nil
}

// ***** mockQuery *****
type mockQuery struct {
	bqiface.Query
	client *mockClient
	q      string
}

func (q *mockQuery) Read(context.Context) (bqiface.RowIterator, error) {
	if q.client.queryReadMustFail {
		return nil, errors.New("Read() failed")
	}
	q.client.queries = append(q.client.queries, q.q)
	return &mockRowIterator{}, nil
}

// ***** mockRowIterator *****
type mockRowIterator struct {
	bqiface.RowIterator
}

func candidates(n int) *catalog.Table {
	t := catalog.New("halpha_candidates", "number", "tile_id", "color_y")
	for i := 0; i < n; i++ {
		t.Append([]float64{float64(i + 1), float64(100 + i%2), 0.25})
	}
	if n > 0 {
		t.Rows[0][2] = math.NaN()
	}
	t.SetInt("number", true)
	t.SetInt("tile_id", true)
	return t
}

func TestParseTableID(t *testing.T) {
	p, d, tb, err := ParseTableID("proj.jpas.halpha")
	if err != nil || p != "proj" || d != "jpas" || tb != "halpha" {
		t.Errorf("ParseTableID() = %s %s %s %v", p, d, tb, err)
	}
	for _, bad := range []string{"jpas.halpha", "a..b", ""} {
		if _, _, _, err := ParseTableID(bad); err == nil {
			t.Errorf("ParseTableID(%q): expected err", bad)
		}
	}
}

func TestSchema(t *testing.T) {
	got := Schema(candidates(1))
	want := []bigquery.FieldType{
		bigquery.IntegerFieldType, bigquery.IntegerFieldType, bigquery.FloatFieldType,
	}
	for i, f := range got {
		if f.Type != want[i] {
			t.Errorf("Schema() %s = %s, want %s", f.Name, f.Type, want[i])
		}
	}
}

func TestTable_Upload(t *testing.T) {
	tests := []struct {
		name        string
		client      *mockClient
		rows        int
		wantQueries []string
		wantBatches int
		wantCreate  bool
		wantErr     bool
	}{
		{
			name:        "existing-table",
			client:      &mockClient{},
			rows:        3,
			wantQueries: []string{"DELETE FROM jpas.halpha WHERE tile_id IN (100, 101)"},
			wantBatches: 1,
		},
		{
			name:        "missing-table",
			client:      &mockClient{tableMissingErr: true},
			rows:        batchSize + 1,
			wantBatches: 2,
			wantCreate:  true,
		},
		{
			name:   "no-candidates",
			client: &mockClient{},
		},
		{
			name:    "delete-failure",
			client:  &mockClient{queryReadMustFail: true},
			rows:    3,
			wantErr: true,
		},
		{
			name:    "put-failure",
			client:  &mockClient{putMustFail: true},
			rows:    3,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable("halpha", "jpas", tt.client)
			err := table.Upload(context.Background(), candidates(tt.rows))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Upload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(tt.client.queries, tt.wantQueries) {
				t.Errorf("Upload() queries = %v, want %v", tt.client.queries, tt.wantQueries)
			}
			mt := tt.client.table
			if len(mt.puts) != tt.wantBatches {
				t.Errorf("Upload() made %d Put calls, want %d", len(mt.puts), tt.wantBatches)
			}
			if (mt.created != nil) != tt.wantCreate {
				t.Errorf("Upload() created = %v, want %v", mt.created != nil, tt.wantCreate)
			}
			if tt.wantBatches > 0 {
				first := mt.puts[0][0]
				if first.InsertID != "100-1" || first.Row[0] != int64(1) || first.Row[2] != nil {
					t.Errorf("Upload() first row = %+v", first)
				}
			}
		})
	}
}

func TestPrometheusMetrics(t *testing.T) {
	uploadedRowsMetric.WithLabelValues("x")
	promtest.LintMetrics(t)
}
