package catalog

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/m-lab/go/testingx"
)

const testCSV = `NUMBER,tile_id,mag_iSDSS_cor,name
1,100,15.5,a
2,101,17.25,b
3,100,,c
4,102,22.0,d
`

func TestReadCSV(t *testing.T) {
	tbl, err := ReadCSV("test.csv", strings.NewReader(testCSV))
	testingx.Must(t, err, "cannot read CSV")

	if tbl.Len() != 4 {
		t.Fatalf("ReadCSV(): expected 4 rows, got %d", tbl.Len())
	}
	want := []string{"number", "tile_id", "mag_isdss_cor", "name"}
	if !reflect.DeepEqual(tbl.Columns, want) {
		t.Errorf("ReadCSV(): expected columns %v, got %v", want, tbl.Columns)
	}
	if !tbl.IsInt("NUMBER") || tbl.IsInt("mag_isdss_cor") {
		t.Errorf("ReadCSV(): integer detection is wrong")
	}
	if !tbl.IsText("name") || tbl.String(3, "name") != "d" {
		t.Errorf("ReadCSV(): text column not kept")
	}
	if !math.IsNaN(tbl.Value(2, "mag_isdss_cor")) {
		t.Errorf("ReadCSV(): empty cell should be NaN")
	}
	if !math.IsNaN(tbl.Value(0, "does_not_exist")) {
		t.Errorf("Value(): missing column should be NaN")
	}
}

func TestReadCSV_errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "short-record", input: "a,b\n1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(tt.name, strings.NewReader(tt.input)); err == nil {
				t.Errorf("ReadCSV(): expected err, got nil")
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	tbl, err := ReadCSV("test.csv", strings.NewReader(testCSV))
	testingx.Must(t, err, "cannot read CSV")
	buf := &bytes.Buffer{}
	testingx.Must(t, WriteCSV(buf, tbl, "%.4f"), "cannot write CSV")
	want := `number,tile_id,mag_isdss_cor,name
1,100,15.5000,a
2,101,17.2500,b
3,100,,c
4,102,22.0000,d
`
	if buf.String() != want {
		t.Errorf("WriteCSV(): expected\n%s\ngot\n%s", want, buf.String())
	}
}

func TestTable_GroupBy(t *testing.T) {
	tbl, err := ReadCSV("test.csv", strings.NewReader(testCSV))
	testingx.Must(t, err, "cannot read CSV")
	keys, groups, err := tbl.GroupBy("TILE_ID")
	testingx.Must(t, err, "cannot group")
	if !reflect.DeepEqual(keys, []float64{100, 101, 102}) {
		t.Errorf("GroupBy(): unexpected keys %v", keys)
	}
	if groups[100].Len() != 2 || groups[100].String(1, "name") != "c" {
		t.Errorf("GroupBy(): wrong rows in group 100")
	}
	if _, _, err := tbl.GroupBy("missing"); err == nil {
		t.Errorf("GroupBy(): expected err for missing column")
	}
}

func TestTable_FilterSelectConcat(t *testing.T) {
	tbl, err := ReadCSV("test.csv", strings.NewReader(testCSV))
	testingx.Must(t, err, "cannot read CSV")

	bright := tbl.Filter(func(r int) bool {
		return tbl.Value(r, "mag_isdss_cor") < 20
	})
	if bright.Len() != 2 {
		t.Fatalf("Filter(): expected 2 rows, got %d", bright.Len())
	}
	testingx.Must(t, bright.AddConst("slope", 0.5), "cannot add column")
	if tbl.Has("slope") {
		t.Errorf("AddConst(): column leaked into the source table")
	}

	sel, err := bright.Select("name", "slope")
	testingx.Must(t, err, "cannot select")
	if sel.String(1, "name") != "b" || sel.Value(1, "slope") != 0.5 {
		t.Errorf("Select(): unexpected content %v %v", sel.Rows, sel.Text)
	}
	if _, err := bright.Select("nope"); err == nil {
		t.Errorf("Select(): expected err for missing column")
	}

	all, err := Concat(sel, sel)
	testingx.Must(t, err, "cannot concat")
	if all.Len() != 4 || all.String(3, "name") != "b" {
		t.Errorf("Concat(): unexpected result %v", all.Rows)
	}
	if _, err := Concat(sel, tbl); err == nil {
		t.Errorf("Concat(): expected err for different columns")
	}
}

func TestTable_AddColumn(t *testing.T) {
	tbl := New("t", "a")
	tbl.Append([]float64{1})
	tbl.Append([]float64{2})
	if err := tbl.AddColumn("b", []float64{1}); err == nil {
		t.Errorf("AddColumn(): expected length error")
	}
	testingx.Must(t, tbl.AddColumn("B", []float64{3, 4}), "cannot add column")
	testingx.Must(t, tbl.AddColumn("a", []float64{5, 6}), "cannot overwrite column")
	if !reflect.DeepEqual(tbl.Rows, [][]float64{{5, 3}, {6, 4}}) {
		t.Errorf("AddColumn(): unexpected rows %v", tbl.Rows)
	}
}

func TestFITS(t *testing.T) {
	tbl, err := ReadCSV("test.csv", strings.NewReader(testCSV))
	testingx.Must(t, err, "cannot read CSV")
	b, err := Encode("bin.fits", tbl, "")
	testingx.Must(t, err, "cannot encode FITS")

	got, err := Decode("bin.fits", bytes.NewReader(b))
	testingx.Must(t, err, "cannot decode FITS")
	if !reflect.DeepEqual(got.Columns, tbl.Columns) {
		t.Errorf("FITS: expected columns %v, got %v", tbl.Columns, got.Columns)
	}
	if got.Len() != 4 || got.Value(1, "mag_isdss_cor") != 17.25 ||
		got.Value(3, "number") != 4 || got.String(0, "name") != "a" {
		t.Errorf("FITS: unexpected rows %v", got.Rows)
	}
	if !got.IsInt("tile_id") {
		t.Errorf("FITS: integer column lost its type")
	}
}

func TestFITS_text(t *testing.T) {
	tbl := New("filters", "name", "wavelength")
	tbl.Append([]float64{0, 6600})
	tbl.Append([]float64{0, 7641.5})
	tbl.Append([]float64{0, 3485})
	names := []string{"J0660", "iSDSS", "u"}
	testingx.Must(t, tbl.SetText("name", names), "cannot set names")

	b, err := Encode("filters.fits", tbl, "")
	testingx.Must(t, err, "cannot encode FITS")
	got, err := Decode("filters.fits", bytes.NewReader(b))
	testingx.Must(t, err, "cannot decode FITS")
	for i, want := range names {
		if s := got.String(i, "name"); s != want {
			t.Errorf("FITS: name %d = %q, want %q", i, s, want)
		}
	}
	if got.Value(1, "wavelength") != 7641.5 {
		t.Errorf("FITS: wavelength = %v", got.Value(1, "wavelength"))
	}
}

func TestEncode_unsupported(t *testing.T) {
	if _, err := Encode("out.parquet", New("t"), ""); err == nil {
		t.Errorf("Encode(): expected err for unknown extension")
	}
	if _, err := Decode("dir.d/out", strings.NewReader("")); err == nil {
		t.Errorf("Decode(): expected err for missing extension")
	}
}
