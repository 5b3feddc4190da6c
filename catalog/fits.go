package catalog

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"reflect"
	"strings"

	"github.com/astrogo/fitsio"
)

// ReadFITS reads the first binary or ASCII table extension of a FITS file.
// Vector-valued columns are skipped.
func ReadFITS(name string, r io.Reader) (*Table, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tbl *fitsio.Table
	for _, hdu := range f.HDUs() {
		if t, ok := hdu.(*fitsio.Table); ok {
			tbl = t
			break
		}
	}
	if tbl == nil {
		return nil, fmt.Errorf("%s: no table extension", name)
	}

	cols := tbl.Cols()
	dest := make([]interface{}, len(cols))
	for i := range cols {
		dest[i] = reflect.New(cols[i].Type()).Interface()
	}

	var names []string
	var keep []int
	for i, col := range cols {
		switch cols[i].Type().Kind() {
		case reflect.Slice, reflect.Array:
			log.Printf("%s: skipping vector column %s", name, col.Name)
			continue
		}
		names = append(names, col.Name)
		keep = append(keep, i)
	}
	t := New(name, names...)
	text := make(map[int][]string)
	for j, i := range keep {
		switch cols[i].Type().Kind() {
		case reflect.String:
			text[j] = nil
		case reflect.Float32, reflect.Float64:
		default:
			t.SetInt(names[j], true)
		}
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]float64, len(keep))
		for j, i := range keep {
			v := reflect.ValueOf(dest[i]).Elem()
			row[j] = toFloat(v)
			if _, ok := text[j]; ok {
				text[j] = append(text[j], strings.Trim(v.String(), " \x00"))
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for j, s := range text {
		if err := t.SetText(names[j], s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func toFloat(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	}
	return math.NaN()
}

// WriteFITS writes the table as a single binary table extension after an
// empty primary HDU. Only column names and types are written; no other
// table metadata is carried over.
func WriteFITS(w io.Writer, t *Table) error {
	cols := make([]fitsio.Column, len(t.Columns))
	for c, name := range t.Columns {
		cols[c] = fitsio.Column{Name: name, Format: "D"}
		switch {
		case t.IsText(name):
			width := 1
			for _, s := range t.Text[name] {
				if len(s) > width {
					width = len(s)
				}
			}
			// fitsio prefixes every string cell with a NUL byte.
			cols[c].Format = fmt.Sprintf("%dA", width+1)
		case t.IsInt(name):
			cols[c].Format = "K"
		}
	}

	extname := t.Name
	if extname == "" {
		extname = "DATA"
	}
	tbl, err := fitsio.NewTable(extname, cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()

	args := make([]interface{}, len(cols))
	floats := make([]float64, len(cols))
	ints := make([]int64, len(cols))
	strs := make([]string, len(cols))
	for c, name := range t.Columns {
		switch {
		case t.IsText(name):
			args[c] = &strs[c]
		case t.IsInt(name):
			args[c] = &ints[c]
		default:
			args[c] = &floats[c]
		}
	}
	for i, r := range t.Rows {
		for c, name := range t.Columns {
			switch {
			case t.IsText(name):
				strs[c] = t.Text[name][i]
			case t.IsInt(name):
				ints[c] = int64(r[c])
			default:
				floats[c] = r[c]
			}
		}
		if err := tbl.Write(args...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return err
	}
	if err := f.Write(phdu); err != nil {
		return err
	}
	if err := f.Write(tbl); err != nil {
		return err
	}
	return f.Close()
}

// Encode serialises the table in the format implied by the file extension
// of path.
func Encode(path string, t *Table, floatFormat string) ([]byte, error) {
	buf := &bytes.Buffer{}
	var err error
	switch ext := strings.ToLower(extension(path)); ext {
	case ".fits", ".fit", ".fts":
		err = WriteFITS(buf, t)
	case ".csv":
		err = WriteCSV(buf, t, floatFormat)
	default:
		return nil, fmt.Errorf("%s: unsupported table format %q", path, ext)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a table in the format implied by the file extension of path.
func Decode(path string, r io.Reader) (*Table, error) {
	switch ext := strings.ToLower(extension(path)); ext {
	case ".fits", ".fit", ".fts":
		return ReadFITS(path, r)
	case ".csv":
		return ReadCSV(path, r)
	default:
		return nil, fmt.Errorf("%s: unsupported table format %q", path, ext)
	}
}

func extension(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 || strings.ContainsAny(path[i:], "/\\") {
		return ""
	}
	return path[i:]
}
