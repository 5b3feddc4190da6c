package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadCSV reads a table whose first record is the header.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty CSV", name)
	}
	if err != nil {
		return nil, err
	}
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	t := New(name, header...)
	isText := make([]bool, len(header))
	isInt := make([]bool, len(header))
	for c := range isInt {
		isInt[c] = true
	}
	t.Rows = make([][]float64, len(records))
	for i, rec := range records {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%s: line %d has %d fields, header has %d",
				name, i+2, len(rec), len(header))
		}
		row := make([]float64, len(rec))
		for c, cell := range rec {
			cell = strings.TrimSpace(cell)
			v, kind := parseCell(cell)
			row[c] = v
			switch kind {
			case cellText:
				isText[c] = true
				isInt[c] = false
			case cellFloat:
				isInt[c] = false
			}
		}
		t.Rows[i] = row
	}
	for c, col := range t.Columns {
		if isText[c] {
			s := make([]string, len(records))
			for i, rec := range records {
				s[i] = strings.TrimSpace(rec[c])
			}
			if err := t.SetText(col, s); err != nil {
				return nil, err
			}
			continue
		}
		t.SetInt(col, isInt[c] && len(records) > 0)
	}
	return t, nil
}

type cellKind int

const (
	cellEmpty cellKind = iota
	cellInt
	cellFloat
	cellText
)

func parseCell(s string) (float64, cellKind) {
	if s == "" || strings.EqualFold(s, "nan") || s == "--" {
		return math.NaN(), cellEmpty
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i), cellInt
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, cellFloat
	}
	return math.NaN(), cellText
}

// WriteCSV writes the table with a header record. floatFormat is a printf
// verb such as "%.4f" applied to non-integer columns; empty means shortest
// representation. NaN cells are written empty.
func WriteCSV(w io.Writer, t *Table, floatFormat string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for i, r := range t.Rows {
		for c, name := range t.Columns {
			if s, ok := t.Text[name]; ok {
				rec[c] = s[i]
				continue
			}
			if math.IsNaN(r[c]) {
				rec[c] = ""
				continue
			}
			rec[c] = formatNumber(r[c], t.ints[name], floatFormat)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatNumber(v float64, isInt bool, floatFormat string) string {
	switch {
	case isInt && v == math.Trunc(v) && !math.IsInf(v, 0):
		return strconv.FormatInt(int64(v), 10)
	case floatFormat != "":
		return fmt.Sprintf(floatFormat, v)
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
