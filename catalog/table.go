// Package catalog holds photometric query results as in-memory tables and
// reads and writes them as CSV or FITS binary tables.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var errLength = errors.New("column length does not match the number of rows")

// Table is a flat table of per-object measurements. Every cell has a numeric
// value (NaN when absent or not a number); columns that carry text, such as
// filter names, also keep the original strings in Text.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]float64

	// Text holds the string cells of text columns, indexed like Rows.
	Text map[string][]string

	ints  map[string]bool
	index map[string]int
}

// New returns an empty table with the given columns. Column names are
// stored lower-case and looked up case-insensitively.
func New(name string, columns ...string) *Table {
	t := &Table{Name: name}
	for _, c := range columns {
		t.Columns = append(t.Columns, strings.ToLower(c))
	}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Col returns the position of the named column.
func (t *Table) Col(name string) (int, bool) {
	if t.index == nil {
		t.reindex()
	}
	i, ok := t.index[strings.ToLower(name)]
	return i, ok
}

// Has reports whether all the named columns are present.
func (t *Table) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := t.Col(n); !ok {
			return false
		}
	}
	return true
}

// Missing returns the subset of names not present in the table.
func (t *Table) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if !t.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Value returns the numeric value at row r of the named column, or NaN if
// the column does not exist.
func (t *Table) Value(r int, name string) float64 {
	c, ok := t.Col(name)
	if !ok {
		return math.NaN()
	}
	return t.Rows[r][c]
}

// String returns the text of a cell. Numeric cells are formatted.
func (t *Table) String(r int, name string) string {
	if s, ok := t.Text[strings.ToLower(name)]; ok {
		return s[r]
	}
	v := t.Value(r, name)
	if math.IsNaN(v) {
		return ""
	}
	return formatNumber(v, t.IsInt(name), "")
}

// IsInt reports whether the named column holds integer values.
func (t *Table) IsInt(name string) bool {
	return t.ints[strings.ToLower(name)]
}

// IsText reports whether the named column holds text.
func (t *Table) IsText(name string) bool {
	_, ok := t.Text[strings.ToLower(name)]
	return ok
}

// SetInt marks the named column as holding integer values.
func (t *Table) SetInt(name string, isInt bool) {
	if t.ints == nil {
		t.ints = make(map[string]bool)
	}
	t.ints[strings.ToLower(name)] = isInt
}

// SetText attaches the text representation of a column.
func (t *Table) SetText(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("%s: %w", name, errLength)
	}
	if t.Text == nil {
		t.Text = make(map[string][]string)
	}
	t.Text[strings.ToLower(name)] = values
	return nil
}

// Float returns a copy of the named column.
func (t *Table) Float(name string) ([]float64, error) {
	c, ok := t.Col(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[c]
	}
	return out, nil
}

// Append adds a row. Its length must match the number of columns.
func (t *Table) Append(row []float64) {
	if len(row) != len(t.Columns) {
		panic(fmt.Sprintf("catalog: row has %d values, table has %d columns",
			len(row), len(t.Columns)))
	}
	t.Rows = append(t.Rows, row)
}

// AddColumn appends a numeric column, or overwrites it when it already
// exists.
func (t *Table) AddColumn(name string, values []float64) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("%s: %w", name, errLength)
	}
	name = strings.ToLower(name)
	if c, ok := t.Col(name); ok {
		for i := range t.Rows {
			t.Rows[i][c] = values[i]
		}
		delete(t.Text, name)
		return nil
	}
	t.Columns = append(t.Columns, name)
	t.index[name] = len(t.Columns) - 1
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

// AddConst appends a column holding the same value in every row.
func (t *Table) AddConst(name string, v float64) error {
	values := make([]float64, len(t.Rows))
	for i := range values {
		values[i] = v
	}
	return t.AddColumn(name, values)
}

// Take returns a new table holding the rows at the given positions. Row
// slices are copied so the result can be extended independently.
func (t *Table) Take(idx []int) *Table {
	out := t.emptyCopy()
	out.Rows = make([][]float64, 0, len(idx))
	for _, i := range idx {
		out.Rows = append(out.Rows, append([]float64(nil), t.Rows[i]...))
	}
	for name, values := range t.Text {
		s := make([]string, len(idx))
		for j, i := range idx {
			s[j] = values[i]
		}
		out.Text[name] = s
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(r int) bool) *Table {
	var idx []int
	for i := range t.Rows {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// GroupBy splits the table by the value of a column. Keys are returned in
// ascending order; rows whose key is NaN are dropped.
func (t *Table) GroupBy(name string) ([]float64, map[float64]*Table, error) {
	c, ok := t.Col(name)
	if !ok {
		return nil, nil, fmt.Errorf("column %q not found", name)
	}
	rows := make(map[float64][]int)
	for i, r := range t.Rows {
		k := r[c]
		if math.IsNaN(k) {
			continue
		}
		rows[k] = append(rows[k], i)
	}
	keys := make([]float64, 0, len(rows))
	groups := make(map[float64]*Table, len(rows))
	for k, idx := range rows {
		keys = append(keys, k)
		groups[k] = t.Take(idx)
	}
	sort.Float64s(keys)
	return keys, groups, nil
}

// Select returns a table with only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	if missing := t.Missing(names...); len(missing) > 0 {
		return nil, fmt.Errorf("columns not found: %s", strings.Join(missing, ", "))
	}
	out := New(t.Name, names...)
	out.Text = make(map[string][]string)
	pos := make([]int, len(names))
	for j, n := range names {
		pos[j], _ = t.Col(n)
		out.SetInt(n, t.IsInt(n))
		if s, ok := t.Text[strings.ToLower(n)]; ok {
			out.Text[strings.ToLower(n)] = s
		}
	}
	out.Rows = make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]float64, len(pos))
		for j, c := range pos {
			row[j] = r[c]
		}
		out.Rows[i] = row
	}
	return out, nil
}

// Concat appends the rows of others to a copy of t. All tables must have the
// same columns.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New(""), nil
	}
	out := tables[0].Take(nil)
	for _, t := range tables {
		if strings.Join(t.Columns, ",") != strings.Join(out.Columns, ",") {
			return nil, fmt.Errorf("cannot concatenate %q: columns differ", t.Name)
		}
		for i, r := range t.Rows {
			out.Rows = append(out.Rows, append([]float64(nil), r...))
			for name := range out.Text {
				var s string
				if src, ok := t.Text[name]; ok {
					s = src[i]
				}
				out.Text[name] = append(out.Text[name], s)
			}
		}
	}
	return out, nil
}

func (t *Table) emptyCopy() *Table {
	out := New(t.Name, t.Columns...)
	out.Text = make(map[string][]string, len(t.Text))
	for n, v := range t.ints {
		out.SetInt(n, v)
	}
	for n := range t.Text {
		out.Text[n] = nil
	}
	return out
}
