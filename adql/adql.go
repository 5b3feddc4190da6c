// Package adql builds the ADQL queries sent to the J-PAS TAP service.
package adql

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Filters lists the J-PAS filters in order of increasing wavelength.
var Filters = []string{
	"uJAVA", "J0378", "J0390", "J0400", "J0410", "J0420", "J0430", "J0440",
	"J0450", "J0460", "J0470", "J0480", "J0490", "J0500", "J0510", "J0520",
	"J0530", "J0540", "J0550", "J0560", "J0570", "J0580", "J0590", "J0600",
	"J0610", "J0620", "J0630", "J0640", "J0650", "J0660", "J0670", "J0680",
	"J0690", "J0700", "J0710", "J0720", "J0730", "J0740", "J0750", "J0760",
	"J0770", "J0780", "J0790", "J0800", "J0810", "J0820", "J0830", "J0840",
	"J0850", "J0860", "J0870", "J0880", "J0890", "J0900", "J0910", "J1007",
	"iSDSS",
}

// PseudoRBands are the narrow bands averaged into the pseudo-r magnitude.
var PseudoRBands = []string{"J0600", "J0610", "J0620", "J0630", "J0640", "J0650"}

const (
	// HalphaBand is the narrow band containing Hα at zero redshift.
	HalphaBand = "J0660"
	// BroadBand is the broad band used as continuum reference.
	BroadBand = "iSDSS"
)

// Options describe a photometry query.
type Options struct {
	// Table is the photometry table, e.g. jpas.MagABDualObj.
	Table string
	// Filters are the bands whose magnitudes and errors are selected.
	Filters []string
	// CutBands must all have a magnitude error below ErrorCut.
	CutBands []string
	ErrorCut float64
	// FlagMax is the largest accepted flag value in J0660 and iSDSS.
	FlagMax int
	// Top limits the number of rows when positive.
	Top int
	// MagMin and MagMax restrict the iSDSS magnitude when MagMax > MagMin.
	MagMin, MagMax float64
}

// Preset returns the options for a named filter selection. "all" selects
// every J-PAS filter; "halpha" selects only what the Hα selection needs.
func Preset(name, table string, errorCut float64, flagMax int) (Options, error) {
	cut := append(append([]string{}, PseudoRBands...), HalphaBand, BroadBand)
	o := Options{
		Table:    table,
		CutBands: cut,
		ErrorCut: errorCut,
		FlagMax:  flagMax,
	}
	switch name {
	case "all":
		o.Filters = Filters
	case "halpha":
		o.Filters = cut
	default:
		return o, fmt.Errorf("unknown preset %q", name)
	}
	return o, nil
}

var photometryTpl = template.Must(template.New("photometry").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`SELECT {{if gt .Top 0}}TOP {{.Top}} {{end}}
    number,
    alpha_j2000,
    delta_j2000,
    tile_id,
    {{join .Columns ",\n    "}},
    flags[jpas::J0660] AS flags_J0660,
    flags[jpas::iSDSS] AS flags_iSDSS,
    mask_flags[jpas::J0660] AS mask_J0660,
    mask_flags[jpas::iSDSS] AS mask_iSDSS,
    class_star
FROM
    {{.Table}}
WHERE
    {{join .Where "\n    AND "}}`))

var countTpl = template.Must(template.New("count").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`SELECT COUNT(*) AS total FROM {{.Table}} WHERE {{join .Where " AND "}}`))

func (o Options) where() []string {
	var w []string
	for _, b := range o.CutBands {
		w = append(w, fmt.Sprintf("mag_err_aper_cor_6_0[jpas::%s] < %s", b, num(o.ErrorCut)))
	}
	w = append(w,
		"mask_flags[jpas::J0660] = 0",
		"mask_flags[jpas::iSDSS] = 0",
		fmt.Sprintf("flags[jpas::J0660] <= %d", o.FlagMax),
		fmt.Sprintf("flags[jpas::iSDSS] <= %d", o.FlagMax),
	)
	if o.MagMax > o.MagMin {
		w = append(w, fmt.Sprintf("mag_aper_cor_6_0[jpas::iSDSS] BETWEEN %s AND %s",
			num(o.MagMin), num(o.MagMax)))
	}
	return w
}

func (o Options) columns() []string {
	var cols []string
	for _, f := range o.Filters {
		cols = append(cols, fmt.Sprintf("mag_aper_cor_6_0[jpas::%s] AS mag_%s_cor", f, f))
	}
	for _, f := range o.Filters {
		cols = append(cols, fmt.Sprintf("mag_err_aper_cor_6_0[jpas::%s] AS err_%s_cor", f, f))
	}
	return cols
}

func (o Options) check() error {
	if o.Table == "" {
		return fmt.Errorf("missing table name")
	}
	if len(o.Filters) == 0 {
		return fmt.Errorf("no filters requested")
	}
	return nil
}

// Photometry returns the query selecting positions, corrected 6" aperture
// photometry, flags and stellarity for the requested filters.
func Photometry(o Options) (string, error) {
	if err := o.check(); err != nil {
		return "", err
	}
	q := &bytes.Buffer{}
	err := photometryTpl.Execute(q, map[string]interface{}{
		"Top":     o.Top,
		"Table":   o.Table,
		"Columns": o.columns(),
		"Where":   o.where(),
	})
	return q.String(), err
}

// Count returns a query counting the rows Photometry would return.
func Count(o Options) (string, error) {
	if o.Table == "" {
		return "", fmt.Errorf("missing table name")
	}
	q := &bytes.Buffer{}
	err := countTpl.Execute(q, map[string]interface{}{
		"Table": o.Table,
		"Where": o.where(),
	})
	return q.String(), err
}

// FilterMetadata returns the query describing every filter of the survey.
func FilterMetadata(table string) string {
	return "SELECT filter_id, name, wavelength, width, kx, color_representation FROM " +
		table + " ORDER BY wavelength"
}

func num(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}
