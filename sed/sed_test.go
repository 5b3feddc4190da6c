package sed

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/m-lab/go/testingx"

	"github.com/jpas-survey/halpha-pipeline/catalog"
)

const filterCSV = `name,wavelength,color_representation
iSDSS,7641.5,#8b0000
J0660,6600,f0f
uJAVA,3485,not-a-colour
J0378,3785,
`

func TestMagToFlux(t *testing.T) {
	flux, fluxErr := MagToFlux(20, 0.1, 6000, DefaultZeroPoint)
	c := math.Pow(10, -DefaultZeroPoint/2.5) / (6000 * 6000)
	want := c * math.Pow(10, -8)
	if math.Abs(flux-want)/want > 1e-12 {
		t.Errorf("MagToFlux() flux = %g, want %g", flux, want)
	}
	if math.Abs(fluxErr-want*math.Ln10/2.5*0.1)/fluxErr > 1e-12 {
		t.Errorf("MagToFlux() err = %g", fluxErr)
	}
	brighter, _ := MagToFlux(19, 0.1, 6000, DefaultZeroPoint)
	if math.Abs(brighter/flux-math.Pow(10, 0.4)) > 1e-9 {
		t.Errorf("one magnitude should be a factor 10^0.4 in flux")
	}
}

func TestValidateColor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"#FF0000", "#FF0000"},
		{"8b0000", "#8B0000"},
		{"#abc", "#AABBCC"},
		{"F0F", "#FF00FF"},
		{" #12ab34 ", "#12AB34"},
		{"", DefaultColor},
		{"red", DefaultColor},
		{"#12345", DefaultColor},
	}
	for _, tt := range tests {
		if got := ValidateColor(tt.in); got != tt.want {
			t.Errorf("ValidateColor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadFilters(t *testing.T) {
	filters, err := LoadFilters(strings.NewReader(filterCSV))
	testingx.Must(t, err, "cannot load filters")
	if len(filters) != 4 {
		t.Fatalf("LoadFilters() = %d filters, want 4", len(filters))
	}
	want := []string{"#8B0000", "#FF00FF", DefaultColor, DefaultColor}
	for i, f := range filters {
		if f.Color != want[i] {
			t.Errorf("filter %s colour = %s, want %s", f.Name, f.Color, want[i])
		}
	}
	if c := filters[0].RGBA(); c.R != 0x8b || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("RGBA() = %v", c)
	}

	bad := []string{
		"",
		"wavelength\n6600\n",
		"name\nJ0660\n",
		"name,wavelength\nJ0660,abc\n",
		"name,wavelength\n",
	}
	for _, b := range bad {
		if _, err := LoadFilters(strings.NewReader(b)); err == nil {
			t.Errorf("LoadFilters(%q): expected err", b)
		}
	}
}

func sedTable() *catalog.Table {
	tb := catalog.New("cands", "number", "alpha_j2000", "delta_j2000",
		"mag_isdss_cor", "err_isdss_cor", "mag_j0660_cor", "err_j0660_cor",
		"mag_ujava_cor", "err_ujava_cor")
	tb.Append([]float64{42, 150.123456, -2.5, 18, 0.02, 17.5, 0.6, 99, 0.1})
	tb.Append([]float64{43, 150.2, 2.2, math.NaN(), 0.02, 17.5, 0.03, 21, 0.1})
	tb.SetInt("number", true)
	return tb
}

func TestPoints(t *testing.T) {
	filters, err := LoadFilters(strings.NewReader(filterCSV))
	testingx.Must(t, err, "cannot load filters")
	tests := []struct {
		name  string
		row   int
		style Style
		want  []string
	}{
		// J0378 has no columns; results are sorted by wavelength.
		{name: "color", row: 0, style: StyleColor, want: []string{"uJAVA", "J0660", "iSDSS"}},
		{name: "simple", row: 0, style: StyleSimple, want: []string{"iSDSS"}},
		{name: "nan", row: 1, style: StyleColor, want: []string{"uJAVA", "J0660"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			o.Style = tt.style
			pts := Points(sedTable(), tt.row, filters, o)
			var got []string
			for _, p := range pts {
				got = append(got, p.Filter.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Points() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTitle(t *testing.T) {
	m := MetaOf(sedTable(), 0)
	got := Title(m)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 || lines[0] != "ID: 42" ||
		!strings.HasPrefix(lines[1], "(150.12346, -2.50000)") {
		t.Errorf("Title() = %q", got)
	}
	if got := Title(MetaOf(catalog.New("x", "foo"), 0)); got != "" {
		t.Errorf("Title() without metadata = %q", got)
	}
}

func TestRender(t *testing.T) {
	filters, err := LoadFilters(strings.NewReader(filterCSV))
	testingx.Must(t, err, "cannot load filters")
	tb := sedTable()
	for _, style := range []Style{StyleColor, StyleSimple} {
		t.Run(string(style), func(t *testing.T) {
			o := DefaultOptions()
			o.Style = style
			pdf, err := Render(Points(tb, 0, filters, o), MetaOf(tb, 0), style)
			testingx.Must(t, err, "cannot render")
			if !bytes.HasPrefix(pdf, []byte("%PDF")) {
				t.Errorf("Render() did not produce a PDF")
			}
		})
	}
	if _, err := Render(nil, Meta{}, StyleColor); err != ErrNoPoints {
		t.Errorf("Render() error = %v, want %v", err, ErrNoPoints)
	}
}

func TestParseStyle(t *testing.T) {
	if s, err := ParseStyle("simple"); err != nil || s != StyleSimple {
		t.Errorf("ParseStyle() = %v, %v", s, err)
	}
	if _, err := ParseStyle("fancy"); err == nil {
		t.Errorf("ParseStyle() expected err")
	}
}
