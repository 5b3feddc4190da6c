// Package sed converts J-PAS magnitudes to flux densities and draws
// per-object spectral energy distributions.
package sed

import (
	"fmt"
	"math"
	"sort"

	"github.com/jpas-survey/halpha-pipeline/catalog"
)

// DefaultZeroPoint is the zero point of the magnitude to flux conversion.
const DefaultZeroPoint = 2.41

// Style selects how an SED is drawn.
type Style string

// Supported styles.
const (
	// StyleColor draws each band with its own colour.
	StyleColor Style = "color"
	// StyleSimple draws black points joined by a grey line and drops
	// uncertain measurements.
	StyleSimple Style = "simple"
)

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	switch st := Style(s); st {
	case StyleColor, StyleSimple:
		return st, nil
	}
	return "", fmt.Errorf("unknown SED style %q (want color or simple)", s)
}

// Options configure point extraction and drawing.
type Options struct {
	ZeroPoint float64
	Style     Style
	// ErrorThreshold drops bands with a larger magnitude error in the
	// simple style.
	ErrorThreshold float64
}

// DefaultOptions returns the colour style with the standard zero point.
func DefaultOptions() Options {
	return Options{ZeroPoint: DefaultZeroPoint, Style: StyleColor, ErrorThreshold: 0.5}
}

// MagToFlux converts an AB magnitude and its error at wavelength (Å) into a
// flux density in erg s⁻¹ cm⁻² Å⁻¹.
func MagToFlux(mag, magErr, wavelength, zp float64) (flux, fluxErr float64) {
	c := math.Pow(10, -zp/2.5) / (wavelength * wavelength)
	flux = c * math.Pow(10, -mag/2.5)
	fluxErr = flux * math.Ln10 / 2.5 * magErr
	return flux, fluxErr
}

// Point is one band of an SED.
type Point struct {
	Filter     Filter
	Wavelength float64
	Flux       float64
	FluxErr    float64
}

// Points extracts the SED of row r of t. Bands whose mag_<band>_cor or
// err_<band>_cor column is absent or NaN are skipped. The result is sorted
// by wavelength.
func Points(t *catalog.Table, r int, filters []Filter, o Options) []Point {
	var pts []Point
	for _, f := range filters {
		magCol, errCol := "mag_"+f.Band()+"_cor", "err_"+f.Band()+"_cor"
		if !t.Has(magCol, errCol) {
			continue
		}
		mag, magErr := t.Value(r, magCol), t.Value(r, errCol)
		if math.IsNaN(mag) || math.IsNaN(magErr) {
			continue
		}
		if o.Style == StyleSimple && (magErr > o.ErrorThreshold || mag == 99) {
			continue
		}
		flux, fluxErr := MagToFlux(mag, magErr, f.Wavelength, o.ZeroPoint)
		if math.IsNaN(flux) || math.IsInf(flux, 0) {
			continue
		}
		pts = append(pts, Point{Filter: f, Wavelength: f.Wavelength, Flux: flux, FluxErr: fluxErr})
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Wavelength < pts[j].Wavelength })
	return pts
}

// Meta identifies the object in the plot title.
type Meta struct {
	// Number is the catalogue object number, empty when unknown.
	Number string
	RA     float64
	Dec    float64
	HasPos bool
}

// MetaOf reads number, alpha_j2000 and delta_j2000 from row r of t.
func MetaOf(t *catalog.Table, r int) Meta {
	var m Meta
	if t.Has("number") {
		m.Number = t.String(r, "number")
	}
	if t.Has("alpha_j2000", "delta_j2000") {
		m.RA, m.Dec = t.Value(r, "alpha_j2000"), t.Value(r, "delta_j2000")
		m.HasPos = !math.IsNaN(m.RA) && !math.IsNaN(m.Dec)
	}
	return m
}
