// Package halpha selects Hα emission-line candidates from J-PAS photometry
// by fitting the stellar locus of each tile in the (pseudo-r − i,
// pseudo-r − J0660) colour plane.
package halpha

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/jpas-survey/halpha-pipeline/adql"
	"github.com/jpas-survey/halpha-pipeline/catalog"
)

// Column names used and produced by the selection.
const (
	ColTile      = "tile_id"
	ColPseudoR   = "pseudo_r"
	ColEPseudoR  = "e_pseudo_r"
	ColColorX    = "color_x"
	ColColorY    = "color_y"
	ColEColorX   = "e_color_x"
	ColEColorY   = "e_color_y"
	ColSlope     = "slope"
	ColIntercept = "intercept"
	ColSigmaInt  = "sigma_int"
)

func magCol(band string) string { return "mag_" + strings.ToLower(band) + "_cor" }
func errCol(band string) string { return "err_" + strings.ToLower(band) + "_cor" }

var (
	magHalpha = magCol(adql.HalphaBand)
	errHalpha = errCol(adql.HalphaBand)
	magBroad  = magCol(adql.BroadBand)
	errBroad  = errCol(adql.BroadBand)
)

// QualityCut keeps the objects with flags at most flagMax and no mask flags
// in both J0660 and iSDSS.
func QualityCut(t *catalog.Table, flagMax float64) (*catalog.Table, error) {
	cols := []string{"flags_j0660", "mask_j0660", "flags_isdss", "mask_isdss"}
	if missing := t.Missing(cols...); len(missing) > 0 {
		return nil, fmt.Errorf("quality columns not found: %s", strings.Join(missing, ", "))
	}
	return t.Filter(func(r int) bool {
		return t.Value(r, "flags_j0660") <= flagMax &&
			t.Value(r, "mask_j0660") == 0 &&
			t.Value(r, "flags_isdss") <= flagMax &&
			t.Value(r, "mask_isdss") == 0
	}), nil
}

// AddColours computes pseudo-r as the inverse-variance weighted mean of the
// J0600–J0650 narrow bands and derives the two locus colours and their
// errors. Objects with a missing or non-positive error in any band used are
// dropped. The returned table is a new table.
func AddColours(t *catalog.Table) (*catalog.Table, error) {
	var mags, errs []string
	for _, b := range adql.PseudoRBands {
		mags = append(mags, magCol(b))
		errs = append(errs, errCol(b))
	}
	need := append(append([]string{}, mags...), errs...)
	need = append(need, magHalpha, errHalpha, magBroad, errBroad)
	if missing := t.Missing(need...); len(missing) > 0 {
		return nil, fmt.Errorf("photometry columns not found: %s", strings.Join(missing, ", "))
	}

	out := t.Filter(func(r int) bool {
		for _, c := range need {
			v := t.Value(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
		for _, c := range errs {
			if t.Value(r, c) <= 0 {
				return false
			}
		}
		return true
	})

	n := out.Len()
	pr, epr := make([]float64, n), make([]float64, n)
	cx, cy := make([]float64, n), make([]float64, n)
	ecx, ecy := make([]float64, n), make([]float64, n)
	m := make([]float64, len(mags))
	w := make([]float64, len(mags))
	for r := 0; r < n; r++ {
		var sumW float64
		for j := range mags {
			m[j] = out.Value(r, mags[j])
			e := out.Value(r, errs[j])
			w[j] = 1 / (e * e)
			sumW += w[j]
		}
		pr[r] = stat.Mean(m, w)
		epr[r] = math.Sqrt(1 / sumW)
		cx[r] = pr[r] - out.Value(r, magBroad)
		cy[r] = pr[r] - out.Value(r, magHalpha)
		ecx[r] = math.Hypot(epr[r], out.Value(r, errBroad))
		ecy[r] = math.Hypot(epr[r], out.Value(r, errHalpha))
	}
	for _, c := range []struct {
		name   string
		values []float64
	}{
		{ColPseudoR, pr},
		{ColEPseudoR, epr},
		{ColColorX, cx},
		{ColColorY, cy},
		{ColEColorX, ecx},
		{ColEColorY, ecy},
	} {
		if err := out.AddColumn(c.name, c.values); err != nil {
			return nil, err
		}
	}
	return out, nil
}
