package halpha

import (
	"fmt"
	"log"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jpas-survey/halpha-pipeline/catalog"
)

var (
	tilesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halpha_tiles_total",
		Help: "Tiles processed by the locus fit",
	}, []string{
		"status",
	})
	candidatesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "halpha_candidates_total",
		Help: "Hα excess candidates selected",
	})
)

// VarianceMethod names a formula for the variance of the distance of an
// object from the locus.
type VarianceMethod string

// Supported variance formulas.
const (
	// Maguio adds the J0660 photometric error to Mine.
	Maguio VarianceMethod = "Maguio"
	// Mine propagates the colour errors through the locus slope.
	Mine VarianceMethod = "Mine"
	// Fratta propagates the color_x error through the slope and adds the
	// color_y error unscaled.
	Fratta VarianceMethod = "Fratta"
)

// ParseVarianceMethod validates a method name.
func ParseVarianceMethod(s string) (VarianceMethod, error) {
	switch m := VarianceMethod(s); m {
	case Maguio, Mine, Fratta:
		return m, nil
	}
	return "", fmt.Errorf("unknown variance method %q (want Maguio, Mine or Fratta)", s)
}

// Variance returns the variance for an object with colour errors eX, eY
// and J0660 error e660 around a locus of slope m and intrinsic scatter
// sigmaInt.
func (v VarianceMethod) Variance(sigmaInt, m, eX, eY, e660 float64) float64 {
	base := sigmaInt*sigmaInt + m*m*eX*eX
	switch v {
	case Maguio:
		return base + (1-m)*(1-m)*eY*eY + e660*e660
	case Mine:
		return base + (1-m)*(1-m)*eY*eY
	default:
		return base + eY*eY
	}
}

// Options configure the candidate selection.
type Options struct {
	Method VarianceMethod
	// SigmaThreshold is the minimum distance above the locus, in units of
	// the propagated standard deviation.
	SigmaThreshold float64
	// FlagMax is the largest accepted SExtractor flag.
	FlagMax float64
	Fit     FitOptions
}

// DefaultOptions select at 5 sigma with the Fratta variance.
func DefaultOptions() Options {
	return Options{
		Method:         Fratta,
		SigmaThreshold: 5,
		FlagMax:        3,
		Fit:            DefaultFitOptions,
	}
}

// TileResult summarises the selection on one tile.
type TileResult struct {
	TileID     float64
	Objects    int
	Candidates int
	Fit        *Fit
	Err        error
}

// OutputColumns are the columns written for each candidate.
var OutputColumns = []string{
	"number", "alpha_j2000", "delta_j2000", ColTile,
	ColPseudoR, magBroad, magHalpha,
	ColColorX, ColColorY, ColSigmaInt, ColSlope, ColIntercept,
	ColEPseudoR, errBroad, errHalpha,
	"flags_j0660", "flags_isdss", "class_star",
}

// Select fits the stellar locus of every tile of t, which must carry the
// columns added by AddColours, and returns the objects lying at least
// SigmaThreshold standard deviations above it, with the slope, intercept
// and sigma_int of their tile's fit appended. Tiles whose locus cannot be
// fitted are skipped and reported in the results.
func Select(t *catalog.Table, o Options) (*catalog.Table, []TileResult, error) {
	keys, groups, err := t.GroupBy(ColTile)
	if err != nil {
		return nil, nil, err
	}
	var selected []*catalog.Table
	results := make([]TileResult, 0, len(keys))
	for _, tile := range keys {
		g := groups[tile]
		res := TileResult{TileID: tile, Objects: g.Len()}
		cand, fit, err := selectTile(g, o)
		res.Fit = fit
		if err != nil {
			log.Printf("Tile %.0f: cannot fit locus on %d objects: %v", tile, g.Len(), err)
			tilesMetric.WithLabelValues("error").Inc()
			res.Err = err
			results = append(results, res)
			continue
		}
		res.Candidates = cand.Len()
		tilesMetric.WithLabelValues("ok").Inc()
		candidatesMetric.Add(float64(cand.Len()))
		selected = append(selected, cand)
		results = append(results, res)
	}
	if len(selected) == 0 {
		empty := t.Take(nil)
		for _, c := range []string{ColSlope, ColIntercept, ColSigmaInt} {
			if err := empty.AddConst(c, 0); err != nil {
				return nil, nil, err
			}
		}
		return empty, results, nil
	}
	all, err := catalog.Concat(selected...)
	if err != nil {
		return nil, nil, err
	}
	return all, results, nil
}

func selectTile(g *catalog.Table, o Options) (*catalog.Table, *Fit, error) {
	x, err := g.Float(ColColorX)
	if err != nil {
		return nil, nil, err
	}
	y, err := g.Float(ColColorY)
	if err != nil {
		return nil, nil, err
	}
	fit, err := FitLocus(x, y, o.Fit)
	if err != nil {
		return nil, nil, err
	}
	var idx []int
	for i, r := range fit.Residuals(x, y) {
		v := o.Method.Variance(fit.SigmaInt, fit.Slope,
			g.Value(i, ColEColorX), g.Value(i, ColEColorY), g.Value(i, errHalpha))
		if r >= o.SigmaThreshold*math.Sqrt(v) {
			idx = append(idx, i)
		}
	}
	cand := g.Take(idx)
	for _, c := range []struct {
		name  string
		value float64
	}{
		{ColSlope, fit.Slope},
		{ColIntercept, fit.Intercept},
		{ColSigmaInt, fit.SigmaInt},
	} {
		if err := cand.AddConst(c.name, c.value); err != nil {
			return nil, nil, err
		}
	}
	return cand, fit, nil
}

// Candidates runs the complete selection on raw photometry: quality cut,
// colours, per-tile selection, and projection on OutputColumns.
func Candidates(t *catalog.Table, o Options) (*catalog.Table, []TileResult, error) {
	log.Printf("Applying quality cuts to %d objects...", t.Len())
	good, err := QualityCut(t, o.FlagMax)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Computing pseudo-r and colours for %d objects...", good.Len())
	coloured, err := AddColours(good)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Fitting the stellar locus per tile...")
	sel, results, err := Select(coloured, o)
	if err != nil {
		return nil, nil, err
	}
	out, err := sel.Select(OutputColumns...)
	if err != nil {
		return nil, nil, err
	}
	out.Name = "halpha_candidates"
	return out, results, nil
}
