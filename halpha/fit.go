package halpha

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrTooFewPoints is returned when fewer than two points survive.
	ErrTooFewPoints = errors.New("at least two points are needed to fit a line")
	// ErrDegenerate is returned when all surviving points share the same x.
	ErrDegenerate = errors.New("points have no spread in x")
)

// FitOptions control the outlier-rejecting line fit.
type FitOptions struct {
	// Sigma is the clipping threshold around the median residual, in units
	// of the residual standard deviation.
	Sigma float64
	// Iterations bounds the number of reject-and-refit rounds.
	Iterations int
	// ClipIterations bounds the sigma-clipping passes within one round.
	ClipIterations int
}

// DefaultFitOptions clip at 4 sigma for up to 5 rounds.
var DefaultFitOptions = FitOptions{Sigma: 4, Iterations: 5, ClipIterations: 5}

// Fit is a stellar locus: color_y = Slope*color_x + Intercept.
type Fit struct {
	Slope     float64
	Intercept float64
	// Rejected marks the points excluded as outliers.
	Rejected []bool
	// SigmaInt is the standard deviation of the residuals of the points
	// kept by the fit.
	SigmaInt float64
	// Rounds is the number of reject-and-refit rounds performed.
	Rounds int
}

// At evaluates the locus.
func (f *Fit) At(x float64) float64 {
	return f.Slope*x + f.Intercept
}

// Residuals returns y - At(x) for every point.
func (f *Fit) Residuals(x, y []float64) []float64 {
	r := make([]float64, len(x))
	for i := range x {
		r[i] = y[i] - f.At(x[i])
	}
	return r
}

// Kept returns the number of points not rejected.
func (f *Fit) Kept() int {
	n := 0
	for _, r := range f.Rejected {
		if !r {
			n++
		}
	}
	return n
}

// FitLocus fits a straight line by least squares and iteratively rejects
// outliers: each round sigma-clips the residuals of all points, and the line
// is refitted on the survivors until the set of rejected points stops
// changing. Rejected points are never readmitted.
func FitLocus(x, y []float64, o FitOptions) (*Fit, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("x and y lengths differ: %d != %d", len(x), len(y))
	}
	f := &Fit{Rejected: make([]bool, len(x))}
	var err error
	if f.Slope, f.Intercept, err = line(x, y, f.Rejected); err != nil {
		return nil, err
	}
	for f.Rounds < o.Iterations {
		f.Rounds++
		next := sigmaClip(f.Residuals(x, y), f.Rejected, o.Sigma, o.ClipIterations)
		if equal(next, f.Rejected) {
			break
		}
		f.Rejected = next
		if f.Slope, f.Intercept, err = line(x, y, f.Rejected); err != nil {
			return nil, err
		}
	}
	_, f.SigmaInt = stat.PopMeanStdDev(kept(f.Residuals(x, y), f.Rejected), nil)
	return f, nil
}

// line fits y = slope*x + intercept to the points not rejected.
func line(x, y []float64, rejected []bool) (slope, intercept float64, err error) {
	xs, ys := kept(x, rejected), kept(y, rejected)
	if len(xs) < 2 {
		return 0, 0, ErrTooFewPoints
	}
	if stat.PopVariance(xs, nil) < 1e-12 {
		return 0, 0, ErrDegenerate
	}
	intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, intercept, nil
}

// sigmaClip rejects values further than sigma standard deviations from the
// median of the values not yet rejected, repeating until nothing changes or
// maxIters passes were made. The input mask is not modified.
func sigmaClip(data []float64, rejected []bool, sigma float64, maxIters int) []bool {
	out := append([]bool(nil), rejected...)
	for i := 0; i < maxIters; i++ {
		vals := kept(data, out)
		if len(vals) == 0 {
			break
		}
		center := median(vals)
		_, std := stat.PopMeanStdDev(vals, nil)
		lo, hi := center-sigma*std, center+sigma*std
		changed := false
		for j, v := range data {
			if !out[j] && (v < lo || v > hi) {
				out[j] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return out
}

func kept(v []float64, rejected []bool) []float64 {
	out := make([]float64, 0, len(v))
	for i, x := range v {
		if !rejected[i] {
			out = append(out, x)
		}
	}
	return out
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func equal(a, b []bool) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
