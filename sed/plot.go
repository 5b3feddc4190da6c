package sed

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"strings"

	sexa "github.com/soniakeys/sexagesimal"
	"github.com/soniakeys/unit"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const (
	minWavelength = 3000
	maxWavelength = 9500
	majorStep     = 1000
	minorStep     = 250
)

// ErrNoPoints is returned when an object has no usable band.
var ErrNoPoints = errors.New("no valid photometry to plot")

type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

// wavelengthTicks labels every 1000 Å and marks every 250 Å.
func wavelengthTicks() plot.ConstantTicks {
	var ticks []plot.Tick
	for v := float64(minWavelength); v <= maxWavelength; v += minorStep {
		t := plot.Tick{Value: v}
		if int(v)%majorStep == 0 {
			t.Label = fmt.Sprintf("%.0f", v)
		}
		ticks = append(ticks, t)
	}
	return plot.ConstantTicks(ticks)
}

// fluxTicks are logarithmic ticks labelled in %.1e.
type fluxTicks struct {
	plot.LogTicks
}

func (t fluxTicks) Ticks(min, max float64) []plot.Tick {
	ticks := t.LogTicks.Ticks(min, max)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = fmt.Sprintf("%.1e", ticks[i].Value)
		}
	}
	return ticks
}

// Title returns the plot title for an object.
func Title(m Meta) string {
	var parts []string
	if m.Number != "" {
		parts = append(parts, "ID: "+m.Number)
	}
	if m.HasPos {
		parts = append(parts, fmt.Sprintf("(%.5f, %.5f)  %.1s %.0s", m.RA, m.Dec,
			sexa.FmtRA(unit.RAFromDeg(m.RA)), sexa.FmtAngle(unit.AngleFromDeg(m.Dec))))
	}
	return strings.Join(parts, "\n")
}

// Render draws the SED as a 15×6 inch PDF.
func Render(pts []Point, m Meta, style Style) ([]byte, error) {
	if len(pts) == 0 {
		return nil, ErrNoPoints
	}
	p := plot.New()
	p.Title.Text = Title(m)
	p.Title.Padding = vg.Points(15)
	p.X.Label.Text = "Wavelength (Å)"
	p.Y.Label.Text = "Flux (erg s⁻¹ cm⁻² Å⁻¹)"
	p.X.Label.TextStyle.Font.Size = vg.Points(14)
	p.Y.Label.TextStyle.Font.Size = vg.Points(14)
	p.Add(plotter.NewGrid())

	var err error
	if style == StyleSimple {
		err = drawSimple(p, pts)
	} else {
		err = drawColor(p, pts)
	}
	if err != nil {
		return nil, err
	}

	p.X.Min, p.X.Max = minWavelength, maxWavelength
	p.X.Tick.Marker = wavelengthTicks()
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = fluxTicks{plot.LogTicks{Prec: -1}}

	wt, err := p.WriterTo(15*vg.Inch, 6*vg.Inch, "pdf")
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if _, err := wt.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// errorData builds the points with their error bars. The lower error is
// clipped so the bar stays above zero on the log axis.
func errorData(pts []Point) errPoints {
	d := errPoints{
		XYs:     make(plotter.XYs, len(pts)),
		YErrors: make(plotter.YErrors, len(pts)),
	}
	for i, pt := range pts {
		d.XYs[i].X, d.XYs[i].Y = pt.Wavelength, pt.Flux
		low := pt.FluxErr
		if low >= pt.Flux {
			low = pt.Flux * 0.999
		}
		d.YErrors[i].Low, d.YErrors[i].High = low, pt.FluxErr
	}
	return d
}

func drawColor(p *plot.Plot, pts []Point) error {
	for _, pt := range pts {
		c := pt.Filter.RGBA()
		d := errorData([]Point{pt})
		bars, err := plotter.NewYErrorBars(d)
		if err != nil {
			return err
		}
		bars.LineStyle.Color = c
		bars.LineStyle.Width = vg.Points(2)
		bars.CapWidth = vg.Points(8)

		fill, err := plotter.NewScatter(d.XYs)
		if err != nil {
			return err
		}
		fill.GlyphStyle.Color = color.White
		fill.GlyphStyle.Radius = vg.Points(4)
		fill.GlyphStyle.Shape = draw.CircleGlyph{}

		ring, err := plotter.NewScatter(d.XYs)
		if err != nil {
			return err
		}
		ring.GlyphStyle.Color = c
		ring.GlyphStyle.Radius = vg.Points(4)
		ring.GlyphStyle.Shape = draw.RingGlyph{}
		p.Add(bars, fill, ring)
	}
	return nil
}

func drawSimple(p *plot.Plot, pts []Point) error {
	d := errorData(pts)
	line, err := plotter.NewLine(d.XYs)
	if err != nil {
		return err
	}
	line.LineStyle.Color = color.NRGBA{R: 128, G: 128, B: 128, A: 128}
	line.LineStyle.Width = vg.Points(1)

	bars, err := plotter.NewYErrorBars(d)
	if err != nil {
		return err
	}
	bars.LineStyle.Width = vg.Points(1)
	bars.CapWidth = vg.Points(8)

	dots, err := plotter.NewScatter(d.XYs)
	if err != nil {
		return err
	}
	dots.GlyphStyle.Color = color.Black
	dots.GlyphStyle.Radius = vg.Points(4)
	dots.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(line, bars, dots)
	return nil
}
