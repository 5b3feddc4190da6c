package sed

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// DefaultColor is used for filters without a valid colour.
const DefaultColor = "#FF0000"

var (
	hex6 = regexp.MustCompile(`^#?[0-9A-F]{6}$`)
	hex3 = regexp.MustCompile(`^#?[0-9A-F]{3}$`)
)

// Filter is a photometric band.
type Filter struct {
	Name string
	// Wavelength is the central wavelength in Å.
	Wavelength float64
	// Color is a #RRGGBB colour used to draw the band.
	Color string
}

// Band returns the column infix for the filter: lower-case, no spaces.
func (f Filter) Band() string {
	return strings.ToLower(strings.ReplaceAll(f.Name, " ", ""))
}

// RGBA returns the filter colour.
func (f Filter) RGBA() color.RGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(ValidateColor(f.Color), "#"), 16, 32)
	if err != nil {
		return color.RGBA{R: 255, A: 255}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

// ValidateColor normalises #RRGGBB, RRGGBB, #RGB and RGB (in any case) to
// upper-case #RRGGBB. Anything else yields DefaultColor.
func ValidateColor(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case hex6.MatchString(s):
		return "#" + strings.TrimPrefix(s, "#")
	case hex3.MatchString(s):
		s = strings.TrimPrefix(s, "#")
		return "#" + strings.Repeat(s[0:1], 2) + strings.Repeat(s[1:2], 2) +
			strings.Repeat(s[2:3], 2)
	}
	return DefaultColor
}

// LoadFilters reads a CSV with name and wavelength columns and an optional
// color_representation column. Colours are validated.
func LoadFilters(r io.Reader) ([]Filter, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read filter header: %w", err)
	}
	pos := map[string]int{}
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	nameCol, ok := pos["name"]
	if !ok {
		return nil, fmt.Errorf("filter file has no name column")
	}
	wlCol, ok := pos["wavelength"]
	if !ok {
		return nil, fmt.Errorf("filter file has no wavelength column")
	}
	colorCol, hasColor := pos["color_representation"]

	var filters []Filter
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		wl, err := strconv.ParseFloat(strings.TrimSpace(rec[wlCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid wavelength %q", line, rec[wlCol])
		}
		f := Filter{Name: strings.TrimSpace(rec[nameCol]), Wavelength: wl, Color: DefaultColor}
		if hasColor {
			f.Color = ValidateColor(rec[colorCol])
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("filter file has no filters")
	}
	return filters, nil
}
