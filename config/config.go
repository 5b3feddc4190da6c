// Package config defines the survey configuration shared by the pipeline
// commands.
package config

import (
	"encoding/json"
	"fmt"
)

// Bin is a half-open magnitude interval [Min, Max).
type Bin struct {
	Min float64
	Max float64
}

// Config is a configuration object for the survey pipeline.
type Config struct {
	// TAPURL is the base URL of the TAP service.
	TAPURL string
	// LoginURL is the archive login form endpoint.
	LoginURL string
	// PhotometryTable is the catalogue table holding per-object photometry.
	PhotometryTable string
	// FilterTable is the table describing the survey filters.
	FilterTable string
	// Preset selects the set of filters to download: "all" or "halpha".
	Preset string
	// ErrorCut is the maximum magnitude error accepted in the cut bands.
	ErrorCut float64
	// FlagMax is the maximum SExtractor flag value accepted.
	FlagMax int
	// BinColumn is the magnitude column used to split the results.
	BinColumn string
	// Bins are the magnitude intervals written to separate files.
	Bins []Bin
	// OutputDir is a local directory or a gs://bucket/prefix URL.
	OutputDir string
	// Selection holds the Hα candidate selection parameters.
	Selection Selection
	// SED holds the plotting parameters.
	SED SED
}

// Selection configures the Hα candidate selection.
type Selection struct {
	// VarianceMethod is one of Maguio, Mine or Fratta.
	VarianceMethod string
	// SigmaThreshold is the selection threshold in units of sigma.
	SigmaThreshold float64
	// Input is the table the selection runs on, relative to OutputDir.
	Input string
	// Output is the candidate CSV path, relative to OutputDir.
	Output string
	// BigQueryTable optionally receives the candidates
	// (project.dataset.table).
	BigQueryTable string
}

// SED configures spectral energy distribution plots.
type SED struct {
	// FilterFile is the CSV describing filter wavelengths and colours.
	FilterFile string
	// ZeroPoint is used in the magnitude to flux conversion.
	ZeroPoint float64
	// Style is "color" or "simple".
	Style string
	// ErrorThreshold drops points with a larger magnitude error (simple
	// style only).
	ErrorThreshold float64
	// Output is the directory for the plots, relative to OutputDir.
	Output string
}

// Default returns the configuration for the J-PAS internal data release
// 2024-06.
func Default() Config {
	return Config{
		TAPURL:          "https://archive.cefca.es/catalogues/vo/tap/jpas-idr202406",
		LoginURL:        "https://archive.cefca.es/catalogues/login",
		PhotometryTable: "jpas.MagABDualObj",
		FilterTable:     "jpas.Filter",
		Preset:          "all",
		ErrorCut:        0.4,
		FlagMax:         3,
		BinColumn:       "mag_isdss_cor",
		Bins: []Bin{
			{13.0, 16.0},
			{16.0, 17.5},
			{17.5, 18.5},
			{18.5, 19.5},
			{19.5, 23.0},
			{23.0, 24.0},
		},
		OutputDir: "Data",
		Selection: Selection{
			VarianceMethod: "Fratta",
			SigmaThreshold: 5.0,
			Input:          "jpas_bin_5_19.5to23.0i.fits",
			Output:         "resultados/halpha_candidates.csv",
		},
		SED: SED{
			FilterFile:     "jpas_filters.csv",
			ZeroPoint:      2.41,
			Style:          "color",
			ErrorThreshold: 0.5,
			Output:         "jpas_seds",
		},
	}
}

// Load overlays the JSON document b on top of Default. An empty document
// yields the defaults.
func Load(b []byte) (Config, error) {
	c := Default()
	if len(b) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("cannot parse configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	for i, b := range c.Bins {
		if !(b.Min < b.Max) {
			return fmt.Errorf("bin %d: min %v must be below max %v", i+1, b.Min, b.Max)
		}
	}
	switch c.Preset {
	case "all", "halpha":
	default:
		return fmt.Errorf("unknown preset %q", c.Preset)
	}
	if c.ErrorCut <= 0 {
		return fmt.Errorf("error cut must be positive, got %v", c.ErrorCut)
	}
	return nil
}
