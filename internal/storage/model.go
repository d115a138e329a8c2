package storage

import (
	"time"

	"github.com/vl-photonics/oct-controller/internal/scan"
)

// Session is a stored scan session: the archive row identifier plus the
// metadata the scanner recorded.
type Session struct {
	ID int64
	scan.Metadata
}

// windowConfig is the JSON shape of one depth window in the sessions table.
type windowConfig struct {
	Min     float64 `json:"min_m"`
	Max     float64 `json:"max_m"`
	Enabled bool    `json:"enabled"`
}

func toWindowConfigs(windows []scan.Window) []windowConfig {
	out := make([]windowConfig, len(windows))
	for i, w := range windows {
		out[i] = windowConfig{Min: w.Min, Max: w.Max, Enabled: w.Enabled}
	}
	return out
}

func fromWindowConfigs(configs []windowConfig) []scan.Window {
	out := make([]scan.Window, len(configs))
	for i, c := range configs {
		out[i] = scan.Window{Min: c.Min, Max: c.Max, Enabled: c.Enabled}
	}
	return out
}

// modeFromString parses the transform_mode column back into its enum value.
// Unknown values default to the full-spectrum mode.
func modeFromString(s string) scan.TransformMode {
	if s == scan.ModePerWindowCZT.String() {
		return scan.ModePerWindowCZT
	}
	return scan.ModeFullSpectrum
}

func exposureToMicros(d time.Duration) int64 { return d.Microseconds() }

func microsToExposure(us int64) time.Duration { return time.Duration(us) * time.Microsecond }
