package analytics

import (
	"time"
)

// Offset is a named delay after publish completion at which metrics are
// re-sampled.
type Offset struct {
	Label string
	After time.Duration
}

// DefaultOffsets mirrors the historical collection points.
func DefaultOffsets() []Offset {
	return []Offset{
		{Label: "1_hour", After: time.Hour},
		{Label: "24_hours", After: 24 * time.Hour},
		{Label: "7_days", After: 7 * 24 * time.Hour},
	}
}

type Config struct {
	Enabled bool
	Offsets []Offset

	// FetchRatePerSec bounds outbound metric fetches against the platform.
	FetchRatePerSec int

	// SweepInterval is the cadence of the recovery sweep that re-arms tasks
	// whose timers were lost (restart) or missed.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Offsets) == 0 {
		c.Offsets = DefaultOffsets()
	}
	if c.FetchRatePerSec <= 0 {
		c.FetchRatePerSec = 5
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}
