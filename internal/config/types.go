package config

// Config is the daemon's on-disk configuration (JSON or YAML, strict keys).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Normalize NormalizeConfig `json:"normalize,omitempty"`
	Analytics AnalyticsConfig `json:"analytics,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so we can distinguish "omitted" (default true)
	// from an explicit false.
	Console *bool         `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls trigger, pacing and recovery behavior.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - workers: 2
//   - pacing_interval: "30s"
//   - sweep_interval: "1m"
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	PacingInterval string `json:"pacing_interval,omitempty"`
	SweepInterval  string `json:"sweep_interval,omitempty"`

	Policy PolicyConfig `json:"policy,omitempty"`
}

// PolicyConfig describes the audience's active hours.
type PolicyConfig struct {
	WeekdaySlots []int             `json:"weekday_slots,omitempty"`
	WeekendSlots []int             `json:"weekend_slots,omitempty"`
	Avoid        []HourRangeConfig `json:"avoid,omitempty"`
	Nudge        string            `json:"nudge,omitempty"`
}

type HourRangeConfig struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type RateLimitConfig struct {
	MaxPerHour int `json:"max_per_hour,omitempty"`
	MaxPerDay  int `json:"max_per_day,omitempty"`
}

type NormalizeConfig struct {
	Limit       int    `json:"limit,omitempty"`
	CoreMarker  string `json:"core_marker,omitempty"`
	CoreTag     string `json:"core_tag,omitempty"`
	BrandTag    string `json:"brand_tag,omitempty"`
	FirstTagCap int    `json:"first_tag_cap,omitempty"`
	RestTagCap  int    `json:"rest_tag_cap,omitempty"`
}

type AnalyticsConfig struct {
	Enabled *bool          `json:"enabled,omitempty"`
	Offsets []OffsetConfig `json:"offsets,omitempty"`

	FetchRatePerSec int    `json:"fetch_rate_per_sec,omitempty"`
	SweepInterval   string `json:"sweep_interval,omitempty"`
}

type OffsetConfig struct {
	Label string `json:"label"`
	After string `json:"after"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
