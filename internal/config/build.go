package config

import (
	"fmt"
	"time"

	"threadcast/internal/analytics"
	"threadcast/internal/normalize"
	"threadcast/internal/planner"
	"threadcast/internal/ratelimit"
	"threadcast/internal/scheduler"
	"threadcast/internal/storage"
	"threadcast/pkg/logx"
)

// The BuildX methods turn raw config sections (duration strings, optional
// bools) into component configs. They are the single place where config
// parsing can fail; components receive only typed values.

func (c *Config) BuildLogging() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: boolOr(c.Logging.Console, true),
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) BuildStorage() (storage.Config, error) {
	d, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: d,
	}, nil
}

func (c *Config) BuildScheduler() (scheduler.Config, error) {
	pacing, err := ParseDurationOrDefault("scheduler.pacing_interval", c.Scheduler.PacingInterval, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	sweep, err := ParseDurationOrDefault("scheduler.sweep_interval", c.Scheduler.SweepInterval, time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	pol, err := c.Scheduler.Policy.build()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        boolOr(c.Scheduler.Enabled, true),
		Workers:        c.Scheduler.Workers,
		PacingInterval: pacing,
		SweepInterval:  sweep,
		Policy:         pol,
	}, nil
}

func (p PolicyConfig) build() (planner.Policy, error) {
	nudge, err := ParseDurationField("scheduler.policy.nudge", p.Nudge)
	if err != nil {
		return planner.Policy{}, err
	}
	for _, h := range append(append([]int(nil), p.WeekdaySlots...), p.WeekendSlots...) {
		if h < 0 || h > 23 {
			return planner.Policy{}, fmt.Errorf("scheduler.policy: slot hour %d out of range", h)
		}
	}
	avoid := make([]planner.HourRange, 0, len(p.Avoid))
	for _, r := range p.Avoid {
		if r.Start < 0 || r.End > 24 || r.Start >= r.End {
			return planner.Policy{}, fmt.Errorf("scheduler.policy.avoid: bad range %d-%d", r.Start, r.End)
		}
		avoid = append(avoid, planner.HourRange{Start: r.Start, End: r.End})
	}
	return planner.Policy{
		WeekdaySlots: append([]int(nil), p.WeekdaySlots...),
		WeekendSlots: append([]int(nil), p.WeekendSlots...),
		Avoid:        avoid,
		Nudge:        nudge,
	}, nil
}

func (c *Config) BuildRateLimit() ratelimit.Config {
	return ratelimit.Config{
		MaxPerHour: c.RateLimit.MaxPerHour,
		MaxPerDay:  c.RateLimit.MaxPerDay,
	}
}

func (c *Config) BuildNormalize() normalize.Config {
	return normalize.Config{
		Limit:       c.Normalize.Limit,
		CoreMarker:  c.Normalize.CoreMarker,
		CoreTag:     c.Normalize.CoreTag,
		BrandTag:    c.Normalize.BrandTag,
		FirstTagCap: c.Normalize.FirstTagCap,
		RestTagCap:  c.Normalize.RestTagCap,
	}
}

func (c *Config) BuildAnalytics() (analytics.Config, error) {
	sweep, err := ParseDurationOrDefault("analytics.sweep_interval", c.Analytics.SweepInterval, time.Minute)
	if err != nil {
		return analytics.Config{}, err
	}
	var offsets []analytics.Offset
	for i, o := range c.Analytics.Offsets {
		d, err := ParseDurationField(fmt.Sprintf("analytics.offsets[%d].after", i), o.After)
		if err != nil {
			return analytics.Config{}, err
		}
		if o.Label == "" || d <= 0 {
			return analytics.Config{}, fmt.Errorf("analytics.offsets[%d]: label and positive after are required", i)
		}
		offsets = append(offsets, analytics.Offset{Label: o.Label, After: d})
	}
	return analytics.Config{
		Enabled:         boolOr(c.Analytics.Enabled, true),
		Offsets:         offsets,
		FetchRatePerSec: c.Analytics.FetchRatePerSec,
		SweepInterval:   sweep,
	}, nil
}

// Validate parses every section once so a bad config is rejected before any
// service is touched (also used as the watcher's pre-commit hook).
func (c *Config) Validate() error {
	if _, err := c.BuildStorage(); err != nil {
		return err
	}
	if _, err := c.BuildScheduler(); err != nil {
		return err
	}
	if _, err := c.BuildAnalytics(); err != nil {
		return err
	}
	if c.RateLimit.MaxPerHour < 0 || c.RateLimit.MaxPerDay < 0 {
		return fmt.Errorf("rate_limit: ceilings must be >= 0")
	}
	return nil
}
