package scheduler

import (
	"time"

	"github.com/smallbiznis/paydesk/internal/config"
)

// Config controls scheduler intervals.
type Config struct {
	SweepInterval  time.Duration
	WarmupInterval time.Duration
	WarmupEnabled  bool
	JobTimeout     time.Duration
	// WarmupWindow is how far back the warmup job asks the reporting feed.
	WarmupWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:  5 * time.Minute,
		WarmupInterval: 15 * time.Minute,
		WarmupEnabled:  true,
		JobTimeout:     30 * time.Second,
		WarmupWindow:   24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.WarmupInterval <= 0 {
		c.WarmupInterval = defaults.WarmupInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.WarmupWindow <= 0 {
		c.WarmupWindow = defaults.WarmupWindow
	}
	return c
}

// ProvideConfig takes the sweep interval from the reconcile settings. The
// interval is read once; gocron jobs keep the schedule they were created with.
func ProvideConfig(holder *config.ReconcileConfigHolder) Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = holder.Get().SweepInterval
	return cfg
}
