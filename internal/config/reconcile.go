package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ReconcileConfig tunes reconciliation and snapshot retention. It can be
// changed at runtime through paydesk.yaml.
type ReconcileConfig struct {
	Epsilon            string        `mapstructure:"epsilon"`
	SnapshotTTL        time.Duration `mapstructure:"snapshot_ttl"`
	WatermarkTTL       time.Duration `mapstructure:"watermark_ttl"`
	ReportLookback     time.Duration `mapstructure:"report_lookback"`
	ReportPageSize     int           `mapstructure:"report_page_size"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	ConsoleConcurrency int           `mapstructure:"console_concurrency"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Epsilon:            "0.01",
		SnapshotTTL:        72 * time.Hour,
		WatermarkTTL:       30 * 24 * time.Hour,
		ReportLookback:     30 * 24 * time.Hour,
		ReportPageSize:     200,
		SweepInterval:      5 * time.Minute,
		ConsoleConcurrency: 8,
	}
}

// EpsilonValue returns the parsed tolerance. Validation guarantees it parses.
func (c ReconcileConfig) EpsilonValue() decimal.Decimal {
	eps, err := decimal.NewFromString(strings.TrimSpace(c.Epsilon))
	if err != nil {
		return decimal.New(1, -2)
	}
	return eps
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconcileConfigHolder() (*ReconcileConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("paydesk")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/paydesk")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.epsilon", defaults.Epsilon)
	v.SetDefault("reconcile.snapshot_ttl", defaults.SnapshotTTL)
	v.SetDefault("reconcile.watermark_ttl", defaults.WatermarkTTL)
	v.SetDefault("reconcile.report_lookback", defaults.ReportLookback)
	v.SetDefault("reconcile.report_page_size", defaults.ReportPageSize)
	v.SetDefault("reconcile.sweep_interval", defaults.SweepInterval)
	v.SetDefault("reconcile.console_concurrency", defaults.ConsoleConcurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return nil, err
	}
	if err := validateReconcileConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticReconcileConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Printf("[reconcile-config] reload failed: %v", err)
			return
		}
		if err := validateReconcileConfig(updated); err != nil {
			log.Printf("[reconcile-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[reconcile-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	if h == nil {
		return DefaultReconcileConfig()
	}
	return h.current.Load().(ReconcileConfig)
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	eps, err := decimal.NewFromString(strings.TrimSpace(cfg.Epsilon))
	if err != nil {
		return errors.New("reconcile.epsilon must be a decimal")
	}
	if eps.IsNegative() || eps.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("reconcile.epsilon must be between 0 and 1")
	}
	if cfg.SnapshotTTL <= 0 {
		return errors.New("reconcile.snapshot_ttl must be positive")
	}
	if cfg.WatermarkTTL <= 0 {
		return errors.New("reconcile.watermark_ttl must be positive")
	}
	if cfg.ReportLookback <= 0 {
		return errors.New("reconcile.report_lookback must be positive")
	}
	if cfg.ReportPageSize < 1 || cfg.ReportPageSize > 500 {
		return errors.New("reconcile.report_page_size must be between 1 and 500")
	}
	if cfg.SweepInterval < time.Second {
		return errors.New("reconcile.sweep_interval must be at least 1s")
	}
	if cfg.ConsoleConcurrency < 1 {
		return errors.New("reconcile.console_concurrency must be positive")
	}
	return nil
}
