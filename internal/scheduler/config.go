package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/alima/internal/config"
)

// Config controls when the billing routine runs and which jobs it runs.
type Config struct {
	// Cron is a standard five field spec evaluated in Location.
	Cron        string
	Location    *time.Location
	EnabledJobs []string
	RunOnStart  bool
	JobTimeout  time.Duration
	ReportTitle string
}

func DefaultConfig() Config {
	return Config{
		Cron:        "0 9 * * *",
		Location:    time.UTC,
		JobTimeout:  30 * time.Minute,
		ReportTitle: "Reporte de facturacion",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Cron) == "" {
		c.Cron = defaults.Cron
	}
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if strings.TrimSpace(c.ReportTitle) == "" {
		c.ReportTitle = defaults.ReportTitle
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Cron:        cfg.Schedule.Cron,
		Location:    cfg.Schedule.Location(),
		EnabledJobs: cfg.Schedule.EnabledJobs,
		RunOnStart:  cfg.Schedule.RunOnStart,
	}.withDefaults()
}
