package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"

	"ddsched/internal/job"
	"ddsched/internal/journal"
	"ddsched/internal/kernel"
	"ddsched/internal/monitor"
	"ddsched/internal/sched"
	logx "ddsched/pkg/logx"
)

// Config is the whole config.yml.
type Config struct {
	Scheduler sched.Config       `yaml:"scheduler"`
	Kernel    kernel.Config      `yaml:"kernel"`
	Log       logx.Config        `yaml:"log"`
	Journal   journal.Config     `yaml:"journal"`
	Status    monitor.Config     `yaml:"status"`
	Templates []job.TemplateSpec `yaml:"templates"`
}

func Default() Config {
	return Config{
		Scheduler: sched.DefaultConfig(),
		Kernel:    kernel.DefaultConfig(),
		Log:       logx.Config{Level: "info", Console: true},
		Journal:   journal.Config{Driver: "none"},
		Status:    monitor.DefaultConfig(),
		Templates: job.DefaultTemplates(),
	}
}

// Load reads path over the defaults. A missing file yields the defaults;
// unknown keys and malformed YAML are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and applies the sanity clamps.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	cfg.Templates = nil
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
			return Default(), fmt.Errorf("config: %w", err)
		}
	}
	if len(cfg.Templates) == 0 {
		cfg.Templates = job.DefaultTemplates()
	}
	cfg.Scheduler = cfg.Scheduler.Sanitize()
	if cfg.Kernel.MaxTasks <= 0 {
		cfg.Kernel.MaxTasks = kernel.DefaultConfig().MaxTasks
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Validate reports config errors the clamps cannot repair.
func (c Config) Validate() error {
	for i, t := range c.Templates {
		if t.Name == "" {
			return fmt.Errorf("config: template %d has no name", i)
		}
	}
	switch c.Journal.Driver {
	case "", "none", "csv", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("config: unknown journal driver %q", c.Journal.Driver)
	}
	return nil
}
