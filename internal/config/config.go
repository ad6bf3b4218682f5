// Package config loads server settings from an optional YAML file and the
// environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/park285/cheese-arena/internal/match"
)

type AppConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ServiceName    string   `yaml:"service_name"`

	RedisURL          string `yaml:"redis_url"`
	DatabaseURL       string `yaml:"database_url"`
	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`
	OTLPEndpoint      string `yaml:"otlp_endpoint"`
	MessagesDir       string `yaml:"messages_dir"`

	CreationTimeout    time.Duration `yaml:"creation_timeout"`
	Retention          time.Duration `yaml:"retention"`
	DisconnectGrace    time.Duration `yaml:"disconnect_grace"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	DefaultTimeControl string        `yaml:"default_time_control"`
	SendBuffer         int           `yaml:"send_buffer"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

func defaults() AppConfig {
	return AppConfig{
		HTTPAddr:           ":8080",
		ServiceName:        "cheese-arena",
		NATSSubjectPrefix:  "arena.match",
		CreationTimeout:    10 * time.Minute,
		Retention:          15 * time.Minute,
		DisconnectGrace:    60 * time.Second,
		SweepInterval:      30 * time.Second,
		DefaultTimeControl: match.DefaultPreset,
		SendBuffer:         64,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load reads CONFIG_FILE (if set) and then the process environment.
func Load() (*AppConfig, error) { return LoadFrom(os.Getenv) }

// LoadFrom is Load with an injectable environment lookup.
func LoadFrom(getenv func(string) string) (*AppConfig, error) {
	cfg := defaults()
	env := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if path := env("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	str := func(k string, dst *string) {
		if v := env(k); v != "" {
			*dst = v
		}
	}
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("SERVICE_NAME", &cfg.ServiceName)
	str("REDIS_URL", &cfg.RedisURL)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("NATS_URL", &cfg.NATSURL)
	str("NATS_SUBJECT_PREFIX", &cfg.NATSSubjectPrefix)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	str("MESSAGES_DIR", &cfg.MessagesDir)
	str("MATCH_DEFAULT_TIME_CONTROL", &cfg.DefaultTimeControl)
	if v := env("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	var errs []error
	dur := func(k string, dst *time.Duration) {
		v := env(k)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			return
		}
		*dst = d
	}
	dur("MATCH_CREATION_TIMEOUT", &cfg.CreationTimeout)
	dur("MATCH_RETENTION", &cfg.Retention)
	dur("MATCH_DISCONNECT_GRACE", &cfg.DisconnectGrace)
	dur("MATCH_SWEEP_INTERVAL", &cfg.SweepInterval)
	dur("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	if v := env("MATCH_SEND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MATCH_SEND_BUFFER: %w", err))
		} else {
			cfg.SendBuffer = n
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and that the default time control names a preset.
func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	for name, d := range map[string]time.Duration{
		"MATCH_CREATION_TIMEOUT": c.CreationTimeout,
		"MATCH_RETENTION":        c.Retention,
		"MATCH_DISCONNECT_GRACE": c.DisconnectGrace,
		"MATCH_SWEEP_INTERVAL":   c.SweepInterval,
		"SHUTDOWN_TIMEOUT":       c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("MATCH_SEND_BUFFER must be positive"))
	}
	if _, err := match.Preset(c.DefaultTimeControl); err != nil {
		errs = append(errs, fmt.Errorf("MATCH_DEFAULT_TIME_CONTROL: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
