// Package config loads shmctl settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/distribution"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

// EnvPath names the environment variable consulted when no --config flag is
// given.
const EnvPath = "SHM_CONFIG"

// Config is the on-disk configuration. Every field has a usable default, so
// an empty file is valid.
type Config struct {
	Thresholds   safety.Thresholds     `yaml:"thresholds"`
	GatedStages  []patch.Stage         `yaml:"gated_stages" validate:"dive,oneof=shadow silent active"`
	TTLDays      map[patch.Type]int    `yaml:"ttl_days" validate:"dive,gte=1,lte=365"`
	Distribution distribution.Defaults `yaml:"distribution"`
	Audit        AuditConfig           `yaml:"audit"`
	Log          LogConfig             `yaml:"log"`
}

// AuditConfig controls where audit records are mirrored. The slog sink is
// always on; syslog is opt-in.
type AuditConfig struct {
	Syslog     bool   `yaml:"syslog"`
	SocketPath string `yaml:"socket_path"`
	AppName    string `yaml:"app_name" validate:"omitempty,max=48"`
	Facility   string `yaml:"facility" validate:"omitempty,oneof=user local0 local1"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Thresholds:  safety.DefaultThresholds(),
		GatedStages: []patch.Stage{patch.StageSilent, patch.StageActive},
		TTLDays: map[patch.Type]int{
			patch.TypeLaneGeometry:    14,
			patch.TypeTurnRestriction: 14,
			patch.TypeSpeedAdvisory:   7,
		},
		Distribution: distribution.DefaultDefaults(),
		Audit: AuditConfig{
			SocketPath: "/dev/log",
			AppName:    "shmctl",
			Facility:   "local0",
		},
		Log: LogConfig{Level: "warn", Format: "text"},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/shmctl/config.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "shmctl", "config.yaml")
}

// Load reads the configuration at path. An empty path falls back to
// $SHM_CONFIG and then to DefaultPath; a missing file at a fallback
// location yields Default(). A missing file named explicitly is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default() and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs the struct-tag checks and the threshold consistency checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for t := range c.TTLDays {
		if _, err := patch.ParseType(string(t)); err != nil {
			return fmt.Errorf("invalid config: ttl_days: %w", err)
		}
	}
	return nil
}

// SyslogConfig converts the audit settings for audit.NewSyslogWriter.
func (c *Config) SyslogConfig() audit.SyslogConfig {
	fac := audit.FacLocal0
	switch c.Audit.Facility {
	case "user":
		fac = audit.FacUser
	case "local1":
		fac = audit.FacLocal1
	}
	return audit.SyslogConfig{
		SocketPath: c.Audit.SocketPath,
		AppName:    c.Audit.AppName,
		Facility:   fac,
	}
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
