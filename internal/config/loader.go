package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/session"
)

// Environment variables read by FromEnv.
const (
	EnvConfig      = "PROCKEEPER_CONFIG"
	EnvRoot        = "PROCKEEPER_ROOT"
	EnvUser        = "PROCKEEPER_USER"
	EnvGroup       = "PROCKEEPER_GROUP"
	EnvUmask       = "PROCKEEPER_UMASK"
	EnvShell       = "PROCKEEPER_SHELL"
	EnvStopTimeout = "PROCKEEPER_STOP_TIMEOUT"
	EnvIdlePause   = "PROCKEEPER_IDLE_PAUSE"
	EnvLogLevel    = "PROCKEEPER_LOG_LEVEL"
	EnvLogFormat   = "PROCKEEPER_LOG_FORMAT"
	EnvMetricsAddr = "PROCKEEPER_METRICS_ADDR"
)

// Defaults returns the configuration used when nothing else is provided.
func Defaults() Config {
	return Config{
		Root:        session.DefaultRoot(),
		User:        "nobody",
		Group:       "daemon",
		Umask:       Umask{Value: 0o027},
		StopTimeout: Duration{Duration: 5 * time.Second},
		IdlePause:   Duration{Duration: 2 * time.Second},
		Logging:     Logging{Level: "info", Format: logging.FormatAuto},
	}
}

// Load reads a YAML configuration file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return cfg, fmt.Errorf("resolve config path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return cfg, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var doc Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	cfg.merge(doc)
	cfg.Root = os.ExpandEnv(cfg.Root)
	if cfg.Root != "" && !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(absPath), cfg.Root)
	}
	return cfg, nil
}

// FromEnv overlays PROCKEEPER_* variables on cfg. Values that fail to parse
// are ignored.
func FromEnv(cfg Config) Config {
	if value := os.Getenv(EnvRoot); value != "" {
		cfg.Root = value
	}
	if value := os.Getenv(EnvUser); value != "" {
		cfg.User = value
	}
	if value := os.Getenv(EnvGroup); value != "" {
		cfg.Group = value
	}
	if value := os.Getenv(EnvUmask); value != "" {
		if mask, err := ParseUmask(value); err == nil {
			cfg.Umask = mask
		}
	}
	if value := os.Getenv(EnvShell); value != "" {
		if fields := strings.Fields(value); len(fields) > 0 {
			cfg.Shell = fields
		}
	}
	if value := os.Getenv(EnvStopTimeout); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			cfg.StopTimeout = Duration{Duration: d, explicit: true}
		}
	}
	if value := os.Getenv(EnvIdlePause); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			cfg.IdlePause = Duration{Duration: d, explicit: true}
		}
	}
	if value := os.Getenv(EnvLogLevel); value != "" {
		cfg.Logging.Level = value
	}
	if value := os.Getenv(EnvLogFormat); value != "" {
		cfg.Logging.Format = value
	}
	if value := os.Getenv(EnvMetricsAddr); value != "" {
		cfg.Metrics.Addr = value
	}
	return cfg
}

// Resolve loads path (or $PROCKEEPER_CONFIG when path is empty) and applies
// environment overrides.
func Resolve(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	return FromEnv(cfg), nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root: must not be empty"))
	} else if !filepath.IsAbs(c.Root) {
		errs = append(errs, fmt.Errorf("root: %q must be an absolute path", c.Root))
	}
	if c.Umask.Value > 0o777 {
		errs = append(errs, fmt.Errorf("umask: %s exceeds 0777", c.Umask))
	}
	if c.StopTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("stopTimeout: must not be negative, got %s", c.StopTimeout.Duration))
	}
	if c.IdlePause.Duration < 0 {
		errs = append(errs, fmt.Errorf("idlePause: must not be negative, got %s", c.IdlePause.Duration))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if !logging.ValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.User == "" && c.Group != "" {
		errs = append(errs, errors.New("user: required when group is set"))
	}
	return errors.Join(errs...)
}

func (c *Config) merge(doc Config) {
	if doc.Root != "" {
		c.Root = doc.Root
	}
	if doc.User != "" {
		c.User = doc.User
	}
	if doc.Group != "" {
		c.Group = doc.Group
	}
	if doc.Umask.IsSet() {
		c.Umask = doc.Umask
	}
	if len(doc.Shell) > 0 {
		c.Shell = append([]string(nil), doc.Shell...)
	}
	if doc.StopTimeout.IsSet() {
		c.StopTimeout = doc.StopTimeout
	}
	if doc.IdlePause.IsSet() {
		c.IdlePause = doc.IdlePause
	}
	if doc.Logging.Level != "" {
		c.Logging.Level = doc.Logging.Level
	}
	if doc.Logging.Format != "" {
		c.Logging.Format = doc.Logging.Format
	}
	if doc.Metrics.Addr != "" {
		c.Metrics.Addr = doc.Metrics.Addr
	}
}
