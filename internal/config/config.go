// Package config resolves the connection snapshot intentfs operates with.
//
// A snapshot is loaded from a YAML or HCL file (selected by extension),
// overridden by INTENTFS_* environment variables, and published through a
// Holder so running components pick up changes on their next operation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultPort    = "443"
	DefaultTimeout = 90 * time.Second
)

// Config is the resolved connection snapshot.
type Config struct {
	Address      string
	Port         string
	Timeout      time.Duration
	IgnoreLabels []string
	Parallel     bool
	Insecure     bool
	LogLevel     string
	ReportsDB    string
}

// Default returns a snapshot with every default applied and no address.
func Default() Config {
	return Config{
		Port:     DefaultPort,
		Timeout:  DefaultTimeout,
		Insecure: true,
		LogLevel: "warn",
	}
}

// Validate checks the snapshot is usable for remote calls.
func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("config: address is required")
	}
	if c.Port != "" {
		if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
			return fmt.Errorf("config: invalid port %q", c.Port)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// fileConfig is the on-disk shape shared by the YAML and HCL formats.
type fileConfig struct {
	Address      string   `yaml:"address" hcl:"address"`
	Port         string   `yaml:"port" hcl:"port,optional"`
	Timeout      string   `yaml:"timeout" hcl:"timeout,optional"`
	IgnoreLabels []string `yaml:"ignore_labels" hcl:"ignore_labels,optional"`
	Parallel     *bool    `yaml:"parallel" hcl:"parallel,optional"`
	Insecure     *bool    `yaml:"insecure" hcl:"insecure,optional"`
	LogLevel     string   `yaml:"log_level" hcl:"log_level,optional"`
	ReportsDB    string   `yaml:"reports_db" hcl:"reports_db,optional"`
}

// DefaultPath is ~/.config/intentfs/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "intentfs", "config.yaml")
}

// Load reads path (if non-empty) on top of the defaults, then applies
// environment overrides. A missing file is an error only when required.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path != "" {
		fc, err := readFile(path)
		switch {
		case err == nil:
			if err := fc.apply(&cfg); err != nil {
				return Config{}, fmt.Errorf("config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (*fileConfig, error) {
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format", path)
	}
	return &fc, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.Address != "" {
		cfg.Address = fc.Address
	}
	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.Timeout != "" {
		d, err := parseTimeout(fc.Timeout)
		if err != nil {
			return err
		}
		cfg.Timeout = d
	}
	if fc.IgnoreLabels != nil {
		cfg.IgnoreLabels = fc.IgnoreLabels
	}
	if fc.Parallel != nil {
		cfg.Parallel = *fc.Parallel
	}
	if fc.Insecure != nil {
		cfg.Insecure = *fc.Insecure
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.ReportsDB != "" {
		cfg.ReportsDB = fc.ReportsDB
	}
	return nil
}

// parseTimeout accepts a Go duration ("90s") or bare milliseconds ("90000").
func parseTimeout(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return d, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("INTENTFS_ADDRESS"); ok && v != "" {
		cfg.Address = v
	}
	if v, ok := lookup("INTENTFS_PORT"); ok && v != "" {
		cfg.Port = v
	}
	if v, ok := lookup("INTENTFS_TIMEOUT"); ok && v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("INTENTFS_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v, ok := lookup("INTENTFS_PARALLEL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("INTENTFS_PARALLEL: %w", err)
		}
		cfg.Parallel = b
	}
	if v, ok := lookup("INTENTFS_IGNORE_LABELS"); ok && v != "" {
		cfg.IgnoreLabels = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
