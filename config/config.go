// Package config loads and validates Xenon's layered configuration:
// built-in defaults, then an optional YAML file, then an XENON_-prefixed
// environment overlay, then explicit CLI flags applied last by the caller.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"xenon/errors"
	"xenon/models/browser"
	"xenon/models/node"
)

// DefaultConfig is the built-in defaults written as YAML: logger settings
// only, no browsers/ports/nodes; the operator's YAML file supplies the real
// fleet. Load applies the same values through a confmap provider and does
// not read this variable.
var DefaultConfig = []byte(`
logger:
  level: "info"
  encoding: "console"
`)

// Config is the full top-level schema of spec.md §6's YAML document, plus
// the ambient logger section SPEC_FULL.md §A adds.
type Config struct {
	Browsers []browser.Config `koanf:"browsers" yaml:"browsers"`
	Ports    []string         `koanf:"ports" yaml:"ports"`
	Nodes    []node.Create    `koanf:"nodes" yaml:"nodes"`
	Logger   Logger           `koanf:"logger" yaml:"logger"`
}

type Logger struct {
	Level    string `koanf:"level" yaml:"level"`
	Encoding string `koanf:"encoding" yaml:"encoding"`
	File     string `koanf:"file" yaml:"file"`
}

// Load builds a Config from built-in defaults, the YAML file at path
// (skipped when path is empty; a file that cannot be loaded is a
// ConfigNotFound error), and an XENON_-prefixed environment overlay in which
// XENON_LOGGER_FILE sets logger.file and so on. CLI flags are applied
// by the caller after Load returns, since kong already parsed them with
// their own env-var fallback.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"logger.level":    "info",
		"logger.encoding": "console",
	}, "."), nil); err != nil {
		return nil, errors.E(errors.ConfigLoadError, "loading built-in defaults", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.E(errors.ConfigNotFound, "loading config file "+path, err)
		}
	}

	if err := k.Load(env.Provider("XENON_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "XENON_")), "_", ".")
	}), nil); err != nil {
		return nil, errors.E(errors.ConfigLoadError, "loading environment overlay", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.E(errors.ConfigLoadError, "unmarshaling config", err)
	}

	for i := range cfg.Browsers {
		cfg.Browsers[i].Normalize()
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for fail-fast startup errors:
// every browser entry is validated and `ports` must be non-empty. The
// individual `ports` entries are not parsed here; PortManager parses them
// (see services/portmanager), logging and skipping malformed ranges rather
// than failing.
func (c *Config) Validate() error {
	ve := errors.ValidationErrs()

	if len(c.Browsers) == 0 {
		ve.Add("browsers", "at least one browser must be configured")
	}
	for i, b := range c.Browsers {
		if err := b.Validate(); err != nil {
			ve.Add("browsers", err.Error())
			_ = i
		}
	}

	if len(c.Ports) == 0 {
		ve.Add("ports", "at least one port or port range must be configured")
	}

	if c.Logger.Level == "" {
		ve.Add("logger.level", "cannot be empty")
	}

	for i, n := range c.Nodes {
		if n.URL == "" {
			ve.Add("nodes[].url", "cannot be empty")
			_ = i
		}
	}

	return ve.Err()
}
