// Package browser holds the configured-browser and inbound-capability
// models, and the match between them.
package browser

import (
	"encoding/json"
	"strings"

	"xenon/errors"
)

// Config is one configured browser kind, as loaded from the YAML `browsers`
// list. Immutable after load.
type Config struct {
	Name              string   `koanf:"name" yaml:"name" json:"name"`
	Version           string   `koanf:"version" yaml:"version" json:"version,omitempty"`
	OS                string   `koanf:"os" yaml:"os" json:"os,omitempty"`
	DriverPath        string   `koanf:"driver_path" yaml:"driver_path" json:"driver_path,omitempty"`
	Args              []string `koanf:"args" yaml:"args" json:"args,omitempty"`
	SessionsPerDriver int      `koanf:"sessions_per_driver" yaml:"sessions_per_driver" json:"sessions_per_driver"`
	MaxSessions       int      `koanf:"max_sessions" yaml:"max_sessions" json:"max_sessions"`
}

// defaultDriverPaths maps a well-known browser name to its driver binary.
// Matched case-insensitively.
var defaultDriverPaths = map[string]string{
	"firefox": "geckodriver",
	"chrome":  "chromedriver",
}

// Normalize fills in defaults: sessions_per_driver=1, max_sessions=5, and a
// driver_path derived from name when one wasn't given.
func (c *Config) Normalize() {
	if c.SessionsPerDriver == 0 {
		c.SessionsPerDriver = 1
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 5
	}
	if c.DriverPath == "" {
		if p, ok := defaultDriverPaths[strings.ToLower(c.Name)]; ok {
			c.DriverPath = p
		}
	}
}

// Validate checks a single browser entry after Normalize has run.
func (c *Config) Validate() error {
	ve := errors.ValidationErrs()
	if c.Name == "" {
		ve.Add("browsers[].name", "cannot be empty")
	}
	if c.DriverPath == "" {
		ve.Add("browsers[].driver_path", "cannot be defaulted for name "+c.Name+"; set it explicitly")
	}
	if c.SessionsPerDriver < 1 {
		ve.Add("browsers[].sessions_per_driver", "must be at least 1")
	}
	if c.MaxSessions < 1 {
		ve.Add("browsers[].max_sessions", "must be at least 1")
	}
	return ve.Err()
}

// Capabilities is the inbound match key parsed from a session-creation
// request's `capabilities.alwaysMatch` object.
type Capabilities struct {
	BrowserName    string
	BrowserVersion string
	PlatformName   string
}

type w3cCaps struct {
	AlwaysMatch struct {
		BrowserName    string `json:"browserName"`
		BrowserVersion string `json:"browserVersion"`
		PlatformName   string `json:"platformName"`
	} `json:"alwaysMatch"`
}

// ParseCapabilities extracts alwaysMatch.{browserName,browserVersion,
// platformName} from the raw `capabilities` object of a W3C session-creation
// request body. browserName is required.
func ParseCapabilities(raw json.RawMessage) (Capabilities, error) {
	if len(raw) == 0 {
		return Capabilities{}, errors.ErrorCreatingSession("missing capabilities object")
	}
	var parsed w3cCaps
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Capabilities{}, errors.E(errors.ErrorCreatingSessionKind, "malformed capabilities", err)
	}
	if parsed.AlwaysMatch.BrowserName == "" {
		return Capabilities{}, errors.ErrorCreatingSession("capabilities.alwaysMatch.browserName is required")
	}
	return Capabilities{
		BrowserName:    parsed.AlwaysMatch.BrowserName,
		BrowserVersion: parsed.AlwaysMatch.BrowserVersion,
		PlatformName:   parsed.AlwaysMatch.PlatformName,
	}, nil
}

// Matches implements spec's matches_capabilities: name is required and
// case-insensitive; a non-empty requested browserVersion must equal the
// configured version exactly; a requested platformName other than "any"
// must equal the configured os exactly (case-insensitive); anything the
// caller leaves unset is a wildcard, and a group attribute that is itself
// unset only matches an unset caller constraint.
func (c Config) Matches(caps Capabilities) bool {
	if !strings.EqualFold(c.Name, caps.BrowserName) {
		return false
	}
	if caps.BrowserVersion != "" {
		if c.Version == "" || c.Version != caps.BrowserVersion {
			return false
		}
	}
	if caps.PlatformName != "" && !strings.EqualFold(caps.PlatformName, "any") {
		if c.OS == "" || !strings.EqualFold(c.OS, caps.PlatformName) {
			return false
		}
	}
	return true
}
