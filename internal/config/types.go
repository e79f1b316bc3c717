// Package config provides configuration management for the dm CLI.
package config

import (
	"time"

	"github.com/leapstack-labs/datamanager/internal/filters"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// Config holds all CLI configuration options.
type Config struct {
	ServerURL      string `koanf:"server_url"`
	Token          string `koanf:"token"`
	Project        int64  `koanf:"project"`
	PageSize       int    `koanf:"page_size"`
	PayloadVersion string `koanf:"payload_version"`
	// PollInterval refreshes the active view periodically. Zero disables it.
	PollInterval  time.Duration `koanf:"poll_interval"`
	FilterContext string        `koanf:"filter_context"`
	// DisabledOperators hides filter operators per filter context.
	DisabledOperators map[string][]string `koanf:"disabled_operators"`
	StatePath         string              `koanf:"state_path"`
	Verbose           bool                `koanf:"verbose"`
	OutputFormat      string              `koanf:"output"`
	Serve             ServeConfig         `koanf:"serve"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// ServeConfig holds configuration for the development API server.
type ServeConfig struct {
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Fixtures string `koanf:"fixtures"`
	Watch    bool   `koanf:"watch"`
}

// Default configuration values.
const (
	DefaultServerURL      = "http://localhost:8080"
	DefaultProject        = 1
	DefaultPageSize       = 30
	DefaultPayloadVersion = "v2"
	DefaultStateFile      = ".dm/state.db"
	DefaultOutput         = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultServePort      = 8080
	DefaultServeDatabase  = ":memory:"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "dm.yaml"
	ConfigFileNameAlt = "dm.yml"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "DM_"

// Exclusions returns the operator exclusions for the filter catalog.
func (c *Config) Exclusions() filters.Exclusions {
	if len(c.DisabledOperators) == 0 {
		return nil
	}
	return filters.Exclusions(c.DisabledOperators)
}

// Payload returns the configured view record shape.
func (c *Config) Payload() views.PayloadVersion {
	return views.ParsePayloadVersion(c.PayloadVersion)
}
