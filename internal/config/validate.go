package config

import (
	"fmt"
	"net/url"
	"slices"
)

// OutputFormats lists the accepted values of the output key.
var OutputFormats = []string{"auto", "text", "markdown", "json", "yaml"}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.PayloadVersion != "v1" && c.PayloadVersion != "v2" {
		return fmt.Errorf("payload_version must be v1 or v2, got %q", c.PayloadVersion)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("unknown output format %q (want one of %v)", c.OutputFormat, OutputFormats)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port out of range: %d", c.Serve.Port)
	}
	return nil
}

// ValidateClient checks the settings commands need to reach a server.
func (c *Config) ValidateClient() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url must be an absolute URL, got %q\nHint: set server_url in dm.yaml or use --server-url", c.ServerURL)
	}
	if c.Project <= 0 {
		return fmt.Errorf("project must be a positive id\nHint: use --project")
	}
	return nil
}
