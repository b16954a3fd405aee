package config

import (
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// MissingRequired returns the config keys that must be present before the
// session bootstrap may proceed. A non-empty result is a fatal condition:
// the orchestrator surfaces it with a retry affordance rather than
// continuing with a half-configured client.
func (c *Config) MissingRequired() []string {
	var missing []string
	if strings.TrimSpace(c.ServerURL) == "" {
		missing = append(missing, "server_url")
	}
	if strings.TrimSpace(c.PrivilegedEmail) == "" {
		missing = append(missing, "privileged_email")
	}
	return missing
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values are clamped to safe defaults. Other validation
// errors are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("server_url %q is not a valid URL: %w", c.ServerURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("server_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.PrivilegedEmail != "" {
		if _, err := mail.ParseAddress(c.PrivilegedEmail); err != nil {
			errs = append(errs, fmt.Errorf("privileged_email %q is not a valid address: %w", c.PrivilegedEmail, err))
		}
	}

	// Clamp the bootstrap timeout to a sane window: too short and every
	// start trips the guard, too long and the UI sits on a spinner.
	if c.BootstrapTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("bootstrap_timeout_seconds %d is below minimum 1, clamping", c.BootstrapTimeoutSeconds))
		c.BootstrapTimeoutSeconds = 1
	} else if c.BootstrapTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("bootstrap_timeout_seconds %d exceeds maximum 120, clamping", c.BootstrapTimeoutSeconds))
		c.BootstrapTimeoutSeconds = 120
	}

	if c.MarkReadWorkers < 1 {
		errs = append(errs, fmt.Errorf("mark_read_workers %d is below minimum 1, clamping", c.MarkReadWorkers))
		c.MarkReadWorkers = 1
	} else if c.MarkReadWorkers > 16 {
		errs = append(errs, fmt.Errorf("mark_read_workers %d exceeds maximum 16, clamping", c.MarkReadWorkers))
		c.MarkReadWorkers = 16
	}

	if c.MarkReadQueueSize < 1 {
		errs = append(errs, fmt.Errorf("mark_read_queue_size %d is below minimum 1, clamping", c.MarkReadQueueSize))
		c.MarkReadQueueSize = 1
	} else if c.MarkReadQueueSize > 4096 {
		errs = append(errs, fmt.Errorf("mark_read_queue_size %d exceeds maximum 4096, clamping", c.MarkReadQueueSize))
		c.MarkReadQueueSize = 4096
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
