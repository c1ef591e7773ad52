package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for values the engine cannot run with.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Browser.Host == "" {
		problems = append(problems, "browser.host is empty")
	}
	if cfg.Browser.Port <= 0 || cfg.Browser.Port > 65535 {
		problems = append(problems, fmt.Sprintf("browser.port %d out of range", cfg.Browser.Port))
	}
	if u, err := url.Parse(cfg.Browser.PageURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("browser.page_url %q is not an absolute URL", cfg.Browser.PageURL))
	}
	if cfg.Browser.ConnectTimeout <= 0 {
		problems = append(problems, "browser.connect_timeout must be positive")
	}

	if cfg.Engine.PollInterval <= 0 {
		problems = append(problems, "engine.poll_interval must be positive")
	}
	if cfg.Engine.StabilityWindow < 1 {
		problems = append(problems, "engine.stability_window must be at least 1")
	}
	if cfg.Engine.SubmitGrace <= 0 {
		problems = append(problems, "engine.submit_grace must be positive")
	}
	if cfg.Engine.DefaultTimeout <= 0 {
		problems = append(problems, "engine.default_timeout must be positive")
	}

	if cfg.API.RequestsPerMin < 0 || cfg.API.Burst < 0 {
		problems = append(problems, "api rate limits must not be negative")
	}

	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		problems = append(problems, fmt.Sprintf("logger.level %q unknown", cfg.Logger.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Endpoint returns the HTTP base of the remote-debugging endpoint.
func (b BrowserConfig) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", b.Host, b.Port)
}
