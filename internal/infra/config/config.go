package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BrowserConfig holds remote-debugging endpoint settings.
type BrowserConfig struct {
	// Host of the browser debug endpoint (always plain HTTP/WS).
	Host string `yaml:"host"`
	// Port is the --remote-debugging-port the browser was started with.
	Port int `yaml:"port"`
	// PageURL is the chat page the engine drives. Tabs are matched against
	// its hostname.
	PageURL string `yaml:"page_url"`
	// ConnectTimeout bounds endpoint probing and tab attachment.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// EngineConfig holds completion-detection timing settings.
type EngineConfig struct {
	// PollInterval is the fixed delay between page-state polls.
	PollInterval time.Duration `yaml:"poll_interval"`
	// StabilityWindow is the number of consecutive byte-identical response
	// reads required (together with an absent stop control) to treat the
	// reply as complete.
	StabilityWindow int `yaml:"stability_window"`
	// SubmitGrace is how long the submitter waits for any page activity
	// after triggering send before concluding the click missed.
	SubmitGrace time.Duration `yaml:"submit_grace"`
	// DefaultTimeout bounds an ask when the request does not set one.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// APIConfig holds the local HTTP API settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
	// Key, when non-empty, requires Bearer or X-API-Key auth on every call.
	Key            string `yaml:"key"`
	RequestsPerMin int    `yaml:"requests_per_min"`
	Burst          int    `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Config is the top-level application configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Engine  EngineConfig  `yaml:"engine"`
	API     APIConfig     `yaml:"api"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// Defaults returns the built-in configuration. The timing values mirror the
// polling cadence the chat page tolerates well in practice.
func Defaults() *Config {
	return &Config{
		Browser: BrowserConfig{
			Host:           "127.0.0.1",
			Port:           9223,
			PageURL:        "https://www.perplexity.ai/",
			ConnectTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			PollInterval:    time.Second,
			StabilityWindow: 3,
			SubmitGrace:     6 * time.Second,
			DefaultTimeout:  120 * time.Second,
		},
		API: APIConfig{
			Addr:           "127.0.0.1:8787",
			RequestsPerMin: 100,
			Burst:          20,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays COMETAUTO_* environment variables onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMETAUTO_BROWSER_HOST"); v != "" {
		cfg.Browser.Host = v
	}
	if v := os.Getenv("COMETAUTO_BROWSER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Browser.Port = p
		}
	}
	if v := os.Getenv("COMETAUTO_PAGE_URL"); v != "" {
		cfg.Browser.PageURL = v
	}
	if v := os.Getenv("COMETAUTO_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("COMETAUTO_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("COMETAUTO_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("COMETAUTO_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("COMETAUTO_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}
