package clone

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sabadzma/portfolio-local/parity"
)

// Config is the top-level clone configuration.
type Config struct {
	// SourceURL is the site to clone, e.g. https://my-site.framer.app/.
	SourceURL string `yaml:"source_url"`

	// OutputDir receives the public/ tree and all artifacts. Default: ".".
	OutputDir string `yaml:"output_dir"`

	// Port for the local preview server during the parity phase. Default: 8000.
	Port int `yaml:"port"`

	// Concurrency bounds simultaneous asset downloads. Default: 10.
	Concurrency int `yaml:"concurrency"`

	// SkipScreenshots disables the parity phase.
	SkipScreenshots bool `yaml:"skip_screenshots"`

	// JournalPath enables the SQLite run journal when non-empty.
	JournalPath string `yaml:"journal"`

	// Viewports compared during the parity phase. Default: desktop + mobile.
	Viewports []parity.Viewport `yaml:"viewports"`

	Browser BrowserConfig `yaml:"browser"`

	Timeouts TimeoutConfig `yaml:"timeouts"`

	Logger *slog.Logger `yaml:"-"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome. Empty = launch locally.
	Remote    string `yaml:"remote"`
	Headful   bool   `yaml:"headful"`
	UserAgent string `yaml:"user_agent"`
}

// TimeoutConfig carries the fixed wait windows of a run. There is no
// retry or backoff: a timed-out operation is a plain failure, matching
// the best-effort policy of the rest of the pipeline.
type TimeoutConfig struct {
	Navigation time.Duration `yaml:"navigation"` // default 60s
	Settle     time.Duration `yaml:"settle"`     // default 5s
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clone: parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Port <= 0 {
		c.Port = 8000
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if len(c.Viewports) == 0 {
		c.Viewports = parity.DefaultViewports()
	}
	if c.Timeouts.Navigation <= 0 {
		c.Timeouts.Navigation = 60 * time.Second
	}
	if c.Timeouts.Settle <= 0 {
		c.Timeouts.Settle = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// validate rejects configurations a run cannot start from.
func (c *Config) validate() error {
	if c.SourceURL == "" {
		return fmt.Errorf("clone: source_url is required")
	}
	return nil
}
