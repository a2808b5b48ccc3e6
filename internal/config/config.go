package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/lmazure/GitLabDocumentReview/internal/retry"
)

// Config represents the application configuration. It is constructed
// once at startup and passed down unchanged; nothing reads the
// environment after loading.
type Config struct {
	GitLab struct {
		URL   string `koanf:"url"`   // base URL override; derived from the project URL when empty
		Token string `koanf:"token"` // personal access token, never logged
	} `koanf:"gitlab"`

	Review struct {
		DelaySeconds float64 `koanf:"delay_seconds"` // pacing between discussion creations
		SummaryPath  string  `koanf:"summary_path"`
		LogDir       string  `koanf:"log_dir"`
		MRTitle      string  `koanf:"mr_title"`
	} `koanf:"review"`

	Retry struct {
		MaxAttempts      int     `koanf:"max_attempts"`
		BaseDelaySeconds float64 `koanf:"base_delay_seconds"`
		MaxDelaySeconds  float64 `koanf:"max_delay_seconds"`
	} `koanf:"retry"`
}

// LoadConfig loads the configuration from defaults, an optional TOML
// file, and DOCREVIEW_-prefixed environment variables, in that order.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"review.delay_seconds":     1.0,
		"review.summary_path":      "review_summary.json",
		"review.log_dir":           "review_logs",
		"review.mr_title":          "Document review suggestions",
		"retry.max_attempts":       3,
		"retry.base_delay_seconds": 1.0,
		"retry.max_delay_seconds":  30.0,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./docreview.toml", "$HOME/.docreview.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix DOCREVIEW_
	k.Load(env.Provider("DOCREVIEW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DOCREVIEW_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Honor the conventional token variable when the config carries none.
	if config.GitLab.Token == "" {
		config.GitLab.Token = os.Getenv("GITLAB_TOKEN")
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# GitLab Document Review Configuration

[gitlab]
# Base URL is derived from the project URL; set it only to override.
# url = "https://gitlab.example.com"
# Token may also come from GITLAB_TOKEN or DOCREVIEW_GITLAB_TOKEN.
token = "your-gitlab-token"

[review]
delay_seconds = 1.0
summary_path = "review_summary.json"
log_dir = "review_logs"
mr_title = "Document review suggestions"

[retry]
max_attempts = 3
base_delay_seconds = 1.0
max_delay_seconds = 30.0
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.GitLab.Token == "" {
		return fmt.Errorf("gitlab token is required (config, GITLAB_TOKEN, or DOCREVIEW_GITLAB_TOKEN)")
	}
	if config.Review.DelaySeconds < 0 {
		return fmt.Errorf("review delay must not be negative")
	}
	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	return nil
}

// Delay returns the pacing delay between discussion creations.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.Review.DelaySeconds * float64(time.Second))
}

// RetryConfig converts the retry section into a retry policy value.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelaySeconds * float64(time.Second)),
		MaxDelay:    time.Duration(c.Retry.MaxDelaySeconds * float64(time.Second)),
	}
}
