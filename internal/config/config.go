package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/miya-dang/InkTranslator/pkg/pipeline"
	"github.com/miya-dang/InkTranslator/pkg/poller"
	"github.com/miya-dang/InkTranslator/pkg/runner"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	APIURL        string        `envconfig:"INK_API_URL" default:"http://localhost:8000/api/v1"`
	APIToken      string        `envconfig:"INK_API_TOKEN" default:""`
	SubmitTimeout time.Duration `envconfig:"INK_SUBMIT_TIMEOUT" default:"0s"`
	StatusTimeout time.Duration `envconfig:"INK_STATUS_TIMEOUT" default:"10s"`

	PollInitialDelay time.Duration `envconfig:"INK_POLL_INITIAL_DELAY" default:"1s"`
	PollInterval     time.Duration `envconfig:"INK_POLL_INTERVAL" default:"2s"`
	PollMaxAttempts  int           `envconfig:"INK_POLL_MAX_ATTEMPTS" default:"150"`

	SourceLanguage string `envconfig:"INK_SOURCE_LANGUAGE" default:"japanese"`
	TargetLanguage string `envconfig:"INK_TARGET_LANGUAGE" default:"english"`
	OutputDir      string `envconfig:"INK_OUTPUT_DIR" default:"./translated"`
	CheckContent   bool   `envconfig:"INK_CHECK_CONTENT" default:"false"`
	MetricsFile    string `envconfig:"INK_METRICS_FILE" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("INK_API_URL is required")
	}
	parsed, err := url.Parse(c.APIURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("INK_API_URL must be an http(s) URL, got %q", c.APIURL)
	}
	if c.SubmitTimeout < 0 {
		return fmt.Errorf("INK_SUBMIT_TIMEOUT must be >= 0")
	}
	if c.StatusTimeout <= 0 {
		return fmt.Errorf("INK_STATUS_TIMEOUT must be > 0")
	}
	if c.PollInitialDelay < 0 {
		return fmt.Errorf("INK_POLL_INITIAL_DELAY must be >= 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("INK_POLL_INTERVAL must be > 0")
	}
	if c.PollMaxAttempts < 1 {
		return fmt.Errorf("INK_POLL_MAX_ATTEMPTS must be >= 1")
	}
	if !knownLanguage(c.SourceLanguage) {
		return fmt.Errorf("INK_SOURCE_LANGUAGE %q is not supported", c.SourceLanguage)
	}
	if !knownLanguage(c.TargetLanguage) {
		return fmt.Errorf("INK_TARGET_LANGUAGE %q is not supported", c.TargetLanguage)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("INK_OUTPUT_DIR is required")
	}
	return nil
}

// RunnerConfig maps the environment onto runner settings
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		BaseURL:       c.APIURL,
		AuthToken:     c.APIToken,
		SubmitTimeout: c.SubmitTimeout,
		StatusTimeout: c.StatusTimeout,
		CheckContent:  c.CheckContent,
		Poll: poller.Config{
			InitialDelay: c.PollInitialDelay,
			Interval:     c.PollInterval,
			MaxAttempts:  c.PollMaxAttempts,
		},
	}
}

func knownLanguage(code string) bool {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case pipeline.LanguageEnglish, pipeline.LanguageJapanese, pipeline.LanguageKorean,
		pipeline.LanguageSimChinese, pipeline.LanguageTradChinese, pipeline.LanguageVietnamese:
		return true
	}
	return false
}
