package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tiktokmodcloud/internal/netx"
)

// DefaultPath is read when no config file is named. Its absence is not an
// error.
const DefaultPath = "tiktokmodcloud.yaml"

// Config defines runtime settings loaded from YAML and the environment.
type Config struct {
	// OutputDir is the target directory for downloaded files.
	OutputDir string `yaml:"outputDir"`
	// StartBaseURL is the listing prefix the redirect chain starts from.
	StartBaseURL string `yaml:"startBaseURL"`
	// VerifyURL receives the solved challenge token.
	VerifyURL string `yaml:"verifyURL"`
	// Jobs bounds how many targets run at once for "both".
	Jobs int `yaml:"jobs"`
	// Extractor is "structural", "regex" or "auto".
	Extractor   string          `yaml:"extractor"`
	GateMarkers []string        `yaml:"gateMarkers"`
	MetricsFile string          `yaml:"metricsFile"`
	HTTP        HTTPConfig      `yaml:"http"`
	Capsolver   CapsolverConfig `yaml:"capsolver"`
	Log         LogConfig       `yaml:"log"`
}

// HTTPConfig shapes the page fetcher.
type HTTPConfig struct {
	// Profile is a tls-client browser profile. Empty uses the Go transport.
	Profile      string        `yaml:"profile"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRedirects int           `yaml:"maxRedirects"`
	Attempts     int           `yaml:"attempts"`
	BaseDelay    time.Duration `yaml:"baseDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
	Jitter       time.Duration `yaml:"jitter"`
}

type CapsolverConfig struct {
	BaseURL string `yaml:"baseURL"`
	// APIKey is normally taken from CAPSOLVER_KEY.
	APIKey       string        `yaml:"apiKey"`
	PollInterval time.Duration `yaml:"pollInterval"`
	// SolveTimeout bounds polling. Zero waits until the service settles.
	SolveTimeout time.Duration `yaml:"solveTimeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in settings.
func Default() Config {
	retry := netx.DefaultRetryOptions()
	return Config{
		OutputDir:    "./apks",
		StartBaseURL: "https://apkw.ru/en/download/",
		VerifyURL:    "https://modsfire.com/verify-cf-captcha",
		Jobs:         1,
		Extractor:    "auto",
		GateMarkers:  []string{"UNIVERSAL", "Plugin", "MIRROR"},
		HTTP: HTTPConfig{
			Profile:      "chrome_124",
			Timeout:      45 * time.Second,
			MaxRedirects: 10,
			Attempts:     retry.Attempts,
			BaseDelay:    retry.BaseDelay,
			MaxDelay:     retry.MaxDelay,
			Jitter:       retry.Jitter,
		},
		Capsolver: CapsolverConfig{
			BaseURL:      "https://api.capsolver.com",
			PollInterval: 1500 * time.Millisecond,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads, validates, and normalizes config.
//
// An empty path reads DefaultPath when it exists. A named file must exist.
// CAPSOLVER_KEY, LOG_LEVEL and LOG_FILE override the file.
func Load(path string) (Config, error) {
	c := Default()
	optional := path == ""
	if optional {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}

	applyEnv(&c)
	if err := c.normalize(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	if v, ok := os.LookupEnv("CAPSOLVER_KEY"); ok && strings.TrimSpace(v) != "" {
		c.Capsolver.APIKey = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		c.Log.File = v
	}
}

func (c *Config) normalize() error {
	d := Default()
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.StartBaseURL == "" {
		c.StartBaseURL = d.StartBaseURL
	}
	if c.VerifyURL == "" {
		c.VerifyURL = d.VerifyURL
	}
	if c.Jobs < 1 {
		c.Jobs = 1
	}
	if c.HTTP.Attempts < 1 {
		c.HTTP.Attempts = 1
	}
	if len(c.GateMarkers) == 0 {
		c.GateMarkers = d.GateMarkers
	}
	switch strings.ToLower(c.Extractor) {
	case "":
		c.Extractor = d.Extractor
	case "structural", "regex", "auto":
		c.Extractor = strings.ToLower(c.Extractor)
	default:
		return fmt.Errorf("unknown extractor %q (want structural, regex or auto)", c.Extractor)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	case "":
		c.Log.Level = d.Log.Level
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Capsolver.SolveTimeout < 0 {
		c.Capsolver.SolveTimeout = 0
	}
	return nil
}
