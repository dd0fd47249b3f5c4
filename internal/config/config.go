// Package config loads the engine settings: command timeouts, the retry
// interval, typing cadence and the browser backend.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrValidation = errors.New("config validation error")

const (
	DefaultCommandTimeout  = 4 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultRetryInterval   = 50 * time.Millisecond
	DefaultTypeDelay       = 10 * time.Millisecond

	BrowserMemory = "memory"
	BrowserChrome = "chrome"

	EnvPrefix = "SEA_E2E_"
)

// Duration accepts "4s"-style strings or integer milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Config struct {
	BaseURL               string            `yaml:"baseUrl"`
	DefaultCommandTimeout Duration          `yaml:"defaultCommandTimeout"`
	RequestTimeout        Duration          `yaml:"requestTimeout"`
	ResponseTimeout       Duration          `yaml:"responseTimeout"`
	RetryInterval         Duration          `yaml:"retryInterval"`
	TypeDelay             Duration          `yaml:"typeDelay"`
	FixturesFolder        string            `yaml:"fixturesFolder"`
	Browser               string            `yaml:"browser"`
	ChromePath            string            `yaml:"chromePath"`
	Headless              *bool             `yaml:"headless"`
	Viewport              Viewport          `yaml:"viewport"`
	LogLevel              string            `yaml:"logLevel"`
	LogFormat             string            `yaml:"logFormat"`
	Env                   map[string]string `yaml:"env"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DefaultCommandTimeout: Duration(DefaultCommandTimeout),
		RequestTimeout:        Duration(DefaultRequestTimeout),
		ResponseTimeout:       Duration(DefaultResponseTimeout),
		RetryInterval:         Duration(DefaultRetryInterval),
		TypeDelay:             Duration(DefaultTypeDelay),
		FixturesFolder:        "testdata/fixtures",
		Browser:               BrowserMemory,
		Viewport:              Viewport{Width: 1000, Height: 660},
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and rejects unknown keys.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from SEA_E2E_* variables, e.g.
// SEA_E2E_DEFAULT_COMMAND_TIMEOUT=8s or SEA_E2E_BROWSER=chrome.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	durations := map[string]*Duration{
		"DEFAULT_COMMAND_TIMEOUT": &c.DefaultCommandTimeout,
		"REQUEST_TIMEOUT":         &c.RequestTimeout,
		"RESPONSE_TIMEOUT":        &c.ResponseTimeout,
		"RETRY_INTERVAL":          &c.RetryInterval,
		"TYPE_DELAY":              &c.TypeDelay,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = Duration(d)
	}
	strs := map[string]*string{
		"BASE_URL":        &c.BaseURL,
		"FIXTURES_FOLDER": &c.FixturesFolder,
		"BROWSER":         &c.Browser,
		"CHROME_PATH":     &c.ChromePath,
		"LOG_LEVEL":       &c.LogLevel,
		"LOG_FORMAT":      &c.LogFormat,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "HEADLESS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sHEADLESS: %w", EnvPrefix, err)
		}
		c.Headless = &b
	}
	return c.Validate()
}

func (c Config) Validate() error {
	for name, d := range map[string]Duration{
		"defaultCommandTimeout": c.DefaultCommandTimeout,
		"requestTimeout":        c.RequestTimeout,
		"responseTimeout":       c.ResponseTimeout,
		"retryInterval":         c.RetryInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrValidation, name)
		}
	}
	if c.TypeDelay < 0 {
		return fmt.Errorf("%w: typeDelay must not be negative", ErrValidation)
	}
	if c.RetryInterval > c.DefaultCommandTimeout {
		return fmt.Errorf("%w: retryInterval exceeds defaultCommandTimeout", ErrValidation)
	}
	switch c.Browser {
	case BrowserMemory, BrowserChrome:
	default:
		return fmt.Errorf("%w: browser must be %q or %q, got %q", ErrValidation, BrowserMemory, BrowserChrome, c.Browser)
	}
	return nil
}

// IsHeadless defaults to true.
func (c Config) IsHeadless() bool { return c.Headless == nil || *c.Headless }
