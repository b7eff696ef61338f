// Package config loads the settings for a notification run from an optional
// YAML file, command line flags and the environment.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ctfhooks/internal/models"
)

const (
	DefaultMaxEntries   = 3
	DefaultDays         = 10
	DefaultTimeout      = 20 * time.Second
	DefaultPostInterval = 500 * time.Millisecond
)

type CalDAV struct {
	Endpoint string `yaml:"endpoint"` // defaults to iCloud
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Calendar string `yaml:"calendar"` // display name; empty disables CalDAV publishing
}

// Enabled reports whether events should be mirrored to a CalDAV calendar.
func (c CalDAV) Enabled() bool { return c.Calendar != "" }

type Config struct {
	Webhooks            []string      `yaml:"webhooks"`
	WebhooksFile        string        `yaml:"webhooks_file"` // one URL per line
	CacheFile           string        `yaml:"cache_file"`    // empty disables duplicate suppression
	MaxEntries          int           `yaml:"max_entries"`
	Days                int           `yaml:"days"`
	DisableWeightFields bool          `yaml:"disable_weight_fields"`
	APIURL              string        `yaml:"api_url"` // CTFtime events endpoint override
	Timeout             time.Duration `yaml:"timeout"`
	PostInterval        time.Duration `yaml:"post_interval"` // minimum gap between webhook posts
	LogLevel            string        `yaml:"log_level"`
	ICSFile             string        `yaml:"ics_file"`
	Pushgateway         string        `yaml:"pushgateway"`
	CalDAV              CalDAV        `yaml:"caldav"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		MaxEntries:   DefaultMaxEntries,
		Days:         DefaultDays,
		Timeout:      DefaultTimeout,
		PostInterval: DefaultPostInterval,
		LogLevel:     "info",
	}
}

// Load reads a YAML config file on top of the defaults. Unknown keys are
// rejected so typos do not go unnoticed. The result is not validated yet,
// since command line flags may still override it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, models.FileError("read config "+path, err)
	}
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, models.FormatError("parse config "+path, err)
	}
	return c, nil
}

// FromEnv builds the settings of the environment-triggered variant from
// DISCORD_WEBHOOK, MAX_CTFS and DAYS. That variant never caches and shows
// no weight fields.
func FromEnv(getenv func(string) string) (*Config, error) {
	c := Default()
	c.DisableWeightFields = true

	var missing []string
	webhook := strings.TrimSpace(getenv("DISCORD_WEBHOOK"))
	if webhook == "" {
		missing = append(missing, "DISCORD_WEBHOOK")
	}
	maxCTFs := strings.TrimSpace(getenv("MAX_CTFS"))
	if maxCTFs == "" {
		missing = append(missing, "MAX_CTFS")
	}
	days := strings.TrimSpace(getenv("DAYS"))
	if days == "" {
		missing = append(missing, "DAYS")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	c.Webhooks = []string{webhook}
	if c.MaxEntries, err = strconv.Atoi(maxCTFs); err != nil {
		return nil, fmt.Errorf("MAX_CTFS: %w", err)
	}
	if c.Days, err = strconv.Atoi(days); err != nil {
		return nil, fmt.Errorf("DAYS: %w", err)
	}
	if lvl := getenv("LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
	return c, c.Validate()
}

// Validate checks the merged settings.
func (c *Config) Validate() error {
	hasList := len(c.Webhooks) > 0
	hasFile := c.WebhooksFile != ""
	switch {
	case hasList && hasFile:
		return errors.New("webhooks and webhooks file are mutually exclusive")
	case !hasList && !hasFile:
		return errors.New("one of webhooks or webhooks file is required")
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be > 0, got %d", c.MaxEntries)
	}
	if c.Days <= 0 {
		return fmt.Errorf("days must be > 0, got %d", c.Days)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PostInterval < 0 {
		return fmt.Errorf("post interval must be >= 0, got %s", c.PostInterval)
	}
	if c.CalDAV.Enabled() && c.CalDAV.Username == "" {
		return errors.New("caldav username is required when a calendar is set")
	}
	return nil
}

// IncludeWeightFields reports whether cards show weight and interested teams.
func (c *Config) IncludeWeightFields() bool { return !c.DisableWeightFields }

// EnableCache reports whether duplicate suppression is on.
func (c *Config) EnableCache() bool { return c.CacheFile != "" }

// ResolveWebhooks returns the webhook URLs, reading the webhooks file when
// one is configured. Blank lines in the file are skipped.
func (c *Config) ResolveWebhooks() ([]string, error) {
	if c.WebhooksFile == "" {
		return c.Webhooks, nil
	}
	f, err := os.Open(c.WebhooksFile)
	if err != nil {
		return nil, models.FileError("open webhooks file "+c.WebhooksFile, err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, models.FileError("read webhooks file "+c.WebhooksFile, err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("webhooks file %s contains no URLs", c.WebhooksFile)
	}
	return urls, nil
}
