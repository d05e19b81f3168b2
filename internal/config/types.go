package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every option the runtime and the development host consume.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Widget WidgetConfig `koanf:"widget"`
}

// ServerConfig collects the bootstrap knobs for the development host that
// serves widget configuration, consent persistence, and policy rendering.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Sites   SitesConfig   `koanf:"sites"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SitesConfig announces where site catalog documents are sourced from.
type SitesConfig struct {
	SitesFile   string `koanf:"sitesFile"`
	SitesFolder string `koanf:"sitesFolder"`
}

// WidgetConfig carries the embedded runtime's own knobs: which site it
// represents, where configuration is fetched from, and the consent, policy,
// and storage behavior.
type WidgetConfig struct {
	SiteID        string        `koanf:"siteId"`
	ConfigBaseURL string        `koanf:"configBaseUrl"`
	Consent       ConsentConfig `koanf:"consent"`
	Policy        PolicyConfig  `koanf:"policy"`
	Storage       StorageConfig `koanf:"storage"`
}

// ConsentConfig bounds the lifetime of a persisted consent record.
type ConsentConfig struct {
	TTLDays              int `koanf:"ttlDays"`
	SubmitTimeoutSeconds int `koanf:"submitTimeoutSeconds"`
}

// TTL returns the consent record lifetime.
func (c ConsentConfig) TTL() time.Duration {
	days := c.TTLDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// SubmitTimeout bounds the remote consent submission.
func (c ConsentConfig) SubmitTimeout() time.Duration {
	seconds := c.SubmitTimeoutSeconds
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// PolicyConfig tunes the policy modal's fetch and cache behavior.
type PolicyConfig struct {
	FetchTimeoutSeconds int `koanf:"fetchTimeoutSeconds"`
	RetryBackoffSeconds int `koanf:"retryBackoffSeconds"`
	CacheTTLSeconds     int `koanf:"cacheTtlSeconds"`
}

// FetchTimeout bounds a single policy content attempt.
func (p PolicyConfig) FetchTimeout() time.Duration {
	seconds := p.FetchTimeoutSeconds
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// RetryBackoff is the fixed wait before the single retry.
func (p PolicyConfig) RetryBackoff() time.Duration {
	seconds := p.RetryBackoffSeconds
	if seconds <= 0 {
		seconds = 2
	}
	return time.Duration(seconds) * time.Second
}

// CacheTTL bounds how long fetched policy content is reused.
func (p PolicyConfig) CacheTTL() time.Duration {
	seconds := p.CacheTTLSeconds
	if seconds <= 0 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

// StorageConfig selects the consent storage backend.
type StorageConfig struct {
	Backend string              `koanf:"backend"`
	Valkey  StorageValkeyConfig `koanf:"valkey"`
}

type StorageValkeyConfig struct {
	Address  string                 `koanf:"address"`
	Username string                 `koanf:"username"`
	Password string                 `koanf:"password"`
	DB       int                    `koanf:"db"`
	TLS      StorageValkeyTLSConfig `koanf:"tls"`
}

type StorageValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Sites.SitesFile != "" && c.Server.Sites.SitesFolder != "" {
		return errors.New("config: sitesFile and sitesFolder are mutually exclusive")
	}
	if c.Widget.Consent.TTLDays < 0 {
		return fmt.Errorf("config: widget.consent.ttlDays invalid: %d", c.Widget.Consent.TTLDays)
	}
	if c.Widget.Policy.FetchTimeoutSeconds < 0 {
		return fmt.Errorf("config: widget.policy.fetchTimeoutSeconds invalid: %d", c.Widget.Policy.FetchTimeoutSeconds)
	}
	if c.Widget.Policy.RetryBackoffSeconds < 0 {
		return fmt.Errorf("config: widget.policy.retryBackoffSeconds invalid: %d", c.Widget.Policy.RetryBackoffSeconds)
	}
	if c.Widget.Policy.CacheTTLSeconds < 0 {
		return fmt.Errorf("config: widget.policy.cacheTtlSeconds invalid: %d", c.Widget.Policy.CacheTTLSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Widget.Storage.Backend))
	switch backend {
	case "", "memory":
	case "valkey":
		if strings.TrimSpace(c.Widget.Storage.Valkey.Address) == "" {
			return errors.New("config: widget.storage.valkey.address required for valkey backend")
		}
	default:
		return fmt.Errorf("config: widget.storage.backend unsupported: %s", c.Widget.Storage.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the documented
// defaults: one-year consent, 10s policy fetch timeout, 2s backoff, 5 minute
// content cache.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Sites: SitesConfig{
				SitesFile: "./sites.yaml",
			},
		},
		Widget: WidgetConfig{
			Consent: ConsentConfig{
				TTLDays:              365,
				SubmitTimeoutSeconds: 10,
			},
			Policy: PolicyConfig{
				FetchTimeoutSeconds: 10,
				RetryBackoffSeconds: 2,
				CacheTTLSeconds:     300,
			},
			Storage: StorageConfig{
				Backend: "memory",
			},
		},
	}
}
