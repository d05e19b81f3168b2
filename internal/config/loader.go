package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// ParserForPath selects the document parser by file extension. YAML is the
// default for unknown extensions.
func ParserForPath(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), ParserForPath(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.sites.sitesfile":                     "server.sites.sitesFile",
			"server.sites.sitesfolder":                   "server.sites.sitesFolder",
			"widget.siteid":                              "widget.siteId",
			"widget.configbaseurl":                       "widget.configBaseUrl",
			"widget.consent.ttldays":                     "widget.consent.ttlDays",
			"widget.consent.submittimeoutseconds":        "widget.consent.submitTimeoutSeconds",
			"widget.policy.fetchtimeoutseconds":          "widget.policy.fetchTimeoutSeconds",
			"widget.policy.retrybackoffseconds":          "widget.policy.retryBackoffSeconds",
			"widget.policy.cachettlseconds":              "widget.policy.cacheTtlSeconds",
			"widget.storage.valkey.tls.cafile":           "widget.storage.valkey.tls.caFile",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (WIDGET__POLICY__CACHETTLSECONDS -> widget.policy.cacheTtlSeconds).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into
			// listenport when callers skip double underscores for nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"sites": map[string]any{
				"sitesFile":   cfg.Server.Sites.SitesFile,
				"sitesFolder": cfg.Server.Sites.SitesFolder,
			},
		},
		"widget": map[string]any{
			"siteId":        cfg.Widget.SiteID,
			"configBaseUrl": cfg.Widget.ConfigBaseURL,
			"consent": map[string]any{
				"ttlDays":              cfg.Widget.Consent.TTLDays,
				"submitTimeoutSeconds": cfg.Widget.Consent.SubmitTimeoutSeconds,
			},
			"policy": map[string]any{
				"fetchTimeoutSeconds": cfg.Widget.Policy.FetchTimeoutSeconds,
				"retryBackoffSeconds": cfg.Widget.Policy.RetryBackoffSeconds,
				"cacheTtlSeconds":     cfg.Widget.Policy.CacheTTLSeconds,
			},
			"storage": map[string]any{
				"backend": cfg.Widget.Storage.Backend,
				"valkey": map[string]any{
					"address":  cfg.Widget.Storage.Valkey.Address,
					"username": cfg.Widget.Storage.Valkey.Username,
					"password": cfg.Widget.Storage.Valkey.Password,
					"db":       cfg.Widget.Storage.Valkey.DB,
					"tls": map[string]any{
						"enabled": cfg.Widget.Storage.Valkey.TLS.Enabled,
						"caFile":  cfg.Widget.Storage.Valkey.TLS.CAFile,
					},
				},
			},
		},
	}
}
