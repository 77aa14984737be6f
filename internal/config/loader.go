package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// legacyEnv maps the bare variables understood by earlier deployments onto
// config keys. Prefixed variables still win over them.
var legacyEnv = map[string]string{
	"PORT":              "server.listen.port",
	"NODE_ENV":          "server.environment",
	"GENERAL_LIMIT_MAX": "rateLimit.general.limit",
	"QR_LIMIT_MAX":      "rateLimit.qr.limit",
	"STRICT_LIMIT_MAX":  "rateLimit.strict.limit",
}

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot from defaults, files and environment.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	canonical := canonicalKeys(k.Keys())

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
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	legacy := func(s string) string {
		return legacyEnv[s]
	}
	if err := k.Load(env.Provider("", ".", legacy), nil); err != nil {
		return Config{}, fmt.Errorf("config: load legacy env: %w", err)
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (QRGEN_CACHE__MAX_KEYS -> cache.maxKeys).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ToLower(strings.ReplaceAll(key, "_", ""))
			if mapped, ok := canonical[key]; ok {
				return mapped
			}
			return key
		}
		if err := k.Load(env.Provider(l.envPrefix+"_", ".", transform), nil); err != nil {
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

// canonicalKeys indexes the known camelCase keys by their lowercase,
// underscore-free spelling so environment variables can address them.
func canonicalKeys(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[strings.ToLower(strings.ReplaceAll(key, "_", ""))] = key
	}
	return out
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"environment": cfg.Server.Environment,
			"version":     cfg.Server.Version,
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
				"file": map[string]any{
					"path":       cfg.Server.Logging.File.Path,
					"maxSizeMB":  cfg.Server.Logging.File.MaxSizeMB,
					"maxBackups": cfg.Server.Logging.File.MaxBackups,
					"maxAgeDays": cfg.Server.Logging.File.MaxAgeDays,
					"compress":   cfg.Server.Logging.File.Compress,
				},
			},
			"templates": map[string]any{
				"folder": cfg.Server.Templates.Folder,
			},
			"cors": map[string]any{
				"allowedOrigins": cfg.Server.CORS.AllowedOrigins,
			},
			"security": map[string]any{
				"maxBodyBytes":      cfg.Server.Security.MaxBodyBytes,
				"apiKeys":           cfg.Server.Security.APIKeys,
				"compressionLevel":  cfg.Server.Security.CompressionLevel,
				"compressionMinLen": cfg.Server.Security.CompressionMinLen,
			},
		},
		"cache": map[string]any{
			"enabled": cfg.Cache.Enabled,
			"maxKeys": cfg.Cache.MaxKeys,
			"ttl": map[string]any{
				"base":                 cfg.Cache.TTL.Base,
				"mediumArea":           cfg.Cache.TTL.MediumArea,
				"medium":               cfg.Cache.TTL.Medium,
				"largeArea":            cfg.Cache.TTL.LargeArea,
				"large":                cfg.Cache.TTL.Large,
				"highCorrectionFactor": cfg.Cache.TTL.HighCorrectionFactor,
				"customColorFactor":    cfg.Cache.TTL.CustomColorFactor,
			},
			"sweep": map[string]any{
				"interval":       cfg.Cache.Sweep.Interval,
				"expiryInterval": cfg.Cache.Sweep.ExpiryInterval,
				"maxAge":         cfg.Cache.Sweep.MaxAge,
				"idleAfter":      cfg.Cache.Sweep.IdleAfter,
				"minAccessCount": cfg.Cache.Sweep.MinAccessCount,
			},
			"admit": cfg.Cache.Admit,
			"warmup": map[string]any{
				"enabled": cfg.Cache.Warmup.Enabled,
				"file":    cfg.Cache.Warmup.File,
				"watch":   cfg.Cache.Warmup.Watch,
			},
		},
		"rateLimit": map[string]any{
			"enabled":    cfg.RateLimit.Enabled,
			"backend":    cfg.RateLimit.Backend,
			"trustProxy": cfg.RateLimit.TrustProxy,
			"maxClients": cfg.RateLimit.MaxClients,
			"redis": map[string]any{
				"address":  cfg.RateLimit.Redis.Address,
				"username": cfg.RateLimit.Redis.Username,
				"password": cfg.RateLimit.Redis.Password,
				"db":       cfg.RateLimit.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.RateLimit.Redis.TLS.Enabled,
					"caFile":  cfg.RateLimit.Redis.TLS.CAFile,
				},
			},
			"general": ruleToMap(cfg.RateLimit.General),
			"qr":      ruleToMap(cfg.RateLimit.QR),
			"strict":  ruleToMap(cfg.RateLimit.Strict),
		},
	}
}

func ruleToMap(rule RateLimitRule) map[string]any {
	return map[string]any{
		"limit":  rule.Limit,
		"window": rule.Window,
	}
}
