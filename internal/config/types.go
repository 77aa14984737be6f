package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rateLimit"`
}

type ServerConfig struct {
	Listen      ListenConfig    `koanf:"listen"`
	Environment string          `koanf:"environment"`
	Version     string          `koanf:"version"`
	Logging     LoggingConfig   `koanf:"logging"`
	Templates   TemplatesConfig `koanf:"templates"`
	CORS        CORSConfig      `koanf:"cors"`
	Security    SecurityConfig  `koanf:"security"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format plus an optional rotating file.
type LoggingConfig struct {
	Level  string        `koanf:"level"`
	Format string        `koanf:"format"`
	File   LogFileConfig `koanf:"file"`
}

type LogFileConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxSizeMB"`
	MaxBackups int    `koanf:"maxBackups"`
	MaxAgeDays int    `koanf:"maxAgeDays"`
	Compress   bool   `koanf:"compress"`
}

// TemplatesConfig points at an optional folder overriding the landing page.
type TemplatesConfig struct {
	Folder string `koanf:"folder"`
}

// CORSConfig lists the origins allowed in production. Outside production any
// origin is reflected.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowedOrigins"`
}

type SecurityConfig struct {
	MaxBodyBytes int64 `koanf:"maxBodyBytes"`
	// APIKeys restricts accepted keys when non-empty. Requests without a key
	// are always allowed.
	APIKeys           []string `koanf:"apiKeys"`
	CompressionLevel  int      `koanf:"compressionLevel"`
	CompressionMinLen int      `koanf:"compressionMinLen"`
}

type CacheConfig struct {
	Enabled bool           `koanf:"enabled"`
	MaxKeys int            `koanf:"maxKeys"`
	TTL     CacheTTLConfig `koanf:"ttl"`
	Sweep   SweepConfig    `koanf:"sweep"`
	// Admit is an optional CEL expression; requests evaluating to false bypass
	// the cache.
	Admit  string       `koanf:"admit"`
	Warmup WarmupConfig `koanf:"warmup"`
}

type CacheTTLConfig struct {
	Base                 time.Duration `koanf:"base"`
	MediumArea           int           `koanf:"mediumArea"`
	Medium               time.Duration `koanf:"medium"`
	LargeArea            int           `koanf:"largeArea"`
	Large                time.Duration `koanf:"large"`
	HighCorrectionFactor float64       `koanf:"highCorrectionFactor"`
	CustomColorFactor    float64       `koanf:"customColorFactor"`
}

type SweepConfig struct {
	Interval       time.Duration `koanf:"interval"`
	ExpiryInterval time.Duration `koanf:"expiryInterval"`
	MaxAge         time.Duration `koanf:"maxAge"`
	IdleAfter      time.Duration `koanf:"idleAfter"`
	MinAccessCount int           `koanf:"minAccessCount"`
}

type WarmupConfig struct {
	Enabled bool   `koanf:"enabled"`
	File    string `koanf:"file"`
	Watch   bool   `koanf:"watch"`
}

type RateLimitConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Backend    string        `koanf:"backend"`
	TrustProxy bool          `koanf:"trustProxy"`
	MaxClients int           `koanf:"maxClients"`
	Redis      RedisConfig   `koanf:"redis"`
	General    RateLimitRule `koanf:"general"`
	QR         RateLimitRule `koanf:"qr"`
	Strict     RateLimitRule `koanf:"strict"`
}

type RateLimitRule struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

type RedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// IsProduction reports whether the service runs with production hardening.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == EnvProduction
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	c.Server.Environment = strings.ToLower(strings.TrimSpace(c.Server.Environment))
	switch c.Server.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("config: server.environment unsupported: %s", c.Server.Environment)
	}
	if c.Server.Security.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: server.security.maxBodyBytes invalid: %d", c.Server.Security.MaxBodyBytes)
	}
	if lvl := c.Server.Security.CompressionLevel; lvl < -1 || lvl > 9 {
		return fmt.Errorf("config: server.security.compressionLevel invalid: %d", lvl)
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	return c.RateLimit.validate()
}

func (c CacheConfig) validate() error {
	if c.MaxKeys <= 0 {
		return fmt.Errorf("config: cache.maxKeys invalid: %d", c.MaxKeys)
	}
	if c.TTL.Base <= 0 {
		return fmt.Errorf("config: cache.ttl.base invalid: %s", c.TTL.Base)
	}
	if c.TTL.MediumArea < 0 || c.TTL.LargeArea < 0 {
		return errors.New("config: cache.ttl area thresholds must not be negative")
	}
	if c.TTL.LargeArea > 0 && c.TTL.MediumArea > c.TTL.LargeArea {
		return fmt.Errorf("config: cache.ttl.mediumArea %d exceeds largeArea %d", c.TTL.MediumArea, c.TTL.LargeArea)
	}
	if c.TTL.HighCorrectionFactor < 0 || c.TTL.CustomColorFactor < 0 {
		return errors.New("config: cache.ttl factors must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"interval":       c.Sweep.Interval,
		"expiryInterval": c.Sweep.ExpiryInterval,
		"maxAge":         c.Sweep.MaxAge,
		"idleAfter":      c.Sweep.IdleAfter,
	} {
		if d < 0 {
			return fmt.Errorf("config: cache.sweep.%s invalid: %s", name, d)
		}
	}
	return nil
}

func (r RateLimitConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	for name, rule := range map[string]RateLimitRule{"general": r.General, "qr": r.QR, "strict": r.Strict} {
		if rule.Limit <= 0 {
			return fmt.Errorf("config: rateLimit.%s.limit invalid: %d", name, rule.Limit)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("config: rateLimit.%s.window invalid: %s", name, rule.Window)
		}
	}
	switch strings.TrimSpace(strings.ToLower(r.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(r.Redis.Address) == "" {
			return errors.New("config: rateLimit.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: rateLimit.backend unsupported: %s", r.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Environment: EnvDevelopment,
			Version:     "1.2.0",
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				File: LogFileConfig{
					MaxSizeMB:  100,
					MaxBackups: 3,
					MaxAgeDays: 28,
				},
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"https://yourdomain.com", "https://api.yourdomain.com"},
			},
			Security: SecurityConfig{
				MaxBodyBytes:      10 << 20,
				CompressionLevel:  6,
				CompressionMinLen: 1024,
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxKeys: 1000,
			TTL: CacheTTLConfig{
				Base:                 300 * time.Second,
				MediumArea:           160000,
				Medium:               900 * time.Second,
				LargeArea:            400000,
				Large:                1800 * time.Second,
				HighCorrectionFactor: 1.5,
				CustomColorFactor:    1.2,
			},
			Sweep: SweepConfig{
				Interval:       5 * time.Minute,
				ExpiryInterval: time.Minute,
				MaxAge:         time.Hour,
				IdleAfter:      30 * time.Minute,
				MinAccessCount: 2,
			},
			Warmup: WarmupConfig{
				Enabled: true,
				Watch:   true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			Backend:    "memory",
			TrustProxy: true,
			MaxClients: 10000,
			General:    RateLimitRule{Limit: 225, Window: 15 * time.Minute},
			QR:         RateLimitRule{Limit: 60, Window: time.Minute},
			Strict:     RateLimitRule{Limit: 10, Window: time.Minute},
		},
	}
}
