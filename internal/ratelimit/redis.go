package ratelimit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const redisKeyPrefix = "qrgen:ratelimit:"

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

// Redis is a fixed-window limiter shared by every process pointed at the same
// server. The window starts with a client's first request.
type Redis struct {
	client valkey.Client
	now    func() time.Time
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("ratelimit: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("ratelimit: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("ratelimit: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}

	return &Redis{client: client, now: time.Now}, nil
}

func (l *Redis) Allow(ctx context.Context, rule Rule, key string) (Result, error) {
	if err := rule.validate(); err != nil {
		return Result{}, err
	}
	redisKey := redisKeyPrefix + rule.Name + ":" + key

	count, err := l.client.Do(ctx, l.client.B().Incr().Key(redisKey).Build()).AsInt64()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := l.expire(ctx, redisKey, rule.Window); err != nil {
			return Result{}, err
		}
	}

	ttlMillis, err := l.client.Do(ctx, l.client.B().Pttl().Key(redisKey).Build()).AsInt64()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis pttl: %w", err)
	}
	remainingWindow := time.Duration(ttlMillis) * time.Millisecond
	if ttlMillis < 0 {
		// A crash between INCR and PEXPIRE would leave the counter without a
		// TTL and lock the client out forever.
		if err := l.expire(ctx, redisKey, rule.Window); err != nil {
			return Result{}, err
		}
		remainingWindow = rule.Window
	}

	result := Result{
		Allowed:   count <= int64(rule.Limit),
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-int(count), 0),
		ResetAt:   l.now().Add(remainingWindow),
	}
	if !result.Allowed {
		result.RetryAfter = remainingWindow
	}
	return result, nil
}

func (l *Redis) expire(ctx context.Context, key string, window time.Duration) error {
	cmd := l.client.B().Pexpire().Key(key).Milliseconds(window.Milliseconds()).Build()
	if err := l.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ratelimit: redis pexpire: %w", err)
	}
	return nil
}

func (l *Redis) Close() error {
	l.client.Close()
	return nil
}
