// Package redis implements a redis component, adapted to this module's
// Factory shape.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// Config mirrors redis.Config (mode: single | cluster | sentinel).
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Mode    string `yaml:"mode" json:"mode"`

	Addresses      []string `yaml:"addresses" json:"addresses"`
	Username       string   `yaml:"username" json:"username"`
	Password       string   `yaml:"password" json:"password"`
	DB             int      `yaml:"db" json:"db"`
	SentinelMaster string   `yaml:"sentinel_master" json:"sentinel_master"`

	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

func setDefaults(c *Config) {
	if c.Mode == "" {
		c.Mode = "single"
	}
	if len(c.Addresses) == 0 {
		switch c.Mode {
		case "single":
			c.Addresses = []string{"127.0.0.1:6379"}
		case "sentinel":
			c.Addresses = []string{"127.0.0.1:26379"}
		case "cluster":
			c.Addresses = []string{"127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002"}
		}
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.MinIdleConns < 0 {
		c.MinIdleConns = 0
	} else if c.MinIdleConns > c.PoolSize {
		c.MinIdleConns = c.PoolSize / 2
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.ConnMaxIdleTime < 0 {
		c.ConnMaxIdleTime = 0
	}
	if c.ConnMaxLifetime < 0 {
		c.ConnMaxLifetime = 0
	}
	if c.DB < 0 {
		c.DB = 0
	}
}

// Client wraps a go-redis UniversalClient, reachable through
// bc.FindComponent(consts.ComponentRedis).
type Client struct {
	cfg    Config
	client goredis.UniversalClient
}

// Factory decodes section, resolves logging, builds the UniversalClient for
// the configured mode, and pings it once before returning — matching a
// Start() that fails the component if the initial ping fails.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("redis: component disabled")
		}
		setDefaults(&cfg)
		if len(cfg.Addresses) == 0 {
			return nil, fmt.Errorf("redis: addresses empty")
		}

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("redis: logging component has unexpected type %T", loggerComp)
		}

		switch strings.ToLower(cfg.Mode) {
		case "single", "cluster", "sentinel":
			if cfg.Mode == "sentinel" && cfg.SentinelMaster == "" {
				return nil, fmt.Errorf("redis: sentinel mode requires sentinel_master")
			}
		default:
			return nil, fmt.Errorf("redis: unknown mode %q", cfg.Mode)
		}

		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:        cfg.Addresses,
			DB:           cfg.DB,
			Username:     cfg.Username,
			Password:     cfg.Password,
			MasterName:   cfg.SentinelMaster,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,

			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,

			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := client.Ping(pingCtx).Result(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis: ping failed: %w", err)
		}

		logger.Info(context.Background(), "redis component started",
			zap.String("mode", cfg.Mode),
			zap.Strings("addrs", cfg.Addresses),
		)
		return &Client{cfg: cfg, client: client}, nil
	}
}

// UniversalClient returns the underlying go-redis client.
func (c *Client) UniversalClient() goredis.UniversalClient { return c.client }

// Ping exercises the connection, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	if c.client == nil {
		return errors.New("redis: no client")
	}
	_, err := c.client.Ping(ctx).Result()
	return err
}

// ClearComponent closes the underlying connection pool.
func (c *Client) ClearComponent() {
	if c.client != nil {
		_ = c.client.Close()
	}
}
