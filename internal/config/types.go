package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy classes every deployment must define.
const (
	PolicyFeed = "feed"
	PolicyItem = "item"
	PolicyUser = "user"
)

// Config holds every option the process reads at start up. Site policies are
// also re-read while running.
type Config struct {
	Server ServerConfig `koanf:"server"`
	HN     HNConfig     `koanf:"hn"`
	Site   SiteConfig   `koanf:"site"`
}

type ServerConfig struct {
	Listen    ListenConfig      `koanf:"listen"`
	Logging   LoggingConfig     `koanf:"logging"`
	Templates TemplatesConfig   `koanf:"templates"`
	Cache     ServerCacheConfig `koanf:"cache"`
}

type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, optional file output and the
// correlation header.
type LoggingConfig struct {
	Level             string        `koanf:"level"`
	Format            string        `koanf:"format"`
	CorrelationHeader string        `koanf:"correlationHeader"`
	File              LogFileConfig `koanf:"file"`
}

// LogFileConfig enables a rotated log file next to stdout when Path is set.
type LogFileConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxSizeMB"`
	MaxBackups int    `koanf:"maxBackups"`
	MaxAgeDays int    `koanf:"maxAgeDays"`
	Compress   bool   `koanf:"compress"`
}

// TemplatesConfig points at an optional folder of page overrides.
type TemplatesConfig struct {
	TemplatesFolder string `koanf:"templatesFolder"`
}

type ServerCacheConfig struct {
	Backend          string                  `koanf:"backend"`
	Workers          int                     `koanf:"workers"`
	RetentionSeconds int                     `koanf:"retentionSeconds"`
	Memory           ServerMemoryCacheConfig `koanf:"memory"`
	Redis            ServerRedisCacheConfig  `koanf:"redis"`
	SQLite           ServerSQLiteCacheConfig `koanf:"sqlite"`
}

type ServerMemoryCacheConfig struct {
	Capacity int `koanf:"capacity"`
}

type ServerRedisCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type ServerSQLiteCacheConfig struct {
	Path string `koanf:"path"`
}

// Retention converts RetentionSeconds; zero lets the store pick its default.
func (c ServerCacheConfig) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// HNConfig configures the upstream Hacker News API client.
type HNConfig struct {
	BaseURL        string `koanf:"baseURL"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
	Concurrency    int    `koanf:"concurrency"`
	CommentDepth   int    `koanf:"commentDepth"`
}

func (c HNConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type SiteConfig struct {
	PageSize int `koanf:"pageSize"`
	// OfflineFallback serves the offline page instead of a stale record or
	// the failure page when HN cannot be reached.
	OfflineFallback bool                    `koanf:"offlineFallback"`
	Coalesce        bool                    `koanf:"coalesce"`
	Policies        map[string]PolicyConfig `koanf:"policies"`
}

// PolicyConfig is the freshness window of one route class. Bypass is an
// optional CEL expression; requests it matches skip the cache.
type PolicyConfig struct {
	TTLSeconds   int    `koanf:"ttlSeconds"`
	StaleSeconds int    `koanf:"staleSeconds"`
	Bypass       string `koanf:"bypass"`
}

func (p PolicyConfig) TTL() time.Duration   { return time.Duration(p.TTLSeconds) * time.Second }
func (p PolicyConfig) Stale() time.Duration { return time.Duration(p.StaleSeconds) * time.Second }

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.Workers < 0 {
		return fmt.Errorf("config: server.cache.workers invalid: %d", c.Server.Cache.Workers)
	}
	if c.Server.Cache.RetentionSeconds < 0 {
		return fmt.Errorf("config: server.cache.retentionSeconds invalid: %d", c.Server.Cache.RetentionSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
		if c.Server.Cache.Memory.Capacity < 0 {
			return fmt.Errorf("config: server.cache.memory.capacity invalid: %d", c.Server.Cache.Memory.Capacity)
		}
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	case "sqlite":
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if c.HN.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: hn.timeoutSeconds invalid: %d", c.HN.TimeoutSeconds)
	}
	if c.HN.Concurrency <= 0 {
		return fmt.Errorf("config: hn.concurrency invalid: %d", c.HN.Concurrency)
	}
	if c.HN.CommentDepth < 0 {
		return fmt.Errorf("config: hn.commentDepth invalid: %d", c.HN.CommentDepth)
	}
	if c.Site.PageSize <= 0 || c.Site.PageSize > 100 {
		return fmt.Errorf("config: site.pageSize invalid: %d", c.Site.PageSize)
	}
	for _, class := range []string{PolicyFeed, PolicyItem, PolicyUser} {
		if _, ok := c.Site.Policies[class]; !ok {
			return fmt.Errorf("config: site.policies.%s required", class)
		}
	}
	for name, policy := range c.Site.Policies {
		if policy.TTLSeconds < 0 {
			return fmt.Errorf("config: site.policies.%s.ttlSeconds invalid: %d", name, policy.TTLSeconds)
		}
		if policy.StaleSeconds < 0 {
			return fmt.Errorf("config: site.policies.%s.staleSeconds invalid: %d", name, policy.StaleSeconds)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
				File: LogFileConfig{
					MaxSizeMB:  100,
					MaxBackups: 3,
					MaxAgeDays: 28,
				},
			},
			Cache: ServerCacheConfig{
				Backend: "memory",
				Workers: 16,
				Memory:  ServerMemoryCacheConfig{Capacity: 1024},
			},
		},
		HN: HNConfig{
			BaseURL:        "https://hacker-news.firebaseio.com/v0",
			TimeoutSeconds: 10,
			Concurrency:    16,
			CommentDepth:   3,
		},
		Site: SiteConfig{
			PageSize:        30,
			OfflineFallback: false,
			Policies: map[string]PolicyConfig{
				PolicyFeed: {TTLSeconds: 30, StaleSeconds: 300},
				PolicyItem: {TTLSeconds: 60, StaleSeconds: 600},
				PolicyUser: {TTLSeconds: 300, StaleSeconds: 3600},
			},
		},
	}
}
