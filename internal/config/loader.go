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

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a loader for the given env prefix and config files. Files
// are parsed by extension: .yaml/.yml, .json or .toml.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the config files the loader reads, for the watcher.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// canonicalKeys restores camelCase koanf keys from lower-cased env names.
var canonicalKeys = map[string]string{
	"server.logging.correlationheader": "server.logging.correlationHeader",
	"server.logging.file.maxsizemb":    "server.logging.file.maxSizeMB",
	"server.logging.file.maxbackups":   "server.logging.file.maxBackups",
	"server.logging.file.maxagedays":   "server.logging.file.maxAgeDays",
	"server.templates.templatesfolder": "server.templates.templatesFolder",
	"server.cache.retentionseconds":    "server.cache.retentionSeconds",
	"server.cache.redis.tls.cafile":    "server.cache.redis.tls.caFile",
	"hn.baseurl":                       "hn.baseURL",
	"hn.timeoutseconds":                "hn.timeoutSeconds",
	"hn.commentdepth":                  "hn.commentDepth",
	"site.pagesize":                    "site.pageSize",
	"site.offlinefallback":             "site.offlineFallback",
}

// Load assembles the effective configuration snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.Files() {
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

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (HNEDGE_SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalKeys[lower]; ok {
				return mapped
			}
			if mapped, ok := policyKey(lower); ok {
				return mapped
			}
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

// policyKey maps site.policies.<class>.ttlseconds style env keys. The class
// name keeps its case; only the field is canonicalized.
func policyKey(lower string) (string, bool) {
	const prefix = "site.policies."
	if !strings.HasPrefix(lower, prefix) {
		return "", false
	}
	class, field, ok := strings.Cut(strings.TrimPrefix(lower, prefix), ".")
	if !ok {
		return "", false
	}
	switch field {
	case "ttlseconds":
		field = "ttlSeconds"
	case "staleseconds":
		field = "staleSeconds"
	case "bypass":
	default:
		return "", false
	}
	return prefix + class + "." + field, true
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file type %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	policies := make(map[string]any, len(cfg.Site.Policies))
	for name, policy := range cfg.Site.Policies {
		policies[name] = map[string]any{
			"ttlSeconds":   policy.TTLSeconds,
			"staleSeconds": policy.StaleSeconds,
			"bypass":       policy.Bypass,
		}
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
				"file": map[string]any{
					"path":       cfg.Server.Logging.File.Path,
					"maxSizeMB":  cfg.Server.Logging.File.MaxSizeMB,
					"maxBackups": cfg.Server.Logging.File.MaxBackups,
					"maxAgeDays": cfg.Server.Logging.File.MaxAgeDays,
					"compress":   cfg.Server.Logging.File.Compress,
				},
			},
			"templates": map[string]any{
				"templatesFolder": cfg.Server.Templates.TemplatesFolder,
			},
			"cache": map[string]any{
				"backend":          cfg.Server.Cache.Backend,
				"workers":          cfg.Server.Cache.Workers,
				"retentionSeconds": cfg.Server.Cache.RetentionSeconds,
				"memory": map[string]any{
					"capacity": cfg.Server.Cache.Memory.Capacity,
				},
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
				"sqlite": map[string]any{
					"path": cfg.Server.Cache.SQLite.Path,
				},
			},
		},
		"hn": map[string]any{
			"baseURL":        cfg.HN.BaseURL,
			"timeoutSeconds": cfg.HN.TimeoutSeconds,
			"concurrency":    cfg.HN.Concurrency,
			"commentDepth":   cfg.HN.CommentDepth,
		},
		"site": map[string]any{
			"pageSize":        cfg.Site.PageSize,
			"offlineFallback": cfg.Site.OfflineFallback,
			"coalesce":        cfg.Site.Coalesce,
			"policies":        policies,
		},
	}
}
