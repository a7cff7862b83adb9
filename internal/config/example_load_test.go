package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadExampleConfigs(t *testing.T) {
	// The config package lives at internal/config.
	wd, err := os.Getwd()
	require.NoError(t, err)
	projectRoot := filepath.Join(wd, "..", "..")

	examples := []struct {
		name     string
		path     string
		validate func(t *testing.T, cfg Config)
	}{
		{
			name: "memory",
			path: "examples/configs/hnedge.yaml",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, "memory", cfg.Server.Cache.Backend)
				require.Equal(t, 2048, cfg.Server.Cache.Memory.Capacity)
				require.NotEmpty(t, cfg.Site.Policies[PolicyUser].Bypass)
			},
		},
		{
			name: "redis",
			path: "examples/configs/redis.toml",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, "redis", cfg.Server.Cache.Backend)
				require.Equal(t, "127.0.0.1:6379", cfg.Server.Cache.Redis.Address)
				require.Equal(t, 2, cfg.Server.Cache.Redis.DB)
				require.Equal(t, 50, cfg.Server.Logging.File.MaxSizeMB)
				require.Equal(t, 3, cfg.Server.Logging.File.MaxBackups)
				require.True(t, cfg.Site.Coalesce)
			},
		},
		{
			name: "sqlite",
			path: "examples/configs/sqlite.json",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, "sqlite", cfg.Server.Cache.Backend)
				require.Equal(t, "/var/lib/hnedge/cache.db", cfg.Server.Cache.SQLite.Path)
				require.Equal(t, 50, cfg.Site.PageSize)
				require.Equal(t, 15, cfg.Site.Policies[PolicyFeed].TTLSeconds)
				require.Equal(t, 60, cfg.Site.Policies[PolicyItem].TTLSeconds)
			},
		},
	}

	for _, example := range examples {
		t.Run(example.name, func(t *testing.T) {
			cfg, err := NewLoader("", filepath.Join(projectRoot, example.path)).Load(context.Background())
			require.NoError(t, err)
			example.validate(t, cfg)
		})
	}
}
