package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "memory", cfg.Server.Cache.Backend)
				require.Equal(t, 30, cfg.Site.Policies[PolicyFeed].TTLSeconds)
				require.Equal(t, 300, cfg.Site.Policies[PolicyFeed].StaleSeconds)
				require.Equal(t, 600, cfg.Site.Policies[PolicyItem].StaleSeconds)
				require.Equal(t, 3600, cfg.Site.Policies[PolicyUser].StaleSeconds)
			},
		},
		{
			name: "merges yaml file overrides",
			setup: func(t *testing.T) []string {
				return []string{writeConfig(t, "hnedge.yaml", "server:\n  listen:\n    port: 9090\nsite:\n  policies:\n    feed:\n      ttlSeconds: 10\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, 10, cfg.Site.Policies[PolicyFeed].TTLSeconds)
				require.Equal(t, 300, cfg.Site.Policies[PolicyFeed].StaleSeconds, "unset policy fields keep defaults")
			},
		},
		{
			name: "parses json by extension",
			setup: func(t *testing.T) []string {
				return []string{writeConfig(t, "hnedge.json", `{"hn":{"baseURL":"http://127.0.0.1:9999/v0","commentDepth":1}}`)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "http://127.0.0.1:9999/v0", cfg.HN.BaseURL)
				require.Equal(t, 1, cfg.HN.CommentDepth)
			},
		},
		{
			name: "parses toml by extension",
			setup: func(t *testing.T) []string {
				return []string{writeConfig(t, "hnedge.toml", "[server.cache]\nbackend = \"sqlite\"\n\n[server.cache.sqlite]\npath = \"/tmp/hnedge.db\"\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "sqlite", cfg.Server.Cache.Backend)
				require.Equal(t, "/tmp/hnedge.db", cfg.Server.Cache.SQLite.Path)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				t.Setenv("HNEDGE_SERVER__LISTEN__PORT", "9091")
				t.Setenv("HNEDGE_SERVER__LOGGING__CORRELATIONHEADER", "X-Trace")
				t.Setenv("HNEDGE_HN__TIMEOUTSECONDS", "3")
				t.Setenv("HNEDGE_SITE__POLICIES__ITEM__STALESECONDS", "42")
				t.Setenv("HNEDGE_SITE__OFFLINEFALLBACK", "true")
				return []string{writeConfig(t, "hnedge.yaml", "server:\n  listen:\n    port: 9090\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
				require.Equal(t, "X-Trace", cfg.Server.Logging.CorrelationHeader)
				require.Equal(t, 3, cfg.HN.TimeoutSeconds)
				require.Equal(t, 42, cfg.Site.Policies[PolicyItem].StaleSeconds)
				require.Equal(t, 60, cfg.Site.Policies[PolicyItem].TTLSeconds)
				require.True(t, cfg.Site.OfflineFallback)
			},
		},
		{
			name: "reads bypass expressions",
			setup: func(t *testing.T) []string {
				return []string{writeConfig(t, "hnedge.yaml", "site:\n  policies:\n    user:\n      bypass: 'lookup(request.query, \"fresh\") == \"1\"'\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, `lookup(request.query, "fresh") == "1"`, cfg.Site.Policies[PolicyUser].Bypass)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				return []string{writeConfig(t, "hnedge.ini", "port=1")}
			},
			wantErr: true,
		},
		{
			name: "fails validation",
			setup: func(t *testing.T) []string {
				return []string{writeConfig(t, "hnedge.yaml", "server:\n  cache:\n    backend: redis\n")}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			cfg, err := NewLoader("HNEDGE", files...).Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader("", writeConfig(t, "hnedge.yaml", "{}")).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPolicyKey(t *testing.T) {
	key, ok := policyKey("site.policies.feed.ttlseconds")
	require.True(t, ok)
	require.Equal(t, "site.policies.feed.ttlSeconds", key)

	_, ok = policyKey("site.policies.feed")
	require.False(t, ok)
	_, ok = policyKey("site.pagesize")
	require.False(t, ok)
}
