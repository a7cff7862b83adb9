package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/hnedge/internal/config"
	"github.com/l0p7/hnedge/internal/runtime/cache"
	"github.com/l0p7/hnedge/internal/server"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestBuildStore(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(t *testing.T) config.ServerCacheConfig
	}{
		{
			name: "defaults to memory",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{}
			},
		},
		{
			name: "unknown backend falls back to memory",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{Backend: "memcached"}
			},
		},
		{
			name: "redis without address falls back to memory",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{Backend: "redis"}
			},
		},
		{
			name: "constructs redis store",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				mr, err := miniredis.Run()
				if err != nil {
					if strings.Contains(err.Error(), "operation not permitted") {
						t.Skip("miniredis unavailable in sandbox")
					}
					require.NoError(t, err)
				}
				t.Cleanup(mr.Close)
				return config.ServerCacheConfig{
					Backend:          "redis",
					RetentionSeconds: 60,
					Redis: config.ServerRedisCacheConfig{
						Address: mr.Addr(),
					},
				}
			},
		},
		{
			name: "constructs sqlite store",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{
					Backend: "SQLite",
					SQLite:  config.ServerSQLiteCacheConfig{Path: filepath.Join(t.TempDir(), "cache.db")},
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := buildStore(newTestLogger(), tc.cfg(t))
			t.Cleanup(func() {
				require.NoError(t, store.Close(context.Background()))
			})

			ctx := context.Background()
			record := cache.Record{Status: http.StatusOK, Header: http.Header{"Cache-Control": {"public, max-age=30"}}, Body: []byte("ok")}
			require.NoError(t, store.Put(ctx, "feed:GET http://example.com/news", record))
			got, ok, err := store.Get(ctx, "feed:GET http://example.com/news")
			require.NoError(t, err)
			require.True(t, ok, "expected lookup to succeed")
			require.Equal(t, []byte("ok"), got.Body)
		})
	}
}

func TestRunLoaderError(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{loadErr: errors.New("boom")}
	})

	err := run(context.Background(), "HNEDGE", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load configuration")
}

func TestRunRejectsBadPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	feed := cfg.Site.Policies[config.PolicyFeed]
	feed.Bypass = "request.path +"
	cfg.Site.Policies[config.PolicyFeed] = feed

	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: cfg}
	})

	err := run(context.Background(), "HNEDGE", "")
	require.ErrorContains(t, err, "compile policies")
}

func TestRunServerConstructorError(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: config.DefaultConfig()}
	})

	overrideHTTPServer(t, func(config.Config, *slog.Logger, http.Handler, server.Drainer) (runnableServer, error) {
		return nil, errors.New("construct failed")
	})

	err := run(context.Background(), "HNEDGE", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "construct failed")
}

func TestRunServerRunError(t *testing.T) {
	stopped := false
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: config.DefaultConfig(), stopped: &stopped}
	})

	overrideHTTPServer(t, func(config.Config, *slog.Logger, http.Handler, server.Drainer) (runnableServer, error) {
		return &stubServer{err: errors.New("run failed")}, nil
	})

	err := run(context.Background(), "HNEDGE", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "run failed")
	require.True(t, stopped, "config watcher should stop on exit")
}

func TestRunServesPagesThroughEngine(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/user/pg.json":
			_, _ = w.Write([]byte(`{"id":"pg","karma":155000,"created":1160418092}`))
		default:
			_, _ = w.Write([]byte("null"))
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.HN.BaseURL = upstream.URL + "/v0"

	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: cfg}
	})

	var handler http.Handler
	overrideHTTPServer(t, func(_ config.Config, _ *slog.Logger, h http.Handler, background server.Drainer) (runnableServer, error) {
		require.NotNil(t, background)
		handler = h
		return &stubServer{serve: func() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/pg", nil))
			require.Equal(t, http.StatusOK, rec.Code)
			require.Contains(t, rec.Body.String(), "155000")
			require.Equal(t, "public, max-age=300, stale-while-revalidate=3600", rec.Header().Get("Cache-Control"))

			rec = httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/item/1", nil))
			require.Equal(t, http.StatusNotFound, rec.Code)

			rec = httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			require.Contains(t, rec.Body.String(), "hnedge_site_requests_total")
		}}, nil
	})

	require.NoError(t, run(context.Background(), "HNEDGE", ""))
}

func TestReportBackgroundErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	errs := make(chan error, 2)
	errs <- errors.New("runtime: task store: redis down")
	errs <- errors.New("runtime: task revalidate: hn timeout")
	close(errs)

	reportBackgroundErrors(context.Background(), logger, errs)
	require.Equal(t, 2, strings.Count(buf.String(), "background task failed"))
	require.Contains(t, buf.String(), "redis down")
	require.Contains(t, buf.String(), "hn timeout")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reportBackgroundErrors(ctx, logger, make(chan error))
}

func TestFileLoaderWatchesOnlyWithConfigFile(t *testing.T) {
	watcher, err := newConfigLoader("HNEDGE", "").Watch(context.Background(), func(config.Config) {}, nil)
	require.NoError(t, err)
	require.Nil(t, watcher)

	dir := t.TempDir()
	path := filepath.Join(dir, "hnedge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("site:\n  pageSize: 10\n"), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	watcher, err = newConfigLoader("HNEDGE", path).Watch(ctx, func(config.Config) {}, nil)
	require.NoError(t, err)
	require.NotNil(t, watcher)
	watcher.Stop()
}

func overrideConfigLoader(t *testing.T, fn func(string, string) configLoader) {
	original := newConfigLoader
	newConfigLoader = fn
	t.Cleanup(func() { newConfigLoader = original })
}

func overrideHTTPServer(t *testing.T, fn func(config.Config, *slog.Logger, http.Handler, server.Drainer) (runnableServer, error)) {
	original := newHTTPServer
	newHTTPServer = fn
	t.Cleanup(func() { newHTTPServer = original })
}

type fakeLoader struct {
	cfg      config.Config
	loadErr  error
	watchErr error
	stopped  *bool
}

func (f *fakeLoader) Load(context.Context) (config.Config, error) {
	if f.loadErr != nil {
		return config.Config{}, f.loadErr
	}
	return f.cfg, nil
}

func (f *fakeLoader) Watch(context.Context, func(config.Config), func(error)) (configWatcher, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return &noOpWatcher{stopped: f.stopped}, nil
}

type noOpWatcher struct {
	stopped *bool
}

func (n *noOpWatcher) Stop() {
	if n.stopped != nil {
		*n.stopped = true
	}
}

type stubServer struct {
	err   error
	serve func()
}

func (s *stubServer) Run(context.Context) error {
	if s.serve != nil {
		s.serve()
	}
	return s.err
}
