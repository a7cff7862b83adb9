package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/hnedge/internal/config"
	"github.com/l0p7/hnedge/internal/expr"
	"github.com/l0p7/hnedge/internal/hn"
	"github.com/l0p7/hnedge/internal/logging"
	"github.com/l0p7/hnedge/internal/metrics"
	"github.com/l0p7/hnedge/internal/runtime"
	"github.com/l0p7/hnedge/internal/runtime/cache"
	"github.com/l0p7/hnedge/internal/server"
	"github.com/l0p7/hnedge/internal/site"
	"github.com/l0p7/hnedge/internal/templates"
)

type configWatcher interface {
	Stop()
}

type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
	Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error)
}

type runnableServer interface {
	Run(ctx context.Context) error
}

// fileLoader adapts config.Loader to configLoader. Without a config file
// there is nothing to watch.
type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	if len(l.Files()) == 0 {
		return nil, nil
	}
	return l.Loader.Watch(ctx, onChange, onError)
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return fileLoader{config.NewLoader(envPrefix, configFile)}
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler, background server.Drainer) (runnableServer, error) {
		return server.New(cfg, logger, handler, background)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "HNEDGE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		log.Printf("hnedge: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	store := buildStore(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Cache)
	pool := runtime.NewPool(runtime.PoolOptions{
		Workers: cfg.Server.Cache.Workers,
		Logger:  logger,
		Metrics: metricsRecorder,
	})

	reportCtx, stopReporting := context.WithCancel(context.Background())
	defer stopReporting()
	go reportBackgroundErrors(reportCtx, logger, pool.Errors())

	var sandbox *templates.Sandbox
	if folder := strings.TrimSpace(cfg.Server.Templates.TemplatesFolder); folder != "" {
		sb, err := templates.NewSandbox(folder)
		if err != nil {
			logger.Warn("template sandbox setup failed", slog.String("templates_folder", folder), slog.Any("error", err))
		} else {
			sandbox = sb
		}
	}
	renderer, err := templates.NewRenderer(sandbox)
	if err != nil {
		_ = store.Close(context.Background())
		return fmt.Errorf("build templates: %w", err)
	}

	engine, err := runtime.NewEngine(runtime.Options{
		Store:    store,
		Tasks:    pool,
		Logger:   logger,
		Metrics:  metricsRecorder,
		Failure:  site.FailurePage(renderer, logger),
		Coalesce: cfg.Site.Coalesce,
	})
	if err != nil {
		_ = store.Close(context.Background())
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	env, err := expr.NewEnvironment()
	if err != nil {
		return err
	}
	policies, err := site.CompilePolicies(env, cfg.Site.Policies)
	if err != nil {
		return fmt.Errorf("compile policies: %w", err)
	}

	pages, err := site.New(site.Options{
		Engine: engine,
		HN: hn.NewClient(hn.Options{
			BaseURL:     cfg.HN.BaseURL,
			Timeout:     cfg.HN.Timeout(),
			Concurrency: cfg.HN.Concurrency,
			Logger:      logger,
		}),
		Renderer:        renderer,
		Policies:        policies,
		Logger:          logger,
		PageSize:        cfg.Site.PageSize,
		CommentDepth:    cfg.HN.CommentDepth,
		OfflineFallback: cfg.Site.OfflineFallback,
	})
	if err != nil {
		return err
	}

	watcher, err := loader.Watch(ctx, func(next config.Config) {
		compiled, err := site.CompilePolicies(env, next.Site.Policies)
		if err != nil {
			logger.Error("policy reload rejected", slog.Any("error", err))
			return
		}
		pages.SetPolicies(compiled)
	}, func(err error) {
		if err != nil {
			logger.Error("config watcher error", slog.Any("error", err))
		}
	})
	if err != nil {
		logger.Error("config watcher setup failed", slog.Any("error", err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	router, err := server.NewRouter(server.RouterOptions{
		Pages:             pages,
		Metrics:           metricsRecorder.Handler(),
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	srv, err := newHTTPServer(cfg, logger, router, pool)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated unexpectedly: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

// reportBackgroundErrors logs failed store writes and revalidations until ctx
// ends or errs is closed.
func reportBackgroundErrors(ctx context.Context, logger *slog.Logger, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Warn("background task failed", slog.Any("error", err))
		}
	}
}

// buildStore picks the configured backend. A backend that cannot be reached
// at start up is replaced by the memory store so the site still serves.
func buildStore(logger *slog.Logger, cfg config.ServerCacheConfig) cache.Store {
	retention := time.Duration(cfg.RetentionSeconds) * time.Second
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory response cache", slog.Int("capacity", cfg.Memory.Capacity))
		return memoryStore(logger, cfg)
	case "redis":
		store, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
			Retention: retention,
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return memoryStore(logger, cfg)
		}
		logger.Info("using redis response cache", slog.String("address", cfg.Redis.Address))
		return store
	case "sqlite":
		store, err := cache.NewSQLite(cache.SQLiteConfig{Path: cfg.SQLite.Path, Retention: retention})
		if err != nil {
			logger.Error("sqlite cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return memoryStore(logger, cfg)
		}
		logger.Info("using sqlite response cache", slog.String("path", cfg.SQLite.Path))
		return store
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return memoryStore(logger, cfg)
	}
}

func memoryStore(logger *slog.Logger, cfg config.ServerCacheConfig) cache.Store {
	store, err := cache.NewMemory(cfg.Memory.Capacity)
	if err != nil {
		logger.Warn("memory cache capacity rejected, using default", slog.Int("capacity", cfg.Memory.Capacity), slog.Any("error", err))
		store, _ = cache.NewMemory(0)
	}
	return store
}
