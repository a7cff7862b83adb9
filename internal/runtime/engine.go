package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/hnedge/internal/metrics"
	"github.com/l0p7/hnedge/internal/runtime/cache"
)

// Producer computes a response from scratch, typically by fetching upstream
// data and rendering it. Producers own their own timeouts.
type Producer func(ctx context.Context) (*http.Response, error)

// Policy is the per-call-site cache configuration.
type Policy struct {
	Namespace string
	TTL       time.Duration
	Stale     time.Duration
	// Bypass sends the request straight to the producer without touching the store.
	Bypass bool
}

// Options wires an Engine's collaborators. Zero values fall back to an
// in-memory store, a default Pool, slog.Default, time.Now and a plain-text
// failure page.
type Options struct {
	Store   cache.Store
	Tasks   TaskRunner
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
	Failure func(r *http.Request, err error) *http.Response
	// Coalesce deduplicates concurrent background revalidations of the same
	// key within this process.
	Coalesce bool
}

// Engine is the cache-aside orchestrator.
type Engine struct {
	store    cache.Store
	tasks    TaskRunner
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
	failure  func(r *http.Request, err error) *http.Response
	coalesce bool
	flights  singleflight.Group
}

func NewEngine(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		memory, err := cache.NewMemory(0)
		if err != nil {
			return nil, fmt.Errorf("runtime: default store: %w", err)
		}
		store = memory
	}
	tasks := opts.Tasks
	if tasks == nil {
		tasks = NewPool(PoolOptions{Logger: logger, Metrics: opts.Metrics})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	failure := opts.Failure
	if failure == nil {
		failure = plainFailure
	}
	return &Engine{
		store:    store,
		tasks:    tasks,
		logger:   logger.With(slog.String("agent", "cache")),
		metrics:  opts.Metrics,
		now:      now,
		failure:  failure,
		coalesce: opts.Coalesce,
	}, nil
}

// Serve resolves r through the cache. It always returns a response: producer
// failures degrade to the offline producer, then the last stored record, then
// the failure page. offline may be nil.
func (e *Engine) Serve(r *http.Request, policy Policy, produce, offline Producer) *http.Response {
	start := time.Now()
	resp, outcome := e.serve(r, policy, produce, offline)
	e.metrics.ObserveServe(policy.Namespace, outcome, resp.StatusCode, time.Since(start))
	return resp
}

func (e *Engine) serve(r *http.Request, policy Policy, produce, offline Producer) (*http.Response, metrics.ServeOutcome) {
	ctx := r.Context()
	if r.Method != http.MethodGet || policy.Bypass {
		resp, err := call(ctx, produce)
		if err != nil {
			return e.degrade(r, policy, err, offline, nil), metrics.ServeBypass
		}
		return resp, metrics.ServeBypass
	}

	key := cache.Key(policy.Namespace, r)
	entry, found := e.lookup(ctx, policy.Namespace, key)
	if found {
		age := AgeOf(entry, e.now())
		switch Classify(age, policy.TTL, policy.Stale) {
		case Fresh:
			return ApplyConditional(r, entry.Response()), metrics.ServeFresh
		case Stale:
			e.logger.Debug("serving stale record", slog.String("key", key), slog.Duration("age", age))
			e.revalidate(ctx, policy, key, produce)
			return ApplyConditional(r, entry.Response()), metrics.ServeStale
		}
	}

	var fallback *cache.Record
	if found {
		fallback = &entry
	}

	resp, err := call(ctx, produce)
	if err != nil {
		return e.degrade(r, policy, err, offline, fallback), metrics.ServeMiss
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return e.uncacheable(r, policy, resp, offline, fallback), metrics.ServeMiss
	}

	client, stored, err := Augment(resp, policy.TTL, policy.Stale, e.now())
	if err != nil {
		return e.degrade(r, policy, err, offline, fallback), metrics.ServeMiss
	}
	e.tasks.Write(ctx, "store", func(ctx context.Context) error {
		return e.put(ctx, policy.Namespace, key, stored)
	})
	return ApplyConditional(r, client), metrics.ServeMiss
}

// uncacheable handles a non-2xx producer result. It is never written to the
// store; server errors prefer the offline page, then the last stored record.
func (e *Engine) uncacheable(r *http.Request, policy Policy, resp *http.Response, offline Producer, fallback *cache.Record) *http.Response {
	if resp.StatusCode >= 500 && offline != nil {
		if off, err := offline(r.Context()); err == nil && off != nil {
			closeBody(resp)
			e.metrics.ObserveFallback(policy.Namespace, metrics.FallbackOffline)
			return off
		}
	}
	if fallback != nil {
		closeBody(resp)
		e.metrics.ObserveFallback(policy.Namespace, metrics.FallbackStale)
		return ApplyConditional(r, fallback.Response())
	}
	return resp
}

func (e *Engine) degrade(r *http.Request, policy Policy, cause error, offline Producer, fallback *cache.Record) *http.Response {
	e.logger.Warn("producer failed",
		slog.String("namespace", policy.Namespace),
		slog.String("path", r.URL.Path),
		slog.Any("error", cause),
	)
	if offline != nil {
		resp, err := offline(r.Context())
		if err == nil && resp != nil {
			e.metrics.ObserveFallback(policy.Namespace, metrics.FallbackOffline)
			return resp
		}
		e.logger.Warn("offline producer failed", slog.String("namespace", policy.Namespace), slog.Any("error", err))
	}
	if fallback != nil {
		e.metrics.ObserveFallback(policy.Namespace, metrics.FallbackStale)
		return ApplyConditional(r, fallback.Response())
	}
	e.metrics.ObserveFallback(policy.Namespace, metrics.FallbackFailure)
	if resp := e.failure(r, cause); resp != nil {
		return resp
	}
	e.logger.Error("failure renderer returned no response", slog.String("namespace", policy.Namespace))
	return plainFailure(r, cause)
}

// lookup treats every read failure as a miss.
func (e *Engine) lookup(ctx context.Context, namespace, key string) (cache.Record, bool) {
	start := time.Now()
	record, ok, err := e.store.Get(ctx, key)
	switch {
	case err != nil:
		e.metrics.ObserveCacheLookup(namespace, metrics.CacheLookupError, time.Since(start))
		e.logger.Warn("cache lookup failed", slog.String("key", key), slog.Any("error", err))
		return cache.Record{}, false
	case !ok:
		e.metrics.ObserveCacheLookup(namespace, metrics.CacheLookupMiss, time.Since(start))
		return cache.Record{}, false
	default:
		e.metrics.ObserveCacheLookup(namespace, metrics.CacheLookupHit, time.Since(start))
		return record, true
	}
}

func (e *Engine) put(ctx context.Context, namespace, key string, record cache.Record) error {
	start := time.Now()
	if err := e.store.Put(ctx, key, record); err != nil {
		e.metrics.ObserveCacheStore(namespace, metrics.CacheStoreError, time.Since(start))
		return fmt.Errorf("runtime: store %s: %w", key, err)
	}
	e.metrics.ObserveCacheStore(namespace, metrics.CacheStoreStored, time.Since(start))
	return nil
}

// Close releases the underlying store.
func (e *Engine) Close(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.Close(ctx)
}

var errNoResponse = errors.New("runtime: producer returned no response")

func plainFailure(*http.Request, error) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return NewResponse(http.StatusInternalServerError, header, []byte("something went wrong\n"))
}

func call(ctx context.Context, produce Producer) (*http.Response, error) {
	resp, err := produce(ctx)
	if err == nil && resp == nil {
		err = errNoResponse
	}
	return resp, err
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
