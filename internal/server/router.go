package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/l0p7/hnedge/internal/hn"
)

// DefaultCorrelationHeader carries the request id when none is configured.
const DefaultCorrelationHeader = "X-Request-ID"

// Pages is the page surface the router dispatches to.
type Pages interface {
	Feed(kind hn.FeedKind, nav string) http.HandlerFunc
	Item(http.ResponseWriter, *http.Request)
	User(http.ResponseWriter, *http.Request)
	NotFound(http.ResponseWriter, *http.Request)
}

type RouterOptions struct {
	Pages Pages
	// Metrics serves /metrics when set.
	Metrics           http.Handler
	CorrelationHeader string
	Logger            *slog.Logger
}

// feedRoutes maps paths to the feed they render. "/" is an alias of /news.
var feedRoutes = []struct {
	path string
	kind hn.FeedKind
}{
	{"/news", hn.FeedTop},
	{"/newest", hn.FeedNew},
	{"/best", hn.FeedBest},
	{"/ask", hn.FeedAsk},
	{"/show", hn.FeedShow},
	{"/jobs", hn.FeedJob},
}

// NewRouter builds the site's route table.
func NewRouter(opts RouterOptions) (http.Handler, error) {
	if opts.Pages == nil {
		return nil, errors.New("server: pages required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := strings.TrimSpace(opts.CorrelationHeader)
	if header == "" {
		header = DefaultCorrelationHeader
	}

	r := chi.NewRouter()
	r.Use(requestID(header))
	r.Use(chimw.RealIP)
	r.Use(accessLog(logger.With(slog.String("agent", "http"))))
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(headAsGet)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get("/", opts.Pages.Feed(hn.FeedTop, "/news"))
	for _, route := range feedRoutes {
		r.Get(route.path, opts.Pages.Feed(route.kind, route.path))
	}
	r.Get("/item/{id}", opts.Pages.Item)
	r.Get("/user/{id}", opts.Pages.User)

	r.NotFound(opts.Pages.NotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
	return r, nil
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID keeps an inbound correlation id or mints a UUID, echoing it on
// the response either way.
func requestID(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(header))
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(header, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request served",
				slog.String("request_id", RequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("latency", time.Since(start)),
			)
		})
	}
}

// headAsGet resolves HEAD like GET so it is answered from the cache, then
// drops the body.
func headAsGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		get := r.Clone(r.Context())
		get.Method = http.MethodGet
		next.ServeHTTP(bodyless{w}, get)
	})
}

type bodyless struct {
	http.ResponseWriter
}

func (b bodyless) Write(p []byte) (int, error) { return len(p), nil }

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}
