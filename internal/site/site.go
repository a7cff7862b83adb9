package site

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/hnedge/internal/config"
	"github.com/l0p7/hnedge/internal/hn"
	"github.com/l0p7/hnedge/internal/runtime"
	"github.com/l0p7/hnedge/internal/templates"
)

const htmlContentType = "text/html; charset=utf-8"

// Fetcher is the slice of the HN client the site reads through.
type Fetcher interface {
	Feed(ctx context.Context, kind hn.FeedKind, page, pageSize int) (hn.Page, error)
	Item(ctx context.Context, id int64, depth int) (*hn.Item, error)
	User(ctx context.Context, id string) (*hn.User, error)
}

// Renderer turns a page view into a complete HTML document.
type Renderer interface {
	RenderBytes(page string, data any) ([]byte, error)
}

type Options struct {
	Engine   *runtime.Engine
	HN       Fetcher
	Renderer Renderer
	Policies *Policies
	Logger   *slog.Logger

	PageSize     int
	CommentDepth int
	// OfflineFallback serves a 503 offline page for feeds and items when HN
	// cannot be reached and nothing is stored yet.
	OfflineFallback bool
}

// Site owns the page handlers. Every page is resolved through the engine
// with the policy of its route class.
type Site struct {
	engine   *runtime.Engine
	hn       Fetcher
	renderer Renderer
	logger   *slog.Logger
	policies atomic.Pointer[Policies]

	pageSize        int
	commentDepth    int
	offlineFallback bool
}

func New(opts Options) (*Site, error) {
	if opts.Engine == nil {
		return nil, errors.New("site: engine required")
	}
	if opts.HN == nil {
		return nil, errors.New("site: hn client required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("site: renderer required")
	}
	if opts.Policies == nil {
		return nil, errors.New("site: policies required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 30
	}
	s := &Site{
		engine:          opts.Engine,
		hn:              opts.HN,
		renderer:        opts.Renderer,
		logger:          logger.With(slog.String("agent", "site")),
		pageSize:        pageSize,
		commentDepth:    max(opts.CommentDepth, 0),
		offlineFallback: opts.OfflineFallback,
	}
	s.policies.Store(opts.Policies)
	return s, nil
}

// SetPolicies swaps the active policy set. Requests already in flight keep
// the set they started with.
func (s *Site) SetPolicies(p *Policies) {
	if p == nil {
		return
	}
	s.policies.Store(p)
	s.logger.Info("policies updated", slog.Any("classes", p.Names()))
}

func (s *Site) policy(class string, r *http.Request) runtime.Policy {
	return s.policies.Load().For(class, r, s.logger)
}

// Feed serves one feed; nav is the path the feed is mounted on.
func (s *Site) Feed(kind hn.FeedKind, nav string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := pageNumber(r)
		produce := func(ctx context.Context) (*http.Response, error) {
			page, err := s.hn.Feed(ctx, kind, number, s.pageSize)
			if err != nil {
				return nil, err
			}
			view := templates.FeedView{
				Meta: templates.Meta{Title: feedTitle(kind), Nav: nav},
				Page: page,
			}
			if page.HasMore {
				view.More = fmt.Sprintf("%s?p=%d", nav, page.Number+1)
			}
			return s.page(http.StatusOK, templates.PageFeed, view, feedValidators(page), "")
		}
		s.write(w, s.engine.Serve(r, s.policy(config.PolicyFeed, r), produce, s.offline(nav)))
	}
}

// Item serves /item/{id}.
func (s *Site) Item(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.NotFound(w, r)
		return
	}
	produce := func(ctx context.Context) (*http.Response, error) {
		item, err := s.hn.Item(ctx, id, s.commentDepth)
		if errors.Is(err, hn.ErrNotFound) {
			return s.missing(fmt.Sprintf("Item %d does not exist.", id))
		}
		if err != nil {
			return nil, err
		}
		title := item.Title
		if title == "" {
			title = "Comment by " + item.By
		}
		view := templates.ItemView{Meta: templates.Meta{Title: title}, Item: item}
		etag, lastModified := itemValidators(item)
		return s.page(http.StatusOK, templates.PageItem, view, etag, lastModified)
	}
	s.write(w, s.engine.Serve(r, s.policy(config.PolicyItem, r), produce, s.offline("")))
}

// User serves /user/{id}. Profiles carry no Last-Modified: the only
// timestamp HN publishes is the creation time.
func (s *Site) User(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.NotFound(w, r)
		return
	}
	produce := func(ctx context.Context) (*http.Response, error) {
		user, err := s.hn.User(ctx, id)
		if errors.Is(err, hn.ErrNotFound) {
			return s.missing(fmt.Sprintf("No such user %q.", id))
		}
		if err != nil {
			return nil, err
		}
		view := templates.UserView{Meta: templates.Meta{Title: "Profile: " + user.ID}, User: user}
		return s.page(http.StatusOK, templates.PageUser, view, userValidators(user), "")
	}
	s.write(w, s.engine.Serve(r, s.policy(config.PolicyUser, r), produce, nil))
}

// NotFound renders the 404 page outside the cache.
func (s *Site) NotFound(w http.ResponseWriter, _ *http.Request) {
	resp, err := s.missing("There is nothing here.")
	if err != nil {
		s.logger.Error("render not found page", slog.Any("error", err))
		http.NotFound(w, nil)
		return
	}
	s.write(w, resp)
}

func (s *Site) offline(nav string) runtime.Producer {
	if !s.offlineFallback {
		return nil
	}
	return func(context.Context) (*http.Response, error) {
		view := templates.MessageView{
			Meta:   templates.Meta{Title: "Offline", Nav: nav},
			Status: http.StatusServiceUnavailable,
		}
		return s.uncached(http.StatusServiceUnavailable, templates.PageOffline, view)
	}
}

func (s *Site) missing(message string) (*http.Response, error) {
	view := templates.MessageView{
		Meta:    templates.Meta{Title: "Not found"},
		Status:  http.StatusNotFound,
		Message: message,
	}
	return s.uncached(http.StatusNotFound, templates.PageNotFound, view)
}

func (s *Site) page(status int, page string, view any, etag, lastModified string) (*http.Response, error) {
	body, err := s.renderer.RenderBytes(page, view)
	if err != nil {
		return nil, err
	}
	header := make(http.Header)
	header.Set("Content-Type", htmlContentType)
	if etag != "" {
		header.Set("ETag", etag)
	}
	if lastModified != "" {
		header.Set("Last-Modified", lastModified)
	}
	return runtime.NewResponse(status, header, body), nil
}

func (s *Site) uncached(status int, page string, view any) (*http.Response, error) {
	resp, err := s.page(status, page, view, "", "")
	if err != nil {
		return nil, err
	}
	resp.Header.Set("Cache-Control", "no-store")
	return resp, nil
}

func (s *Site) write(w http.ResponseWriter, resp *http.Response) {
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()
	header := w.Header()
	for name, values := range resp.Header {
		header[name] = append([]string(nil), values...)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body == nil {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("write response body", slog.Any("error", err))
	}
}

// FailurePage renders the 500 page for requests the engine could not
// satisfy. A template failure falls back to plain text.
func FailurePage(renderer Renderer, logger *slog.Logger) func(*http.Request, error) *http.Response {
	if logger == nil {
		logger = slog.Default()
	}
	return func(r *http.Request, cause error) *http.Response {
		header := make(http.Header)
		header.Set("Cache-Control", "no-store")
		view := templates.MessageView{
			Meta:   templates.Meta{Title: "Error"},
			Status: http.StatusInternalServerError,
		}
		body, err := renderer.RenderBytes(templates.PageError, view)
		if err != nil {
			logger.Error("render failure page",
				slog.String("path", r.URL.Path),
				slog.Any("cause", cause),
				slog.Any("error", err),
			)
			header.Set("Content-Type", "text/plain; charset=utf-8")
			return runtime.NewResponse(http.StatusInternalServerError, header, []byte("something went wrong\n"))
		}
		header.Set("Content-Type", htmlContentType)
		return runtime.NewResponse(http.StatusInternalServerError, header, body)
	}
}

func pageNumber(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("p"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

var feedTitles = map[hn.FeedKind]string{
	hn.FeedTop:  "",
	hn.FeedNew:  "New Links",
	hn.FeedBest: "Top Links",
	hn.FeedAsk:  "Ask",
	hn.FeedShow: "Show",
	hn.FeedJob:  "Jobs",
}

func feedTitle(kind hn.FeedKind) string {
	return feedTitles[kind]
}
