package hn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrNotFound is returned when the API answers null for an id.
var ErrNotFound = errors.New("hn: not found")

const (
	DefaultBaseURL     = "https://hacker-news.firebaseio.com/v0"
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 16
	defaultPageSize    = 30
	maxBodyBytes       = 4 << 20
	userAgent          = "hnedge/1.0"
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client. Zero values use the public API defaults.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	Concurrency int
	HTTPClient  httpDoer
	Logger      *slog.Logger
}

// Client reads the public Hacker News Firebase API.
type Client struct {
	baseURL     string
	timeout     time.Duration
	concurrency int
	http        httpDoer
	logger      *slog.Logger
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	doer := opts.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     baseURL,
		timeout:     timeout,
		concurrency: concurrency,
		http:        doer,
		logger:      logger.With(slog.String("agent", "hn")),
	}
}

// Feed returns page number page (1-based) of the given feed. Items the API no
// longer serves are skipped.
func (c *Client) Feed(ctx context.Context, kind FeedKind, page, pageSize int) (Page, error) {
	if !kind.Valid() {
		return Page{}, fmt.Errorf("hn: unknown feed %q", kind)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var ids []int64
	if err := c.get(ctx, string(kind)+"stories.json", &ids); err != nil {
		return Page{}, fmt.Errorf("hn: feed %s: %w", kind, err)
	}

	result := Page{Kind: kind, Number: page, Size: pageSize, Total: len(ids)}
	start := (page - 1) * pageSize
	if start >= len(ids) {
		return result, nil
	}
	end := min(start+pageSize, len(ids))
	result.HasMore = end < len(ids)

	items, err := c.items(ctx, c.limit(), ids[start:end])
	if err != nil {
		return Page{}, fmt.Errorf("hn: feed %s: %w", kind, err)
	}
	result.Items = items
	return result, nil
}

// Item fetches an item and its comment tree down to depth levels. At most
// Concurrency requests are in flight for the whole walk.
func (c *Client) Item(ctx context.Context, id int64, depth int) (*Item, error) {
	slots := c.limit()
	item, err := c.fetch(ctx, slots, id)
	if err != nil {
		return nil, err
	}
	if err := c.comments(ctx, slots, item, depth); err != nil {
		return nil, err
	}
	return item, nil
}

// User fetches a user profile.
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	var user *User
	if err := c.get(ctx, "user/"+id+".json", &user); err != nil {
		return nil, fmt.Errorf("hn: user %s: %w", id, err)
	}
	if user == nil {
		return nil, fmt.Errorf("hn: user %s: %w", id, ErrNotFound)
	}
	return user, nil
}

func (c *Client) comments(ctx context.Context, slots *semaphore.Weighted, parent *Item, depth int) error {
	if depth <= 0 || len(parent.Kids) == 0 {
		return nil
	}
	kids, err := c.items(ctx, slots, parent.Kids)
	if err != nil {
		return err
	}
	parent.Comments = kids

	g, gctx := errgroup.WithContext(ctx)
	for _, kid := range kids {
		g.Go(func() error {
			return c.comments(gctx, slots, kid, depth-1)
		})
	}
	return g.Wait()
}

// items fetches ids concurrently, preserving order and dropping null items.
// slots bounds the requests in flight; it is held only around each fetch so
// nested walks sharing it cannot deadlock.
func (c *Client) items(ctx context.Context, slots *semaphore.Weighted, ids []int64) ([]*Item, error) {
	fetched := make([]*Item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			item, err := c.fetch(gctx, slots, id)
			if errors.Is(err, ErrNotFound) {
				c.logger.Debug("skipping missing item", slog.Int64("id", id))
				return nil
			}
			if err != nil {
				return err
			}
			fetched[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]*Item, 0, len(fetched))
	for _, item := range fetched {
		if item != nil {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *Client) limit() *semaphore.Weighted {
	return semaphore.NewWeighted(int64(c.concurrency))
}

func (c *Client) fetch(ctx context.Context, slots *semaphore.Weighted, id int64) (*Item, error) {
	if err := slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("hn: item %d: %w", id, err)
	}
	defer slots.Release(1)
	return c.item(ctx, id)
}

func (c *Client) item(ctx context.Context, id int64) (*Item, error) {
	var item *Item
	if err := c.get(ctx, "item/"+strconv.FormatInt(id, 10)+".json", &item); err != nil {
		return nil, fmt.Errorf("hn: item %d: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("hn: item %d: %w", id, ErrNotFound)
	}
	return item, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
