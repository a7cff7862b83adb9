package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
)

// CachedAtHeader carries the epoch-millisecond timestamp at which a record was
// produced. The engine derives record age from it.
const CachedAtHeader = "X-Cached-At"

// Record is a previously produced HTTP response as persisted by a Store.
// A nil Body means the response carried no body.
type Record struct {
	Status     int         `json:"status"`
	StatusText string      `json:"statusText"`
	Header     http.Header `json:"headers"`
	Body       []byte      `json:"body,omitempty"`
}

// Store is the shared key/value store of produced responses. Implementations
// are safe for concurrent use and make no read-after-write promise.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, record Record) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// Response materializes the record into a fresh *http.Response. Each call
// returns independent headers and an independent body reader.
func (r Record) Response() *http.Response {
	resp := &http.Response{
		Status:     statusLine(r.Status, r.StatusText),
		StatusCode: r.Status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     r.Header.Clone(),
		Body:       http.NoBody,
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	if r.Body != nil {
		resp.Body = io.NopCloser(bytes.NewReader(r.Body))
		resp.ContentLength = int64(len(r.Body))
	}
	return resp
}

// CachedAt returns the X-Cached-At bookkeeping value in epoch milliseconds.
func (r Record) CachedAt() (int64, bool) {
	raw := r.Header.Get(CachedAtHeader)
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r Record) Clone() Record {
	out := Record{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
	}
	if r.Body != nil {
		out.Body = append([]byte{}, r.Body...)
	}
	return out
}

func statusLine(code int, text string) string {
	if text == "" {
		text = http.StatusText(code)
	}
	return strconv.Itoa(code) + " " + text
}
