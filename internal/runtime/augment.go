package runtime

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/l0p7/hnedge/internal/runtime/cache"
)

// Augment rewrites a producer response into a client copy and a store copy.
// The body is read once and both copies get their own reader over the same
// bytes, so the store write can never drain what the client receives. Both
// copies carry the rewritten Cache-Control and the X-Cached-At timestamp.
//
// The original response body is consumed and closed.
func Augment(resp *http.Response, ttl, stale time.Duration, now time.Time) (*http.Response, cache.Record, error) {
	var body []byte
	if resp.Body != nil && resp.Body != http.NoBody {
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, cache.Record{}, fmt.Errorf("runtime: read producer body: %w", err)
		}
		body = data
	}

	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Cache-Control", cache.BuildCacheControl(ttl, stale))
	header.Set(cache.CachedAtHeader, strconv.FormatInt(now.UnixMilli(), 10))
	if body != nil {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	} else {
		header.Del("Content-Length")
	}

	stored := cache.Record{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Body:       body,
	}
	client := stored.Response()
	client.Request = resp.Request
	return client, stored, nil
}

// statusText extracts the reason phrase from "200 OK".
func statusText(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if len(resp.Status) > len(prefix) && resp.Status[:len(prefix)] == prefix {
		return resp.Status[len(prefix):]
	}
	return http.StatusText(resp.StatusCode)
}

// NewResponse builds a response the way producers and fallbacks hand them to
// the engine.
func NewResponse(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	resp := &http.Response{
		Status:     strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       http.NoBody,
	}
	if body != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
	}
	return resp
}
