package runtime

import (
	"net/http"
	"strings"
)

// ApplyConditional answers a GET with 304 Not Modified when either the
// If-None-Match or the If-Modified-Since validator matches the response.
// The two checks are independently sufficient. Any other request gets resp
// back untouched.
func ApplyConditional(r *http.Request, resp *http.Response) *http.Response {
	if r == nil || resp == nil || r.Method != http.MethodGet {
		return resp
	}
	if !etagMatches(r, resp) && !notModifiedSince(r, resp) {
		return resp
	}

	header := resp.Header.Clone()
	header.Del("Content-Length")
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &http.Response{
		Status:     "304 Not Modified",
		StatusCode: http.StatusNotModified,
		Proto:      resp.Proto,
		ProtoMajor: resp.ProtoMajor,
		ProtoMinor: resp.ProtoMinor,
		Header:     header,
		Body:       http.NoBody,
		Request:    resp.Request,
	}
}

func etagMatches(r *http.Request, resp *http.Response) bool {
	etag := resp.Header.Get("ETag")
	inm := r.Header.Get("If-None-Match")
	if etag == "" || inm == "" {
		return false
	}
	for _, token := range strings.Split(inm, ",") {
		token = strings.TrimSpace(token)
		if token == "*" || token == etag {
			return true
		}
	}
	return false
}

func notModifiedSince(r *http.Request, resp *http.Response) bool {
	lm := resp.Header.Get("Last-Modified")
	ims := r.Header.Get("If-Modified-Since")
	if lm == "" || ims == "" {
		return false
	}
	modified, err := http.ParseTime(lm)
	if err != nil {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !since.Before(modified)
}
