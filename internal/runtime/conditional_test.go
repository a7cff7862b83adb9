package runtime

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func candidate() *http.Response {
	header := make(http.Header)
	header.Set("ETag", `"v1"`)
	header.Set("Last-Modified", time.Unix(1_700_000_000, 0).UTC().Format(http.TimeFormat))
	header.Set("Content-Length", "4")
	header.Set("Cache-Control", "public, max-age=30")
	return NewResponse(http.StatusOK, header, []byte("body"))
}

func TestApplyConditional(t *testing.T) {
	lastModified := time.Unix(1_700_000_000, 0).UTC()
	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    int
	}{
		{name: "no validators", method: http.MethodGet, want: http.StatusOK},
		{name: "etag match", method: http.MethodGet, headers: map[string]string{"If-None-Match": `"v1"`}, want: http.StatusNotModified},
		{name: "etag in list", method: http.MethodGet, headers: map[string]string{"If-None-Match": `"v0",  "v1" ,"v2"`}, want: http.StatusNotModified},
		{name: "wildcard", method: http.MethodGet, headers: map[string]string{"If-None-Match": "*"}, want: http.StatusNotModified},
		{name: "etag mismatch", method: http.MethodGet, headers: map[string]string{"If-None-Match": `"v0"`}, want: http.StatusOK},
		{name: "weak etag is not verbatim", method: http.MethodGet, headers: map[string]string{"If-None-Match": `W/"v1"`}, want: http.StatusOK},
		{name: "same instant", method: http.MethodGet, headers: map[string]string{"If-Modified-Since": lastModified.Format(http.TimeFormat)}, want: http.StatusNotModified},
		{name: "later date", method: http.MethodGet, headers: map[string]string{"If-Modified-Since": lastModified.Add(time.Hour).Format(http.TimeFormat)}, want: http.StatusNotModified},
		{name: "earlier date", method: http.MethodGet, headers: map[string]string{"If-Modified-Since": lastModified.Add(-time.Hour).Format(http.TimeFormat)}, want: http.StatusOK},
		{name: "unparsable date", method: http.MethodGet, headers: map[string]string{"If-Modified-Since": "yesterday"}, want: http.StatusOK},
		{name: "either validator suffices", method: http.MethodGet, headers: map[string]string{
			"If-None-Match":     `"v0"`,
			"If-Modified-Since": lastModified.Format(http.TimeFormat),
		}, want: http.StatusNotModified},
		{name: "head is not evaluated", method: http.MethodHead, headers: map[string]string{"If-None-Match": `"v1"`}, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/news", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			resp := ApplyConditional(req, candidate())
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestApplyConditionalStripsBodyAndLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/news", nil)
	req.Header.Set("If-None-Match", `"v1"`)
	resp := ApplyConditional(req, candidate())

	require.Equal(t, http.StatusNotModified, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Content-Length"))
	require.Equal(t, `"v1"`, resp.Header.Get("ETag"))
	require.Equal(t, "public, max-age=30", resp.Header.Get("Cache-Control"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
	require.Zero(t, resp.ContentLength)
}

func TestApplyConditionalWithoutResponseValidators(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/news", nil)
	req.Header.Set("If-None-Match", "*")
	req.Header.Set("If-Modified-Since", time.Now().UTC().Format(http.TimeFormat))
	resp := ApplyConditional(req, NewResponse(http.StatusOK, nil, []byte("x")))
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
