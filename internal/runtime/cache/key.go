package cache

import (
	"net/http"
	"strings"
)

// Key derives the cache identity for a request: namespace, method and
// absolute URL. Only GET requests are looked up or stored by the engine, but
// the method stays part of the key so identities never collide.
func Key(namespace string, r *http.Request) string {
	return namespace + ":" + r.Method + " " + AbsoluteURL(r)
}

// AbsoluteURL rebuilds the absolute request URL as seen by the client.
func AbsoluteURL(r *http.Request) string {
	if r.URL != nil && r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	// Any other forwarded value would let clients mint key variants.
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	switch p := strings.ToLower(strings.TrimSpace(proto)); p {
	case "http", "https":
		scheme = p
	}
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	uri := "/"
	if r.URL != nil {
		uri = r.URL.RequestURI()
	}
	return scheme + "://" + strings.ToLower(host) + uri
}
