package cache

import (
	"strconv"
	"strings"
	"time"
)

// CacheControlDirective represents the parsed Cache-Control directives the
// engine and the stores care about.
type CacheControlDirective struct {
	MaxAge               *int // max-age directive value in seconds
	SMaxAge              *int // s-maxage directive value in seconds (shared cache preference)
	StaleWhileRevalidate *int // stale-while-revalidate directive value in seconds
	Public               bool
	NoCache              bool
	NoStore              bool
	Private              bool
}

// BuildCacheControl renders the Cache-Control value attached to every
// cacheable response: public, max-age=<ttl>[, stale-while-revalidate=<stale>].
// The stale-while-revalidate directive is only emitted for a positive window.
func BuildCacheControl(ttl, stale time.Duration) string {
	var b strings.Builder
	b.WriteString("public, max-age=")
	b.WriteString(strconv.FormatInt(seconds(ttl), 10))
	if s := seconds(stale); s > 0 {
		b.WriteString(", stale-while-revalidate=")
		b.WriteString(strconv.FormatInt(s, 10))
	}
	return b.String()
}

func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ParseCacheControl parses a Cache-Control header string.
//
// Format: Cache-Control: directive1, directive2=value, directive3
//
// Unknown directives are silently ignored.
func ParseCacheControl(header string) CacheControlDirective {
	directive := CacheControlDirective{}

	if header == "" {
		return directive
	}

	parts := strings.Split(header, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, ok := strings.Cut(part, "="); ok {
			key = strings.TrimSpace(strings.ToLower(key))
			value = strings.Trim(strings.TrimSpace(value), `"`)
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				continue
			}
			switch key {
			case "max-age":
				directive.MaxAge = &n
			case "s-maxage":
				directive.SMaxAge = &n
			case "stale-while-revalidate":
				directive.StaleWhileRevalidate = &n
			}
			continue
		}

		switch strings.ToLower(part) {
		case "public":
			directive.Public = true
		case "no-cache":
			directive.NoCache = true
		case "no-store":
			directive.NoStore = true
		case "private":
			directive.Private = true
		}
	}

	return directive
}

// GetTTL derives the max-age window from the directive.
//
// Precedence (highest to lowest):
//  1. Don't cache directives (no-cache, no-store, private) → 0 seconds
//  2. s-maxage (shared cache directive)
//  3. max-age
//  4. No directive → nil
func (d CacheControlDirective) GetTTL() *time.Duration {
	if d.NoCache || d.NoStore || d.Private {
		zero := time.Duration(0)
		return &zero
	}

	if d.SMaxAge != nil {
		ttl := time.Duration(*d.SMaxAge) * time.Second
		return &ttl
	}

	if d.MaxAge != nil {
		ttl := time.Duration(*d.MaxAge) * time.Second
		return &ttl
	}

	return nil
}
