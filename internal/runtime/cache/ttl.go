package cache

import (
	"time"
)

const (
	// DefaultRetention is how long a backend keeps a record when no explicit
	// retention is configured. Expired records stay around as degrade targets.
	DefaultRetention = 24 * time.Hour
	minimumRetention = time.Second
)

// FreshnessWindow returns the max-age and stale-while-revalidate windows a
// record advertises through its Cache-Control header. Records without the
// header report zero windows.
func FreshnessWindow(record Record) (ttl, stale time.Duration) {
	directive := ParseCacheControl(record.Header.Get("Cache-Control"))
	if d := directive.GetTTL(); d != nil {
		ttl = *d
	}
	if directive.StaleWhileRevalidate != nil {
		stale = time.Duration(*directive.StaleWhileRevalidate) * time.Second
	}
	return ttl, stale
}

// Retention computes how long a store should keep a record.
//
// Precedence:
//  1. Configured retention, when positive
//  2. DefaultRetention otherwise
//
// The result never drops below the record's own ttl+stale window so a store
// cannot evict a record that is still serveable.
func Retention(record Record, configured time.Duration) time.Duration {
	retention := configured
	if retention <= 0 {
		retention = DefaultRetention
	}
	ttl, stale := FreshnessWindow(record)
	if floor := ttl + stale; floor > retention {
		retention = floor
	}
	return max(retention, minimumRetention)
}
