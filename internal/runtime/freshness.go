package runtime

import (
	"math"
	"time"

	"github.com/l0p7/hnedge/internal/runtime/cache"
)

// InfiniteAge is the age of a record that carries no usable X-Cached-At.
const InfiniteAge = time.Duration(math.MaxInt64)

// Freshness classifies a stored record against a (ttl, stale) window.
type Freshness int

const (
	Expired Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// AgeOf returns how long ago the record was produced.
func AgeOf(record cache.Record, now time.Time) time.Duration {
	ms, ok := record.CachedAt()
	if !ok {
		return InfiniteAge
	}
	return now.Sub(time.UnixMilli(ms))
}

// Classify places an age inside the freshness window. Boundaries are
// inclusive: age == ttl is fresh and age == ttl+stale is still serveable.
func Classify(age, ttl, stale time.Duration) Freshness {
	if age == InfiniteAge {
		return Expired
	}
	if age <= ttl {
		return Fresh
	}
	if age <= ttl+stale {
		return Stale
	}
	return Expired
}
