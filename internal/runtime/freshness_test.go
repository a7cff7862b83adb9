package runtime

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/hnedge/internal/runtime/cache"
)

func TestClassify(t *testing.T) {
	ttl, stale := 30*time.Second, 300*time.Second
	tests := []struct {
		name string
		age  time.Duration
		want Freshness
	}{
		{name: "just produced", age: 0, want: Fresh},
		{name: "inside ttl", age: 10 * time.Second, want: Fresh},
		{name: "ttl boundary", age: 30 * time.Second, want: Fresh},
		{name: "past ttl", age: 30*time.Second + time.Millisecond, want: Stale},
		{name: "inside stale window", age: 45 * time.Second, want: Stale},
		{name: "stale boundary", age: 330 * time.Second, want: Stale},
		{name: "past stale window", age: 400 * time.Second, want: Expired},
		{name: "clock skew", age: -5 * time.Second, want: Fresh},
		{name: "unknown age", age: InfiniteAge, want: Expired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.age, ttl, stale))
		})
	}
}

func TestClassifyWithoutStaleWindow(t *testing.T) {
	require.Equal(t, Fresh, Classify(30*time.Second, 30*time.Second, 0))
	require.Equal(t, Expired, Classify(31*time.Second, 30*time.Second, 0))
}

func TestAgeOf(t *testing.T) {
	now := time.Unix(1_700_000_100, 0)
	header := make(http.Header)
	header.Set(cache.CachedAtHeader, strconv.FormatInt(time.Unix(1_700_000_000, 0).UnixMilli(), 10))
	require.Equal(t, 100*time.Second, AgeOf(cache.Record{Header: header}, now))

	header.Set(cache.CachedAtHeader, "not-a-number")
	require.Equal(t, InfiniteAge, AgeOf(cache.Record{Header: header}, now))
	require.Equal(t, InfiniteAge, AgeOf(cache.Record{}, now))
}

func TestFreshnessString(t *testing.T) {
	require.Equal(t, "fresh", Fresh.String())
	require.Equal(t, "stale", Stale.String())
	require.Equal(t, "expired", Expired.String())
}
