package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"time"
)

// etagDelimiter separates fingerprint parts. The ASCII unit separator does not
// occur in HN titles, URLs or ids.
const etagDelimiter = "\x1f"

// ETag computes a deterministic content fingerprint over the ordered,
// semantically significant fields of a page and renders it as a quoted
// lowercase hex string.
//
// The canonical representation is part1<US>part2<US>...<US>partN where each
// part is formatted with fmt's %v verb. Identical ordered input yields the
// same tag; any differing part yields a different tag.
func ETag(parts ...any) string {
	h := sha1.New()
	for i, part := range parts {
		if i > 0 {
			_, _ = h.Write([]byte(etagDelimiter))
		}
		_, _ = fmt.Fprint(h, part)
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// LastModified renders the latest of the given unix timestamps (seconds) as an
// HTTP date. Non-positive values are ignored; ok is false when nothing is
// left.
func LastModified(times ...int64) (string, bool) {
	var latest int64
	for _, ts := range times {
		if ts <= 0 || ts == math.MaxInt64 {
			continue
		}
		latest = max(latest, ts)
	}
	if latest == 0 {
		return "", false
	}
	return time.Unix(latest, 0).UTC().Format(http.TimeFormat), true
}
