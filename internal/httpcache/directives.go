// SPDX-License-Identifier: MIT

package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheControl carries the directives the gateway acts on. Durations are
// only meaningful when the matching Has flag is set.
type CacheControl struct {
	NoStore        bool
	NoCache        bool
	Private        bool
	Public         bool
	OnlyIfCached   bool
	MustRevalidate bool

	MaxAge    time.Duration
	HasMaxAge bool

	SMaxAge    time.Duration
	HasSMaxAge bool

	MinFresh    time.Duration
	HasMinFresh bool

	// max-stale without a value accepts any staleness.
	MaxStale    time.Duration
	HasMaxStale bool
	MaxStaleAny bool
}

// ParseCacheControl reads every Cache-Control header value. Unknown
// directives are ignored; unparsable durations count as zero.
func ParseCacheControl(h http.Header) CacheControl {
	var cc CacheControl
	for _, line := range h.Values("Cache-Control") {
		for _, part := range splitDirectives(line) {
			name, val, hasVal := strings.Cut(part, "=")
			name = strings.ToLower(strings.TrimSpace(name))
			val = strings.Trim(strings.TrimSpace(val), `"`)

			switch name {
			case "no-store":
				cc.NoStore = true
			case "no-cache":
				cc.NoCache = true
			case "private":
				cc.Private = true
			case "public":
				cc.Public = true
			case "only-if-cached":
				cc.OnlyIfCached = true
			case "must-revalidate", "proxy-revalidate":
				cc.MustRevalidate = true
			case "max-age":
				cc.MaxAge, cc.HasMaxAge = parseSeconds(val)
			case "s-maxage":
				cc.SMaxAge, cc.HasSMaxAge = parseSeconds(val)
			case "min-fresh":
				cc.MinFresh, cc.HasMinFresh = parseSeconds(val)
			case "max-stale":
				if !hasVal || val == "" {
					cc.MaxStaleAny = true
				} else {
					cc.MaxStale, cc.HasMaxStale = parseSeconds(val)
				}
			}
		}
	}
	return cc
}

// splitDirectives splits a Cache-Control value on commas outside quoted
// strings.
func splitDirectives(line string) []string {
	var parts []string
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == ',' && !inQuote:
			if p := strings.TrimSpace(b.String()); p != "" {
				parts = append(parts, p)
			}
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if p := strings.TrimSpace(b.String()); p != "" {
		parts = append(parts, p)
	}
	return parts
}

func parseSeconds(val string) (time.Duration, bool) {
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second, true
}
