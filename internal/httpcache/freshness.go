// SPDX-License-Identifier: MIT

package httpcache

import (
	"net/http"
	"time"

	"github.com/thumbgate/thumbgate/internal/config"
)

// storableStatus lists the response codes a shared cache may store
// without explicit freshness information.
var storableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusPermanentRedirect:    true,
	http.StatusNotFound:             true,
	http.StatusMethodNotAllowed:     true,
	http.StatusGone:                 true,
	http.StatusRequestURITooLong:    true,
	http.StatusNotImplemented:       true,
}

// storable decides whether a response may enter the cache. In force
// mode the origin's no-store and Set-Cookie are overridden (the
// override policy exists precisely because the origin sends uncacheable
// headers); private responses and Vary: * never enter the cache.
func storable(mode string, status int, respCC CacheControl, h http.Header) bool {
	if !storableStatus[status] {
		return false
	}
	if respCC.Private {
		return false
	}
	for _, f := range varyFields(h) {
		if f == "*" {
			return false
		}
	}
	if mode == config.ModeForce {
		return true
	}
	if respCC.NoStore {
		return false
	}
	if h.Get("Set-Cookie") != "" {
		return false
	}
	return true
}

// computeTTL derives the freshness lifetime at store time. Force mode
// pins the configured override; origin mode walks s-maxage, max-age,
// Expires-Date, then the heuristic (10% of Date minus Last-Modified,
// capped).
func computeTTL(mode string, overrideTTL, heuristicMax time.Duration, h http.Header, now time.Time) time.Duration {
	if mode == config.ModeForce {
		return overrideTTL
	}

	cc := ParseCacheControl(h)
	if cc.HasSMaxAge {
		return cc.SMaxAge
	}
	if cc.HasMaxAge {
		return cc.MaxAge
	}

	date, dateErr := http.ParseTime(h.Get("Date"))
	base := date
	if dateErr != nil {
		base = now
	}

	if expires := h.Get("Expires"); expires != "" {
		// An unparsable Expires means already expired.
		exp, err := http.ParseTime(expires)
		if err != nil {
			return 0
		}
		if d := exp.Sub(base); d > 0 {
			return d
		}
		return 0
	}

	if lm, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		if d := base.Sub(lm); d > 0 {
			ttl := d / 10
			if ttl > heuristicMax {
				ttl = heuristicMax
			}
			return ttl
		}
	}
	return 0
}
