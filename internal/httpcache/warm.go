// SPDX-License-Identifier: MIT

package httpcache

import (
	"context"
	"fmt"
	"net/http"
)

// Warm outcomes reported to the prewarm pool.
const (
	WarmOutcomeWarmed   = "warmed"
	WarmOutcomeHit      = "hit"
	WarmOutcomeNotFound = "notfound"
	WarmOutcomeError    = "error"
)

// WarmResult describes one warm attempt. Validators are filled from the
// stored record when one exists after the attempt.
type WarmResult struct {
	Outcome      string
	Status       int
	ETag         string
	LastModified string
}

// Warm ensures a fresh entry for rawURL exists on disk without serving
// anyone. It shares the flight group with Serve, so a warm never races
// a live fill for the same key.
func (g *Gateway) Warm(ctx context.Context, rawURL string) (WarmResult, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return WarmResult{Outcome: WarmOutcomeError}, err
	}
	key := Key(canonical)
	now := g.now()

	probe, err := http.NewRequestWithContext(ctx, http.MethodGet, canonical, nil)
	if err != nil {
		return WarmResult{Outcome: WarmOutcomeError}, err
	}

	rec, sn := g.lookup(key, probe)
	if sn != nil {
		_ = sn.Close()
	}
	if rec != nil && g.freshEnough(rec, CacheControl{}, now) {
		return warmResultFor(WarmOutcomeHit, rec), nil
	}

	if g.policy().offline {
		return WarmResult{Outcome: WarmOutcomeError}, ErrOffline
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		res, resp, ferr := g.refresh(ctx, canonical, key, probe.Header, rec)
		if ferr != nil {
			return flightResult{}, ferr
		}
		if resp != nil {
			drainClose(resp.Body)
		}
		return res, nil
	})
	if err != nil {
		return WarmResult{Outcome: WarmOutcomeError}, err
	}

	res := v.(flightResult)
	switch res.kind {
	case kindStored, kindRevalidated:
		if after, sn2 := g.lookup(key, probe); after != nil {
			_ = sn2.Close()
			return warmResultFor(WarmOutcomeWarmed, after), nil
		}
		// Evicted between commit and lookup; report the flight status.
		return classifyWarm(WarmOutcomeWarmed, res.status), nil
	default:
		if res.status == http.StatusNotFound || res.status == http.StatusGone {
			return WarmResult{Outcome: WarmOutcomeNotFound, Status: res.status}, nil
		}
		return WarmResult{Outcome: WarmOutcomeError, Status: res.status},
			fmt.Errorf("origin response %d not storable", res.status)
	}
}

func warmResultFor(outcome string, rec *Record) WarmResult {
	r := classifyWarm(outcome, rec.Status)
	r.ETag = rec.ETag
	r.LastModified = rec.LastModified
	return r
}

// classifyWarm folds stored negatives into the notfound outcome so the
// pool can back off on them.
func classifyWarm(outcome string, status int) WarmResult {
	if status == http.StatusNotFound || status == http.StatusGone {
		return WarmResult{Outcome: WarmOutcomeNotFound, Status: status}
	}
	return WarmResult{Outcome: outcome, Status: status}
}
