// SPDX-License-Identifier: MIT

package testutil

import (
	"net/http"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ScrapeMetrics fetches a Prometheus exposition endpoint and parses it
// into metric families keyed by name.
func ScrapeMetrics(t *testing.T, url string) map[string]*dto.MetricFamily {
	t.Helper()
	resp, err := http.Get(url) // #nosec G107 -- test-controlled URL
	if err != nil {
		t.Fatalf("scrape %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape %s: status %d", url, resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	return families
}

// CounterValue sums a counter family across all label sets. Missing
// families count as zero so callers can diff before/after scrapes.
func CounterValue(families map[string]*dto.MetricFamily, name string) float64 {
	mf, ok := families[name]
	if !ok {
		return 0
	}
	var sum float64
	for _, m := range mf.Metric {
		sum += m.GetCounter().GetValue()
	}
	return sum
}
