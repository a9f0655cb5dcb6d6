// SPDX-License-Identifier: MIT

package ratelimit

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func rejectedValue(t *testing.T, limit string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := rejectedTotal.WithLabelValues(limit).Write(metric); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestRejectCountsPerBudget(t *testing.T) {
	beforeAdmin := rejectedValue(t, "admin")
	beforeGateway := rejectedValue(t, "gateway")

	Reject("admin")
	Reject("admin")
	Reject("gateway")

	if got := rejectedValue(t, "admin"); got != beforeAdmin+2 {
		t.Errorf("admin refusals = %v, want %v", got, beforeAdmin+2)
	}
	if got := rejectedValue(t, "gateway"); got != beforeGateway+1 {
		t.Errorf("gateway refusals = %v, want %v", got, beforeGateway+1)
	}
}
