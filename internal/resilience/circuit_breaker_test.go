// SPDX-License-Identifier: MIT

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker(3, 1, 30*time.Second, WithClock(clock))

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	assert.Equal(t, StateClosed, cb.State(), "below threshold stays closed")

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen, "open breaker refuses work")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker(3, 1, 30*time.Second, WithClock(clock))

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })

	assert.Equal(t, StateClosed, cb.State(), "intervening success must reset the count")
}

func TestCircuitBreaker_HalfOpenProbeAndClose(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker(1, 2, 10*time.Second, WithClock(clock))

	_ = cb.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	// Before the interval elapses the breaker still refuses.
	assert.False(t, cb.Allow())

	clock.now = clock.now.Add(11 * time.Second)
	assert.True(t, cb.Allow(), "interval elapsed, probe allowed")
	assert.Equal(t, StateHalfOpen, cb.State())

	// One success is not enough with successThreshold=2.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker(1, 2, 10*time.Second, WithClock(clock))

	_ = cb.Execute(func() error { return errBoom })
	clock.now = clock.now.Add(11 * time.Second)
	require.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State(), "half-open failure reopens immediately")
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_RecordResult(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker(2, 1, 30*time.Second, WithClock(clock))

	// 5xx responses feed the breaker without going through Execute.
	cb.RecordResult(true)
	cb.RecordResult(true)
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(31 * time.Second)
	require.True(t, cb.Allow())
	cb.RecordResult(false)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker(1, 1, 30*time.Second, WithClock(clock), WithPanicRecovery(true))

	assert.Panics(t, func() {
		_ = cb.Execute(func() error { panic("kaboom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker(0, 0, 0)
	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 1, cb.successThreshold)
	assert.Equal(t, 30*time.Second, cb.openInterval)
}
