// SPDX-License-Identifier: MIT

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock abstracts time for deterministic testing.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test.source", 2, 2, 10*time.Second, 100*time.Millisecond, WithClock(clk))

	assert.Equal(t, StateClosed, cb.GetState())

	// 1st failure: below minAttempts, stays closed.
	err := cb.Execute(func() error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, StateClosed, cb.GetState())

	// 2nd failure: threshold met, trips open.
	err = cb.Execute(func() error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())

	// Request while open returns ErrCircuitOpen immediately, fn not invoked.
	err = cb.Execute(func() error { return nil })
	assert.True(t, errors.Is(err, ErrCircuitOpen))

	clk.Advance(150 * time.Millisecond)

	// Next request is allowed (half-open); success closes the breaker
	// once successThreshold successes accumulate.
	for i := 0; i < 3; i++ {
		err = cb.Execute(func() error { return nil })
		assert.NoError(t, err)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test.source", 1, 1, 10*time.Second, 100*time.Millisecond, WithClock(clk))

	err := cb.Execute(func() error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())

	clk.Advance(150 * time.Millisecond)

	// Half-open probe fails: trips immediately back to open.
	err = cb.Execute(func() error { return errors.New("still failing") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_PanicRecordsTechnicalFailure(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("test.source", 1, 1, 10*time.Second, 100*time.Millisecond,
		WithClock(clk), WithPanicRecovery(true))

	assert.Panics(t, func() {
		_ = cb.Execute(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_AllowRequestClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker("test.source", 0, 0, 0, 0)
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, StateClosed, cb.GetState())
}
