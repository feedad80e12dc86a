package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var transitions []State
	cb := NewCircuitBreaker("kafka", 3, time.Second,
		WithClock(clock.now),
		WithStateChangeHook(func(name string, from, to State) {
			assert.Equal(t, "kafka", name)
			transitions = append(transitions, to)
		}))

	boom := errors.New("broker down")
	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "broker down")
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name      string
		probeErr  error
		wantState State
	}{
		{name: "probe succeeds", probeErr: nil, wantState: StateClosed},
		{name: "probe fails", probeErr: errors.New("still down"), wantState: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(0, 0)}
			cb := NewCircuitBreaker("kafka", 1, time.Second, WithClock(clock.now))
			cb.RecordResult(errors.New("down"))
			require.Equal(t, StateOpen, cb.State())

			assert.False(t, cb.AllowRequest())
			clock.advance(time.Second)

			assert.True(t, cb.AllowRequest())
			assert.Equal(t, StateHalfOpen, cb.State())
			assert.False(t, cb.AllowRequest(), "only one probe at a time")

			cb.RecordResult(tt.probeErr)
			assert.Equal(t, tt.wantState, cb.State())
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("kafka", 2, time.Second)
	cb.RecordResult(errors.New("a"))
	cb.RecordResult(nil)
	cb.RecordResult(errors.New("b"))
	assert.Equal(t, StateClosed, cb.State())
	assert.EqualError(t, cb.LastError(), "b")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "state(9)", State(9).String())
}
