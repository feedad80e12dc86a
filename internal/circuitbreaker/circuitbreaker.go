package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Execute while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit is tripped, requests blocked
	StateHalfOpen              // A single probe is allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CircuitBreaker stops calling a failing dependency once threshold
// consecutive failures have been recorded, and probes it again after timeout.
type CircuitBreaker struct {
	name      string
	state     State
	failures  int
	threshold int
	timeout   time.Duration
	lastError error
	openTime  time.Time
	probing   bool
	mu        sync.Mutex

	now           func() time.Time
	onStateChange func(name string, from, to State)
	logger        *logrus.Entry
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithStateChangeHook registers fn to be called after every transition.
// fn is called with the breaker lock held and must not call back into it.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// NewCircuitBreaker creates a closed circuit breaker.
//
// Parameters:
//   - name: Label used in logs and state change callbacks
//   - threshold: Number of consecutive failures before opening the circuit
//   - timeout: How long the circuit stays open before a probe is allowed
func NewCircuitBreaker(name string, threshold int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	cb := &CircuitBreaker{
		name:      name,
		state:     StateClosed,
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
		logger:    logrus.WithFields(logrus.Fields{"component": "circuitbreaker", "name": name}),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn if the circuit allows it and records the result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.AllowRequest() {
		return fmt.Errorf("%w: %v", ErrOpen, cb.LastError())
	}
	err := fn()
	cb.RecordResult(err)
	return err
}

// AllowRequest reports whether a request may go through. Once the open
// timeout has elapsed the circuit moves to half-open and lets exactly one
// probe through until its result is recorded.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openTime) < cb.timeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// RecordResult records the outcome of a request. A failure in half-open
// reopens the circuit immediately.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	cb.lastError = err
	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.openTime = cb.now()
		if cb.state != StateOpen {
			cb.transition(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastError
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	entry := cb.logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()})
	if to == StateClosed {
		entry.Info("Circuit breaker closed")
	} else {
		entry.WithError(cb.lastError).Warnf("Circuit breaker %s", to)
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
