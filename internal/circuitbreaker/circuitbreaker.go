// Package circuitbreaker guards the language model call. While open, calls fail
// fast with ErrOpen so the describe path composes its fallback without waiting
// out the model timeout on every sensor cycle.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after FailureThreshold consecutive failures and lets a
// single probe call through at a time once Timeout has elapsed.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	probing          bool
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	onStateChange    func(component string, from, to State)
	now              func() time.Time
}

// Config holds circuit breaker parameters. Zero values take package defaults.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	OnStateChange    func(component string, from, to State)
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// New creates a CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        cfg.Component,
		onStateChange:    cfg.OnStateChange,
		now:              cfg.Now,
	}
}

// Call runs fn when the circuit allows it. While half-open only one probe
// call runs at a time; others fail fast with ErrOpen. Context cancellation by
// the caller is not counted as an upstream failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	probe, err := cb.before()
	if err != nil {
		return err
	}

	err = fn()

	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		if probe {
			cb.mu.Lock()
			cb.probing = false
			cb.mu.Unlock()
		}
		return err
	}
	cb.after(err, probe)
	return err
}

// before reports whether the admitted call is the half-open probe.
func (cb *CircuitBreaker) before() (bool, error) {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return false, nil
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return false, ErrOpen
		}
		cb.probing = true
		cb.mu.Unlock()
		return true, nil
	}
	if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
		cb.mu.Unlock()
		return false, ErrOpen
	}
	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.probing = true
	cb.mu.Unlock()
	cb.notify(StateOpen, StateHalfOpen)
	return true, nil
}

func (cb *CircuitBreaker) after(err error, probe bool) {
	cb.mu.Lock()
	if probe {
		cb.probing = false
	}
	from := cb.state
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			cb.failureCount = 0
		}
	} else {
		cb.successCount++
		cb.failureCount = 0
		if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()
	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.component, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
