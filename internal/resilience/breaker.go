package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without any downstream I/O while the breaker
// is open.
var ErrCircuitOpen = errors.New("downstream unavailable: circuit open")

// State is the breaker's position in its cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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
		return "unknown"
	}
}

// BreakerConfig tunes one breaker instance.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip Closed -> Open
	OpenTimeout      time.Duration // dwell time in Open before trialing
	SuccessThreshold int           // consecutive half-open successes to close
	HalfOpenMaxCalls int           // concurrent trial calls admitted in HalfOpen
}

// Breaker guards one downstream dependency. One instance per dependency;
// all transitions follow the closed/open/half-open machine and none skip
// an edge.
type Breaker struct {
	cfg BreakerConfig

	mu             sync.Mutex
	state          State
	failures       int
	successes      int // half-open only
	halfOpenInFly  int
	lastTransition time.Time
	now            func() time.Time // test seam
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:            cfg,
		state:          StateClosed,
		lastTransition: time.Now(),
		now:            time.Now,
	}
}

// Allow admits or refuses a call. In Open it first checks whether the dwell
// time has elapsed and moves to HalfOpen; HalfOpen admits at most
// HalfOpenMaxCalls in flight.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastTransition) >= b.cfg.OpenTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenInFly = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenInFly >= b.cfg.HalfOpenMaxCalls {
			return ErrCircuitOpen
		}
		b.halfOpenInFly++
		return nil
	}
	return nil
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.halfOpenInFly > 0 {
			b.halfOpenInFly--
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure notes a failed call. Any half-open failure reopens.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if b.halfOpenInFly > 0 {
			b.halfOpenInFly--
		}
		b.transition(StateOpen)
	}
}

// transition must run under b.mu.
func (b *Breaker) transition(to State) {
	b.state = to
	b.lastTransition = b.now()
	b.failures = 0
	b.successes = 0
	if to != StateHalfOpen {
		b.halfOpenInFly = 0
	}
}

// State reports the current state. Read-only: the Open -> HalfOpen timeout
// edge is only taken by Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn through the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
