// Package circuit provides a per-target circuit breaker that short-circuits calls
// to a dependency after repeated failures and tries it again after a cooldown.
package circuit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the breaker state.
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
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// StateChange reports a transition caused by a recorded outcome.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive failures for a single target.
//   - Closed: calls pass; consecutive failures are counted.
//   - Open: calls are rejected until the cooldown elapses.
//   - HalfOpen: exactly one trial call is admitted; its outcome closes or reopens the circuit.
type Breaker struct {
	mu    sync.Mutex
	name  string
	clock clock.Clock

	failureThreshold int
	cooldown         time.Duration

	state        State
	failureCount int
	openedAt     time.Time
	trialPending bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures that opens the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before a trial call is admitted.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock sets the clock used for cooldown tracking.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) {
		if c != nil {
			b.clock = c
		}
	}
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		clock:            clock.New(),
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the target the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose cooldown has elapsed
// still reports StateOpen until Allow admits the trial call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen returns true while calls are being rejected.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// OpenedAt returns when the circuit last opened, zero if it never did.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// Allow reports whether a call may proceed. Once the cooldown has elapsed the
// breaker moves to half-open and admits a single trial; concurrent callers are
// rejected until that trial's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.trialPending = true
		return true
	case StateHalfOpen:
		if b.trialPending {
			return false
		}
		b.trialPending = true
		return true
	}
	return false
}

// RecordSuccess records a successful call. A success in any state closes the circuit.
func (b *Breaker) RecordSuccess() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasClosed := b.state == StateClosed
	b.state = StateClosed
	b.failureCount = 0
	b.trialPending = false
	return StateChange{Closed: !wasClosed}
}

// RecordFailure records a failed call. The circuit opens when the consecutive
// failure count reaches the threshold; a failed half-open trial reopens it and
// restarts the cooldown.
func (b *Breaker) RecordFailure() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	switch b.state {
	case StateHalfOpen:
		b.open()
		return StateChange{Opened: true}
	case StateOpen:
		return StateChange{}
	}
	if b.failureCount >= b.failureThreshold {
		b.open()
		return StateChange{Opened: true}
	}
	return StateChange{}
}

// Abandon releases a half-open trial whose outcome says nothing about the target,
// such as a call cancelled by its caller, so the next caller may make the trial call instead.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialPending = false
	}
}

// Reset manually closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.trialPending = false
	b.openedAt = time.Time{}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.clock.Now()
	b.trialPending = false
}
