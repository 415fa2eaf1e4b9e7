package origin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"appview/internal/fault"
	"appview/pkg/platform/circuit"
)

// Operation is a single attempt against an origin. It receives a context bounded
// by the per-call timeout.
type Operation func(ctx context.Context) error

// Policy runs operations against an origin endpoint.
type Policy interface {
	Execute(ctx context.Context, endpoint string, op Operation) error
}

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
	defaultCallTimeout = 30 * time.Second
)

// ResilientPolicy composes the endpoint's shared circuit breaker, bounded retry of
// transient failures, and a hard per-attempt timeout.
//
// Breaker accounting happens once per Execute, after retries: a call that ends in
// a connection failure counts as one failure; any answer from the origin, including
// a definitive 4xx, counts as a success.
type ResilientPolicy struct {
	breakers    *circuit.Registry
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

// PolicyOption configures a ResilientPolicy.
type PolicyOption func(*ResilientPolicy)

// WithMaxAttempts sets the number of attempts for transient failures.
func WithMaxAttempts(n int) PolicyOption {
	return func(p *ResilientPolicy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base delay between attempts; attempt k waits k*delay.
func WithRetryDelay(d time.Duration) PolicyOption {
	return func(p *ResilientPolicy) {
		if d >= 0 {
			p.retryDelay = d
		}
	}
}

// WithTimeout sets the hard per-attempt timeout.
func WithTimeout(d time.Duration) PolicyOption {
	return func(p *ResilientPolicy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPolicyLogger sets the logger for breaker transitions.
func WithPolicyLogger(logger *slog.Logger) PolicyOption {
	return func(p *ResilientPolicy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPolicyMetrics sets the metrics sink.
func WithPolicyMetrics(m *Metrics) PolicyOption {
	return func(p *ResilientPolicy) {
		p.metrics = m
	}
}

// NewResilientPolicy builds a policy over a shared breaker registry.
func NewResilientPolicy(breakers *circuit.Registry, opts ...PolicyOption) (*ResilientPolicy, error) {
	if breakers == nil {
		return nil, errors.New("breaker registry is required")
	}
	p := &ResilientPolicy{
		breakers:    breakers,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		timeout:     defaultCallTimeout,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Execute runs op under the endpoint's breaker. An open breaker rejects the call
// with a PDSConnectionError without touching the network.
func (p *ResilientPolicy) Execute(ctx context.Context, endpoint string, op Operation) error {
	breaker := p.breakers.For(endpoint)
	if !breaker.Allow() {
		p.metrics.IncShortCircuited()
		return fault.CircuitOpen(endpoint)
	}

	err := p.attempt(ctx, endpoint, op)

	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		// The caller went away; the outcome says nothing about the origin.
		breaker.Abandon()
	case fault.Is(err, fault.KindPDSConnection):
		if change := breaker.RecordFailure(); change.Opened {
			p.metrics.IncBreakerTransition("opened")
			p.logger.Warn("origin circuit opened",
				"endpoint", endpoint,
				"failures", breaker.FailureCount(),
				"error", err,
			)
		}
	default:
		if change := breaker.RecordSuccess(); change.Closed {
			p.metrics.IncBreakerTransition("closed")
			p.logger.Info("origin circuit closed", "endpoint", endpoint)
		}
	}
	return err
}

func (p *ResilientPolicy) attempt(ctx context.Context, endpoint string, op Operation) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = p.call(ctx, endpoint, op)
		if err == nil || !fault.IsRetryable(err) || attempt == p.maxAttempts {
			return err
		}
		if waitErr := waitWithContext(ctx, time.Duration(attempt)*p.retryDelay); waitErr != nil {
			return err
		}
	}
	return err
}

func (p *ResilientPolicy) call(ctx context.Context, endpoint string, op Operation) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := op(callCtx)
	if err == nil {
		return nil
	}
	return normalize(callCtx, endpoint, err)
}

// NoopPolicy runs the operation once with no breaker, retry, or timeout.
type NoopPolicy struct{}

func (NoopPolicy) Execute(ctx context.Context, endpoint string, op Operation) error {
	if err := op(ctx); err != nil {
		return normalize(ctx, endpoint, err)
	}
	return nil
}

// normalize maps an operation error into the taxonomy. Deadline expiry is always
// reported as a timeout, whatever shape the transport gave it.
func normalize(ctx context.Context, endpoint string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		var fe *fault.Error
		if !errors.As(err, &fe) || fe.Kind == fault.KindPDSConnection {
			return fault.Timeout(endpoint, err)
		}
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Connection(endpoint, "request failed", err)
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
