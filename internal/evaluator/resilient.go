package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// outcome carries either result shape through the resilience chain. An
// evaluation error (undefined variable) travels as data so it neither trips
// the breaker nor gets retried.
type outcome struct {
	values  map[string]vars.Value
	bools   map[string]bool
	evalErr error
}

// ResilientClient wraps a Client with resilience patterns from fortify
type ResilientClient struct {
	client         Client
	circuitBreaker circuitbreaker.CircuitBreaker[outcome]
	retrier        retry.Retry[outcome]
	bulkhead       bulkhead.Bulkhead[outcome]
	rateLimit      ratelimit.RateLimiter
	rateWait       time.Duration
	logger         *slog.Logger
	name           string
}

// ResilientConfig holds configuration for the resilient wrapper
type ResilientConfig struct {
	EnableCircuitBreaker bool
	EnableRetry          bool
	EnableBulkhead       bool
	EnableRateLimit      bool

	// MaxConcurrent for bulkhead (default: 16)
	MaxConcurrent int

	// RatePerSecond for rate limiting (default: 50)
	RatePerSecond int

	// RateLimitWait is how long a call queues for a token before it is
	// rejected as unavailable (default: 2s)
	RateLimitWait time.Duration

	// MaxAttempts for retry (default: 3)
	MaxAttempts int

	Logger *slog.Logger
}

// DefaultResilientConfig returns defaults sized for grading traffic
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		EnableCircuitBreaker: true,
		EnableRetry:          true,
		EnableBulkhead:       true,
		EnableRateLimit:      true,
		MaxConcurrent:        16,
		RatePerSecond:        50,
		RateLimitWait:        2 * time.Second,
		MaxAttempts:          3,
	}
}

// NewResilientClient wraps client with the configured patterns
func NewResilientClient(client Client, cfg ResilientConfig) *ResilientClient {
	rc := &ResilientClient{
		client: client,
		logger: cfg.Logger,
		name:   "evaluator",
	}
	if rc.logger == nil {
		rc.logger = slog.Default()
	}

	if cfg.EnableCircuitBreaker {
		rc.circuitBreaker = circuitbreaker.New[outcome](circuitbreaker.Config{
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				rc.logger.Warn("circuit breaker state change",
					"client", rc.name,
					"from", from.String(),
					"to", to.String())
			},
		})
	}

	if cfg.EnableRetry {
		attempts := cfg.MaxAttempts
		if attempts <= 0 {
			attempts = 3
		}
		rc.retrier = retry.New[outcome](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   isRetryable,
		})
	}

	if cfg.EnableBulkhead {
		maxConcurrent := cfg.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 16
		}
		rc.bulkhead = bulkhead.New[outcome](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxConcurrent * 4,
			QueueTimeout:  5 * time.Second,
		})
	}

	if cfg.EnableRateLimit {
		rate := cfg.RatePerSecond
		if rate <= 0 {
			rate = 50
		}
		rc.rateLimit = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    rate * 2,
			Interval: time.Second,
		})
		rc.rateWait = cfg.RateLimitWait
		if rc.rateWait <= 0 {
			rc.rateWait = 2 * time.Second
		}
	}

	return rc
}

func (c *ResilientClient) Evaluate(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]vars.Value, error) {
	if len(tasks) == 0 {
		return map[string]vars.Value{}, nil
	}
	out, err := c.execute(ctx, func(ctx context.Context) (outcome, error) {
		values, err := c.client.Evaluate(ctx, tasks, env)
		return wrapOutcome(outcome{values: values}, err)
	})
	if err != nil {
		return nil, err
	}
	return out.values, nil
}

func (c *ResilientClient) Booleanize(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]bool, error) {
	if len(tasks) == 0 {
		return map[string]bool{}, nil
	}
	out, err := c.execute(ctx, func(ctx context.Context) (outcome, error) {
		bools, err := c.client.Booleanize(ctx, tasks, env)
		return wrapOutcome(outcome{bools: bools}, err)
	})
	if err != nil {
		return nil, err
	}
	return out.bools, nil
}

func wrapOutcome(o outcome, err error) (outcome, error) {
	var nd *vars.NotDefinedError
	if errors.As(err, &nd) {
		return outcome{evalErr: err}, nil
	}
	return o, err
}

func (c *ResilientClient) execute(ctx context.Context, op func(context.Context) (outcome, error)) (outcome, error) {
	if c.rateLimit != nil && !c.rateLimit.Allow(ctx, c.name) {
		waitCtx, cancel := context.WithTimeout(ctx, c.rateWait)
		err := c.rateLimit.Wait(waitCtx, c.name)
		cancel()
		if err != nil {
			c.logger.Warn("evaluator rate limit exceeded", "client", c.name, "waited", c.rateWait, "error", err)
			return outcome{}, fmt.Errorf("%w: rate limit exceeded: %w", ErrUnavailable, err)
		}
	}

	operation := op
	if c.bulkhead != nil {
		operation = func(ctx context.Context) (outcome, error) {
			return c.bulkhead.Execute(ctx, op)
		}
	}

	var (
		out outcome
		err error
	)
	switch {
	case c.circuitBreaker != nil && c.retrier != nil:
		out, err = c.circuitBreaker.Execute(ctx, func(ctx context.Context) (outcome, error) {
			return c.retrier.Do(ctx, operation)
		})
	case c.circuitBreaker != nil:
		out, err = c.circuitBreaker.Execute(ctx, operation)
	case c.retrier != nil:
		out, err = c.retrier.Do(ctx, operation)
	default:
		out, err = operation(ctx)
	}

	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return outcome{}, err
	}
	if out.evalErr != nil {
		return outcome{}, out.evalErr
	}
	return out, nil
}

// Close releases resources held by the resilient client
func (c *ResilientClient) Close() error {
	if c.rateLimit != nil {
		return c.rateLimit.Close()
	}
	return nil
}

// isRetryable retries transport failures and transient status codes
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return errors.Is(err, ErrUnavailable) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
