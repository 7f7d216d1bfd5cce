package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// ResilientGateway wraps a gateway with resilience patterns from fortify
type ResilientGateway struct {
	gateway        Gateway
	circuitBreaker circuitbreaker.CircuitBreaker[*domain.Verdict]
	retrier        retry.Retry[*domain.Verdict]
	bulkhead       bulkhead.Bulkhead[*domain.Verdict]
	rateLimit      ratelimit.RateLimiter
	logger         *slog.Logger
}

// ResilientConfig holds configuration for the resilient wrapper
type ResilientConfig struct {
	EnableCircuitBreaker bool
	EnableRetry          bool
	EnableBulkhead       bool
	EnableRateLimit      bool

	// MaxAttempts for retry (default: 3)
	MaxAttempts int

	// RetryDelay is the initial backoff (default: 500ms)
	RetryDelay time.Duration

	// MaxConcurrent for bulkhead (default: 10)
	MaxConcurrent int

	// RatePerSecond for rate limiting (default: 20)
	RatePerSecond int

	Logger *slog.Logger
}

// DefaultResilientConfig returns defaults for grading calls
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		EnableCircuitBreaker: true,
		EnableRetry:          true,
		EnableBulkhead:       true,
		EnableRateLimit:      true,
		MaxAttempts:          3,
		RetryDelay:           500 * time.Millisecond,
		MaxConcurrent:        10,
		RatePerSecond:        20,
	}
}

// NewResilientGateway wraps a gateway with resilience patterns using fortify
func NewResilientGateway(gw Gateway, cfg ResilientConfig) *ResilientGateway {
	rg := &ResilientGateway{
		gateway: gw,
		logger:  cfg.Logger,
	}

	if cfg.EnableCircuitBreaker {
		rg.circuitBreaker = circuitbreaker.New[*domain.Verdict](circuitbreaker.Config{
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				if rg.logger != nil {
					rg.logger.Warn("grading circuit breaker state change",
						"from", from.String(),
						"to", to.String())
				}
			},
		})
	}

	if cfg.EnableRetry {
		attempts := cfg.MaxAttempts
		if attempts <= 0 {
			attempts = 3
		}
		delay := cfg.RetryDelay
		if delay <= 0 {
			delay = 500 * time.Millisecond
		}
		rg.retrier = retry.New[*domain.Verdict](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  delay,
			MaxDelay:      5 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   isRetryable,
		})
	}

	if cfg.EnableBulkhead {
		maxConcurrent := cfg.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 10
		}
		rg.bulkhead = bulkhead.New[*domain.Verdict](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxConcurrent * 2,
			QueueTimeout:  10 * time.Second,
		})
	}

	if cfg.EnableRateLimit {
		rate := cfg.RatePerSecond
		if rate <= 0 {
			rate = 20
		}
		rg.rateLimit = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    rate * 2,
			Interval: time.Second,
		})
	}

	return rg
}

func (g *ResilientGateway) Submit(ctx context.Context, sub Submission) (*domain.Verdict, error) {
	if g.rateLimit != nil {
		if !g.rateLimit.Allow(ctx, sub.ExerciseID) {
			return nil, fmt.Errorf("%w: rate limit exceeded for exercise %s", domain.ErrGateway, sub.ExerciseID)
		}
	}

	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = uuid.NewString()
	}

	operation := func(ctx context.Context) (*domain.Verdict, error) {
		return g.gateway.Submit(ctx, sub)
	}

	if g.bulkhead != nil {
		operation = func(ctx context.Context) (*domain.Verdict, error) {
			return g.bulkhead.Execute(ctx, func(ctx context.Context) (*domain.Verdict, error) {
				return g.gateway.Submit(ctx, sub)
			})
		}
	}

	var (
		verdict *domain.Verdict
		err     error
	)
	switch {
	case g.circuitBreaker != nil && g.retrier != nil:
		verdict, err = g.circuitBreaker.Execute(ctx, func(ctx context.Context) (*domain.Verdict, error) {
			return g.retrier.Do(ctx, operation)
		})
	case g.circuitBreaker != nil:
		verdict, err = g.circuitBreaker.Execute(ctx, operation)
	case g.retrier != nil:
		verdict, err = g.retrier.Do(ctx, operation)
	default:
		verdict, err = operation(ctx)
	}

	if err != nil && !errors.Is(err, domain.ErrGateway) {
		err = fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	return verdict, err
}

// Close releases resources held by the resilient gateway
func (g *ResilientGateway) Close() error {
	if g.rateLimit != nil {
		return g.rateLimit.Close()
	}
	return nil
}

// isRetryable only allows failures the service never saw. A 5xx or timeout
// may arrive after the attempt was recorded, so those are never replayed.
func isRetryable(err error) bool {
	return errors.Is(err, ErrNotDelivered)
}
