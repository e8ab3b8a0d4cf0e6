// Package resilience guards calls to flaky external services.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// Config tunes a CircuitBreaker
type Config struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call
	Cooldown time.Duration
	// Timeout bounds each call
	Timeout time.Duration
}

// CircuitBreaker stops calling a dependency after repeated failures and
// lets a single trial call through once the cooldown elapsed
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// NewCircuitBreaker creates a closed breaker for the named dependency
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: CircuitBreakerClosed,
	}
}

// Execute runs fn unless the circuit is open
func (b *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return fmt.Errorf("%s %s: %w", b.name, operation, ErrCircuitOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	err := fn(callCtx)
	b.record(operation, err)
	return err
}

// State returns the current circuit breaker state
func (b *CircuitBreaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = CircuitBreakerHalfOpen
		b.trialInFlight = true
		logger.Warn("Circuit breaker HALF-OPEN - allowing trial request",
			zap.String("dependency", b.name))
		return true
	case CircuitBreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker CLOSED - dependency recovered",
				zap.String("dependency", b.name),
				zap.String("operation", operation))
		}
		b.state = CircuitBreakerClosed
		b.consecutiveFailures = 0
		b.trialInFlight = false
		return
	}

	b.consecutiveFailures++
	b.trialInFlight = false
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("dependency", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err))
		}
		b.state = CircuitBreakerOpen
		b.openedAt = b.now()
	}
}
