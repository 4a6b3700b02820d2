package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is rejected by an open breaker.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig holds tunables for a per-exchange circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // failures before opening
	SuccessThreshold int           `json:"success_threshold"` // successes to close from half-open
	Timeout          time.Duration `json:"timeout"`           // time to wait before trying half-open
	MaxRequests      int           `json:"max_requests"`      // max requests allowed in half-open
	ResetTimeout     time.Duration `json:"reset_timeout"`     // time to reset failure count
}

// Breaker protects one exchange connector: repeated snapshot or order failures
// open the breaker, and further calls are short-circuited for a cooldown
// instead of hammering a venue that is already struggling.
type Breaker struct {
	name            string
	config          BreakerConfig
	logger          *logrus.Logger
	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	requestCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
}

// NewBreaker creates a circuit breaker for the named exchange.
func NewBreaker(name string, config BreakerConfig, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 3
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 300 * time.Second
	}

	return &Breaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           BreakerClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn with breaker protection.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	if !b.canExecute() {
		b.mu.Unlock()
		b.logger.WithFields(logrus.Fields{
			"exchange": b.name,
			"state":    b.state.String(),
		}).Warn("Circuit breaker open, rejecting call")
		return ErrBreakerOpen
	}
	b.requestCount++
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(err)
	} else {
		b.onSuccess()
	}
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) canExecute() bool {
	now := time.Now()

	switch b.state {
	case BreakerClosed:
		if now.Sub(b.lastFailureTime) > b.config.ResetTimeout {
			b.failureCount = 0
		}
		return true
	case BreakerOpen:
		if now.Sub(b.lastStateChange) > b.config.Timeout {
			b.setState(BreakerHalfOpen)
			b.requestCount = 0
			b.successCount = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		return b.requestCount < b.config.MaxRequests
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case BreakerClosed:
		b.failureCount = 0
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.setState(BreakerClosed)
			b.failureCount = 0
			b.successCount = 0
			b.requestCount = 0
		}
	}
}

func (b *Breaker) onFailure(err error) {
	b.lastFailureTime = time.Now()

	switch b.state {
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(BreakerOpen)
		}
	case BreakerHalfOpen:
		// Any failure in half-open reopens the circuit.
		b.setState(BreakerOpen)
		b.failureCount++
		b.successCount = 0
		b.requestCount = 0
	}

	b.logger.WithFields(logrus.Fields{
		"exchange":      b.name,
		"state":         b.state.String(),
		"error":         err.Error(),
		"failure_count": b.failureCount,
	}).Warn("Circuit breaker recorded failure")
}

func (b *Breaker) setState(newState BreakerState) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState
	b.lastStateChange = time.Now()

	b.logger.WithFields(logrus.Fields{
		"exchange":  b.name,
		"old_state": oldState.String(),
		"new_state": newState.String(),
	}).Info("Circuit breaker state changed")
}
