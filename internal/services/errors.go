package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fluxquant/fundarb/internal/models"
)

var (
	// ErrScanInFlight means a previous cycle is still running; the new tick is
	// skipped, not queued. Stale scans are worthless.
	ErrScanInFlight = errors.New("previous scan cycle still in flight")

	// ErrEngineDisabled means the engine is administratively disabled.
	ErrEngineDisabled = errors.New("engine is disabled")

	// ErrEmergencyStopped means the daily-loss circuit breaker has tripped.
	ErrEmergencyStopped = errors.New("emergency stop active")

	// ErrTaskActive means a non-terminal ExecutionTask already exists for the
	// symbol.
	ErrTaskActive = errors.New("execution task already active for symbol")

	// ErrDeadlineMissed means the funding deadline passed before the task
	// fired. The task ends Aborted and is never retried.
	ErrDeadlineMissed = errors.New("funding deadline missed")

	// ErrOutsideWindow means the funding deadline is further out than the
	// admission window. Opportunities are cycle-scoped and never queued.
	ErrOutsideWindow = errors.New("funding deadline outside admission window")
)

// AdmissionRejected reports a risk-gate rejection. It is informational, not a
// failure of the cycle.
type AdmissionRejected struct {
	Symbol  string
	Reasons []string
}

func (e *AdmissionRejected) Error() string {
	return fmt.Sprintf("admission rejected for %s: %s", e.Symbol, strings.Join(e.Reasons, "; "))
}

// OrderFailure reports a rejected entry or unwind order. An entry failure
// aborts cleanly before any exposure is taken; an unwind failure leaves an
// open position and must escalate.
type OrderFailure struct {
	Stage    string // "entry" or "unwind"
	Exchange string
	Symbol   string
	Side     models.OrderSide
	Err      error
}

func (e *OrderFailure) Error() string {
	return fmt.Sprintf("%s order failed on %s:%s (%s): %v", e.Stage, e.Exchange, e.Symbol, e.Side, e.Err)
}

func (e *OrderFailure) Unwrap() error { return e.Err }
