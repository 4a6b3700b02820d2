package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskState is the lifecycle state of an ExecutionTask.
type TaskState string

const (
	TaskIdle      TaskState = "idle"
	TaskArmed     TaskState = "armed"
	TaskWatching  TaskState = "watching"
	TaskFiring    TaskState = "firing"
	TaskUnwinding TaskState = "unwinding"
	TaskDone      TaskState = "done"
	TaskAborted   TaskState = "aborted"
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskAborted
}

// OrderSide is the direction of a directional perpetual order.
type OrderSide string

const (
	SideLong  OrderSide = "long"
	SideShort OrderSide = "short"
)

// ExecutionTask is the runtime state-machine instance bound to one accepted
// Opportunity. Exactly one task may be in a non-terminal state per symbol at
// any time; the scheduler enforces this at admission.
type ExecutionTask struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Rule            ScenarioRule    `json:"rule"`
	Exchange        string          `json:"exchange"`
	Side            OrderSide       `json:"side"`
	Margin          decimal.Decimal `json:"margin"`
	Leverage        decimal.Decimal `json:"leverage"`
	FundingDeadline time.Time       `json:"funding_deadline"`
	State           TaskState       `json:"state"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Result          string          `json:"result,omitempty"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
}

// PositionSize returns the notional exposure of the entry leg.
func (t ExecutionTask) PositionSize() decimal.Decimal {
	return t.Margin.Mul(t.Leverage)
}

// SecondsToFunding returns the remaining time until the task's funding
// deadline, relative to now. Negative once the settlement has passed.
func (t ExecutionTask) SecondsToFunding(now time.Time) float64 {
	return t.FundingDeadline.Sub(now).Seconds()
}

// OrderAck is the exchange's acknowledgement of a placed directional order.
type OrderAck struct {
	OrderID     string          `json:"order_id"`
	Exchange    string          `json:"exchange"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Margin      decimal.Decimal `json:"margin"`
	Leverage    decimal.Decimal `json:"leverage"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// CloseResult is the exchange's report after closing an open position at market.
type CloseResult struct {
	Exchange    string          `json:"exchange"`
	Symbol      string          `json:"symbol"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ClosedAt    time.Time       `json:"closed_at"`
}

// Position is a live exchange position as reported by the connector.
type Position struct {
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
}
