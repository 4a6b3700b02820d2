package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/models"
)

// PositionLedger tracks active execution tasks, realized daily P&L, and the
// emergency-stop state. It is the only state mutated by concurrent tasks, so
// every mutation is serialized behind its mutex. The ledger is process-local;
// it exists for same-process decisioning, not audit.
type PositionLedger struct {
	mu        sync.Mutex
	logger    *logrus.Logger
	active    map[string]*models.ExecutionTask // keyed by symbol
	completed map[string]models.ExecutionTask  // most recent terminal task per symbol
	flagged   []models.Position                // unwind failures awaiting manual follow-up
	dailyPnL  decimal.Decimal
	lastReset time.Time
}

// NewPositionLedger creates an empty ledger anchored to today.
func NewPositionLedger(logger *logrus.Logger) *PositionLedger {
	return &PositionLedger{
		logger:    logger,
		active:    make(map[string]*models.ExecutionTask),
		completed: make(map[string]models.ExecutionTask),
		lastReset: time.Now().UTC(),
	}
}

// Register records a new active task, promoting an Idle task to Armed. At
// most one non-terminal task may exist per symbol.
func (l *PositionLedger) Register(task *models.ExecutionTask) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.active[task.Symbol]; ok && !existing.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTaskActive, task.Symbol)
	}
	if task.State == models.TaskIdle {
		task.State = models.TaskArmed
	}
	l.active[task.Symbol] = task
	return nil
}

// UpdateTaskState mirrors a scheduler transition into the ledger so status
// queries see the live state.
func (l *PositionLedger) UpdateTaskState(symbol string, state models.TaskState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if task, ok := l.active[symbol]; ok {
		task.State = state
	}
}

// RecordCompletion finalizes the task, removes it from the active set, and
// accumulates its realized P&L into the daily total. Terminal fields are set
// here, under the ledger lock, so concurrent status reads never observe a
// half-written task.
func (l *PositionLedger) RecordCompletion(task *models.ExecutionTask, state models.TaskState, result string, realized decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	task.State = state
	task.Result = result
	task.RealizedPnL = realized
	task.CompletedAt = &now

	l.completed[task.Symbol] = *task
	delete(l.active, task.Symbol)
	l.dailyPnL = l.dailyPnL.Add(realized)

	l.logger.WithFields(logrus.Fields{
		"symbol":    task.Symbol,
		"state":     task.State,
		"realized":  realized.String(),
		"daily_pnl": l.dailyPnL.String(),
	}).Info("Execution task completed")
}

// FlagOpenPosition records a position left open by a failed unwind. The core
// does not retry; the flag exists for alerting and manual follow-up.
func (l *PositionLedger) FlagOpenPosition(position models.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flagged = append(l.flagged, position)
	l.logger.WithFields(logrus.Fields{
		"exchange": position.Exchange,
		"symbol":   position.Symbol,
		"size":     position.Size.String(),
	}).Error("Position left open after failed unwind")
}

// FlaggedPositions returns copies of positions awaiting manual follow-up.
func (l *PositionLedger) FlaggedPositions() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, len(l.flagged))
	copy(out, l.flagged)
	return out
}

// ResetIfNewDay zeroes the daily P&L when the calendar day has rolled over
// since the last reset. It returns whether a reset happened. Called at the
// start of every scan cycle.
func (l *PositionLedger) ResetIfNewDay(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowUTC := now.UTC()
	y1, m1, d1 := l.lastReset.Date()
	y2, m2, d2 := nowUTC.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return false
	}

	l.logger.WithFields(logrus.Fields{
		"previous_daily_pnl": l.dailyPnL.String(),
	}).Info("Daily P&L reset on day rollover")
	l.dailyPnL = decimal.Zero
	l.lastReset = nowUTC
	return true
}

// ShouldEmergencyStop reports whether realized daily loss exceeds the limit.
// The comparison is strictly dailyPnL < -maxDailyLoss: a profit of any size
// never trips the stop.
func (l *PositionLedger) ShouldEmergencyStop(maxDailyLoss decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnL.LessThan(maxDailyLoss.Neg())
}

// DailyPnL returns the accumulated realized P&L for the current day.
func (l *PositionLedger) DailyPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnL
}

// LastCompleted returns the most recent terminal task for the symbol.
func (l *PositionLedger) LastCompleted(symbol string) (models.ExecutionTask, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.completed[symbol]
	return task, ok
}

// HasActive reports whether a non-terminal task exists for the symbol.
func (l *PositionLedger) HasActive(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.active[symbol]
	return ok && !task.State.Terminal()
}

// ActiveCount returns the number of active tasks.
func (l *PositionLedger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// ActiveTasks returns copies of the active tasks.
func (l *PositionLedger) ActiveTasks() []models.ExecutionTask {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ExecutionTask, 0, len(l.active))
	for _, task := range l.active {
		out = append(out, *task)
	}
	return out
}

// ActiveByRule counts active tasks per scenario rule for status reporting.
// Every rule is present in the result so status payloads keep a stable shape.
func (l *PositionLedger) ActiveByRule() map[models.ScenarioRule]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[models.ScenarioRule]int, len(models.AllRules()))
	for _, rule := range models.AllRules() {
		counts[rule] = 0
	}
	for _, task := range l.active {
		counts[task.Rule]++
	}
	return counts
}

// PortfolioState assembles the exposure snapshot handed to the risk gate.
func (l *PositionLedger) PortfolioState(portfolioValue decimal.Decimal) models.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make([]models.Position, 0, len(l.active))
	for _, task := range l.active {
		positions = append(positions, models.Position{
			Exchange: task.Exchange,
			Symbol:   task.Symbol,
			Side:     task.Side,
			Size:     task.PositionSize(),
			OpenedAt: task.StartedAt,
		})
	}
	return models.PortfolioState{
		PortfolioValue: portfolioValue,
		OpenPositions:  len(positions),
		Positions:      positions,
	}
}
