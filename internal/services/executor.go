package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/exchange"
	"github.com/fluxquant/fundarb/internal/models"
)

// SchedulerConfig holds the execution scheduler's timing tunables.
type SchedulerConfig struct {
	// AdmissionWindow is how close to the funding deadline an opportunity
	// must be to be armed; anything further out is dropped, not queued.
	AdmissionWindow time.Duration
	// WatchInterval is the watch-state recheck period.
	WatchInterval time.Duration
	// SettleGrace is how long past the funding moment to wait before
	// unwinding, so the settlement has definitely been credited.
	SettleGrace time.Duration
	// TargetLeverage sizes the entry leg together with the margin budget.
	TargetLeverage decimal.Decimal
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.AdmissionWindow <= 0 {
		c.AdmissionWindow = 30 * time.Second
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = time.Second
	}
	if c.SettleGrace <= 0 {
		c.SettleGrace = 500 * time.Millisecond
	}
	if c.TargetLeverage.IsZero() {
		c.TargetLeverage = decimal.NewFromInt(3)
	}
	return c
}

// ExecutionScheduler owns the per-opportunity execution state machine:
// Idle → Armed → Watching → Firing → Unwinding → Done, with Aborted reachable
// from any non-terminal state. Each accepted opportunity runs as its own
// goroutine with a 1-second watch timer, so the scan loop is never blocked
// waiting on a funding deadline. There is no external cancel: a task only
// aborts through its own deadline logic, or on process shutdown.
type ExecutionScheduler struct {
	registry *exchange.Registry
	ledger   *PositionLedger
	notifier Notifier
	monitor  *PerformanceMonitor
	logger   *logrus.Logger
	cfg      SchedulerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutionScheduler creates a scheduler. Close releases its tasks on
// process shutdown.
func NewExecutionScheduler(
	registry *exchange.Registry,
	ledger *PositionLedger,
	notifier Notifier,
	monitor *PerformanceMonitor,
	cfg SchedulerConfig,
	logger *logrus.Logger,
) *ExecutionScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExecutionScheduler{
		registry: registry,
		ledger:   ledger,
		notifier: notifier,
		monitor:  monitor,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Launch admits one opportunity into the state machine. Every admission guard
// runs synchronously before anything is registered: a symbol with a
// non-terminal task, a live position on the entry exchange, or a funding
// deadline outside the admission window is rejected here and never spawns a
// task. The returned task is a snapshot taken at hand-off; live state is
// observable only through the ledger.
func (s *ExecutionScheduler) Launch(ctx context.Context, opp models.Opportunity, margin decimal.Decimal) (models.ExecutionTask, error) {
	if s.ledger.HasActive(opp.Symbol) {
		return models.ExecutionTask{}, fmt.Errorf("%w: %s", ErrTaskActive, opp.Symbol)
	}

	// Opportunities are cycle-scoped: too far out means dropped, not held for
	// a later cycle, and a past deadline never executes late.
	remaining := time.Until(opp.FundingDeadline())
	if remaining <= 0 {
		s.monitor.DeadlineMissed()
		return models.ExecutionTask{}, fmt.Errorf("%w: %s", ErrDeadlineMissed, opp.Symbol)
	}
	if remaining > s.cfg.AdmissionWindow {
		return models.ExecutionTask{}, fmt.Errorf("%w: %s away, window is %s",
			ErrOutsideWindow, remaining.Round(time.Second), s.cfg.AdmissionWindow)
	}

	entryExchange, side := entryLeg(opp)
	port, ok := s.registry.Port(entryExchange)
	if !ok {
		return models.ExecutionTask{}, fmt.Errorf("no connector registered for exchange %s", entryExchange)
	}

	// The one synchronous collaborator call before committing: live positions
	// on the entry exchange also count as "active" for this symbol.
	position, err := port.OpenPosition(ctx, opp.Symbol)
	if err != nil {
		return models.ExecutionTask{}, fmt.Errorf("failed to check open position on %s:%s: %w", entryExchange, opp.Symbol, err)
	}
	if position != nil {
		return models.ExecutionTask{}, fmt.Errorf("%w: live position on %s", ErrTaskActive, entryExchange)
	}

	task := &models.ExecutionTask{
		ID:              uuid.New().String(),
		Symbol:          opp.Symbol,
		Rule:            opp.Rule,
		Exchange:        entryExchange,
		Side:            side,
		Margin:          margin,
		Leverage:        s.cfg.TargetLeverage,
		FundingDeadline: opp.FundingDeadline(),
		State:           models.TaskIdle,
		StartedAt:       time.Now(),
	}
	if err := s.ledger.Register(task); err != nil {
		return models.ExecutionTask{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"symbol":   task.Symbol,
		"rule":     task.Rule,
		"exchange": task.Exchange,
		"side":     task.Side,
		"deadline": task.FundingDeadline,
	}).Info("Execution task armed")

	// Snapshot before the goroutine starts; after this point the task is
	// mutated only under the ledger lock.
	snapshot := *task
	s.wg.Add(1)
	go s.run(task, port)

	return snapshot, nil
}

// Close stops accepting work and releases running tasks, then waits for them.
func (s *ExecutionScheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// run drives one task from Armed to a terminal state. Admission was already
// settled synchronously in Launch, so the goroutine starts watching at once.
func (s *ExecutionScheduler) run(task *models.ExecutionTask, port exchange.Port) {
	defer s.wg.Done()

	deadline := task.FundingDeadline
	s.ledger.UpdateTaskState(task.Symbol, models.TaskWatching)

	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()

watching:
	for {
		select {
		case <-s.ctx.Done():
			s.finish(task, models.TaskAborted, "scheduler shutting down", decimal.Zero)
			return
		case <-ticker.C:
			secondsToFunding := task.SecondsToFunding(time.Now())
			switch {
			case secondsToFunding <= 0:
				// Missed the window; never execute late.
				s.monitor.DeadlineMissed()
				s.finish(task, models.TaskAborted, ErrDeadlineMissed.Error(), decimal.Zero)
				return
			case secondsToFunding <= 1:
				break watching
			default:
				s.logger.WithFields(logrus.Fields{
					"task_id":            task.ID,
					"symbol":             task.Symbol,
					"seconds_to_funding": secondsToFunding,
				}).Debug("Watching funding deadline")
			}
		}
	}

	// Firing: place the entry leg. A rejected entry aborts cleanly before any
	// exposure is taken.
	s.ledger.UpdateTaskState(task.Symbol, models.TaskFiring)
	ack, err := port.PlaceDirectionalOrder(s.ctx, task.Symbol, task.Side, task.Margin, task.Leverage)
	if err != nil {
		s.monitor.OrderFailed()
		orderErr := &OrderFailure{Stage: "entry", Exchange: task.Exchange, Symbol: task.Symbol, Side: task.Side, Err: err}
		s.logger.WithError(orderErr).Error("Entry order failed")
		s.finish(task, models.TaskAborted, orderErr.Error(), decimal.Zero)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"task_id":      task.ID,
		"order_id":     ack.OrderID,
		"filled_price": ack.FilledPrice.String(),
	}).Info("Entry leg filled")

	// Let the funding moment elapse before unwinding.
	if wait := time.Until(deadline); wait > 0 {
		select {
		case <-s.ctx.Done():
		case <-time.After(wait):
		}
	}
	select {
	case <-s.ctx.Done():
	case <-time.After(s.cfg.SettleGrace):
	}

	// Unwinding: close at market. Failure here is the one state with real
	// capital at risk, so it escalates and halts automation for this task.
	s.ledger.UpdateTaskState(task.Symbol, models.TaskUnwinding)
	// The unwind must run even during shutdown: exposure is live here.
	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(s.ctx), 15*time.Second)
	defer cancelClose()
	result, err := port.ClosePosition(closeCtx, task.Symbol)
	if err != nil {
		s.monitor.OrderFailed()
		orderErr := &OrderFailure{Stage: "unwind", Exchange: task.Exchange, Symbol: task.Symbol, Side: task.Side, Err: err}
		s.logger.WithError(orderErr).Error("Unwind failed, position left open")
		s.ledger.FlagOpenPosition(models.Position{
			Exchange:   task.Exchange,
			Symbol:     task.Symbol,
			Side:       task.Side,
			Size:       task.PositionSize(),
			EntryPrice: ack.FilledPrice,
			OpenedAt:   ack.PlacedAt,
		})
		s.notifier.NotifyUrgent(s.ctx, fmt.Sprintf("unwind failed on %s:%s, position of %s left open: %v",
			s.registry.DisplayName(task.Exchange), task.Symbol, task.PositionSize(), err))
		s.finish(task, models.TaskAborted, orderErr.Error(), decimal.Zero)
		return
	}

	s.finish(task, models.TaskDone, fmt.Sprintf("hedge cycle complete, realized %s", result.RealizedPnL), result.RealizedPnL)
}

// finish moves a task to its terminal state, updates the ledger, and emits the
// terminal notification.
func (s *ExecutionScheduler) finish(task *models.ExecutionTask, state models.TaskState, result string, realized decimal.Decimal) {
	s.ledger.RecordCompletion(task, state, result, realized)
	s.notifier.Notify(s.ctx, fmt.Sprintf("[%s] %s on %s: %s",
		state, task.Symbol, s.registry.DisplayName(task.Exchange), result))
}

// entryLeg picks the single entry leg: the side whose funding payment is
// largest in magnitude, which is where the settlement edge concentrates.
func entryLeg(opp models.Opportunity) (exchangeName string, side models.OrderSide) {
	switch opp.LegMode {
	case models.LegModeLongBoth:
		return strongerLeg(opp), models.SideLong
	case models.LegModeShortBoth:
		return strongerLeg(opp), models.SideShort
	default:
		if opp.LongFundingRate.Abs().GreaterThanOrEqual(opp.ShortFundingRate.Abs()) {
			return opp.LongExchange, models.SideLong
		}
		return opp.ShortExchange, models.SideShort
	}
}

func strongerLeg(opp models.Opportunity) string {
	if opp.LongFundingRate.Abs().GreaterThanOrEqual(opp.ShortFundingRate.Abs()) {
		return opp.LongExchange
	}
	return opp.ShortExchange
}
