package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/exchange"
	"github.com/fluxquant/fundarb/internal/models"
)

// OpportunityStore publishes each cycle's ranked opportunities for observers
// (the HTTP read path serves from it instead of touching the engine).
type OpportunityStore interface {
	Publish(ctx context.Context, opportunities []models.Opportunity) error
}

// EngineConfig holds the driver loop's tunables.
type EngineConfig struct {
	// ScanInterval is the fixed driver tick.
	ScanInterval time.Duration
	// Symbols restricts scanning; empty means every perpetual the venues offer.
	Symbols []string
	// BroadcastLimit bounds the published ranked set; ExecutionLimit bounds
	// the slice considered for admission.
	BroadcastLimit int
	ExecutionLimit int
	// MarginFraction is the share of the entry venue's free margin committed
	// to one task.
	MarginFraction decimal.Decimal
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 10 * time.Second
	}
	if c.BroadcastLimit <= 0 {
		c.BroadcastLimit = DefaultBroadcastLimit
	}
	if c.ExecutionLimit <= 0 {
		c.ExecutionLimit = DefaultExecutionLimit
	}
	if c.MarginFraction.IsZero() {
		c.MarginFraction = decimal.NewFromFloat(0.1)
	}
	return c
}

// OpportunityEngine is the driver: a fixed-interval tick pulls funding
// snapshots from every exchange, runs the strict
// classify → estimate → rank → gate pipeline, and hands at most one admitted
// opportunity per cycle to the execution scheduler. A tick that fires while
// the previous cycle is still running is skipped, never queued.
type OpportunityEngine struct {
	registry   *exchange.Registry
	classifier *Classifier
	ranker     *Ranker
	riskGate   *RiskGate
	scheduler  *ExecutionScheduler
	ledger     *PositionLedger
	store      OpportunityStore
	monitor    *PerformanceMonitor
	logger     *logrus.Logger
	cfg        EngineConfig

	// scanMu is the in-flight-cycle guard.
	scanMu sync.Mutex

	mu                sync.RWMutex
	limits            models.RiskLimits
	enabled           bool
	running           bool
	lastOpportunities []models.Opportunity

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOpportunityEngine wires the pipeline. The store may be nil when no cache
// is configured.
func NewOpportunityEngine(
	registry *exchange.Registry,
	classifier *Classifier,
	ranker *Ranker,
	riskGate *RiskGate,
	scheduler *ExecutionScheduler,
	ledger *PositionLedger,
	store OpportunityStore,
	monitor *PerformanceMonitor,
	limits models.RiskLimits,
	cfg EngineConfig,
	logger *logrus.Logger,
) *OpportunityEngine {
	return &OpportunityEngine{
		registry:   registry,
		classifier: classifier,
		ranker:     ranker,
		riskGate:   riskGate,
		scheduler:  scheduler,
		ledger:     ledger,
		store:      store,
		monitor:    monitor,
		logger:     logger,
		limits:     limits,
		cfg:        cfg.withDefaults(),
		enabled:    true,
	}
}

// Start begins the periodic scan loop.
func (e *OpportunityEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("opportunity engine is already running")
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true

	e.wg.Add(1)
	go e.runLoop()

	e.logger.WithField("scan_interval", e.cfg.ScanInterval).Info("Opportunity engine started")
	return nil
}

// Stop halts the scan loop and waits for in-flight execution tasks to reach a
// terminal state.
func (e *OpportunityEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.running = false
	e.mu.Unlock()

	e.wg.Wait()
	e.scheduler.Close()
	e.logger.Info("Opportunity engine stopped")
}

func (e *OpportunityEngine) runLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(e.ctx, e.cfg.ScanInterval)
			err := e.runCycle(cycleCtx)
			cancel()

			switch {
			case err == nil:
			case errors.Is(err, ErrScanInFlight):
				e.logger.Warn("Tick skipped, previous cycle still in flight")
			case errors.Is(err, ErrEngineDisabled):
				e.logger.Debug("Scan skipped, engine disabled")
			case errors.Is(err, ErrEmergencyStopped):
				e.logger.Warn("Scan skipped, emergency stop active")
			default:
				// One bad cycle must never halt subsequent cycles.
				e.logger.WithError(err).Error("Scan cycle failed")
			}
		}
	}
}

// ForceScan runs one cycle synchronously, for operational testing.
func (e *OpportunityEngine) ForceScan(ctx context.Context) error {
	return e.runCycle(ctx)
}

// runCycle is one complete pass of the pipeline.
func (e *OpportunityEngine) runCycle(ctx context.Context) error {
	if !e.scanMu.TryLock() {
		e.monitor.TickSkipped()
		return ErrScanInFlight
	}
	defer e.scanMu.Unlock()

	e.ledger.ResetIfNewDay(time.Now())

	if !e.IsEnabled() {
		return ErrEngineDisabled
	}
	limits := e.Limits()
	if e.ledger.ShouldEmergencyStop(limits.MaxDailyLoss) {
		// New admissions halt; Watching/Firing tasks finish on their own to
		// avoid leaving unhedged exposure.
		return ErrEmergencyStopped
	}

	snapshots, failures := e.registry.FundingSnapshots(ctx, e.cfg.Symbols)
	e.monitor.CollectorFailed(len(failures))
	if len(snapshots) == 0 {
		return fmt.Errorf("no exchange answered the snapshot fetch (%d failures)", len(failures))
	}

	candidates := e.classifier.Classify(snapshots)
	e.monitor.CandidatesFound(len(candidates))
	ranked := e.ranker.Rank(candidates, e.cfg.BroadcastLimit)

	e.mu.Lock()
	e.lastOpportunities = ranked
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Publish(ctx, ranked); err != nil {
			e.logger.WithError(err).Warn("Failed to publish opportunities to cache")
		}
	}

	e.admitBest(ctx, ranked, limits)
	e.monitor.CycleCompleted(time.Now())

	e.logger.WithFields(logrus.Fields{
		"exchanges":  len(snapshots),
		"failures":   len(failures),
		"candidates": len(candidates),
		"ranked":     len(ranked),
	}).Debug("Scan cycle completed")
	return nil
}

// admitBest hands at most one opportunity to the scheduler: the best-ranked
// candidate that clears the risk gate and the scheduler's admission guard.
func (e *OpportunityEngine) admitBest(ctx context.Context, ranked []models.Opportunity, limits models.RiskLimits) {
	execution := ranked
	if len(execution) > e.cfg.ExecutionLimit {
		execution = execution[:e.cfg.ExecutionLimit]
	}

	portfolioValue := e.portfolioValue(ctx)

	for _, opp := range execution {
		entryExchange, _ := entryLeg(opp)
		port, ok := e.registry.Port(entryExchange)
		if !ok {
			continue
		}
		available, err := port.AvailableMargin(ctx)
		if err != nil {
			e.logger.WithError(err).WithField("exchange", entryExchange).Warn("Margin lookup failed, skipping candidate")
			continue
		}
		margin := available.Mul(e.cfg.MarginFraction)
		if !margin.IsPositive() {
			continue
		}
		size := margin.Mul(e.scheduler.cfg.TargetLeverage)

		state := e.ledger.PortfolioState(portfolioValue)
		assessment := e.riskGate.Admit(opp, size, state, limits)
		if !assessment.Allowed {
			e.monitor.Rejected()
			rejection := &AdmissionRejected{Symbol: opp.Symbol, Reasons: assessment.Reasons}
			e.logger.WithField("symbol", opp.Symbol).Info(rejection.Error())
			continue
		}

		task, err := e.scheduler.Launch(ctx, opp, margin)
		if err != nil {
			e.logger.WithError(err).WithField("symbol", opp.Symbol).Info("Scheduler declined opportunity")
			// At most one hand-off per cycle, even a declined one.
			return
		}

		e.monitor.Admitted()
		e.logger.WithFields(logrus.Fields{
			"task_id": task.ID,
			"symbol":  task.Symbol,
			"rule":    task.Rule,
		}).Info("Opportunity admitted for execution")
		return
	}
}

// portfolioValue is free margin across venues plus committed task margin.
func (e *OpportunityEngine) portfolioValue(ctx context.Context) decimal.Decimal {
	total := decimal.Zero
	for _, name := range e.registry.Names() {
		port, ok := e.registry.Port(name)
		if !ok {
			continue
		}
		margin, err := port.AvailableMargin(ctx)
		if err != nil {
			continue
		}
		total = total.Add(margin)
	}
	for _, task := range e.ledger.ActiveTasks() {
		total = total.Add(task.Margin)
	}
	return total
}

// Status returns the engine's operational snapshot. It never errors: the read
// path reflects last-known-good state.
func (e *OpportunityEngine) Status() models.EngineStatus {
	limits := e.Limits()
	return models.EngineStatus{
		Enabled:          e.IsEnabled(),
		EmergencyStopped: e.ledger.ShouldEmergencyStop(limits.MaxDailyLoss),
		ActiveTasks:      e.ledger.ActiveCount(),
		DailyPnL:         e.ledger.DailyPnL(),
		ActiveByRule:     e.ledger.ActiveByRule(),
		LastScanAt:       e.monitor.LastScanAt(),
		CyclesTotal:      e.monitor.CyclesTotal(),
		TicksSkipped:     e.monitor.TicksSkipped(),
		CollectorErrors:  e.monitor.CollectorErrors(),
		Breakers:         e.registry.BreakerStates(),
	}
}

// BestOpportunities returns the most recent cycle's ranked set, truncated to
// limit.
func (e *OpportunityEngine) BestOpportunities(limit int) []models.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	opportunities := e.lastOpportunities
	if limit > 0 && len(opportunities) > limit {
		opportunities = opportunities[:limit]
	}
	out := make([]models.Opportunity, len(opportunities))
	copy(out, opportunities)
	return out
}

// RiskMetrics computes the monitoring-path portfolio risk summary.
func (e *OpportunityEngine) RiskMetrics(ctx context.Context) models.RiskMetrics {
	return e.riskGate.Metrics(e.ledger.PortfolioState(e.portfolioValue(ctx)))
}

// Enable re-admits new opportunities.
func (e *OpportunityEngine) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
}

// Disable stops new admissions; in-flight tasks are unaffected.
func (e *OpportunityEngine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = false
}

// IsEnabled reports whether scanning is administratively enabled.
func (e *OpportunityEngine) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Limits returns the current risk limits.
func (e *OpportunityEngine) Limits() models.RiskLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

// UpdateLimits applies a partial limits update after boundary validation.
func (e *OpportunityEngine) UpdateLimits(update models.RiskLimitsUpdate) (models.RiskLimits, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	applied, err := update.Apply(e.limits)
	if err != nil {
		return models.RiskLimits{}, err
	}
	e.limits = applied
	e.logger.WithFields(logrus.Fields{
		"max_position_size":  applied.MaxPositionSize.String(),
		"max_open_positions": applied.MaxOpenPositions,
		"max_daily_loss":     applied.MaxDailyLoss.String(),
	}).Info("Risk limits updated")
	return applied, nil
}

// Ledger exposes the position ledger for read paths.
func (e *OpportunityEngine) Ledger() *PositionLedger {
	return e.ledger
}

// Monitor exposes the performance monitor for the health endpoint.
func (e *OpportunityEngine) Monitor() *PerformanceMonitor {
	return e.monitor
}
