package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxquant/fundarb/internal/exchange"
	"github.com/fluxquant/fundarb/internal/models"
)

// memoryStore records published sets in memory.
type memoryStore struct {
	mu        sync.Mutex
	published [][]models.Opportunity
}

func (s *memoryStore) Publish(ctx context.Context, opportunities []models.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, opportunities)
	return nil
}

func (s *memoryStore) last() []models.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.published) == 0 {
		return nil
	}
	return s.published[len(s.published)-1]
}

type engineFixture struct {
	engine  *OpportunityEngine
	ledger  *PositionLedger
	monitor *PerformanceMonitor
	store   *memoryStore
	binance *exchange.PaperExchange
	bybit   *exchange.PaperExchange
}

func newEngineFixture(t *testing.T, limits models.RiskLimits, cfg EngineConfig) *engineFixture {
	t.Helper()
	logger := quietLogger()

	binance := exchange.NewPaperExchange("binance", decimal.NewFromInt(100000))
	bybit := exchange.NewPaperExchange("bybit", decimal.NewFromInt(100000))
	registry := exchange.NewRegistry([]exchange.Port{binance, bybit}, exchange.BreakerConfig{}, 5*time.Second, logger)

	ledger := NewPositionLedger(logger)
	monitor := NewPerformanceMonitor(logger)
	scheduler := NewExecutionScheduler(registry, ledger, &recordingNotifier{}, monitor, SchedulerConfig{
		WatchInterval: 10 * time.Millisecond,
		SettleGrace:   10 * time.Millisecond,
	}, logger)
	t.Cleanup(scheduler.Close)

	store := &memoryStore{}
	engine := NewOpportunityEngine(
		registry,
		NewClassifier(models.DefaultRuleSet(), NewProfitEstimator(), ClassifierConfig{}, logger),
		NewRanker(),
		NewRiskGate(logger),
		scheduler,
		ledger,
		store,
		monitor,
		limits,
		cfg,
		logger,
	)
	return &engineFixture{
		engine:  engine,
		ledger:  ledger,
		monitor: monitor,
		store:   store,
		binance: binance,
		bybit:   bybit,
	}
}

func seedOppositeSign(f *engineFixture, symbol string, nextFunding time.Time) {
	f.binance.SetFunding(models.FundingObservation{
		Symbol:          symbol,
		FundingRate:     decimal.NewFromFloat(-0.004),
		NextFundingTime: nextFunding,
		ObservedAt:      time.Now(),
	})
	f.bybit.SetFunding(models.FundingObservation{
		Symbol:          symbol,
		FundingRate:     decimal.NewFromFloat(0.003),
		NextFundingTime: nextFunding,
		ObservedAt:      time.Now(),
	})
}

func TestForceScan_EndToEnd(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(2*time.Hour))

	require.NoError(t, f.engine.ForceScan(context.Background()))

	best := f.engine.BestOpportunities(0)
	require.NotEmpty(t, best)
	assert.Equal(t, "BTCUSDT", best[0].Symbol)
	assert.Equal(t, models.RuleOppositeSign, best[0].Rule)
	assert.True(t, best[0].ExpectedProfit.Equal(decimal.NewFromFloat(0.007)), "got %s", best[0].ExpectedProfit)

	// The cycle published to the store and bumped the counters.
	require.NotNil(t, f.store.last())
	assert.Equal(t, uint64(1), f.monitor.CyclesTotal())
	assert.False(t, f.monitor.LastScanAt().IsZero())
}

func TestForceScan_AdmitsAtMostOne(t *testing.T) {
	// 1% of 100k margin at 3x leverage stays inside the default size cap.
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{MarginFraction: decimal.NewFromFloat(0.01)})
	// Both symbols are executable within the admission window.
	nextFunding := time.Now().Add(20 * time.Second)
	seedOppositeSign(f, "BTCUSDT", nextFunding)
	seedOppositeSign(f, "ETHUSDT", nextFunding)

	require.NoError(t, f.engine.ForceScan(context.Background()))

	status := f.engine.Status()
	assert.Equal(t, 1, status.ActiveTasks)
	assert.Equal(t, uint64(1), f.monitor.Snapshot().Admissions)

	// Ranking still broadcast both.
	assert.Len(t, f.engine.BestOpportunities(0), 2)
}

func TestForceScan_OutsideWindowNotCountedAsAdmission(t *testing.T) {
	// Small margin fraction so the candidate clears the risk gate and the
	// scheduler's own window check is what declines it.
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{MarginFraction: decimal.NewFromFloat(0.01)})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(2*time.Hour))

	require.NoError(t, f.engine.ForceScan(context.Background()))

	assert.Equal(t, uint64(0), f.monitor.Snapshot().Admissions)
	assert.Equal(t, 0, f.ledger.ActiveCount())
}

func TestForceScan_RiskGateRejection(t *testing.T) {
	limits := models.DefaultRiskLimits()
	limits.MaxPositionSize = decimal.NewFromInt(100)

	// 10% of 100k margin at 3x leverage is far over a 100 cap.
	f := newEngineFixture(t, limits, EngineConfig{})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(20*time.Second))

	require.NoError(t, f.engine.ForceScan(context.Background()))

	assert.Equal(t, 0, f.ledger.ActiveCount())
	assert.Equal(t, uint64(1), f.monitor.Snapshot().Rejections)
}

func TestForceScan_Disabled(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})
	f.engine.Disable()

	err := f.engine.ForceScan(context.Background())
	assert.ErrorIs(t, err, ErrEngineDisabled)
}

func TestForceScan_EmergencyStop(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(20*time.Second))

	// Realize a loss past the daily limit.
	task := &models.ExecutionTask{Symbol: "XXXUSDT", Rule: models.RuleOppositeSign, State: models.TaskArmed, StartedAt: time.Now()}
	require.NoError(t, f.ledger.Register(task))
	f.ledger.RecordCompletion(task, models.TaskDone, "completed", decimal.NewFromInt(-501))

	err := f.engine.ForceScan(context.Background())
	assert.ErrorIs(t, err, ErrEmergencyStopped)
	assert.Equal(t, 0, f.ledger.ActiveCount())
	assert.True(t, f.engine.Status().EmergencyStopped)
}

func TestForceScan_EmergencyStopClearsOnNewDay(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})

	task := &models.ExecutionTask{Symbol: "XXXUSDT", Rule: models.RuleOppositeSign, State: models.TaskArmed, StartedAt: time.Now()}
	require.NoError(t, f.ledger.Register(task))
	f.ledger.RecordCompletion(task, models.TaskDone, "completed", decimal.NewFromInt(-501))
	require.True(t, f.engine.Status().EmergencyStopped)

	f.ledger.ResetIfNewDay(time.Now().Add(24 * time.Hour))
	assert.False(t, f.engine.Status().EmergencyStopped)
}

func TestForceScan_InFlightGuard(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})

	// Hold the cycle lock as a running scan would.
	require.True(t, f.engine.scanMu.TryLock())
	err := f.engine.ForceScan(context.Background())
	f.engine.scanMu.Unlock()

	assert.ErrorIs(t, err, ErrScanInFlight)
	assert.Equal(t, uint64(1), f.monitor.TicksSkipped())
}

func TestForceScan_CollectorFailureIsolated(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(2*time.Hour))
	f.bybit.FailSnapshots = assert.AnError

	// One venue down: the cycle completes on the surviving snapshot.
	require.NoError(t, f.engine.ForceScan(context.Background()))
	assert.Equal(t, uint64(1), f.monitor.CollectorErrors())
	assert.Empty(t, f.engine.BestOpportunities(0), "single-venue data cannot pair")
}

func TestForceScan_AllCollectorsFailed(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})
	f.binance.FailSnapshots = assert.AnError
	f.bybit.FailSnapshots = assert.AnError

	err := f.engine.ForceScan(context.Background())
	assert.Error(t, err)
	assert.Equal(t, uint64(2), f.monitor.CollectorErrors())
}

func TestBestOpportunities_Limit(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(2*time.Hour))
	seedOppositeSign(f, "ETHUSDT", time.Now().Add(2*time.Hour))

	require.NoError(t, f.engine.ForceScan(context.Background()))

	assert.Len(t, f.engine.BestOpportunities(1), 1)
	assert.Len(t, f.engine.BestOpportunities(0), 2)
}

func TestEngine_StartStop(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{ScanInterval: 20 * time.Millisecond})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(2*time.Hour))

	require.NoError(t, f.engine.Start())
	assert.Error(t, f.engine.Start(), "second start must fail")

	require.Eventually(t, func() bool {
		return f.monitor.CyclesTotal() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	f.engine.Stop()
	// Stop is idempotent.
	f.engine.Stop()
}

func TestRiskMetrics_ReadPath(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})
	seedOppositeSign(f, "BTCUSDT", time.Now().Add(20*time.Second))
	require.NoError(t, f.engine.ForceScan(context.Background()))

	metrics := f.engine.RiskMetrics(context.Background())
	assert.Equal(t, f.ledger.ActiveCount(), metrics.OpenPositions)
	assert.False(t, metrics.ComputedAt.IsZero())
}

func TestUpdateLimits_Partial(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})

	newMax := decimal.NewFromInt(20000)
	applied, err := f.engine.UpdateLimits(models.RiskLimitsUpdate{MaxPositionSize: &newMax})
	require.NoError(t, err)
	assert.True(t, applied.MaxPositionSize.Equal(newMax))
	// Untouched fields survive.
	assert.Equal(t, models.DefaultRiskLimits().MaxOpenPositions, applied.MaxOpenPositions)
}

func TestUpdateLimits_InvalidRejected(t *testing.T) {
	f := newEngineFixture(t, models.DefaultRiskLimits(), EngineConfig{})

	bad := 0
	_, err := f.engine.UpdateLimits(models.RiskLimitsUpdate{MaxOpenPositions: &bad})
	require.Error(t, err)
	// The current limits are unchanged.
	assert.Equal(t, models.DefaultRiskLimits().MaxOpenPositions, f.engine.Limits().MaxOpenPositions)
}
