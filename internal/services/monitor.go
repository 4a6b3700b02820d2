package services

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// PerformanceMonitor accumulates per-cycle engine counters and samples process
// resource usage for the health endpoint. All counters are atomics; reads
// never block the scan path.
type PerformanceMonitor struct {
	logger *logrus.Logger
	proc   *process.Process

	cyclesTotal     atomic.Uint64
	ticksSkipped    atomic.Uint64
	collectorErrors atomic.Uint64
	candidatesSeen  atomic.Uint64
	admissions      atomic.Uint64
	rejections      atomic.Uint64
	deadlinesMissed atomic.Uint64
	orderFailures   atomic.Uint64
	lastScanUnixNs  atomic.Int64
}

// MonitorSnapshot is a point-in-time view of the monitor's counters plus
// process resource usage.
type MonitorSnapshot struct {
	CyclesTotal     uint64    `json:"cycles_total"`
	TicksSkipped    uint64    `json:"ticks_skipped"`
	CollectorErrors uint64    `json:"collector_errors"`
	CandidatesSeen  uint64    `json:"candidates_seen"`
	Admissions      uint64    `json:"admissions"`
	Rejections      uint64    `json:"rejections"`
	DeadlinesMissed uint64    `json:"deadlines_missed"`
	OrderFailures   uint64    `json:"order_failures"`
	LastScanAt      time.Time `json:"last_scan_at"`

	ProcessMemoryMB float64 `json:"process_memory_mb"`
	ProcessCPUPct   float64 `json:"process_cpu_pct"`
	SystemMemoryPct float64 `json:"system_memory_pct"`
}

// NewPerformanceMonitor creates a monitor bound to the current process.
func NewPerformanceMonitor(logger *logrus.Logger) *PerformanceMonitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WithError(err).Warn("Failed to attach process monitor, resource stats disabled")
		proc = nil
	}
	return &PerformanceMonitor{logger: logger, proc: proc}
}

func (m *PerformanceMonitor) CycleCompleted(at time.Time) {
	m.cyclesTotal.Add(1)
	m.lastScanUnixNs.Store(at.UnixNano())
}

func (m *PerformanceMonitor) TickSkipped()    { m.ticksSkipped.Add(1) }
func (m *PerformanceMonitor) DeadlineMissed() { m.deadlinesMissed.Add(1) }
func (m *PerformanceMonitor) OrderFailed()    { m.orderFailures.Add(1) }
func (m *PerformanceMonitor) Admitted()       { m.admissions.Add(1) }
func (m *PerformanceMonitor) Rejected()       { m.rejections.Add(1) }

func (m *PerformanceMonitor) CollectorFailed(n int) {
	if n > 0 {
		m.collectorErrors.Add(uint64(n))
	}
}

func (m *PerformanceMonitor) CandidatesFound(n int) {
	if n > 0 {
		m.candidatesSeen.Add(uint64(n))
	}
}

func (m *PerformanceMonitor) CyclesTotal() uint64     { return m.cyclesTotal.Load() }
func (m *PerformanceMonitor) TicksSkipped() uint64    { return m.ticksSkipped.Load() }
func (m *PerformanceMonitor) CollectorErrors() uint64 { return m.collectorErrors.Load() }

// LastScanAt returns the completion time of the most recent cycle, or the
// zero time when no cycle has run.
func (m *PerformanceMonitor) LastScanAt() time.Time {
	ns := m.lastScanUnixNs.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Snapshot returns the counters plus best-effort process resource stats.
func (m *PerformanceMonitor) Snapshot() MonitorSnapshot {
	snapshot := MonitorSnapshot{
		CyclesTotal:     m.cyclesTotal.Load(),
		TicksSkipped:    m.ticksSkipped.Load(),
		CollectorErrors: m.collectorErrors.Load(),
		CandidatesSeen:  m.candidatesSeen.Load(),
		Admissions:      m.admissions.Load(),
		Rejections:      m.rejections.Load(),
		DeadlinesMissed: m.deadlinesMissed.Load(),
		OrderFailures:   m.orderFailures.Load(),
		LastScanAt:      m.LastScanAt(),
	}

	if m.proc != nil {
		if memInfo, err := m.proc.MemoryInfo(); err == nil && memInfo != nil {
			snapshot.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
		if cpuPct, err := m.proc.CPUPercent(); err == nil {
			snapshot.ProcessCPUPct = cpuPct
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		snapshot.SystemMemoryPct = vm.UsedPercent
	}
	return snapshot
}
