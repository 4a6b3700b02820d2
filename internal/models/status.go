package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EngineStatus is the operational snapshot returned by the engine's Status
// query. It always reflects the last-known-good state; failures surface as
// counters, never as errors on the read path.
type EngineStatus struct {
	Enabled          bool                 `json:"enabled"`
	EmergencyStopped bool                 `json:"emergency_stopped"`
	ActiveTasks      int                  `json:"active_tasks"`
	DailyPnL         decimal.Decimal      `json:"daily_pnl"`
	ActiveByRule     map[ScenarioRule]int `json:"active_by_rule"`
	LastScanAt       time.Time            `json:"last_scan_at"`
	CyclesTotal      uint64               `json:"cycles_total"`
	TicksSkipped     uint64               `json:"ticks_skipped"`
	CollectorErrors  uint64               `json:"collector_errors"`
	Breakers         map[string]string    `json:"breakers,omitempty"`
}
