// Package observability provides in-process counters for the resolution
// engine. Handles are injected at construction rather than held in
// process-wide globals so the core stays testable in isolation.
package observability

import (
	"strconv"
	"sync/atomic"
)

const cascadeTiers = 6

// Metrics counts the interesting outcomes of the location engine. All
// methods are safe on a nil receiver so tests can omit it.
type Metrics struct {
	cascadeTierHits [cascadeTiers + 1]atomic.Int64 // index 1..6
	cascadeMisses   atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	directoryLoads  atomic.Int64
	cacheReloads    atomic.Int64
	optimizerRuns   atomic.Int64
}

func New() *Metrics { return &Metrics{} }

// ObserveCascadeTier records which tier produced a match; tier 0 means no
// tier matched.
func (m *Metrics) ObserveCascadeTier(tier int) {
	if m == nil {
		return
	}
	if tier <= 0 || tier > cascadeTiers {
		m.cascadeMisses.Add(1)
		return
	}
	m.cascadeTierHits[tier].Add(1)
}

func (m *Metrics) ObserveCacheHit() {
	if m != nil {
		m.cacheHits.Add(1)
	}
}

func (m *Metrics) ObserveCacheMiss() {
	if m != nil {
		m.cacheMisses.Add(1)
	}
}

func (m *Metrics) ObserveDirectoryLoad() {
	if m != nil {
		m.directoryLoads.Add(1)
	}
}

func (m *Metrics) ObserveCacheReload() {
	if m != nil {
		m.cacheReloads.Add(1)
	}
}

func (m *Metrics) ObserveOptimizerRun() {
	if m != nil {
		m.optimizerRuns.Add(1)
	}
}

// Snapshot returns current counter values for the health endpoint.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	out := map[string]int64{
		"cascade_misses":  m.cascadeMisses.Load(),
		"cache_hits":      m.cacheHits.Load(),
		"cache_misses":    m.cacheMisses.Load(),
		"directory_loads": m.directoryLoads.Load(),
		"cache_reloads":   m.cacheReloads.Load(),
		"optimizer_runs":  m.optimizerRuns.Load(),
	}
	for t := 1; t <= cascadeTiers; t++ {
		out["cascade_tier_"+strconv.Itoa(t)] = m.cascadeTierHits[t].Load()
	}
	return out
}
