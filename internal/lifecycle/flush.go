package lifecycle

import (
	"context"
	"time"
)

// markDirty flags agentID for the next debounced flush, scheduling a
// single-shot timer if one is not already pending. The dirty set is
// mutated under a small critical section; the timer callback drains it
// atomically.
func (m *Manager) markDirty(agentID string) {
	m.dirtyMu.Lock()
	m.dirty[agentID] = true
	if m.flushTimer == nil {
		interval := m.flushEvery
		if interval <= 0 {
			interval = DefaultFlushDebounce
		}
		m.flushTimer = time.AfterFunc(interval, m.flush)
	}
	m.dirtyMu.Unlock()
}

// flush drains the dirty set and persists each affected agent exactly once.
func (m *Manager) flush() {
	m.dirtyMu.Lock()
	ids := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	m.dirty = make(map[string]bool)
	m.flushTimer = nil
	m.dirtyMu.Unlock()

	ctx := context.Background()
	m.mu.RLock()
	ready := m.storeReady
	m.mu.RUnlock()
	if !ready {
		return
	}

	for _, id := range ids {
		e, ok := m.entry(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		m.persist(ctx, e.agent)
		e.mu.Unlock()
	}
}

// flushSync is the best-effort synchronous flush used by Shutdown.
func (m *Manager) flushSync(ctx context.Context) {
	m.dirtyMu.Lock()
	ids := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	m.dirty = make(map[string]bool)
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
	m.dirtyMu.Unlock()

	for _, id := range ids {
		e, ok := m.entry(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		m.persist(ctx, e.agent)
		e.mu.Unlock()
	}
}

// ResetDaily rolls over every agent's daily usage bucket and the enforcer's
// per-day fired-alert set, marking every agent dirty for flush.
func (m *Manager) ResetDaily(ctx context.Context) {
	now := m.now()
	m.forEachAgent(func(e *agentEntry) {
		e.agent.Usage.TokensUsed.Today = 0
		e.agent.Usage.CostUSD.Today = 0
		e.agent.Usage.ToolCallsToday = 0
	})
	m.enforcer.ResetDaily(now)
	m.markAllDirty()
}

// ResetWeekly rolls over every agent's weekly usage bucket.
func (m *Manager) ResetWeekly(ctx context.Context) {
	m.forEachAgent(func(e *agentEntry) {
		e.agent.Usage.TokensUsed.Week = 0
		e.agent.Usage.CostUSD.Week = 0
	})
	m.markAllDirty()
}

// ResetMonthly rolls over every agent's monthly usage bucket.
func (m *Manager) ResetMonthly(ctx context.Context) {
	m.forEachAgent(func(e *agentEntry) {
		e.agent.Usage.TokensUsed.Month = 0
		e.agent.Usage.CostUSD.Month = 0
		e.agent.Usage.ToolCallsMonth = 0
	})
	m.markAllDirty()
}

// ResetAnnual rolls over every agent's annual usage bucket.
func (m *Manager) ResetAnnual(ctx context.Context) {
	m.forEachAgent(func(e *agentEntry) {
		e.agent.Usage.TokensUsed.Year = 0
		e.agent.Usage.CostUSD.Year = 0
	})
	m.markAllDirty()
}

func (m *Manager) forEachAgent(fn func(e *agentEntry)) {
	m.mu.RLock()
	entries := make([]*agentEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		fn(e)
		e.mu.Unlock()
	}
}

func (m *Manager) markAllDirty() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.markDirty(id)
	}
}
