package lifecycle

import (
	"github.com/google/uuid"

	"github.com/r3e-network/agent-core/internal/domain"
)

// EventListener receives every LifecycleEvent emitted by the Manager.
// Listeners must not block; a failing listener must not break dispatch to
// the others.
type EventListener func(domain.LifecycleEvent)

type subscription struct {
	id  int
	fn  EventListener
}

// Subscribe registers fn for every future LifecycleEvent and returns an
// unsubscribe function. Dispatch order is insertion order.
func (m *Manager) Subscribe(fn EventListener) (unsubscribe func()) {
	m.subMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subscribers = append(m.subscribers, subscription{id: id, fn: fn})
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// emit constructs and dispatches a LifecycleEvent to a snapshot of the
// current subscriber list. Event emission happens after the corresponding
// state change is committed in memory, per the concurrency model.
func (m *Manager) emit(agentID, orgID string, kind domain.LifecycleEventKind, data map[string]interface{}) {
	event := domain.LifecycleEvent{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		OrgID:     orgID,
		Kind:      kind,
		Data:      data,
		Timestamp: m.now(),
	}

	m.subMu.Lock()
	snapshot := make([]subscription, len(m.subscribers))
	copy(snapshot, m.subscribers)
	m.subMu.Unlock()

	for _, s := range snapshot {
		dispatchSafely(s.fn, event)
	}
}

// dispatchSafely isolates listener panics so one broken subscriber cannot
// break dispatch to its siblings.
func dispatchSafely(fn EventListener, event domain.LifecycleEvent) {
	defer func() { _ = recover() }()
	fn(event)
}
