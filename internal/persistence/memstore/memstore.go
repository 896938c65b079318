// Package memstore is an in-process, map-backed persistence.Store. It is
// the default backend for development and the reference implementation
// exercised by the lifecycle/budget test suites, grounded on the teacher's
// infrastructure/state.MemoryBackend write-through pattern.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/r3e-network/agent-core/internal/domain"
)

// Store is a thread-safe, in-memory persistence.Store.
type Store struct {
	mu         sync.RWMutex
	agents     map[string]*domain.ManagedAgent
	statements []statement
}

type statement struct {
	text   string
	params []interface{}
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{agents: make(map[string]*domain.ManagedAgent)}
}

// UpsertManagedAgent stores a deep copy of agent keyed by its id.
func (s *Store) UpsertManagedAgent(_ context.Context, agent *domain.ManagedAgent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("memstore: agent id is required")
	}
	cp := *agent
	cp.StateHistory = append([]domain.StateTransition(nil), agent.StateHistory...)
	cp.Health.RecentChecks = append([]domain.HealthCheckResult(nil), agent.Health.RecentChecks...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = &cp
	return nil
}

// DeleteManagedAgent removes the agent record, if present.
func (s *Store) DeleteManagedAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

// GetAllManagedAgents returns a snapshot copy of every stored agent.
func (s *Store) GetAllManagedAgents(_ context.Context) ([]*domain.ManagedAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ManagedAgent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		cp.StateHistory = append([]domain.StateTransition(nil), a.StateHistory...)
		cp.Health.RecentChecks = append([]domain.HealthCheckResult(nil), a.Health.RecentChecks...)
		out = append(out, &cp)
	}
	return out, nil
}

// AddStateTransition appends a transition onto the stored agent's history,
// mirroring the cap enforced in-memory by the lifecycle manager.
func (s *Store) AddStateTransition(_ context.Context, agentID string, t domain.StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("memstore: unknown agent %q", agentID)
	}
	a.AppendTransition(t)
	return nil
}

// Execute records an append-only statement (e.g. a budget alert insert).
// memstore keeps these only for observability/testing; it does not
// interpret statement text.
func (s *Store) Execute(_ context.Context, text string, params ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = append(s.statements, statement{text: text, params: params})
	return nil
}

// Statements returns the append-only statements recorded via Execute, for
// test assertions.
func (s *Store) Statements() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.statements))
	for i, st := range s.statements {
		out[i] = st.text
	}
	return out
}

// HealthCheck always succeeds; there is no external backend.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the in-memory backend.
func (s *Store) Close(_ context.Context) error { return nil }
