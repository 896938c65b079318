// Package persistence defines the narrow storage contract the Agent
// Lifecycle & Runtime Core depends on. Implementations provide either
// tabular or document semantics; the core makes no assumption beyond
// atomic single-row writes.
package persistence

import (
	"context"

	"github.com/r3e-network/agent-core/internal/domain"
)

// ManagedAgentStore persists ManagedAgent records.
type ManagedAgentStore interface {
	UpsertManagedAgent(ctx context.Context, agent *domain.ManagedAgent) error
	DeleteManagedAgent(ctx context.Context, id string) error
	GetAllManagedAgents(ctx context.Context) ([]*domain.ManagedAgent, error)
}

// StateTransitionStore appends to the state-transition log.
type StateTransitionStore interface {
	AddStateTransition(ctx context.Context, agentID string, t domain.StateTransition) error
}

// StatementExecutor runs append-only statements (e.g. budget alert inserts)
// against backends that model persistence as parameterized statements.
type StatementExecutor interface {
	Execute(ctx context.Context, statement string, params ...interface{}) error
}

// Store is the full narrow interface the lifecycle manager persists
// through (installed by SetPersistence). Every SPEC_FULL.md persistence need is
// expressed through this composition, mirroring the teacher's
// interface-composition + compile-time assertion style.
type Store interface {
	ManagedAgentStore
	StateTransitionStore
	StatementExecutor

	// HealthCheck verifies connectivity with the underlying backend.
	HealthCheck(ctx context.Context) error
	// Close releases backend resources.
	Close(ctx context.Context) error
}
