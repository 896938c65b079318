// Package pgstore is a PostgreSQL-backed persistence.Store, grounded on
// the teacher's internal/app/storage/postgres admin store: raw
// database/sql with positional ($N) parameters, JSONB columns for nested
// structures, and github.com/lib/pq as the driver.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/r3e-network/agent-core/internal/domain"
)

// Store is a PostgreSQL-backed implementation of persistence.Store.
type Store struct {
	db *sql.DB
}

// Open establishes a PostgreSQL connection pool and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgstore: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-opened *sql.DB, used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

type agentRow struct {
	configJSON json.RawMessage
	historyJSON json.RawMessage
	healthJSON json.RawMessage
	usageJSON  json.RawMessage
	budgetJSON json.RawMessage
	tagsJSON   json.RawMessage
}

// UpsertManagedAgent inserts or updates a managed_agents row keyed by id.
func (s *Store) UpsertManagedAgent(ctx context.Context, agent *domain.ManagedAgent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("pgstore: agent id is required")
	}
	configJSON, err := json.Marshal(agent.Config)
	if err != nil {
		return err
	}
	historyJSON, err := json.Marshal(agent.StateHistory)
	if err != nil {
		return err
	}
	healthJSON, err := json.Marshal(agent.Health)
	if err != nil {
		return err
	}
	usageJSON, err := json.Marshal(agent.Usage)
	if err != nil {
		return err
	}
	budgetJSON, err := json.Marshal(agent.Budget)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(agent.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO managed_agents
		(id, org_id, state, config, state_history, health, usage, budget, tags, created_at, updated_at, last_deployed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			org_id = $2, state = $3, config = $4, state_history = $5, health = $6,
			usage = $7, budget = $8, tags = $9, updated_at = $11, last_deployed_at = $12, version = $13
	`, agent.ID, agent.OrgID, string(agent.State), configJSON, historyJSON, healthJSON,
		usageJSON, budgetJSON, tagsJSON, agent.CreatedAt, agent.UpdatedAt, toNullTime(agent.LastDeployedAt), agent.Version)
	return err
}

// DeleteManagedAgent removes a managed_agents row by id.
func (s *Store) DeleteManagedAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM managed_agents WHERE id = $1`, id)
	return err
}

// GetAllManagedAgents loads every managed_agents row.
func (s *Store) GetAllManagedAgents(ctx context.Context) ([]*domain.ManagedAgent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, state, config, state_history, health, usage, budget, tags,
		       created_at, updated_at, last_deployed_at, version
		FROM managed_agents
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ManagedAgent
	for rows.Next() {
		a := &domain.ManagedAgent{}
		var state string
		var r agentRow
		var lastDeployed sql.NullTime
		if err := rows.Scan(&a.ID, &a.OrgID, &state, &r.configJSON, &r.historyJSON,
			&r.healthJSON, &r.usageJSON, &r.budgetJSON, &r.tagsJSON, &a.CreatedAt, &a.UpdatedAt,
			&lastDeployed, &a.Version); err != nil {
			return nil, err
		}
		a.State = domain.AgentState(state)
		if err := unmarshalAgentRow(a, r); err != nil {
			return nil, err
		}
		if lastDeployed.Valid {
			t := lastDeployed.Time
			a.LastDeployedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func unmarshalAgentRow(a *domain.ManagedAgent, r agentRow) error {
	if len(r.configJSON) > 0 {
		if err := json.Unmarshal(r.configJSON, &a.Config); err != nil {
			return err
		}
	}
	if len(r.historyJSON) > 0 {
		if err := json.Unmarshal(r.historyJSON, &a.StateHistory); err != nil {
			return err
		}
	}
	if len(r.healthJSON) > 0 {
		if err := json.Unmarshal(r.healthJSON, &a.Health); err != nil {
			return err
		}
	}
	if len(r.usageJSON) > 0 {
		if err := json.Unmarshal(r.usageJSON, &a.Usage); err != nil {
			return err
		}
	}
	if len(r.budgetJSON) > 0 && string(r.budgetJSON) != "null" {
		a.Budget = &domain.BudgetConfig{}
		if err := json.Unmarshal(r.budgetJSON, a.Budget); err != nil {
			return err
		}
	}
	if len(r.tagsJSON) > 0 && string(r.tagsJSON) != "null" {
		if err := json.Unmarshal(r.tagsJSON, &a.Tags); err != nil {
			return err
		}
	}
	return nil
}

// AddStateTransition appends one row to the append-only state_transitions
// table.
func (s *Store) AddStateTransition(ctx context.Context, agentID string, t domain.StateTransition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_transitions (id, agent_id, from_state, to_state, reason, triggered_by, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), agentID, string(t.From), string(t.To), t.Reason, t.TriggeredBy, t.Error, t.Timestamp)
	return err
}

// Execute runs an append-only statement (budget alerts, audit rows) with
// positional parameters, matching the teacher's row-insert idiom.
func (s *Store) Execute(ctx context.Context, statement string, params ...interface{}) error {
	_, err := s.db.ExecContext(ctx, statement, params...)
	return err
}

// HealthCheck pings the underlying connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close releases the underlying connection pool.
func (s *Store) Close(_ context.Context) error { return s.db.Close() }

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
