package configstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const peripheralColumns = "id, name, interface, connection_params, channel_to_virtual_index, server_side_path, remote_side_path, created_at, updated_at"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGStore builds a PGStore.
func NewPGStore(db *pgxpool.Pool, logger zerolog.Logger) *PGStore {
	return &PGStore{db: db, log: logger.With().Str("component", "configstore").Logger()}
}

// GetPeripherals returns every registered peripheral, ordered by name. A row whose connection_params or
// channel_to_virtual_index JSONB fails to decode is skipped with a logged warning, matching
// ConfigManager.get_peripherals' best-effort json.loads fallback.
func (s *PGStore) GetPeripherals(ctx context.Context) ([]Peripheral, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT %s FROM peripherals ORDER BY name", peripheralColumns))
	if err != nil {
		return nil, fmt.Errorf("configstore: query peripherals: %w", err)
	}
	defer rows.Close()

	var out []Peripheral
	for rows.Next() {
		var p Peripheral
		var connectionParams, channelToVI []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Interface, &connectionParams, &channelToVI,
			&p.ServerSidePath, &p.RemoteSidePath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("configstore: scan peripheral: %w", err)
		}

		if err := json.Unmarshal(connectionParams, &p.ConnectionParams); err != nil {
			s.log.Warn().Err(err).Str("peripheral", p.Name).Msg("skipping malformed connection_params")
			continue
		}
		if err := json.Unmarshal(channelToVI, &p.ChannelToVirtualIndex); err != nil {
			s.log.Warn().Err(err).Str("peripheral", p.Name).Msg("skipping malformed channel_to_virtual_index")
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: iterate peripherals: %w", err)
	}
	return out, nil
}

// GetAutomations returns every automation, ordered by name.
func (s *PGStore) GetAutomations(ctx context.Context) ([]Automation, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, created_at, updated_at FROM automations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("configstore: query automations: %w", err)
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		var a Automation
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("configstore: scan automation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: iterate automations: %w", err)
	}
	return out, nil
}

// GetTriggers returns every trigger across every automation.
func (s *PGStore) GetTriggers(ctx context.Context) ([]Trigger, error) {
	rows, err := s.db.Query(ctx, "SELECT id, automation_id, description, queue_name FROM triggers")
	if err != nil {
		return nil, fmt.Errorf("configstore: query triggers: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.ID, &t.AutomationID, &t.Description, &t.QueueName); err != nil {
			return nil, fmt.Errorf("configstore: scan trigger: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: iterate triggers: %w", err)
	}
	return out, nil
}

// GetActions returns every action belonging to automationID.
func (s *PGStore) GetActions(ctx context.Context, automationID uuid.UUID) ([]Action, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, automation_id, description, action_config FROM actions WHERE automation_id = $1", automationID)
	if err != nil {
		return nil, fmt.Errorf("configstore: query actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.AutomationID, &a.Description, &a.ActionConfig); err != nil {
			return nil, fmt.Errorf("configstore: scan action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: iterate actions: %w", err)
	}
	return out, nil
}

// LogOperation inserts one row into operation_records. It never returns an error that should stop the caller's own
// operation — the contract in spec.md treats logging as best-effort — but the error is still returned so the caller
// can decide whether to log it.
func (s *PGStore) LogOperation(ctx context.Context, operationType, status, details string) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO operation_records (operation_type, status, details) VALUES ($1, $2, $3)",
		operationType, status, details)
	if err != nil {
		return fmt.Errorf("configstore: log operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operation records, newest first.
func (s *PGStore) ListOperations(ctx context.Context, limit int) ([]OperationRecord, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, operation_type, status, details, created_at FROM operation_records ORDER BY created_at DESC LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("configstore: query operations: %w", err)
	}
	defer rows.Close()

	var out []OperationRecord
	for rows.Next() {
		var o OperationRecord
		if err := rows.Scan(&o.ID, &o.OperationType, &o.Status, &o.Details, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("configstore: scan operation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: iterate operations: %w", err)
	}
	return out, nil
}

var _ Store = (*PGStore)(nil)
