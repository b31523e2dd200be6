// Package configstore holds the gateway's persisted configuration — registered peripherals, automations, their
// triggers and actions — and the operation log the health server surfaces. It mirrors setup_config.py's
// ConfigManager: every read returns what is currently in the database, with malformed JSONB fields skipped and
// logged rather than failing the whole read.
package configstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Peripheral is a registered FTP/SSH endpoint this gateway manages a worker for.
type Peripheral struct {
	ID                    uuid.UUID
	Name                  string
	Interface             string
	ConnectionParams      map[string]any
	ChannelToVirtualIndex map[string]any
	ServerSidePath        string
	RemoteSidePath        string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Automation groups a set of triggers and actions under a name.
type Automation struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trigger binds a broker queue to an automation: a message delivered on QueueName runs every Action belonging to
// AutomationID.
type Trigger struct {
	ID           uuid.UUID
	AutomationID uuid.UUID
	Description  string
	QueueName    string
}

// Action is one row of the actions table: Description names the action type (e.g. "forward_to_rabbitmq"), and
// ActionConfig is its type-specific JSON configuration, both consumed by automation.BuildAction.
type Action struct {
	ID           uuid.UUID
	AutomationID uuid.UUID
	Description  string
	ActionConfig []byte
}

// OperationRecord is one entry in the operation log, mirroring operation_history's row shape from the original
// implementation's ConfigManager.log_operation/get_operations.
type OperationRecord struct {
	ID            uuid.UUID
	OperationType string
	Status        string
	Details       string
	CreatedAt     time.Time
}

// OperationReader is the read side of operation logging, consumed by the health server's /status endpoint.
type OperationReader interface {
	ListOperations(ctx context.Context, limit int) ([]OperationRecord, error)
}

// OperationLogger is the write side of operation logging, consumed by PeripheralWorker.
type OperationLogger interface {
	LogOperation(ctx context.Context, operationType, status, details string) error
}

// Store is the full data-access contract this gateway reads its live topology from and writes its operation log to.
type Store interface {
	OperationReader
	OperationLogger

	GetPeripherals(ctx context.Context) ([]Peripheral, error)
	GetAutomations(ctx context.Context) ([]Automation, error)
	GetTriggers(ctx context.Context) ([]Trigger, error)
	GetActions(ctx context.Context, automationID uuid.UUID) ([]Action, error)
}
