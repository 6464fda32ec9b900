// Package repository defines the persistence interfaces for workflows,
// executions, pause records, audit rows, and encrypted credentials, plus the
// in-memory and SQLite implementations.
package repository

import (
	"context"
	"time"

	"github.com/relayfleet/relay/pkg/execution"
	"github.com/relayfleet/relay/pkg/workflow"
)

// WorkflowRepository supplies workflow definitions.
type WorkflowRepository interface {
	// SaveWorkflow creates or replaces a workflow definition.
	SaveWorkflow(ctx context.Context, w *workflow.Workflow) error

	// GetWorkflow retrieves a workflow by ID.
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)

	// ListActiveWorkflows returns every workflow with active=true.
	ListActiveWorkflows(ctx context.Context) ([]*workflow.Workflow, error)

	// DeleteWorkflow removes a workflow by ID.
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionRepository persists execution state.
type ExecutionRepository interface {
	// CreateExecution persists a new execution row.
	CreateExecution(ctx context.Context, e *execution.Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, id string) (*execution.Execution, error)

	// UpdateExecution replaces the stored execution state.
	UpdateExecution(ctx context.Context, e *execution.Execution) error
}

// PauseRepository persists pause records and enforces the at-most-one-active
// invariant per execution.
type PauseRepository interface {
	// CreatePause persists an active pause record. It fails with a
	// ValidationError when the execution already has an active pause.
	CreatePause(ctx context.Context, p *execution.PauseRecord) error

	// GetActivePause returns the single active pause for an execution,
	// or a NotFoundError.
	GetActivePause(ctx context.Context, executionID string) (*execution.PauseRecord, error)

	// UpdatePause replaces the stored pause record.
	UpdatePause(ctx context.Context, p *execution.PauseRecord) error

	// ListExpiredPauses returns active pauses whose timeout_at <= now.
	ListExpiredPauses(ctx context.Context, now time.Time) ([]*execution.PauseRecord, error)

	// ListExpiringPauses returns active, not-yet-warned pauses whose
	// timeout_at falls within (now, now+window].
	ListExpiringPauses(ctx context.Context, now time.Time, window time.Duration) ([]*execution.PauseRecord, error)
}

// ExecutionLogEntry is a user-visible progress row for a running execution.
type ExecutionLogEntry struct {
	ExecutionID string         `json:"execution_id"`
	CreatedAt   time.Time      `json:"created_at"`
	EventType   string         `json:"event_type"`
	Level       string         `json:"level"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	NodeName    string         `json:"node_name,omitempty"`
	NodeType    string         `json:"node_type,omitempty"`
	StepNumber  int            `json:"step_number,omitempty"`
	TotalSteps  int            `json:"total_steps,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
}

// ExecutionLogRepository records user-visible progress events.
type ExecutionLogRepository interface {
	// AppendExecutionLog appends one progress row.
	AppendExecutionLog(ctx context.Context, entry *ExecutionLogEntry) error

	// ListExecutionLogs returns the progress rows for an execution in
	// insertion order.
	ListExecutionLogs(ctx context.Context, executionID string) ([]*ExecutionLogEntry, error)
}

// APICallRecord is an append-only audit row for an outbound API call.
// Request and response fields hold metadata only; sensitive values must be
// redacted before the record reaches the repository.
type APICallRecord struct {
	Provider     string         `json:"provider"`
	Operation    string         `json:"operation"`
	Method       string         `json:"method"`
	URL          string         `json:"url"`
	StatusCode   int            `json:"status_code"`
	DurationMS   int64          `json:"duration_ms"`
	RequestMeta  map[string]any `json:"request_meta,omitempty"`
	ResponseMeta map[string]any `json:"response_meta,omitempty"`
	CalledAt     time.Time      `json:"called_at"`
}

// AuditRepository records outbound API call audit rows.
type AuditRepository interface {
	// RecordAPICall appends one audit row. The implementation redacts
	// sensitive metadata keys before write.
	RecordAPICall(ctx context.Context, rec *APICallRecord) error
}

// CredentialRecord is a stored external credential. Token fields are
// Fernet-encrypted; plaintext never reaches the repository.
type CredentialRecord struct {
	UserID                string     `json:"user_id"`
	Provider              string     `json:"provider"`
	EncryptedAccessToken  string     `json:"encrypted_access_token"`
	EncryptedRefreshToken string     `json:"encrypted_refresh_token,omitempty"`
	TokenExpiresAt        *time.Time `json:"token_expires_at,omitempty"`
	Scopes                []string   `json:"scopes,omitempty"`
	TokenType             string     `json:"token_type,omitempty"`
	IsValid               bool       `json:"is_valid"`
	LastValidatedAt       *time.Time `json:"last_validated_at,omitempty"`
	ValidationError       string     `json:"validation_error,omitempty"`
}

// CredentialRepository stores encrypted external credentials.
type CredentialRepository interface {
	// GetCredential returns the credential for (user, provider), or a
	// NotFoundError.
	GetCredential(ctx context.Context, userID, provider string) (*CredentialRecord, error)

	// UpsertCredential creates or replaces a credential row.
	UpsertCredential(ctx context.Context, rec *CredentialRecord) error

	// MarkCredentialInvalid flags a credential as unusable with the
	// given validation error.
	MarkCredentialInvalid(ctx context.Context, userID, provider, reason string) error
}

// Repository aggregates every persistence concern relayd needs.
type Repository interface {
	WorkflowRepository
	ExecutionRepository
	PauseRepository
	ExecutionLogRepository
	AuditRepository
	CredentialRepository
}
