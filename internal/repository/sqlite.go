package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/execution"
	"github.com/relayfleet/relay/pkg/workflow"
)

// SQLite is a Repository backed by an embedded SQLite database.
// Timestamps are stored as millisecond epoch integers; structured payloads
// as JSON text.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	name          TEXT NOT NULL,
	version       INTEGER NOT NULL DEFAULT 1,
	active        INTEGER NOT NULL DEFAULT 0,
	tags          TEXT,
	workflow_data TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	execution_id   TEXT PRIMARY KEY,
	workflow_id    TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	status         TEXT NOT NULL,
	trigger_source TEXT,
	trigger_data   TEXT,
	execution_data TEXT,
	result_data    TEXT,
	error_data     TEXT,
	created_at     INTEGER NOT NULL,
	started_at     INTEGER,
	completed_at   INTEGER,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow ON workflow_executions(workflow_id);

CREATE TABLE IF NOT EXISTS workflow_execution_pauses (
	id                  TEXT PRIMARY KEY,
	execution_id        TEXT NOT NULL,
	paused_at           INTEGER NOT NULL,
	paused_node_id      TEXT NOT NULL,
	pause_reason        TEXT NOT NULL,
	resume_conditions   TEXT,
	status              TEXT NOT NULL,
	timeout_at          INTEGER,
	resumed_at          INTEGER,
	resume_trigger      TEXT,
	resume_data         TEXT,
	cancelled_at        INTEGER,
	cancellation_reason TEXT,
	expiry_warned       INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_pause
	ON workflow_execution_pauses(execution_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS external_api_call_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	provider      TEXT NOT NULL,
	operation     TEXT,
	method        TEXT,
	url           TEXT,
	status_code   INTEGER,
	duration_ms   INTEGER,
	request_meta  TEXT,
	response_meta TEXT,
	called_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_external_credentials (
	user_id                 TEXT NOT NULL,
	provider                TEXT NOT NULL,
	encrypted_access_token  TEXT NOT NULL,
	encrypted_refresh_token TEXT,
	token_expires_at        INTEGER,
	scope                   TEXT,
	token_type              TEXT,
	is_valid                INTEGER NOT NULL DEFAULT 1,
	last_validated_at       INTEGER,
	validation_error        TEXT,
	PRIMARY KEY (user_id, provider)
);

CREATE TABLE IF NOT EXISTS workflow_execution_logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	level        TEXT NOT NULL,
	message      TEXT NOT NULL,
	data         TEXT,
	node_id      TEXT,
	node_name    TEXT,
	node_type    TEXT,
	step_number  INTEGER,
	total_steps  INTEGER,
	duration_ms  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_execution_logs ON workflow_execution_logs(execution_id);
`

// OpenSQLite opens (and migrates) a SQLite repository at the given path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveWorkflow creates or replaces a workflow definition.
func (s *SQLite) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if w == nil || w.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "workflow ID cannot be empty"}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user_id, name, version, active, tags, workflow_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			version = excluded.version,
			active = excluded.active,
			tags = excluded.tags,
			workflow_data = excluded.workflow_data,
			updated_at = excluded.updated_at`,
		w.ID, w.UserID, w.Name, w.Version, boolToInt(w.Active),
		strings.Join(w.Tags, ","), string(data),
		w.CreatedAt.UnixMilli(), w.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *SQLite) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT workflow_data FROM workflows WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	var w workflow.Workflow
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	return &w, nil
}

// ListActiveWorkflows returns every workflow with active=true.
func (s *SQLite) ListActiveWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_data FROM workflows WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		var w workflow.Workflow
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			return nil, fmt.Errorf("failed to decode workflow: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow by ID.
func (s *SQLite) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	return nil
}

// CreateExecution persists a new execution row.
func (s *SQLite) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if e == nil || e.ID == "" {
		return &errors.ValidationError{Field: "execution_id", Message: "execution ID cannot be empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(execution_id, workflow_id, user_id, status, trigger_source,
			 trigger_data, execution_data, result_data, error_data,
			 created_at, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowID, e.UserID, string(e.Status), e.TriggerSource,
		jsonText(e.TriggerData), jsonText(e.ExecutionData),
		jsonText(e.ResultData), jsonText(e.ErrorData),
		e.CreatedAt.UnixMilli(), millisPtr(e.StartedAt), millisPtr(e.CompletedAt),
		e.UpdatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return &errors.ValidationError{
				Field:   "execution_id",
				Message: fmt.Sprintf("execution %s already exists", e.ID),
			}
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLite) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, user_id, status, trigger_source,
		       trigger_data, execution_data, result_data, error_data,
		       created_at, started_at, completed_at, updated_at
		FROM workflow_executions WHERE execution_id = ?`, id)

	var e execution.Execution
	var status, triggerData, executionData, resultData, errorData sql.NullString
	var createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64
	err := row.Scan(&e.ID, &e.WorkflowID, &e.UserID, &status, &e.TriggerSource,
		&triggerData, &executionData, &resultData, &errorData,
		&createdAt, &startedAt, &completedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	e.Status = execution.Status(status.String)
	e.TriggerData = jsonMap(triggerData)
	e.ExecutionData = jsonMap(executionData)
	e.ResultData = jsonMap(resultData)
	e.ErrorData = jsonMap(errorData)
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	return &e, nil
}

// UpdateExecution replaces the stored execution state.
func (s *SQLite) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = ?, trigger_data = ?, execution_data = ?,
			result_data = ?, error_data = ?, started_at = ?,
			completed_at = ?, updated_at = ?
		WHERE execution_id = ?`,
		string(e.Status), jsonText(e.TriggerData), jsonText(e.ExecutionData),
		jsonText(e.ResultData), jsonText(e.ErrorData),
		millisPtr(e.StartedAt), millisPtr(e.CompletedAt),
		e.UpdatedAt.UnixMilli(), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "execution", ID: e.ID}
	}
	return nil
}

// CreatePause persists an active pause record. The partial unique index on
// (execution_id) WHERE status='active' enforces at most one active pause.
func (s *SQLite) CreatePause(ctx context.Context, p *execution.PauseRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_execution_pauses
			(id, execution_id, paused_at, paused_node_id, pause_reason,
			 resume_conditions, status, timeout_at, expiry_warned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ExecutionID, p.PausedAt.UnixMilli(), p.PausedNodeID,
		string(p.Reason), jsonText(p.ResumeConditions), string(p.Status),
		millisPtr(p.TimeoutAt), boolToInt(p.ExpiryWarned))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return &errors.ValidationError{
				Field:   "execution_id",
				Message: fmt.Sprintf("execution %s already has an active pause", p.ExecutionID),
			}
		}
		return fmt.Errorf("failed to create pause: %w", err)
	}
	return nil
}

const pauseColumns = `
	id, execution_id, paused_at, paused_node_id, pause_reason,
	resume_conditions, status, timeout_at, resumed_at, resume_trigger,
	resume_data, cancelled_at, cancellation_reason, expiry_warned`

// GetActivePause returns the single active pause for an execution.
func (s *SQLite) GetActivePause(ctx context.Context, executionID string) (*execution.PauseRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+pauseColumns+` FROM workflow_execution_pauses
		 WHERE execution_id = ? AND status = 'active'`, executionID)
	p, err := scanPause(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "active pause", ID: executionID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pause: %w", err)
	}
	return p, nil
}

// UpdatePause replaces the stored pause record.
func (s *SQLite) UpdatePause(ctx context.Context, p *execution.PauseRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_execution_pauses SET
			status = ?, resume_conditions = ?, timeout_at = ?,
			resumed_at = ?, resume_trigger = ?, resume_data = ?,
			cancelled_at = ?, cancellation_reason = ?, expiry_warned = ?
		WHERE id = ?`,
		string(p.Status), jsonText(p.ResumeConditions), millisPtr(p.TimeoutAt),
		millisPtr(p.ResumedAt), p.ResumeTrigger, jsonText(p.ResumeData),
		millisPtr(p.CancelledAt), p.CancellationReason, boolToInt(p.ExpiryWarned),
		p.ID)
	if err != nil {
		return fmt.Errorf("failed to update pause: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "pause", ID: p.ID}
	}
	return nil
}

// ListExpiredPauses returns active pauses whose timeout_at <= now.
func (s *SQLite) ListExpiredPauses(ctx context.Context, now time.Time) ([]*execution.PauseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+pauseColumns+` FROM workflow_execution_pauses
		 WHERE status = 'active' AND timeout_at IS NOT NULL AND timeout_at <= ?
		 ORDER BY timeout_at`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired pauses: %w", err)
	}
	defer rows.Close()
	return collectPauses(rows)
}

// ListExpiringPauses returns active, not-yet-warned pauses expiring within
// the window.
func (s *SQLite) ListExpiringPauses(ctx context.Context, now time.Time, window time.Duration) ([]*execution.PauseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+pauseColumns+` FROM workflow_execution_pauses
		 WHERE status = 'active' AND expiry_warned = 0
		   AND timeout_at IS NOT NULL AND timeout_at > ? AND timeout_at <= ?
		 ORDER BY timeout_at`, now.UnixMilli(), now.Add(window).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring pauses: %w", err)
	}
	defer rows.Close()
	return collectPauses(rows)
}

// AppendExecutionLog appends one progress row.
func (s *SQLite) AppendExecutionLog(ctx context.Context, entry *ExecutionLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_execution_logs
			(execution_id, created_at, event_type, level, message, data,
			 node_id, node_name, node_type, step_number, total_steps, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, entry.CreatedAt.UnixMilli(), entry.EventType,
		entry.Level, entry.Message, jsonText(entry.Data),
		entry.NodeID, entry.NodeName, entry.NodeType,
		entry.StepNumber, entry.TotalSteps, entry.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// ListExecutionLogs returns the progress rows for an execution.
func (s *SQLite) ListExecutionLogs(ctx context.Context, executionID string) ([]*ExecutionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, created_at, event_type, level, message, data,
		       node_id, node_name, node_type, step_number, total_steps, duration_ms
		FROM workflow_execution_logs WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		var createdAt int64
		var data sql.NullString
		if err := rows.Scan(&e.ExecutionID, &createdAt, &e.EventType, &e.Level,
			&e.Message, &data, &e.NodeID, &e.NodeName, &e.NodeType,
			&e.StepNumber, &e.TotalSteps, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		e.Data = jsonMap(data)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// RecordAPICall appends one redacted audit row.
func (s *SQLite) RecordAPICall(ctx context.Context, rec *APICallRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_api_call_logs
			(provider, operation, method, url, status_code, duration_ms,
			 request_meta, response_meta, called_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Provider, rec.Operation, rec.Method, rec.URL, rec.StatusCode,
		rec.DurationMS, jsonText(RedactMeta(rec.RequestMeta)),
		jsonText(RedactMeta(rec.ResponseMeta)), rec.CalledAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record API call: %w", err)
	}
	return nil
}

// GetCredential returns the credential for (user, provider).
func (s *SQLite) GetCredential(ctx context.Context, userID, provider string) (*CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, encrypted_access_token, encrypted_refresh_token,
		       token_expires_at, scope, token_type, is_valid, last_validated_at,
		       validation_error
		FROM user_external_credentials WHERE user_id = ? AND provider = ?`,
		userID, provider)

	var rec CredentialRecord
	var refresh, scope, tokenType, validationError sql.NullString
	var expiresAt, validatedAt sql.NullInt64
	var isValid int
	err := row.Scan(&rec.UserID, &rec.Provider, &rec.EncryptedAccessToken,
		&refresh, &expiresAt, &scope, &tokenType, &isValid, &validatedAt,
		&validationError)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "credential", ID: userID + "/" + provider}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	rec.EncryptedRefreshToken = refresh.String
	rec.TokenExpiresAt = timePtr(expiresAt)
	if scope.String != "" {
		rec.Scopes = strings.Split(scope.String, ",")
	}
	rec.TokenType = tokenType.String
	rec.IsValid = isValid != 0
	rec.LastValidatedAt = timePtr(validatedAt)
	rec.ValidationError = validationError.String
	return &rec, nil
}

// UpsertCredential creates or replaces a credential row.
func (s *SQLite) UpsertCredential(ctx context.Context, rec *CredentialRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_external_credentials
			(user_id, provider, encrypted_access_token, encrypted_refresh_token,
			 token_expires_at, scope, token_type, is_valid, last_validated_at,
			 validation_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			encrypted_access_token = excluded.encrypted_access_token,
			encrypted_refresh_token = excluded.encrypted_refresh_token,
			token_expires_at = excluded.token_expires_at,
			scope = excluded.scope,
			token_type = excluded.token_type,
			is_valid = excluded.is_valid,
			last_validated_at = excluded.last_validated_at,
			validation_error = excluded.validation_error`,
		rec.UserID, rec.Provider, rec.EncryptedAccessToken, rec.EncryptedRefreshToken,
		millisPtr(rec.TokenExpiresAt), strings.Join(rec.Scopes, ","),
		rec.TokenType, boolToInt(rec.IsValid), millisPtr(rec.LastValidatedAt),
		rec.ValidationError)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// MarkCredentialInvalid flags a credential as unusable.
func (s *SQLite) MarkCredentialInvalid(ctx context.Context, userID, provider, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_external_credentials
		SET is_valid = 0, validation_error = ?, last_validated_at = ?
		WHERE user_id = ? AND provider = ?`,
		reason, time.Now().UTC().UnixMilli(), userID, provider)
	if err != nil {
		return fmt.Errorf("failed to mark credential invalid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "credential", ID: userID + "/" + provider}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPause(row rowScanner) (*execution.PauseRecord, error) {
	var p execution.PauseRecord
	var reason, status string
	var conditions, resumeTrigger, resumeData, cancelReason sql.NullString
	var pausedAt int64
	var timeoutAt, resumedAt, cancelledAt sql.NullInt64
	var warned int
	err := row.Scan(&p.ID, &p.ExecutionID, &pausedAt, &p.PausedNodeID, &reason,
		&conditions, &status, &timeoutAt, &resumedAt, &resumeTrigger,
		&resumeData, &cancelledAt, &cancelReason, &warned)
	if err != nil {
		return nil, err
	}
	p.Reason = execution.PauseReason(reason)
	p.Status = execution.PauseStatus(status)
	p.PausedAt = time.UnixMilli(pausedAt).UTC()
	p.ResumeConditions = jsonMap(conditions)
	p.TimeoutAt = timePtr(timeoutAt)
	p.ResumedAt = timePtr(resumedAt)
	p.ResumeTrigger = resumeTrigger.String
	p.ResumeData = jsonMap(resumeData)
	p.CancelledAt = timePtr(cancelledAt)
	p.CancellationReason = cancelReason.String
	p.ExpiryWarned = warned != 0
	return &p, nil
}

func collectPauses(rows *sql.Rows) ([]*execution.PauseRecord, error) {
	var out []*execution.PauseRecord
	for rows.Next() {
		p, err := scanPause(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pause: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonText(m map[string]any) any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(data)
}

func jsonMap(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
