package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/execution"
	"github.com/relayfleet/relay/pkg/workflow"
)

// Memory is an in-memory implementation of Repository.
// It is thread-safe and suitable for tests and single-instance deployments.
type Memory struct {
	mu          sync.RWMutex
	workflows   map[string]*workflow.Workflow
	executions  map[string]*execution.Execution
	pauses      map[string]*execution.PauseRecord
	logs        map[string][]*ExecutionLogEntry
	audit       []*APICallRecord
	credentials map[string]*CredentialRecord
}

// NewMemory creates a new in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		workflows:   make(map[string]*workflow.Workflow),
		executions:  make(map[string]*execution.Execution),
		pauses:      make(map[string]*execution.PauseRecord),
		logs:        make(map[string][]*ExecutionLogEntry),
		credentials: make(map[string]*CredentialRecord),
	}
}

// SaveWorkflow creates or replaces a workflow definition.
func (m *Memory) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if w == nil || w.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "workflow ID cannot be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = deepCopy(w)
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (m *Memory) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	return deepCopy(w), nil
}

// ListActiveWorkflows returns every workflow with active=true.
func (m *Memory) ListActiveWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*workflow.Workflow
	for _, w := range m.workflows {
		if w.Active {
			out = append(out, deepCopy(w))
		}
	}
	return out, nil
}

// DeleteWorkflow removes a workflow by ID.
func (m *Memory) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	delete(m.workflows, id)
	return nil
}

// CreateExecution persists a new execution row.
func (m *Memory) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if e == nil || e.ID == "" {
		return &errors.ValidationError{Field: "execution_id", Message: "execution ID cannot be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[e.ID]; exists {
		return &errors.ValidationError{
			Field:   "execution_id",
			Message: fmt.Sprintf("execution %s already exists", e.ID),
		}
	}
	m.executions[e.ID] = deepCopy(e)
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Memory) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	return deepCopy(e), nil
}

// UpdateExecution replaces the stored execution state.
func (m *Memory) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.ID]; !ok {
		return &errors.NotFoundError{Resource: "execution", ID: e.ID}
	}
	m.executions[e.ID] = deepCopy(e)
	return nil
}

// CreatePause persists an active pause record, enforcing at most one active
// pause per execution.
func (m *Memory) CreatePause(ctx context.Context, p *execution.PauseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pauses {
		if existing.ExecutionID == p.ExecutionID && existing.Status == execution.PauseActive {
			return &errors.ValidationError{
				Field:   "execution_id",
				Message: fmt.Sprintf("execution %s already has an active pause", p.ExecutionID),
			}
		}
	}
	m.pauses[p.ID] = deepCopy(p)
	return nil
}

// GetActivePause returns the single active pause for an execution.
func (m *Memory) GetActivePause(ctx context.Context, executionID string) (*execution.PauseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pauses {
		if p.ExecutionID == executionID && p.Status == execution.PauseActive {
			return deepCopy(p), nil
		}
	}
	return nil, &errors.NotFoundError{Resource: "active pause", ID: executionID}
}

// UpdatePause replaces the stored pause record.
func (m *Memory) UpdatePause(ctx context.Context, p *execution.PauseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pauses[p.ID]; !ok {
		return &errors.NotFoundError{Resource: "pause", ID: p.ID}
	}
	m.pauses[p.ID] = deepCopy(p)
	return nil
}

// ListExpiredPauses returns active pauses whose timeout_at <= now.
func (m *Memory) ListExpiredPauses(ctx context.Context, now time.Time) ([]*execution.PauseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*execution.PauseRecord
	for _, p := range m.pauses {
		if p.Status == execution.PauseActive && p.TimeoutAt != nil && !p.TimeoutAt.After(now) {
			out = append(out, deepCopy(p))
		}
	}
	return out, nil
}

// ListExpiringPauses returns active, not-yet-warned pauses expiring within
// the window.
func (m *Memory) ListExpiringPauses(ctx context.Context, now time.Time, window time.Duration) ([]*execution.PauseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline := now.Add(window)
	var out []*execution.PauseRecord
	for _, p := range m.pauses {
		if p.Status != execution.PauseActive || p.ExpiryWarned || p.TimeoutAt == nil {
			continue
		}
		if p.TimeoutAt.After(now) && !p.TimeoutAt.After(deadline) {
			out = append(out, deepCopy(p))
		}
	}
	return out, nil
}

// AppendExecutionLog appends one progress row.
func (m *Memory) AppendExecutionLog(ctx context.Context, entry *ExecutionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[entry.ExecutionID] = append(m.logs[entry.ExecutionID], deepCopy(entry))
	return nil
}

// ListExecutionLogs returns the progress rows for an execution.
func (m *Memory) ListExecutionLogs(ctx context.Context, executionID string) ([]*ExecutionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[executionID]
	out := make([]*ExecutionLogEntry, len(entries))
	for i, e := range entries {
		out[i] = deepCopy(e)
	}
	return out, nil
}

// RecordAPICall appends one redacted audit row.
func (m *Memory) RecordAPICall(ctx context.Context, rec *APICallRecord) error {
	cp := deepCopy(rec)
	cp.RequestMeta = RedactMeta(cp.RequestMeta)
	cp.ResponseMeta = RedactMeta(cp.ResponseMeta)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, cp)
	return nil
}

// APICalls returns the recorded audit rows. Test helper.
func (m *Memory) APICalls() []*APICallRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*APICallRecord, len(m.audit))
	copy(out, m.audit)
	return out
}

// GetCredential returns the credential for (user, provider).
func (m *Memory) GetCredential(ctx context.Context, userID, provider string) (*CredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.credentials[userID+"/"+provider]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "credential", ID: userID + "/" + provider}
	}
	return deepCopy(rec), nil
}

// UpsertCredential creates or replaces a credential row.
func (m *Memory) UpsertCredential(ctx context.Context, rec *CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[rec.UserID+"/"+rec.Provider] = deepCopy(rec)
	return nil
}

// MarkCredentialInvalid flags a credential as unusable.
func (m *Memory) MarkCredentialInvalid(ctx context.Context, userID, provider, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.credentials[userID+"/"+provider]
	if !ok {
		return &errors.NotFoundError{Resource: "credential", ID: userID + "/" + provider}
	}
	now := time.Now().UTC()
	rec.IsValid = false
	rec.ValidationError = reason
	rec.LastValidatedAt = &now
	return nil
}

// deepCopy round-trips a value through JSON to detach it from caller-held
// references. Repository values are all JSON-serializable by construction.
func deepCopy[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("repository: value not serializable: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("repository: value not deserializable: %v", err))
	}
	return out
}
