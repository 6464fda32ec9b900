// Package execution defines the execution entity, its status state machine,
// and the pause records that capture human-in-the-loop suspensions.
package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/relayfleet/relay/pkg/errors"
)

// Status is the lifecycle state of an execution.
type Status string

// Execution statuses.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// allowedTransitions enumerates every legal status transition. Anything
// absent here is an InvalidStateTransitionError.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled, StatusFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Execution is a single run of a workflow.
type Execution struct {
	ID         string `json:"execution_id"`
	WorkflowID string `json:"workflow_id"`
	UserID     string `json:"user_id"`

	Status Status `json:"status"`

	// TriggerSource is the trigger kind that started the run.
	TriggerSource string `json:"trigger_source,omitempty"`

	// TriggerData is the payload that fired the trigger.
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	// ExecutionData holds per-node outputs keyed by node ID.
	ExecutionData map[string]any `json:"execution_data,omitempty"`

	ResultData map[string]any `json:"result_data,omitempty"`
	ErrorData  map[string]any `json:"error_data,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewExecutionID generates an execution identifier. The exec_ prefix makes
// execution IDs recognizable in logs and engine requests.
func NewExecutionID() string {
	return "exec_" + uuid.NewString()
}

// New creates a pending execution for the given workflow and trigger payload.
func New(workflowID, userID, triggerSource string, triggerData map[string]any) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:            NewExecutionID(),
		WorkflowID:    workflowID,
		UserID:        userID,
		Status:        StatusPending,
		TriggerSource: triggerSource,
		TriggerData:   triggerData,
		ExecutionData: make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the execution to the given status, enforcing the state
// machine and maintaining timestamps.
func (e *Execution) Transition(to Status) error {
	if !CanTransition(e.Status, to) {
		return &errors.InvalidStateTransitionError{
			ExecutionID: e.ID,
			From:        string(e.Status),
			To:          string(to),
		}
	}

	now := time.Now().UTC()
	switch to {
	case StatusRunning:
		if e.StartedAt == nil {
			e.StartedAt = &now
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		e.CompletedAt = &now
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}
