package execution

import (
	"time"

	"github.com/google/uuid"
)

// PauseReason classifies why an execution paused.
type PauseReason string

// Pause reasons.
const (
	PauseHumanInteraction  PauseReason = "HUMAN_INTERACTION"
	PauseTimeout           PauseReason = "TIMEOUT"
	PauseError             PauseReason = "ERROR"
	PauseManual            PauseReason = "MANUAL"
	PauseSystemMaintenance PauseReason = "SYSTEM_MAINTENANCE"
)

// PauseStatus is the lifecycle state of a pause record.
type PauseStatus string

// Pause statuses.
const (
	PauseActive    PauseStatus = "active"
	PauseResumed   PauseStatus = "resumed"
	PauseCancelled PauseStatus = "cancelled"
	PauseTimedOut  PauseStatus = "timeout"
)

// Resume-condition keys interpreted by the timeout reaper.
const (
	// TimeoutActionKey selects the reaper behavior for an expired pause:
	// "resume", "cancel", or "fail" (the default).
	TimeoutActionKey = "timeout_action"

	// TimeoutDefaultDataKey holds the resume data used when the timeout
	// action is "resume".
	TimeoutDefaultDataKey = "timeout_default_data"
)

// Timeout actions.
const (
	TimeoutActionResume = "resume"
	TimeoutActionCancel = "cancel"
	TimeoutActionFail   = "fail"
)

// PauseRecord captures a single suspension of an execution and how to
// resume it. At most one active record exists per execution.
type PauseRecord struct {
	ID           string `json:"id"`
	ExecutionID  string `json:"execution_id"`
	PausedNodeID string `json:"paused_node_id"`

	Reason PauseReason `json:"pause_reason"`

	// ResumeConditions is a predicate over resume data: every key must be
	// present, and non-nil expected values must match exactly.
	ResumeConditions map[string]any `json:"resume_conditions,omitempty"`

	Status   PauseStatus `json:"status"`
	PausedAt time.Time   `json:"paused_at"`

	// TimeoutAt, when set, is the absolute time after which the reaper
	// applies the record's timeout action.
	TimeoutAt *time.Time `json:"timeout_at,omitempty"`

	ResumedAt     *time.Time     `json:"resumed_at,omitempty"`
	ResumeTrigger string         `json:"resume_trigger,omitempty"`
	ResumeData    map[string]any `json:"resume_data,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	// ExpiryWarned is set once the reaper has emitted the single
	// expiring-soon warning for this record.
	ExpiryWarned bool `json:"expiry_warned,omitempty"`
}

// NewPauseRecord creates an active pause record for the given execution.
func NewPauseRecord(executionID, nodeID string, reason PauseReason, conditions map[string]any, timeout *time.Duration) *PauseRecord {
	now := time.Now().UTC()
	rec := &PauseRecord{
		ID:               "pause_" + uuid.NewString(),
		ExecutionID:      executionID,
		PausedNodeID:     nodeID,
		Reason:           reason,
		ResumeConditions: conditions,
		Status:           PauseActive,
		PausedAt:         now,
	}
	if timeout != nil {
		t := now.Add(*timeout)
		rec.TimeoutAt = &t
	}
	return rec
}

// TimeoutAction returns the reaper behavior encoded in the resume
// conditions, defaulting to "fail".
func (p *PauseRecord) TimeoutAction() string {
	if action, ok := p.ResumeConditions[TimeoutActionKey].(string); ok && action != "" {
		return action
	}
	return TimeoutActionFail
}

// TimeoutDefaultData returns the resume data to use on timeout-resume.
// May be nil.
func (p *PauseRecord) TimeoutDefaultData() map[string]any {
	if data, ok := p.ResumeConditions[TimeoutDefaultDataKey].(map[string]any); ok {
		return data
	}
	return nil
}
