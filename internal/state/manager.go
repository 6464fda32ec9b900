// Copyright 2026 The Relay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package state owns execution status transitions and human-in-the-loop
// pause bookkeeping. All pause and resume traffic for a process goes through
// one Manager; the repository enforces at most one active pause per
// execution.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/execution"
)

// Repository is the slice of persistence the state manager needs.
type Repository interface {
	GetExecution(ctx context.Context, id string) (*execution.Execution, error)
	UpdateExecution(ctx context.Context, e *execution.Execution) error

	CreatePause(ctx context.Context, p *execution.PauseRecord) error
	GetActivePause(ctx context.Context, executionID string) (*execution.PauseRecord, error)
	UpdatePause(ctx context.Context, p *execution.PauseRecord) error
}

// ResumeStep tells the engine where to re-enter a resumed execution.
type ResumeStep struct {
	NodeID string `json:"node_id"`
	Action string `json:"action"`

	// PauseDurationSeconds is how long the execution sat paused.
	PauseDurationSeconds float64 `json:"pause_duration_seconds"`
}

// Manager applies the execution state machine over the repository.
type Manager struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a state manager.
func NewManager(repo Repository, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger.With("component", "state"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PauseExecution suspends a RUNNING execution at nodeID and persists the
// pause record. timeout, when set, arms the reaper's timeout action.
func (m *Manager) PauseExecution(ctx context.Context, executionID, nodeID string, reason execution.PauseReason, conditions map[string]any, timeout *time.Duration) (*execution.PauseRecord, error) {
	exec, err := m.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != execution.StatusRunning {
		return nil, &errors.InvalidStateTransitionError{
			ExecutionID: executionID,
			From:        string(exec.Status),
			To:          string(execution.StatusPaused),
		}
	}

	rec := execution.NewPauseRecord(executionID, nodeID, reason, conditions, timeout)
	if err := m.repo.CreatePause(ctx, rec); err != nil {
		return nil, err
	}

	if err := exec.Transition(execution.StatusPaused); err != nil {
		return nil, err
	}
	if err := m.repo.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	m.logger.Info("execution paused",
		"execution_id", executionID, "node_id", nodeID,
		"pause_id", rec.ID, "pause_reason", string(reason))
	return rec, nil
}

// ResumeExecution validates resume data against the active pause's
// conditions, closes the pause, moves the execution back to RUNNING, and
// returns the re-entry step.
func (m *Manager) ResumeExecution(ctx context.Context, executionID, resumeReason string, resumeData map[string]any) (*ResumeStep, error) {
	rec, err := m.repo.GetActivePause(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := validateResumeConditions(rec.ResumeConditions, resumeData); err != nil {
		return nil, err
	}

	exec, err := m.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := exec.Transition(execution.StatusRunning); err != nil {
		return nil, err
	}

	now := m.now()
	rec.Status = execution.PauseResumed
	rec.ResumedAt = &now
	rec.ResumeTrigger = resumeReason
	rec.ResumeData = resumeData
	if err := m.repo.UpdatePause(ctx, rec); err != nil {
		return nil, err
	}
	if err := m.repo.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	m.logger.Info("execution resumed",
		"execution_id", executionID, "node_id", rec.PausedNodeID,
		"resume_trigger", resumeReason)
	return &ResumeStep{
		NodeID:               rec.PausedNodeID,
		Action:               "continue",
		PauseDurationSeconds: now.Sub(rec.PausedAt).Seconds(),
	}, nil
}

// CancelPausedExecution closes the active pause as cancelled and moves the
// execution to CANCELLED.
func (m *Manager) CancelPausedExecution(ctx context.Context, executionID, reason string) error {
	rec, err := m.repo.GetActivePause(ctx, executionID)
	if err != nil {
		return err
	}
	exec, err := m.repo.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if err := exec.Transition(execution.StatusCancelled); err != nil {
		return err
	}

	now := m.now()
	rec.Status = execution.PauseCancelled
	rec.CancelledAt = &now
	rec.CancellationReason = reason
	if err := m.repo.UpdatePause(ctx, rec); err != nil {
		return err
	}
	if err := m.repo.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	m.logger.Info("paused execution cancelled",
		"execution_id", executionID, "reason", reason)
	return nil
}

// FailPausedExecution marks the active pause as timed out and moves the
// execution to FAILED. The reaper uses this for the default timeout action.
func (m *Manager) FailPausedExecution(ctx context.Context, executionID string) error {
	rec, err := m.repo.GetActivePause(ctx, executionID)
	if err != nil {
		return err
	}
	exec, err := m.repo.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if err := exec.Transition(execution.StatusFailed); err != nil {
		return err
	}

	rec.Status = execution.PauseTimedOut
	if err := m.repo.UpdatePause(ctx, rec); err != nil {
		return err
	}
	exec.ErrorData = map[string]any{
		"failed_node": rec.PausedNodeID,
		"message":     "pause timed out",
	}
	if err := m.repo.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	m.logger.Warn("paused execution failed on timeout",
		"execution_id", executionID, "node_id", rec.PausedNodeID)
	return nil
}

// CancelExecution requests cancellation of a pending or running execution.
// The engine observes the status at the next node boundary.
func (m *Manager) CancelExecution(ctx context.Context, executionID string) error {
	exec, err := m.repo.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if err := exec.Transition(execution.StatusCancelled); err != nil {
		return err
	}
	return m.repo.UpdateExecution(ctx, exec)
}

// validateResumeConditions checks resume data against the pause's
// conditions: every condition key must be present, and non-nil expected
// values must match exactly. The reaper's own keys (timeout_action,
// timeout_default_data) describe timeout behavior, not caller obligations,
// and are not checked.
func validateResumeConditions(conditions, data map[string]any) error {
	for key, expected := range conditions {
		if key == execution.TimeoutActionKey || key == execution.TimeoutDefaultDataKey {
			continue
		}
		got, ok := data[key]
		if !ok {
			return &errors.ValidationError{
				Field:   key,
				Message: fmt.Sprintf("resume data is missing required key %q", key),
			}
		}
		if expected == nil {
			continue
		}
		if !reflect.DeepEqual(expected, got) {
			return &errors.ValidationError{
				Field:   key,
				Message: fmt.Sprintf("resume data value for %q does not match the expected value", key),
			}
		}
	}
	return nil
}
