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

// Package dispatch hands trigger fires to the workflow engine. It creates
// the pending execution record, POSTs the execution request, and reports a
// normalized outcome regardless of how the handoff went.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relayfleet/relay/internal/metrics"
	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/pkg/execution"
	"github.com/relayfleet/relay/pkg/httpclient"
	"github.com/relayfleet/relay/pkg/workflow"
)

// Dispatch outcome statuses.
const (
	StatusStarted = "started"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Result is the normalized outcome of one dispatch attempt.
type Result struct {
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Started reports whether the engine accepted the execution.
func (r Result) Started() bool {
	return r.Status == StatusStarted
}

// Dispatcher is how triggers start workflow executions.
type Dispatcher interface {
	// Dispatch starts an execution of the workflow with the given trigger
	// payload. It never returns an error for engine-side failures; those
	// are folded into the Result.
	Dispatch(ctx context.Context, w *workflow.Workflow, triggerSource string, triggerData map[string]any) Result
}

// executeRequest is the engine's execution request body.
type executeRequest struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	UserID      string         `json:"user_id"`
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	TriggeredAt string         `json:"triggered_at"`
}

// Engine dispatches executions to a remote workflow engine over HTTP.
type Engine struct {
	baseURL string
	client  *http.Client
	repo    repository.ExecutionRepository
	logger  *slog.Logger
	metrics *metrics.Collector
}

// SetMetrics attaches a metrics collector. Safe to skip; a nil collector
// records nothing.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// NewEngine creates an engine dispatcher. repo may be nil when execution
// bookkeeping is handled elsewhere.
func NewEngine(engineURL string, repo repository.ExecutionRepository, logger *slog.Logger) (*Engine, error) {
	cfg := httpclient.DefaultConfig()
	cfg.RetryPOST = true
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		baseURL: strings.TrimRight(engineURL, "/"),
		client:  client,
		repo:    repo,
		logger:  logger.With("component", "dispatch"),
	}, nil
}

// Dispatch implements Dispatcher.
func (e *Engine) Dispatch(ctx context.Context, w *workflow.Workflow, triggerSource string, triggerData map[string]any) (result Result) {
	defer func() { e.metrics.DispatchCompleted(result.Status) }()
	if !w.Active {
		e.logger.Info("skipping dispatch for inactive workflow",
			"workflow_id", w.ID, "trigger_source", triggerSource)
		return Result{Status: StatusSkipped, Message: "workflow is not active"}
	}

	exec := execution.New(w.ID, w.UserID, triggerSource, triggerData)
	if e.repo != nil {
		if err := e.repo.CreateExecution(ctx, exec); err != nil {
			e.logger.Error("failed to persist execution", "workflow_id", w.ID, "error", err)
			return Result{Status: StatusError, Message: err.Error()}
		}
	}

	body, err := json.Marshal(executeRequest{
		ExecutionID: exec.ID,
		WorkflowID:  w.ID,
		UserID:      w.UserID,
		TriggerType: triggerSource,
		TriggerData: triggerData,
		TriggeredAt: exec.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return Result{Status: StatusError, ExecutionID: exec.ID, Message: err.Error()}
	}

	url := fmt.Sprintf("%s/v1/workflows/%s/execute", e.baseURL, w.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusError, ExecutionID: exec.ID, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Error("engine dispatch failed",
			"workflow_id", w.ID, "execution_id", exec.ID, "error", err)
		return Result{Status: StatusError, ExecutionID: exec.ID, Message: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusAccepted {
		e.logger.Warn("engine rejected dispatch",
			"workflow_id", w.ID, "execution_id", exec.ID,
			"status", resp.StatusCode)
		return Result{
			Status:      StatusFailed,
			ExecutionID: exec.ID,
			Message:     fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	e.logger.Info("execution dispatched",
		"workflow_id", w.ID, "execution_id", exec.ID,
		"trigger_source", triggerSource,
		"duration_ms", time.Since(start).Milliseconds())
	return Result{Status: StatusStarted, ExecutionID: exec.ID}
}
