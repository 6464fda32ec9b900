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

package engine

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/relayfleet/relay/internal/credentials"
	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/internal/state"
	"github.com/relayfleet/relay/pkg/execution"
	"github.com/relayfleet/relay/pkg/workflow"
)

// DataSource traces where one slice of a node's input came from.
type DataSource struct {
	SourceNode     string `json:"source_node"`
	ConnectionType string `json:"connection_type"`
	DataSize       int    `json:"data_size"`
}

// Config holds the engine's collaborators.
type Config struct {
	Factory     *Factory
	Repo        repository.Repository
	State       *state.Manager
	Credentials credentials.Provider
	Logger      *slog.Logger
}

// Engine runs workflow executions sequentially node by node. Different
// executions may run concurrently; within one execution the node order is
// the deterministic topological order.
type Engine struct {
	factory *Factory
	repo    repository.Repository
	state   *state.Manager
	creds   credentials.Provider
	logger  *slog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		factory: cfg.Factory,
		repo:    cfg.Repo,
		state:   cfg.State,
		creds:   cfg.Credentials,
		logger:  logger.With("component", "engine"),
	}
}

// Run drives a pending execution to a terminal state, or to PAUSED when a
// node suspends for human interaction.
func (e *Engine) Run(ctx context.Context, wf *workflow.Workflow, executionID string) error {
	exec, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status == execution.StatusPending {
		if err := exec.Transition(execution.StatusRunning); err != nil {
			return err
		}
		if err := e.repo.UpdateExecution(ctx, exec); err != nil {
			return err
		}
	}
	return e.run(ctx, wf, exec, "", nil)
}

// Resume re-enters a paused execution at the paused node with resumeData
// merged into that node's input. The workflow definition is loaded from
// the repository, so the reaper can resume without carrying one.
func (e *Engine) Resume(ctx context.Context, executionID, resumeReason string, resumeData map[string]any) error {
	exec, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	wf, err := e.repo.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}

	step, err := e.state.ResumeExecution(ctx, executionID, resumeReason, resumeData)
	if err != nil {
		return err
	}
	exec, err = e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	return e.run(ctx, wf, exec, step.NodeID, resumeData)
}

// run executes nodes from startNodeID (or the beginning) onward.
func (e *Engine) run(ctx context.Context, wf *workflow.Workflow, exec *execution.Execution, startNodeID string, extraInput map[string]any) error {
	logger := e.logger.With("workflow_id", wf.ID, "execution_id", exec.ID)

	order, acyclic := workflow.ExecutionOrder(wf)
	if !acyclic {
		logger.Warn("connection graph has a cycle, using definition order")
	}
	incoming := workflow.IncomingConnections(wf)

	start := 0
	if startNodeID != "" {
		for i, id := range order {
			if id == startNodeID {
				start = i
				break
			}
		}
	}

	total := len(order)
	for i := start; i < total; i++ {
		nodeID := order[i]
		node := wf.NodeByID(nodeID)
		if node == nil {
			continue
		}

		if cancelled, err := e.cancelled(ctx, exec.ID); err == nil && cancelled {
			logger.Info("execution cancelled, stopping at node boundary", "node_id", nodeID)
			e.appendLog(ctx, exec, node, "execution_cancelled", "warn",
				"execution cancelled", i+1, total, 0, nil)
			return nil
		}

		if node.Type == workflow.NodeTypeTrigger {
			e.recordNode(ctx, exec, nodeID, &NodeResult{
				Status:     NodeSuccess,
				OutputData: exec.TriggerData,
			})
			continue
		}
		if node.Disabled {
			e.recordNode(ctx, exec, nodeID, &NodeResult{Status: NodeSkipped})
			continue
		}

		input, sources := e.assembleInput(wf, exec, nodeID, incoming[nodeID])
		if nodeID == startNodeID {
			maps.Copy(input, extraInput)
		}

		e.appendLog(ctx, exec, node, "node_started", "info",
			"node started", i+1, total, 0, map[string]any{"data_sources": sources})

		result := e.executeNode(ctx, wf, exec, node, input)

		e.appendLog(ctx, exec, node, "node_completed", "info",
			"node finished with status "+string(result.Status),
			i+1, total, result.ExecutionTimeMS, nil)

		switch result.Status {
		case NodePaused:
			return e.pause(ctx, exec, node, result)

		case NodeCancelled:
			e.recordNode(ctx, exec, nodeID, result)
			if exec.Status == execution.StatusCancelled {
				return nil
			}
			if err := exec.Transition(execution.StatusCancelled); err != nil {
				return err
			}
			return e.repo.UpdateExecution(ctx, exec)

		case NodeError:
			e.recordNode(ctx, exec, nodeID, result)
			if exec.Status == execution.StatusCancelled {
				logger.Info("execution cancelled during node", "node_id", nodeID)
				return nil
			}
			if node.OnError == workflow.ErrorPolicyContinue {
				logger.Warn("node failed, continuing",
					"node_id", nodeID, "error", result.ErrorMessage)
				continue
			}
			exec.ErrorData = map[string]any{
				"failed_node": nodeID,
				"message":     result.ErrorMessage,
			}
			if err := exec.Transition(execution.StatusFailed); err != nil {
				return err
			}
			logger.Error("execution failed",
				"node_id", nodeID, "error", result.ErrorMessage)
			return e.repo.UpdateExecution(ctx, exec)

		default:
			e.recordNode(ctx, exec, nodeID, result)
		}
	}

	if exec.Status == execution.StatusCancelled {
		logger.Info("execution cancelled, skipping completion")
		return nil
	}
	exec.ResultData = e.finalResult(wf, exec, order)
	if err := exec.Transition(execution.StatusCompleted); err != nil {
		return err
	}
	logger.Info("execution completed")
	return e.repo.UpdateExecution(ctx, exec)
}

// executeNode looks up the executor and runs the node, applying the RETRY
// policy. Backoff between retries is at executor discretion.
func (e *Engine) executeNode(ctx context.Context, wf *workflow.Workflow, exec *execution.Execution, node *workflow.Node, input map[string]any) *NodeResult {
	ex, err := e.factory.Get(node.Type)
	if err != nil {
		return &NodeResult{
			Status:       NodeError,
			ErrorMessage: "no executor for type " + string(node.Type),
		}
	}

	attempts := 1
	if node.OnError == workflow.ErrorPolicyRetry {
		attempts += wf.MaxRetries()
	}

	var result *NodeResult
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		result, err = ex.Execute(ctx, &NodeExecutionContext{
			Node:        *node,
			WorkflowID:  wf.ID,
			ExecutionID: exec.ID,
			InputData:   input,
			StaticData:  wf.Settings.StaticData,
			Credentials: e.creds,
			Metadata:    map[string]any{"attempt": attempt + 1},
		})
		if err != nil {
			result = &NodeResult{Status: NodeError, ErrorMessage: err.Error()}
		}
		if result.ExecutionTimeMS == 0 {
			result.ExecutionTimeMS = time.Since(start).Milliseconds()
		}
		if result.Status != NodeError {
			return result
		}
	}
	return result
}

// assembleInput builds a node's input map. Nodes with no incoming
// connections start from the trigger data; otherwise upstream outputs merge
// in by connection type: main and memory flat, everything else namespaced
// under the connection type key.
func (e *Engine) assembleInput(wf *workflow.Workflow, exec *execution.Execution, nodeID string, edges []workflow.IncomingEdge) (map[string]any, []DataSource) {
	input := make(map[string]any)
	if len(edges) == 0 {
		maps.Copy(input, exec.TriggerData)
		return input, nil
	}

	var sources []DataSource
	for _, edge := range edges {
		output, ok := e.successfulOutput(exec, edge.Source)
		if !ok {
			continue
		}
		switch edge.Type {
		case workflow.ConnectionMain, workflow.ConnectionMemory:
			maps.Copy(input, output)
		default:
			ns, _ := input[string(edge.Type)].(map[string]any)
			if ns == nil {
				ns = make(map[string]any)
			}
			maps.Copy(ns, output)
			input[string(edge.Type)] = ns
		}
		sources = append(sources, DataSource{
			SourceNode:     edge.Source,
			ConnectionType: string(edge.Type),
			DataSize:       len(output),
		})
	}
	return input, sources
}

// successfulOutput returns the output of a node that already ran and
// succeeded.
func (e *Engine) successfulOutput(exec *execution.Execution, nodeID string) (map[string]any, bool) {
	entry, ok := exec.ExecutionData[nodeID].(map[string]any)
	if !ok {
		return nil, false
	}
	if status, _ := entry["status"].(string); status != string(NodeSuccess) {
		return nil, false
	}
	output, _ := entry["output_data"].(map[string]any)
	return output, output != nil
}

// recordNode stores a node's result in the execution data and persists it.
// The stored lifecycle fields are re-read first so a status written out of
// band while the node ran is not overwritten by the engine's local copy.
func (e *Engine) recordNode(ctx context.Context, exec *execution.Execution, nodeID string, result *NodeResult) {
	entry := map[string]any{
		"status":            string(result.Status),
		"execution_time_ms": result.ExecutionTimeMS,
	}
	if result.OutputData != nil {
		entry["output_data"] = result.OutputData
	}
	if result.ErrorMessage != "" {
		entry["error_message"] = result.ErrorMessage
	}
	if exec.ExecutionData == nil {
		exec.ExecutionData = make(map[string]any)
	}
	exec.ExecutionData[nodeID] = entry

	e.adoptStoredStatus(ctx, exec)
	if err := e.repo.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("failed to persist node result",
			"execution_id", exec.ID, "node_id", nodeID, "error", err)
	}
}

// adoptStoredStatus refreshes exec's lifecycle fields from the stored row.
// The state manager owns status transitions made while a node is running,
// so the engine merges its node results under whatever status is stored.
func (e *Engine) adoptStoredStatus(ctx context.Context, exec *execution.Execution) {
	stored, err := e.repo.GetExecution(ctx, exec.ID)
	if err != nil {
		return
	}
	exec.Status = stored.Status
	exec.StartedAt = stored.StartedAt
	exec.CompletedAt = stored.CompletedAt
	if exec.ErrorData == nil {
		exec.ErrorData = stored.ErrorData
	}
}

// pause hands a suspending node over to the state manager and returns
// control to the caller. A later Resume re-enters at this node.
func (e *Engine) pause(ctx context.Context, exec *execution.Execution, node *workflow.Node, result *NodeResult) error {
	e.adoptStoredStatus(ctx, exec)
	if exec.Status == execution.StatusCancelled {
		e.logger.Info("execution cancelled, not pausing",
			"execution_id", exec.ID, "node_id", node.ID)
		return nil
	}
	if err := e.repo.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	reason := result.PauseReason
	if reason == "" {
		reason = execution.PauseHumanInteraction
	}
	_, err := e.state.PauseExecution(ctx, exec.ID, node.ID,
		reason, result.ResumeConditions, result.PauseTimeout)
	if err != nil {
		return err
	}
	e.appendLog(ctx, exec, node, "execution_paused", "info",
		"waiting for human interaction", 0, 0, 0, result.ResumeConditions)
	return nil
}

// finalResult merges the outputs of leaf nodes (no outgoing main
// connections) in execution order.
func (e *Engine) finalResult(wf *workflow.Workflow, exec *execution.Execution, order []string) map[string]any {
	hasDownstream := make(map[string]bool)
	for source, byType := range wf.Connections {
		if len(byType[workflow.ConnectionMain]) > 0 {
			hasDownstream[source] = true
		}
	}

	result := make(map[string]any)
	for _, nodeID := range order {
		if hasDownstream[nodeID] {
			continue
		}
		node := wf.NodeByID(nodeID)
		if node == nil || node.Type == workflow.NodeTypeTrigger {
			continue
		}
		if output, ok := e.successfulOutput(exec, nodeID); ok {
			maps.Copy(result, output)
		}
	}
	return result
}

// cancelled reports whether the stored execution has been cancelled out of
// band.
func (e *Engine) cancelled(ctx context.Context, executionID string) (bool, error) {
	stored, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	return stored.Status == execution.StatusCancelled, nil
}

func (e *Engine) appendLog(ctx context.Context, exec *execution.Execution, node *workflow.Node, eventType, level, message string, step, totalSteps int, durationMS int64, data map[string]any) {
	entry := &repository.ExecutionLogEntry{
		ExecutionID: exec.ID,
		CreatedAt:   time.Now().UTC(),
		EventType:   eventType,
		Level:       level,
		Message:     message,
		Data:        data,
		NodeID:      node.ID,
		NodeName:    node.Name,
		NodeType:    string(node.Type),
		StepNumber:  step,
		TotalSteps:  totalSteps,
		DurationMS:  durationMS,
	}
	if err := e.repo.AppendExecutionLog(ctx, entry); err != nil {
		e.logger.Warn("failed to append execution log",
			"execution_id", exec.ID, "error", err)
	}
}
