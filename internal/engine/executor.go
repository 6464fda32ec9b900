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

// Package engine drives workflow executions: it orders nodes
// topologically, assembles per-node input from upstream outputs, invokes
// the registered executor for each node, and applies error and pause
// semantics between nodes.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/relayfleet/relay/internal/credentials"
	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/execution"
	"github.com/relayfleet/relay/pkg/workflow"
)

// NodeStatus is the outcome class of one node execution.
type NodeStatus string

// Node execution statuses.
const (
	NodeSuccess   NodeStatus = "SUCCESS"
	NodeError     NodeStatus = "ERROR"
	NodeSkipped   NodeStatus = "SKIPPED"
	NodeCancelled NodeStatus = "CANCELLED"
	NodePaused    NodeStatus = "PAUSED"
)

// NodeResult is what an executor reports back for one node.
type NodeResult struct {
	Status       NodeStatus     `json:"status"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Logs         []string       `json:"logs,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	ExecutionTimeMS int64 `json:"execution_time_ms"`

	// Pause fields, meaningful only when Status is NodePaused.
	PauseReason      execution.PauseReason `json:"pause_reason,omitempty"`
	ResumeConditions map[string]any        `json:"resume_conditions,omitempty"`
	PauseTimeout     *time.Duration        `json:"-"`
}

// NodeExecutionContext carries everything an executor may read while
// running one node. Executors request tokens through Credentials; raw
// secrets never appear in the context.
type NodeExecutionContext struct {
	Node        workflow.Node
	WorkflowID  string
	ExecutionID string

	// InputData is the assembled input map (trigger data or merged
	// upstream outputs, plus resume data on re-entry).
	InputData map[string]any

	// StaticData is the workflow's settings.static_data.
	StaticData map[string]any

	Credentials credentials.Provider
	Metadata    map[string]any
}

// Executor runs the nodes of one top-level node type, dispatching
// internally on subtype.
type Executor interface {
	// Execute runs one node. Engine-level failures (policy, pausing) are
	// expressed through the result status, not the error.
	Execute(ctx context.Context, ec *NodeExecutionContext) (*NodeResult, error)

	// Validate reports configuration problems for a node at save time.
	Validate(node workflow.Node) []error

	// SupportedSubtypes lists the subtypes this executor accepts. Empty
	// means any subtype.
	SupportedSubtypes() []string
}

// Factory is the process-wide node-type to executor registry.
type Factory struct {
	mu     sync.RWMutex
	byType map[workflow.NodeType]Executor
}

// NewFactory creates an empty executor registry.
func NewFactory() *Factory {
	return &Factory{byType: make(map[workflow.NodeType]Executor)}
}

// Register installs the executor for a node type, replacing any previous
// registration.
func (f *Factory) Register(t workflow.NodeType, ex Executor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byType[t] = ex
}

// Len reports how many node types have a registered executor.
func (f *Factory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byType)
}

// Get returns the executor for a node type.
func (f *Factory) Get(t workflow.NodeType) (Executor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ex, ok := f.byType[t]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "node executor", ID: string(t)}
	}
	return ex, nil
}

// ValidateWorkflow checks every non-trigger node against the registry:
// the executor must exist, accept the subtype, and pass node validation.
// Used at workflow save time; the same lookups fail at run time too.
func (f *Factory) ValidateWorkflow(w *workflow.Workflow) []error {
	var errs []error
	for _, node := range w.Nodes {
		if node.Type == workflow.NodeTypeTrigger {
			continue
		}
		ex, err := f.Get(node.Type)
		if err != nil {
			errs = append(errs, &errors.ValidationError{
				Field:   "nodes",
				Message: fmt.Sprintf("node %s: no executor for type %s", node.ID, node.Type),
			})
			continue
		}
		if supported := ex.SupportedSubtypes(); len(supported) > 0 && !slices.Contains(supported, node.Subtype) {
			errs = append(errs, &errors.ValidationError{
				Field:   "nodes",
				Message: fmt.Sprintf("node %s: unsupported subtype %q for type %s", node.ID, node.Subtype, node.Type),
			})
			continue
		}
		errs = append(errs, ex.Validate(node)...)
	}
	return errs
}
