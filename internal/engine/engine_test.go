package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/internal/state"
	"github.com/relayfleet/relay/pkg/execution"
	"github.com/relayfleet/relay/pkg/workflow"
)

// fakeExecutor runs a per-node handler and records the contexts it saw.
type fakeExecutor struct {
	mu       sync.Mutex
	handlers map[string]func(ec *NodeExecutionContext) (*NodeResult, error)
	calls    []*NodeExecutionContext
	subtypes []string
	validate func(node workflow.Node) []error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		handlers: make(map[string]func(ec *NodeExecutionContext) (*NodeResult, error)),
	}
}

func (f *fakeExecutor) handle(nodeID string, fn func(ec *NodeExecutionContext) (*NodeResult, error)) {
	f.handlers[nodeID] = fn
}

func (f *fakeExecutor) Execute(ctx context.Context, ec *NodeExecutionContext) (*NodeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ec)
	fn := f.handlers[ec.Node.ID]
	f.mu.Unlock()
	if fn != nil {
		return fn(ec)
	}
	return &NodeResult{
		Status:     NodeSuccess,
		OutputData: map[string]any{"out": ec.Node.ID},
	}, nil
}

func (f *fakeExecutor) Validate(node workflow.Node) []error {
	if f.validate != nil {
		return f.validate(node)
	}
	return nil
}

func (f *fakeExecutor) SupportedSubtypes() []string { return f.subtypes }

func (f *fakeExecutor) executedNodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, ec := range f.calls {
		out = append(out, ec.Node.ID)
	}
	return out
}

func (f *fakeExecutor) inputFor(nodeID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Node.ID == nodeID {
			return f.calls[i].InputData
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engineFixture struct {
	engine   *Engine
	repo     *repository.Memory
	manager  *state.Manager
	executor *fakeExecutor
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := repository.NewMemory()
	manager := state.NewManager(repo, testLogger())
	ex := newFakeExecutor()

	factory := NewFactory()
	for _, nt := range workflow.NodeTypes {
		if nt == workflow.NodeTypeTrigger {
			continue
		}
		factory.Register(nt, ex)
	}

	return &engineFixture{
		engine: New(Config{
			Factory: factory,
			Repo:    repo,
			State:   manager,
			Logger:  testLogger(),
		}),
		repo:     repo,
		manager:  manager,
		executor: ex,
	}
}

func (f *engineFixture) start(t *testing.T, wf *workflow.Workflow, triggerData map[string]any) *execution.Execution {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.SaveWorkflow(ctx, wf))
	exec := execution.New(wf.ID, wf.UserID, "manual", triggerData)
	require.NoError(t, f.repo.CreateExecution(ctx, exec))
	return exec
}

func (f *engineFixture) status(t *testing.T, executionID string) execution.Status {
	t.Helper()
	stored, err := f.repo.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	return stored.Status
}

func chainWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf_1", UserID: "user_1", Name: "chain", Active: true,
		Nodes: []workflow.Node{
			{ID: "trigger_manual_00000001", Name: "Start", Type: workflow.NodeTypeTrigger, Subtype: "manual"},
			{ID: "action_http_00000002", Name: "Fetch", Type: workflow.NodeTypeAction, Subtype: "http"},
			{ID: "action_http_00000003", Name: "Store", Type: workflow.NodeTypeAction, Subtype: "http"},
		},
		Connections: workflow.ConnectionsMap{
			"trigger_manual_00000001": {workflow.ConnectionMain: []workflow.Connection{{Node: "action_http_00000002"}}},
			"action_http_00000002":    {workflow.ConnectionMain: []workflow.Connection{{Node: "action_http_00000003"}}},
		},
	}
}

func TestEngine_RunLinearChain(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()

	f.executor.handle("action_http_00000002", func(ec *NodeExecutionContext) (*NodeResult, error) {
		return &NodeResult{Status: NodeSuccess, OutputData: map[string]any{"fetched": 3}}, nil
	})
	f.executor.handle("action_http_00000003", func(ec *NodeExecutionContext) (*NodeResult, error) {
		return &NodeResult{Status: NodeSuccess, OutputData: map[string]any{"stored": true}}, nil
	})

	exec := f.start(t, wf, map[string]any{"ref": "main"})
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, execution.StatusCompleted, f.status(t, exec.ID))
	assert.Equal(t, []string{"action_http_00000002", "action_http_00000003"},
		f.executor.executedNodes())

	// The first action has only the trigger node upstream, so it sees the
	// trigger data; the second sees the first's output.
	assert.Equal(t, "main", f.executor.inputFor("action_http_00000002")["ref"])
	assert.EqualValues(t, 3, f.executor.inputFor("action_http_00000003")["fetched"])

	stored, err := f.repo.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"stored": true}, stored.ResultData)
	require.NotNil(t, stored.CompletedAt)

	logs, err := f.repo.ListExecutionLogs(ctx, exec.ID)
	require.NoError(t, err)
	var events []string
	for _, entry := range logs {
		events = append(events, entry.EventType)
	}
	assert.Equal(t, []string{
		"node_started", "node_completed",
		"node_started", "node_completed",
	}, events)
	assert.Equal(t, 3, logs[0].TotalSteps)
}

func TestEngine_MemoryInversion(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	wf := &workflow.Workflow{
		ID: "wf_mem", UserID: "user_1", Name: "memory", Active: true,
		Nodes: []workflow.Node{
			{ID: "ai_agent_0000000a", Name: "Agent", Type: workflow.NodeTypeAIAgent, Subtype: "chat"},
			{ID: "memory_0000000b", Name: "History", Type: workflow.NodeTypeMemory, Subtype: "buffer"},
		},
		Connections: workflow.ConnectionsMap{
			"ai_agent_0000000a": {workflow.ConnectionMemory: []workflow.Connection{{Node: "memory_0000000b"}}},
		},
	}
	f.executor.handle("memory_0000000b", func(ec *NodeExecutionContext) (*NodeResult, error) {
		return &NodeResult{Status: NodeSuccess, OutputData: map[string]any{
			"history": []any{"hello"},
		}}, nil
	})

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	// The memory provider runs before its consumer, and its output merges
	// flat into the consumer's input.
	assert.Equal(t, []string{"memory_0000000b", "ai_agent_0000000a"},
		f.executor.executedNodes())
	assert.Equal(t, []any{"hello"}, f.executor.inputFor("ai_agent_0000000a")["history"])
	assert.Equal(t, execution.StatusCompleted, f.status(t, exec.ID))
}

func TestEngine_NamespacedConnectionTypes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	wf := &workflow.Workflow{
		ID: "wf_ns", UserID: "user_1", Name: "namespaced", Active: true,
		Nodes: []workflow.Node{
			{ID: "tool_search_0000000a", Name: "Search", Type: workflow.NodeTypeTool, Subtype: "search"},
			{ID: "ai_agent_0000000b", Name: "Agent", Type: workflow.NodeTypeAIAgent, Subtype: "chat"},
		},
		Connections: workflow.ConnectionsMap{
			"tool_search_0000000a": {workflow.ConnectionAITool: []workflow.Connection{{Node: "ai_agent_0000000b"}}},
		},
	}
	f.executor.handle("tool_search_0000000a", func(ec *NodeExecutionContext) (*NodeResult, error) {
		return &NodeResult{Status: NodeSuccess, OutputData: map[string]any{"name": "search"}}, nil
	})

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	input := f.executor.inputFor("ai_agent_0000000b")
	ns, ok := input["ai_tool"].(map[string]any)
	require.True(t, ok, "non-main types are namespaced under their type key")
	assert.Equal(t, "search", ns["name"])
}

func TestEngine_StopOnError(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()

	f.executor.handle("action_http_00000002", func(ec *NodeExecutionContext) (*NodeResult, error) {
		return &NodeResult{Status: NodeError, ErrorMessage: "upstream returned 500"}, nil
	})

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, execution.StatusFailed, f.status(t, exec.ID))
	stored, err := f.repo.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "action_http_00000002", stored.ErrorData["failed_node"])
	assert.Equal(t, "upstream returned 500", stored.ErrorData["message"])

	// The downstream node never ran.
	assert.Equal(t, []string{"action_http_00000002"}, f.executor.executedNodes())
}

func TestEngine_ContinueOnError(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()
	wf.Nodes[1].OnError = workflow.ErrorPolicyContinue

	f.executor.handle("action_http_00000002", func(ec *NodeExecutionContext) (*NodeResult, error) {
		return &NodeResult{Status: NodeError, ErrorMessage: "upstream returned 500"}, nil
	})

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, execution.StatusCompleted, f.status(t, exec.ID))
	assert.Equal(t, []string{"action_http_00000002", "action_http_00000003"},
		f.executor.executedNodes())
}

func TestEngine_RetryPolicy(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()
	wf.Nodes[1].OnError = workflow.ErrorPolicyRetry
	wf.Settings.MaxRetries = 2

	attempts := 0
	f.executor.handle("action_http_00000002", func(ec *NodeExecutionContext) (*NodeResult, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("transient failure %d", attempts)
		}
		return &NodeResult{Status: NodeSuccess, OutputData: map[string]any{"fetched": 1}}, nil
	})

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
	assert.Equal(t, execution.StatusCompleted, f.status(t, exec.ID))
}

func TestEngine_MissingExecutorFailsNode(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()

	// Unregister the ACTION executor.
	f.engine.factory = NewFactory()

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, execution.StatusFailed, f.status(t, exec.ID))
	stored, err := f.repo.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ErrorData["message"], "no executor for type")
}

func TestEngine_DisabledNodeSkipped(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()
	wf.Nodes[1].Disabled = true

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, execution.StatusCompleted, f.status(t, exec.ID))
	assert.Equal(t, []string{"action_http_00000003"}, f.executor.executedNodes())

	stored, err := f.repo.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	entry := stored.ExecutionData["action_http_00000002"].(map[string]any)
	assert.Equal(t, string(NodeSkipped), entry["status"])
}

func TestEngine_CancellationBetweenNodes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()
	exec := f.start(t, wf, nil)

	// The first node cancels the execution out of band; the engine must
	// stop at the next boundary.
	f.executor.handle("action_http_00000002", func(ec *NodeExecutionContext) (*NodeResult, error) {
		stored, err := f.repo.GetExecution(ctx, ec.ExecutionID)
		require.NoError(t, err)
		require.NoError(t, stored.Transition(execution.StatusCancelled))
		require.NoError(t, f.repo.UpdateExecution(ctx, stored))
		return &NodeResult{Status: NodeSuccess, OutputData: map[string]any{"fetched": 1}}, nil
	})

	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, execution.StatusCancelled, f.status(t, exec.ID))
	assert.Equal(t, []string{"action_http_00000002"}, f.executor.executedNodes())
}

func TestEngine_CancellationDuringFinalNode(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()
	exec := f.start(t, wf, nil)

	// Cancellation lands while the last node runs, after the final boundary
	// check. The run must not be promoted to COMPLETED.
	f.executor.handle("action_http_00000003", func(ec *NodeExecutionContext) (*NodeResult, error) {
		stored, err := f.repo.GetExecution(ctx, ec.ExecutionID)
		require.NoError(t, err)
		require.NoError(t, stored.Transition(execution.StatusCancelled))
		require.NoError(t, f.repo.UpdateExecution(ctx, stored))
		return &NodeResult{Status: NodeSuccess, OutputData: map[string]any{"stored": true}}, nil
	})

	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))

	assert.Equal(t, execution.StatusCancelled, f.status(t, exec.ID))
	stored, err := f.repo.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ResultData)
	require.NotNil(t, stored.CompletedAt)

	// The node's result is still recorded under the cancelled status.
	entry := stored.ExecutionData["action_http_00000003"].(map[string]any)
	assert.Equal(t, string(NodeSuccess), entry["status"])
}

func TestEngine_PauseAndTimeoutResume(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()
	wf.Nodes[1].Type = workflow.NodeTypeHumanInTheLoop

	paused := true
	timeout := -time.Second
	f.executor.handle("action_http_00000002", func(ec *NodeExecutionContext) (*NodeResult, error) {
		if paused {
			paused = false
			return &NodeResult{
				Status:      NodePaused,
				PauseReason: execution.PauseHumanInteraction,
				ResumeConditions: map[string]any{
					"timeout_action":       "resume",
					"timeout_default_data": map[string]any{"approved": false},
				},
				PauseTimeout: &timeout,
			}, nil
		}
		return &NodeResult{
			Status:     NodeSuccess,
			OutputData: map[string]any{"approved": ec.InputData["approved"]},
		}, nil
	})

	exec := f.start(t, wf, map[string]any{"ref": "main"})
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))
	assert.Equal(t, execution.StatusPaused, f.status(t, exec.ID))

	rec, err := f.repo.GetActivePause(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "action_http_00000002", rec.PausedNodeID)

	// The reaper applies the timeout action and re-enters the engine.
	reaper := state.NewReaper(state.ReaperConfig{
		Manager: f.manager,
		Pauses:  f.repo,
		Resumer: f.engine,
		Logger:  testLogger(),
	})
	reaper.Pass(ctx)

	assert.Equal(t, execution.StatusCompleted, f.status(t, exec.ID))

	// The default resume data flowed into the paused node and onward.
	assert.Equal(t, false, f.executor.inputFor("action_http_00000003")["approved"])

	_, err = f.repo.GetActivePause(ctx, exec.ID)
	assert.Error(t, err, "pause is closed after the timeout resume")
}

func TestEngine_ManualResume(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	wf := chainWorkflow()

	paused := true
	f.executor.handle("action_http_00000002", func(ec *NodeExecutionContext) (*NodeResult, error) {
		if paused {
			paused = false
			return &NodeResult{
				Status:           NodePaused,
				ResumeConditions: map[string]any{"approved": nil},
			}, nil
		}
		return &NodeResult{
			Status:     NodeSuccess,
			OutputData: map[string]any{"approved": ec.InputData["approved"]},
		}, nil
	})

	exec := f.start(t, wf, nil)
	require.NoError(t, f.engine.Run(ctx, wf, exec.ID))
	assert.Equal(t, execution.StatusPaused, f.status(t, exec.ID))

	// Resume without the required key fails validation.
	err := f.engine.Resume(ctx, exec.ID, "human_response", map[string]any{"other": 1})
	assert.Error(t, err)

	require.NoError(t, f.engine.Resume(ctx, exec.ID, "human_response",
		map[string]any{"approved": true}))
	assert.Equal(t, execution.StatusCompleted, f.status(t, exec.ID))
	assert.Equal(t, true, f.executor.inputFor("action_http_00000003")["approved"])
}

func TestFactory_ValidateWorkflow(t *testing.T) {
	factory := NewFactory()
	assert.Zero(t, factory.Len())
	ex := newFakeExecutor()
	ex.subtypes = []string{"http"}
	factory.Register(workflow.NodeTypeAction, ex)
	assert.Equal(t, 1, factory.Len())

	wf := chainWorkflow()
	assert.Empty(t, factory.ValidateWorkflow(wf))

	wf.Nodes[2].Subtype = "carrier_pigeon"
	errs := factory.ValidateWorkflow(wf)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unsupported subtype")

	wf.Nodes[2].Type = workflow.NodeTypeFlow
	errs = factory.ValidateWorkflow(wf)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no executor for type")
}
