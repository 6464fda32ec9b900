package triggers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/internal/lock"
	"github.com/relayfleet/relay/pkg/workflow"
)

type dispatchCall struct {
	WorkflowID  string
	TriggerType string
	TriggerData map[string]any
}

// fakeDispatcher records calls and returns a canned result.
type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	result *dispatch.Result
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, w *workflow.Workflow, triggerSource string, triggerData map[string]any) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{
		WorkflowID:  w.ID,
		TriggerType: triggerSource,
		TriggerData: triggerData,
	})
	if f.result != nil {
		return *f.result
	}
	return dispatch.Result{Status: dispatch.StatusStarted, ExecutionID: "exec_test"}
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDispatcher) lastCall() dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func triggerWorkflow(id string, nodes ...workflow.Node) *workflow.Workflow {
	return &workflow.Workflow{
		ID: id, UserID: "user_1", Name: "test workflow", Active: true,
		Nodes: nodes,
	}
}

func TestManualTrigger_Fire(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	wf := triggerWorkflow("wf_1")
	m := NewManual("trigger_manual_a1b2c3d4", wf, true, d, nil, testLogger())
	require.NoError(t, m.Start(ctx))

	result := m.Fire(ctx, "user_1")
	assert.Equal(t, dispatch.StatusStarted, result.Status)

	call := d.lastCall()
	assert.Equal(t, "manual", call.TriggerType)
	assert.Equal(t, "manual", call.TriggerData["trigger_type"])
	assert.Equal(t, "user_1", call.TriggerData["user_id"])
	assert.NotEmpty(t, call.TriggerData["triggered_at"])
}

func TestManualTrigger_DisabledRejects(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	m := NewManual("trigger_manual_a1b2c3d4", triggerWorkflow("wf_1"), false, d, nil, testLogger())
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StatusPaused, m.Status())

	result := m.Fire(ctx, "user_1")
	assert.Equal(t, dispatch.StatusError, result.Status)
	assert.Equal(t, "Manual trigger is disabled", result.Message)
	assert.Zero(t, d.callCount(), "disabled trigger must not dispatch")
}

func TestTrigger_StartStopStart(t *testing.T) {
	ctx := context.Background()
	m := NewManual("trigger_manual_a1b2c3d4", triggerWorkflow("wf_1"), true, &fakeDispatcher{}, nil, testLogger())

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StatusActive, m.Status())
	require.NoError(t, m.Start(ctx), "second start is a no-op")
	assert.Equal(t, StatusActive, m.Status())

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, StatusStopped, m.Status())
	require.NoError(t, m.Stop(ctx), "second stop is a no-op")

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StatusActive, m.Status())
}

func TestWebhookTrigger_Process(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	wf := triggerWorkflow("wf_1")
	wh := NewWebhook("trigger_webhook_a1b2c3d4", wf, WebhookConfig{}, true,
		"https://gw.example.com", nil, d, nil, testLogger())
	require.NoError(t, wh.Start(ctx))

	assert.Equal(t, "/webhook/wf_1", wh.Path())
	assert.Equal(t, "https://gw.example.com/webhook/wf_1", wh.URL())

	result := wh.Process(ctx, WebhookRequest{
		Method:      "POST",
		Path:        "/webhook/wf_1",
		Body:        map[string]any{"ref": "main"},
		RemoteAddr:  "10.0.0.1",
		ContentType: "application/json",
	})
	require.Equal(t, dispatch.StatusStarted, result.Status)

	call := d.lastCall()
	assert.Equal(t, "webhook", call.TriggerData["trigger_type"])
	assert.Equal(t, "POST", call.TriggerData["method"])
	assert.Equal(t, "/webhook/wf_1", call.TriggerData["webhook_path"])
}

func TestWebhookTrigger_MethodNotAllowed(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	wh := NewWebhook("trigger_webhook_a1b2c3d4", triggerWorkflow("wf_1"),
		WebhookConfig{Methods: []string{"POST", "PUT"}}, true, "", nil, d, nil, testLogger())
	require.NoError(t, wh.Start(ctx))

	result := wh.Process(ctx, WebhookRequest{Method: "GET", Path: wh.Path()})
	assert.Equal(t, dispatch.StatusFailed, result.Status)
	assert.Zero(t, d.callCount(), "rejected method must not dispatch")
}

func TestWebhookTrigger_PathNormalization(t *testing.T) {
	wh := NewWebhook("trigger_webhook_a1b2c3d4", triggerWorkflow("wf_1"),
		WebhookConfig{Path: "hooks/deploy"}, true, "", nil, &fakeDispatcher{}, nil, testLogger())
	assert.Equal(t, "/hooks/deploy", wh.Path())
}

func TestWebhookTrigger_RequireAuth(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	validate := func(ctx context.Context, token string) bool { return token == "sk_good" }
	wh := NewWebhook("trigger_webhook_a1b2c3d4", triggerWorkflow("wf_1"),
		WebhookConfig{RequireAuth: true}, true, "", validate, d, nil, testLogger())
	require.NoError(t, wh.Start(ctx))

	result := wh.Process(ctx, WebhookRequest{Method: "POST", Path: wh.Path()})
	assert.Equal(t, dispatch.StatusFailed, result.Status, "missing credentials reject")

	result = wh.Process(ctx, WebhookRequest{Method: "POST", Path: wh.Path(), BearerToken: "sk_bad"})
	assert.Equal(t, dispatch.StatusFailed, result.Status, "invalid token rejects")

	result = wh.Process(ctx, WebhookRequest{Method: "POST", Path: wh.Path(), APIKey: "sk_good"})
	assert.Equal(t, dispatch.StatusStarted, result.Status, "X-API-Key is accepted")
}

func TestWebhookTrigger_RateLimit(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	wh := NewWebhook("trigger_webhook_a1b2c3d4", triggerWorkflow("wf_1"),
		WebhookConfig{RatePerMinute: 2}, true, "", nil, d, nil, testLogger())
	require.NoError(t, wh.Start(ctx))

	req := WebhookRequest{Method: "POST", Path: wh.Path()}
	assert.Equal(t, dispatch.StatusStarted, wh.Process(ctx, req).Status)
	assert.Equal(t, dispatch.StatusStarted, wh.Process(ctx, req).Status)
	assert.Equal(t, dispatch.StatusFailed, wh.Process(ctx, req).Status, "burst exhausted")
	assert.Equal(t, 2, d.callCount())
}

func TestRegistry_DeployAndUndeploy(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	reg := NewRegistry(Deps{
		Dispatcher: d,
		Locker:     lock.NewMemory(),
		Logger:     testLogger(),
	})

	wf := triggerWorkflow("wf_1",
		workflow.Node{ID: "trigger_manual_a1b2c3d4", Name: "Manual", Type: workflow.NodeTypeTrigger, Subtype: "manual"},
		workflow.Node{ID: "trigger_webhook_e5f6a7b8", Name: "Hook", Type: workflow.NodeTypeTrigger, Subtype: "webhook",
			Parameters: map[string]any{"webhook_path": "/hooks/deploy"}},
	)
	require.NoError(t, reg.Deploy(ctx, wf))

	health := reg.Health("wf_1")
	require.Len(t, health, 2)
	for _, h := range health {
		assert.Equal(t, StatusActive, h.Status)
	}

	m, ok := reg.Manual("wf_1")
	require.True(t, ok)
	assert.Equal(t, "trigger_manual_a1b2c3d4", m.ID())

	wh, ok := reg.LookupWebhook("/hooks/deploy")
	require.True(t, ok)
	assert.Equal(t, "wf_1", wh.WorkflowID())

	require.NoError(t, reg.Undeploy(ctx, "wf_1"))
	assert.Empty(t, reg.Health("wf_1"))
	_, ok = reg.LookupWebhook("/hooks/deploy")
	assert.False(t, ok)
	assert.Equal(t, StatusStopped, m.Status())
}

func TestRegistry_DeployRejectsTriggerlessWorkflow(t *testing.T) {
	reg := NewRegistry(Deps{Dispatcher: &fakeDispatcher{}, Logger: testLogger()})
	err := reg.Deploy(context.Background(), triggerWorkflow("wf_1"))
	assert.Error(t, err)
}

func TestRegistry_BadTriggerConfigKeepsWorkflowDeployed(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(Deps{Dispatcher: &fakeDispatcher{}, Locker: lock.NewMemory(), Logger: testLogger()})

	wf := triggerWorkflow("wf_1",
		workflow.Node{ID: "trigger_cron_a1b2c3d4", Name: "Bad cron", Type: workflow.NodeTypeTrigger, Subtype: "cron",
			Parameters: map[string]any{"cron_expression": "not a cron"}},
		workflow.Node{ID: "trigger_manual_e5f6a7b8", Name: "Manual", Type: workflow.NodeTypeTrigger, Subtype: "manual"},
	)
	require.NoError(t, reg.Deploy(ctx, wf))

	// The bad cron trigger is inert; the manual trigger still works.
	health := reg.Health("wf_1")
	require.Len(t, health, 1)
	assert.Equal(t, KindManual, health[0].Kind)
}
