package triggers

import (
	"context"
	"log/slog"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/pkg/workflow"
)

// Manual fires only when an authenticated caller asks it to.
type Manual struct {
	base
	wf         *workflow.Workflow
	dispatcher dispatch.Dispatcher
	notifier   dispatch.Notifier
	logger     *slog.Logger
}

// NewManual creates a manual trigger for the workflow.
func NewManual(id string, wf *workflow.Workflow, enabled bool, d dispatch.Dispatcher, n dispatch.Notifier, logger *slog.Logger) *Manual {
	return &Manual{
		base:       newBase(id, wf.ID, KindManual, enabled),
		wf:         wf,
		dispatcher: d,
		notifier:   n,
		logger:     logger.With("component", "trigger-manual", "workflow_id", wf.ID),
	}
}

// Start implements Trigger.
func (m *Manual) Start(ctx context.Context) error {
	m.startState()
	return nil
}

// Stop implements Trigger.
func (m *Manual) Stop(ctx context.Context) error {
	m.stopState()
	return nil
}

// Health implements Trigger.
func (m *Manual) Health() Health {
	return m.health(nil)
}

// Fire dispatches one execution on behalf of the caller. Disabled or
// non-active triggers reject without touching the engine.
func (m *Manual) Fire(ctx context.Context, userID string) dispatch.Result {
	if !m.active() {
		m.logger.Warn("rejected manual fire on inactive trigger", "user_id", userID)
		return dispatch.Result{
			Status:  dispatch.StatusError,
			Message: "Manual trigger is disabled",
		}
	}
	return fire(ctx, m.dispatcher, m.notifier, m.wf, KindManual, map[string]any{
		"user_id": userID,
	})
}
