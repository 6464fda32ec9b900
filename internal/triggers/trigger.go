// Package triggers implements the long-lived observers that watch external
// event sources and dispatch workflow executions: manual, webhook, cron,
// github, slack, and email.
package triggers

import (
	"context"
	"sync"
	"time"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/pkg/workflow"
)

// Kind is the trigger variant tag.
type Kind string

// Trigger kinds.
const (
	KindManual  Kind = "manual"
	KindWebhook Kind = "webhook"
	KindCron    Kind = "cron"
	KindGitHub  Kind = "github"
	KindSlack   Kind = "slack"
	KindEmail   Kind = "email"
)

// Status is the lifecycle state of a trigger.
type Status string

// Trigger statuses.
const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Health is a point-in-time health snapshot of one trigger.
type Health struct {
	TriggerID string         `json:"trigger_id"`
	Kind      Kind           `json:"trigger_type"`
	Status    Status         `json:"status"`
	Enabled   bool           `json:"enabled"`
	CheckedAt time.Time      `json:"checked_at"`
	Details   map[string]any `json:"details,omitempty"`
}

// Trigger is a deployed observer bound to one workflow.
//
// Start and Stop are idempotent. Start transitions PENDING to ACTIVE, or to
// PAUSED when the trigger is disabled; Stop transitions to STOPPED and
// releases resources.
type Trigger interface {
	ID() string
	WorkflowID() string
	Kind() Kind
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() Health
}

// base carries the state shared by every trigger variant.
type base struct {
	id         string
	workflowID string
	kind       Kind
	enabled    bool

	mu     sync.Mutex
	status Status
}

func newBase(id, workflowID string, kind Kind, enabled bool) base {
	return base{
		id:         id,
		workflowID: workflowID,
		kind:       kind,
		enabled:    enabled,
		status:     StatusPending,
	}
}

func (b *base) ID() string         { return b.id }
func (b *base) WorkflowID() string { return b.workflowID }
func (b *base) Kind() Kind         { return b.kind }

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// startState performs the shared Start transition. It reports whether the
// caller should proceed with variant-specific startup: false means the call
// was an idempotent no-op or the trigger is disabled (PAUSED).
func (b *base) startState() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusActive || b.status == StatusPaused {
		return false
	}
	if !b.enabled {
		b.status = StatusPaused
		return false
	}
	b.status = StatusActive
	return true
}

// stopState performs the shared Stop transition and reports whether
// variant-specific teardown should run.
func (b *base) stopState() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusStopped {
		return false
	}
	b.status = StatusStopped
	return true
}

func (b *base) health(details map[string]any) Health {
	return Health{
		TriggerID: b.id,
		Kind:      b.kind,
		Status:    b.Status(),
		Enabled:   b.enabled,
		CheckedAt: time.Now().UTC(),
		Details:   details,
	}
}

// active reports whether the trigger should fire.
func (b *base) active() bool {
	return b.enabled && b.Status() == StatusActive
}

// triggerData builds the common fire payload: trigger_type, triggered_at,
// plus the variant fields.
func triggerData(kind Kind, fields map[string]any) map[string]any {
	data := map[string]any{
		"trigger_type": string(kind),
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		data[k] = v
	}
	return data
}

// fire dispatches and notifies. Notification is best effort.
func fire(ctx context.Context, d dispatch.Dispatcher, n dispatch.Notifier, w *workflow.Workflow, kind Kind, fields map[string]any) dispatch.Result {
	data := triggerData(kind, fields)
	result := d.Dispatch(ctx, w, string(kind), data)
	if n != nil {
		n.NotifyDispatch(ctx, w.ID, string(kind), result)
	}
	return result
}
