package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/internal/github"
	"github.com/relayfleet/relay/internal/lock"
	"github.com/relayfleet/relay/internal/metrics"
	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/workflow"
)

// Deps are the collaborators triggers need. One Deps value serves the whole
// registry.
type Deps struct {
	Dispatcher dispatch.Dispatcher
	Notifier   dispatch.Notifier
	Locker     lock.Locker
	GitHub     *github.Client
	Slack      *SlackEventRouter
	IMAP       IMAPSettings
	GatewayURL string
	Validator  TokenValidator
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Registry holds the deployed triggers, keyed workflow_id then trigger_id.
// Reads (lookup, health) take the read lock; deploy and undeploy exclude
// readers.
type Registry struct {
	deps Deps

	mu         sync.RWMutex
	byWorkflow map[string]map[string]Trigger
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		deps:       deps,
		byWorkflow: make(map[string]map[string]Trigger),
	}
}

// Deploy instantiates and starts one trigger per trigger node of the
// workflow. A trigger with bad config or a failed start stays inert (or in
// ERROR) without failing the deployment; the workflow remains deployed.
func (r *Registry) Deploy(ctx context.Context, wf *workflow.Workflow) error {
	logger := r.deps.Logger.With("workflow_id", wf.ID)

	nodes := wf.TriggerNodes()
	if len(nodes) == 0 {
		return &errors.ValidationError{
			Field:   "nodes",
			Message: fmt.Sprintf("workflow %s has no trigger nodes", wf.ID),
		}
	}

	deployed := make(map[string]Trigger, len(nodes))
	for _, node := range nodes {
		t, err := r.build(wf, node)
		if err != nil {
			logger.Error("failed to build trigger",
				"trigger_id", node.ID, "trigger_type", node.Subtype, "error", err)
			continue
		}
		if err := t.Start(ctx); err != nil {
			logger.Error("trigger failed to start",
				"trigger_id", t.ID(), "trigger_type", t.Kind(), "error", err)
			// Keep it registered so health reports the ERROR state.
		}
		deployed[t.ID()] = t
	}

	r.mu.Lock()
	old := r.byWorkflow[wf.ID]
	r.byWorkflow[wf.ID] = deployed
	r.mu.Unlock()
	r.deps.Metrics.AddActiveTriggers(len(deployed) - len(old))

	// Redeployment replaces triggers; stop the previous generation.
	for _, t := range old {
		if err := t.Stop(ctx); err != nil {
			logger.Warn("failed to stop replaced trigger", "trigger_id", t.ID(), "error", err)
		}
	}

	logger.Info("workflow deployed", "triggers", len(deployed))
	return nil
}

// Undeploy stops and removes every trigger of the workflow.
func (r *Registry) Undeploy(ctx context.Context, workflowID string) error {
	r.mu.Lock()
	ts, ok := r.byWorkflow[workflowID]
	delete(r.byWorkflow, workflowID)
	r.mu.Unlock()

	if !ok {
		return &errors.NotFoundError{Resource: "deployed workflow", ID: workflowID}
	}
	r.deps.Metrics.AddActiveTriggers(-len(ts))
	for _, t := range ts {
		if err := t.Stop(ctx); err != nil {
			r.deps.Logger.Warn("failed to stop trigger",
				"workflow_id", workflowID, "trigger_id", t.ID(), "error", err)
		}
	}
	return nil
}

// Shutdown stops every deployed trigger.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := r.byWorkflow
	r.byWorkflow = make(map[string]map[string]Trigger)
	r.mu.Unlock()

	for workflowID, ts := range all {
		r.deps.Metrics.AddActiveTriggers(-len(ts))
		for _, t := range ts {
			if err := t.Stop(ctx); err != nil {
				r.deps.Logger.Warn("failed to stop trigger",
					"workflow_id", workflowID, "trigger_id", t.ID(), "error", err)
			}
		}
	}
}

// Health reports the health of every trigger of the workflow.
func (r *Registry) Health(workflowID string) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts := r.byWorkflow[workflowID]
	out := make([]Health, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Health())
	}
	return out
}

// AllHealth reports health across every deployed workflow.
func (r *Registry) AllHealth() map[string][]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]Health, len(r.byWorkflow))
	for workflowID := range r.byWorkflow {
		ts := r.byWorkflow[workflowID]
		hs := make([]Health, 0, len(ts))
		for _, t := range ts {
			hs = append(hs, t.Health())
		}
		out[workflowID] = hs
	}
	return out
}

// LookupWebhook finds the webhook trigger serving a path.
func (r *Registry) LookupWebhook(path string) (*Webhook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ts := range r.byWorkflow {
		for _, t := range ts {
			if wh, ok := t.(*Webhook); ok && wh.Path() == path {
				return wh, true
			}
		}
	}
	return nil, false
}

// GitHubTriggers returns every deployed github trigger, for webhook fan-out.
func (r *Registry) GitHubTriggers() []*GitHub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*GitHub
	for _, ts := range r.byWorkflow {
		for _, t := range ts {
			if gh, ok := t.(*GitHub); ok {
				out = append(out, gh)
			}
		}
	}
	return out
}

// Manual returns the manual trigger of a workflow, if one is deployed.
func (r *Registry) Manual(workflowID string) (*Manual, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byWorkflow[workflowID] {
		if m, ok := t.(*Manual); ok {
			return m, true
		}
	}
	return nil, false
}

// build constructs the trigger a node describes. The node's subtype selects
// the variant; parameters carry the variant config.
func (r *Registry) build(wf *workflow.Workflow, node workflow.Node) (Trigger, error) {
	enabled := nodeEnabled(node)

	switch Kind(node.Subtype) {
	case KindManual:
		return NewManual(node.ID, wf, enabled, r.deps.Dispatcher, r.deps.Notifier, r.deps.Logger), nil

	case KindWebhook:
		var cfg WebhookConfig
		if err := decodeConfig(node.Parameters, &cfg); err != nil {
			return nil, err
		}
		return NewWebhook(node.ID, wf, cfg, enabled, r.deps.GatewayURL,
			r.deps.Validator, r.deps.Dispatcher, r.deps.Notifier, r.deps.Logger), nil

	case KindCron:
		var cfg CronConfig
		if err := decodeConfig(node.Parameters, &cfg); err != nil {
			return nil, err
		}
		return NewCron(node.ID, wf, cfg, enabled, r.deps.Locker,
			r.deps.Dispatcher, r.deps.Notifier, r.deps.Logger)

	case KindGitHub:
		var cfg GitHubConfig
		if err := decodeConfig(node.Parameters, &cfg); err != nil {
			return nil, err
		}
		return NewGitHub(node.ID, wf, cfg, enabled, r.deps.GitHub,
			r.deps.Dispatcher, r.deps.Notifier, r.deps.Logger)

	case KindSlack:
		var cfg SlackConfig
		if err := decodeConfig(node.Parameters, &cfg); err != nil {
			return nil, err
		}
		return NewSlack(node.ID, wf, cfg, enabled, r.deps.Slack,
			r.deps.Dispatcher, r.deps.Notifier, r.deps.Logger), nil

	case KindEmail:
		var cfg EmailConfig
		if err := decodeConfig(node.Parameters, &cfg); err != nil {
			return nil, err
		}
		return NewEmail(node.ID, wf, cfg, enabled, r.deps.IMAP,
			r.deps.Dispatcher, r.deps.Notifier, r.deps.Logger)

	default:
		return nil, &errors.ValidationError{
			Field:   "subtype",
			Message: fmt.Sprintf("unknown trigger subtype %q", node.Subtype),
		}
	}
}
