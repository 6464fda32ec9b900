package triggers

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/pkg/workflow"
)

// SlackEventRouter fans inbound Slack events out to the triggers registered
// for the delivering workspace.
type SlackEventRouter struct {
	mu     sync.RWMutex
	byTeam map[string]map[string]*Slack
	logger *slog.Logger
}

// NewSlackEventRouter creates an empty router.
func NewSlackEventRouter(logger *slog.Logger) *SlackEventRouter {
	return &SlackEventRouter{
		byTeam: make(map[string]map[string]*Slack),
		logger: logger.With("component", "slack-router"),
	}
}

func (r *SlackEventRouter) register(t *Slack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byTeam[t.cfg.WorkspaceID] == nil {
		r.byTeam[t.cfg.WorkspaceID] = make(map[string]*Slack)
	}
	r.byTeam[t.cfg.WorkspaceID][t.id] = t
}

func (r *SlackEventRouter) unregister(t *Slack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTeam[t.cfg.WorkspaceID], t.id)
}

// Route delivers one event payload to every trigger registered for teamID
// and returns the per-trigger results.
func (r *SlackEventRouter) Route(ctx context.Context, teamID string, payload map[string]any) []dispatch.Result {
	r.mu.RLock()
	targets := make([]*Slack, 0, len(r.byTeam[teamID]))
	for _, t := range r.byTeam[teamID] {
		targets = append(targets, t)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		r.logger.Debug("no slack triggers for workspace", "team_id", teamID)
		return nil
	}

	results := make([]dispatch.Result, 0, len(targets))
	for _, t := range targets {
		results = append(results, t.ProcessEvent(ctx, payload))
	}
	return results
}

// Slack fires on workspace events delivered through the gateway's
// /slack/events route.
type Slack struct {
	base
	wf         *workflow.Workflow
	cfg        SlackConfig
	eventTypes map[string]struct{}
	router     *SlackEventRouter
	dispatcher dispatch.Dispatcher
	notifier   dispatch.Notifier
	logger     *slog.Logger
}

// mentionPattern matches a <@U...> user mention token in message text.
var mentionPattern = regexp.MustCompile(`<@U[A-Z0-9]+>`)

// NewSlack creates a slack trigger bound to a workspace.
func NewSlack(id string, wf *workflow.Workflow, cfg SlackConfig, enabled bool, router *SlackEventRouter, d dispatch.Dispatcher, n dispatch.Notifier, logger *slog.Logger) *Slack {
	types := cfg.EventTypes
	if len(types) == 0 {
		types = []string{"message", "app_mention"}
	}
	eventTypes := make(map[string]struct{}, len(types))
	for _, t := range types {
		eventTypes[t] = struct{}{}
	}

	return &Slack{
		base:       newBase(id, wf.ID, KindSlack, enabled),
		wf:         wf,
		cfg:        cfg,
		eventTypes: eventTypes,
		router:     router,
		dispatcher: d,
		notifier:   n,
		logger: logger.With("component", "trigger-slack",
			"workflow_id", wf.ID, "workspace_id", cfg.WorkspaceID),
	}
}

// Start implements Trigger. Active triggers register with the router.
func (s *Slack) Start(ctx context.Context) error {
	if !s.startState() {
		return nil
	}
	if s.router != nil {
		s.router.register(s)
	}
	return nil
}

// Stop implements Trigger.
func (s *Slack) Stop(ctx context.Context) error {
	if !s.stopState() {
		return nil
	}
	if s.router != nil {
		s.router.unregister(s)
	}
	return nil
}

// Health implements Trigger.
func (s *Slack) Health() Health {
	return s.health(map[string]any{
		"workspace_id": s.cfg.WorkspaceID,
	})
}

// ProcessEvent evaluates one event callback payload. The Slack-specific
// event sits under the payload's "event" key.
func (s *Slack) ProcessEvent(ctx context.Context, payload map[string]any) dispatch.Result {
	if !s.active() {
		return dispatch.Result{Status: dispatch.StatusSkipped, Message: "slack trigger is not active"}
	}

	event := nestedMap(payload, "event")
	if event == nil {
		return skip("payload carries no event")
	}

	eventType := stringField(event, "type")
	if _, ok := s.eventTypes[eventType]; !ok {
		return skip("event type not configured: " + eventType)
	}
	if !matchSlackID(s.cfg.ChannelFilter, "C", stringField(event, "channel")) {
		return skip("channel filter did not match")
	}
	if !matchSlackID(s.cfg.UserFilter, "U", stringField(event, "user")) {
		return skip("user filter did not match")
	}
	if s.cfg.IgnoreBotEvents() && stringField(event, "bot_id") != "" {
		return skip("bot event ignored")
	}
	if s.cfg.MentionRequired && !mentioned(eventType, event) {
		return skip("mention required")
	}
	if s.cfg.RequireThread && stringField(event, "thread_ts") == "" {
		return skip("thread required")
	}
	if eventType == "message" && s.cfg.CommandPrefix != "" &&
		!strings.HasPrefix(stringField(event, "text"), s.cfg.CommandPrefix) {
		return skip("command prefix required")
	}

	fields := map[string]any{
		"event_type":   eventType,
		"message":      stringField(event, "text"),
		"user_id":      stringField(event, "user"),
		"channel_id":   stringField(event, "channel"),
		"team_id":      stringField(payload, "team_id"),
		"timestamp":    stringField(event, "ts"),
		"workspace_id": s.cfg.WorkspaceID,
		"event_data":   event,
	}
	if threadTS := stringField(event, "thread_ts"); threadTS != "" {
		fields["thread_ts"] = threadTS
	}
	return fire(ctx, s.dispatcher, s.notifier, s.wf, KindSlack, fields)
}

// matchSlackID applies a filter that is either an exact Slack ID (when it
// starts with the given prefix) or a regex over the ID. An empty filter
// matches everything.
func matchSlackID(filter, idPrefix, id string) bool {
	if filter == "" {
		return true
	}
	if strings.HasPrefix(filter, idPrefix) {
		return filter == id
	}
	re, err := regexp.Compile(filter)
	if err != nil {
		return false
	}
	return re.MatchString(id)
}

// mentioned reports whether the event addresses the app: an app_mention
// event, a <@U...> token in the text, or a rich_text block with a user
// element.
func mentioned(eventType string, event map[string]any) bool {
	if eventType == "app_mention" {
		return true
	}
	if mentionPattern.MatchString(stringField(event, "text")) {
		return true
	}
	for _, b := range listField(event, "blocks") {
		block, ok := b.(map[string]any)
		if !ok || stringField(block, "type") != "rich_text" {
			continue
		}
		if richTextHasUser(block) {
			return true
		}
	}
	return false
}

func richTextHasUser(block map[string]any) bool {
	for _, e := range listField(block, "elements") {
		elem, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if stringField(elem, "type") == "user" {
			return true
		}
		if richTextHasUser(elem) {
			return true
		}
	}
	return false
}
