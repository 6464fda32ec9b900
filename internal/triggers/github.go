package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/internal/github"
	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/workflow"
)

// GitHub fires on repository events delivered through the gateway's
// /github/webhook route. Events pass a filter chain before dispatch, and the
// payload is enriched with PR or commit context fetched as the GitHub App.
type GitHub struct {
	base
	wf           *workflow.Workflow
	cfg          GitHubConfig
	authorFilter *regexp.Regexp
	client       *github.Client
	dispatcher   dispatch.Dispatcher
	notifier     dispatch.Notifier
	logger       *slog.Logger
}

// NewGitHub creates a github trigger. client may be nil; enrichment is then
// skipped entirely.
func NewGitHub(id string, wf *workflow.Workflow, cfg GitHubConfig, enabled bool, client *github.Client, d dispatch.Dispatcher, n dispatch.Notifier, logger *slog.Logger) (*GitHub, error) {
	if cfg.Repository == "" || !strings.Contains(cfg.Repository, "/") {
		return nil, &errors.ValidationError{
			Field:      "repository",
			Message:    "repository must be owner/repo",
			Suggestion: "set repository to the full name, e.g. octo/demo",
		}
	}
	if len(cfg.Events) == 0 {
		return nil, &errors.ValidationError{
			Field:   "event_config",
			Message: "at least one event type must be configured",
		}
	}

	var authorFilter *regexp.Regexp
	if cfg.AuthorFilter != "" {
		re, err := regexp.Compile(cfg.AuthorFilter)
		if err != nil {
			return nil, &errors.ValidationError{
				Field:   "author_filter",
				Message: fmt.Sprintf("invalid regex: %v", err),
			}
		}
		authorFilter = re
	}

	return &GitHub{
		base:         newBase(id, wf.ID, KindGitHub, enabled),
		wf:           wf,
		cfg:          cfg,
		authorFilter: authorFilter,
		client:       client,
		dispatcher:   d,
		notifier:     n,
		logger: logger.With("component", "trigger-github",
			"workflow_id", wf.ID, "repository", cfg.Repository),
	}, nil
}

// Start implements Trigger. The installation token is exchanged up front so
// a bad app key or installation ID is visible at deploy time. The trigger
// still starts on failure: enrichment retries the exchange per event.
func (g *GitHub) Start(ctx context.Context) error {
	if g.client != nil && g.cfg.InstallationID != 0 {
		if err := g.client.WarmInstallation(ctx, g.cfg.InstallationID); err != nil {
			g.logger.Error("installation token warm-up failed",
				"installation_id", g.cfg.InstallationID, "error", err)
		}
	}
	g.startState()
	return nil
}

// Stop implements Trigger.
func (g *GitHub) Stop(ctx context.Context) error {
	g.stopState()
	return nil
}

// Health implements Trigger.
func (g *GitHub) Health() Health {
	events := make([]string, 0, len(g.cfg.Events))
	for evt := range g.cfg.Events {
		events = append(events, evt)
	}
	return g.health(map[string]any{
		"repository":      g.cfg.Repository,
		"installation_id": g.cfg.InstallationID,
		"events":          events,
	})
}

// Repository returns the configured owner/repo full name.
func (g *GitHub) Repository() string {
	return g.cfg.Repository
}

// ProcessEvent evaluates one delivered event against the filter chain and
// dispatches on match.
func (g *GitHub) ProcessEvent(ctx context.Context, eventType string, payload map[string]any) dispatch.Result {
	if !g.active() {
		return dispatch.Result{Status: dispatch.StatusSkipped, Message: "github trigger is not active"}
	}

	filters, configured := g.cfg.Events[eventType]
	if !configured {
		return skip("event type not configured: " + eventType)
	}
	if repo := nestedString(payload, "repository", "full_name"); repo != g.cfg.Repository {
		return skip("repository mismatch: " + repo)
	}
	if g.cfg.IgnoreBotSenders() && isBotSender(payload) {
		return skip("bot sender ignored")
	}
	if g.authorFilter != nil && !g.authorFilter.MatchString(eventAuthor(eventType, payload)) {
		return skip("author filter did not match")
	}
	if reason, ok := g.applyEventFilters(ctx, eventType, filters, payload); !ok {
		return skip(reason)
	}

	fields := map[string]any{
		"event_type":      eventType,
		"action":          stringField(payload, "action"),
		"repository":      payload["repository"],
		"sender":          payload["sender"],
		"payload":         payload,
		"installation_id": g.cfg.InstallationID,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	g.enrich(ctx, eventType, payload, fields)

	return fire(ctx, g.dispatcher, g.notifier, g.wf, KindGitHub, fields)
}

func skip(reason string) dispatch.Result {
	return dispatch.Result{Status: dispatch.StatusSkipped, Message: reason}
}

// applyEventFilters runs the per-event-type filters. It returns the skip
// reason when a filter rejects.
func (g *GitHub) applyEventFilters(ctx context.Context, eventType string, f GitHubEventFilters, payload map[string]any) (string, bool) {
	if len(f.Branches) > 0 {
		branch := eventBranch(eventType, payload)
		if !contains(f.Branches, branch) {
			return "branch not matched: " + branch, false
		}
	}
	if len(f.Actions) > 0 && !contains(f.Actions, stringField(payload, "action")) {
		return "action not matched: " + stringField(payload, "action"), false
	}
	if len(f.Labels) > 0 && !intersectsLabels(f.Labels, payload) {
		return "labels not matched", false
	}
	if eventType == "pull_request" {
		draft := nestedBool(payload, "pull_request", "draft")
		switch f.DraftHandling {
		case "ignore":
			if draft {
				return "draft PR ignored", false
			}
		case "only":
			if !draft {
				return "non-draft PR ignored", false
			}
		}
	}
	if len(f.Paths) > 0 {
		files := g.changedFiles(ctx, eventType, payload)
		if !anyPathMatches(f.Paths, files) {
			return "no changed file matched path filters", false
		}
	}
	if len(f.Authors) > 0 && !contains(f.Authors, eventAuthorLogin(eventType, payload)) {
		return "author not in allow-list", false
	}
	if len(f.States) > 0 && eventType == "pull_request_review" {
		if !contains(f.States, nestedString(payload, "review", "state")) {
			return "review state not matched", false
		}
	}
	if eventType == "workflow_run" || eventType == "workflow_job" {
		key := eventType
		if len(f.Workflows) > 0 && !contains(f.Workflows, nestedString(payload, key, "name")) {
			return "workflow not matched", false
		}
		if len(f.Conclusions) > 0 && !contains(f.Conclusions, nestedString(payload, key, "conclusion")) {
			return "conclusion not matched", false
		}
	}
	if len(f.RefTypes) > 0 && (eventType == "create" || eventType == "delete") {
		if !contains(f.RefTypes, stringField(payload, "ref_type")) {
			return "ref type not matched", false
		}
	}
	return "", true
}

// enrich attaches PR or commit context. Enrichment is best effort: fetch
// failures log and dispatch proceeds without context.
func (g *GitHub) enrich(ctx context.Context, eventType string, payload, fields map[string]any) {
	if g.client == nil {
		return
	}
	owner, repo, ok := strings.Cut(g.cfg.Repository, "/")
	if !ok {
		return
	}

	switch eventType {
	case "pull_request", "pull_request_review", "pull_request_review_comment":
		number := intField(nestedMap(payload, "pull_request"), "number")
		if number == 0 {
			return
		}
		prCtx := map[string]any{}
		if pr, err := g.client.PRDetails(ctx, g.cfg.InstallationID, owner, repo, number); err != nil {
			g.logger.Warn("failed to fetch PR details", "pr", number, "error", err)
		} else {
			prCtx["details"] = pr
		}
		if files, err := g.client.PRFiles(ctx, g.cfg.InstallationID, owner, repo, number); err != nil {
			g.logger.Warn("failed to fetch PR files", "pr", number, "error", err)
		} else {
			prCtx["files"] = files
		}
		if g.cfg.FetchDiff {
			if diff, err := g.client.PRDiff(ctx, g.cfg.InstallationID, owner, repo, number); err != nil {
				g.logger.Warn("failed to fetch PR diff", "pr", number, "error", err)
			} else {
				prCtx["diff"] = diff
			}
		}
		if len(prCtx) > 0 {
			fields["pr_context"] = prCtx
		}
	case "push":
		var contexts []any
		for _, c := range listField(payload, "commits") {
			commit, ok := c.(map[string]any)
			if !ok {
				continue
			}
			sha := stringField(commit, "id")
			if sha == "" {
				continue
			}
			detail, err := g.client.GetCommit(ctx, g.cfg.InstallationID, owner, repo, sha)
			if err != nil {
				g.logger.Warn("failed to fetch commit", "sha", sha, "error", err)
				continue
			}
			contexts = append(contexts, detail)
		}
		if len(contexts) > 0 {
			fields["commit_contexts"] = contexts
		}
	}
}

// changedFiles resolves the files an event touched: push events carry them
// inline; pull requests need the files API.
func (g *GitHub) changedFiles(ctx context.Context, eventType string, payload map[string]any) []string {
	switch eventType {
	case "push":
		seen := make(map[string]struct{})
		var files []string
		for _, c := range listField(payload, "commits") {
			commit, ok := c.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"added", "modified", "removed"} {
				for _, f := range listField(commit, key) {
					name, ok := f.(string)
					if !ok {
						continue
					}
					if _, dup := seen[name]; !dup {
						seen[name] = struct{}{}
						files = append(files, name)
					}
				}
			}
		}
		return files
	case "pull_request":
		if g.client == nil {
			return nil
		}
		owner, repo, ok := strings.Cut(g.cfg.Repository, "/")
		if !ok {
			return nil
		}
		number := intField(nestedMap(payload, "pull_request"), "number")
		changed, err := g.client.PRFiles(ctx, g.cfg.InstallationID, owner, repo, number)
		if err != nil {
			g.logger.Warn("failed to fetch PR files for path filter", "pr", number, "error", err)
			return nil
		}
		files := make([]string, 0, len(changed))
		for _, f := range changed {
			files = append(files, f.Filename)
		}
		return files
	default:
		return nil
	}
}

func isBotSender(payload map[string]any) bool {
	sender := nestedMap(payload, "sender")
	if stringField(sender, "type") == "Bot" {
		return true
	}
	return strings.Contains(stringField(sender, "login"), "[bot]")
}

// eventAuthor picks the author string the global regex filter matches
// against: first commit author name for pushes, the PR/issue user login,
// otherwise the sender login.
func eventAuthor(eventType string, payload map[string]any) string {
	switch eventType {
	case "push":
		commits := listField(payload, "commits")
		if len(commits) > 0 {
			if commit, ok := commits[0].(map[string]any); ok {
				return nestedString(commit, "author", "name")
			}
		}
	case "pull_request":
		return nestedString(payload, "pull_request", "user", "login")
	case "issues", "issue_comment":
		return nestedString(payload, "issue", "user", "login")
	}
	return nestedString(payload, "sender", "login")
}

// eventAuthorLogin is the login the authors allow-list matches against.
func eventAuthorLogin(eventType string, payload map[string]any) string {
	switch eventType {
	case "pull_request":
		return nestedString(payload, "pull_request", "user", "login")
	case "issues", "issue_comment":
		return nestedString(payload, "issue", "user", "login")
	default:
		return nestedString(payload, "sender", "login")
	}
}

// eventBranch extracts the branch a filter applies to: refs/heads/{branch}
// for pushes, base.ref for pull requests.
func eventBranch(eventType string, payload map[string]any) string {
	switch eventType {
	case "push":
		return strings.TrimPrefix(stringField(payload, "ref"), "refs/heads/")
	case "pull_request":
		return nestedString(payload, "pull_request", "base", "ref")
	default:
		return ""
	}
}

func intersectsLabels(want []string, payload map[string]any) bool {
	var labels []any
	if pr := nestedMap(payload, "pull_request"); pr != nil {
		labels = listField(pr, "labels")
	} else if issue := nestedMap(payload, "issue"); issue != nil {
		labels = listField(issue, "labels")
	}
	for _, l := range labels {
		label, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if contains(want, stringField(label, "name")) {
			return true
		}
	}
	return false
}

func anyPathMatches(patterns, files []string) bool {
	for _, file := range files {
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, file); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Payload accessors. GitHub payloads arrive as decoded JSON maps.

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func listField(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	l, _ := m[key].([]any)
	return l
}

func nestedMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

func nestedString(m map[string]any, keys ...string) string {
	for _, key := range keys[:len(keys)-1] {
		m = nestedMap(m, key)
	}
	return stringField(m, keys[len(keys)-1])
}

func nestedBool(m map[string]any, keys ...string) bool {
	for _, key := range keys[:len(keys)-1] {
		m = nestedMap(m, key)
	}
	if m == nil {
		return false
	}
	b, _ := m[keys[len(keys)-1]].(bool)
	return b
}
