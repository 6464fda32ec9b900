package triggers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/workflow"
)

// WebhookConfig configures a webhook trigger.
type WebhookConfig struct {
	// Path defaults to /webhook/{workflow_id} and is normalized to carry
	// a leading slash.
	Path string `json:"webhook_path,omitempty"`

	// Methods defaults to [POST].
	Methods []string `json:"methods,omitempty"`

	// RequireAuth demands a Bearer token or X-API-Key header.
	RequireAuth bool `json:"require_auth,omitempty"`

	// RatePerMinute caps inbound deliveries. 0 disables the limit.
	RatePerMinute int `json:"rate_per_minute,omitempty"`
}

// CronConfig configures a cron trigger.
type CronConfig struct {
	// Expression is a 5-field cron expression, or 6 fields with seconds
	// first.
	Expression string `json:"cron_expression"`

	// Timezone is an IANA zone name. Unknown zones fall back to UTC.
	Timezone string `json:"timezone,omitempty"`
}

// GitHubEventFilters are the per-event-type filters of a github trigger.
type GitHubEventFilters struct {
	Branches      []string `json:"branches,omitempty"`
	Actions       []string `json:"actions,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	DraftHandling string   `json:"draft_handling,omitempty"` // ignore, only, any
	Paths         []string `json:"paths,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	States        []string `json:"states,omitempty"`
	Workflows     []string `json:"workflows,omitempty"`
	Conclusions   []string `json:"conclusions,omitempty"`
	RefTypes      []string `json:"ref_types,omitempty"`
}

// GitHubConfig configures a github trigger.
type GitHubConfig struct {
	InstallationID int64                         `json:"installation_id"`
	Repository     string                        `json:"repository"` // owner/repo
	Events         map[string]GitHubEventFilters `json:"event_config"`
	AuthorFilter   string                        `json:"author_filter,omitempty"` // regex
	IgnoreBots     *bool                         `json:"ignore_bots,omitempty"`   // default true
	FetchDiff      bool                          `json:"fetch_diff,omitempty"`
}

// IgnoreBotSenders resolves the ignore_bots default.
func (c *GitHubConfig) IgnoreBotSenders() bool {
	return c.IgnoreBots == nil || *c.IgnoreBots
}

// SlackConfig configures a slack trigger.
type SlackConfig struct {
	WorkspaceID     string   `json:"workspace_id"`
	ChannelFilter   string   `json:"channel_filter,omitempty"`
	EventTypes      []string `json:"event_types,omitempty"` // default [message, app_mention]
	MentionRequired bool     `json:"mention_required,omitempty"`
	CommandPrefix   string   `json:"command_prefix,omitempty"`
	UserFilter      string   `json:"user_filter,omitempty"`
	IgnoreBots      *bool    `json:"ignore_bots,omitempty"` // default true
	RequireThread   bool     `json:"require_thread,omitempty"`
}

// IgnoreBotEvents resolves the ignore_bots default.
func (c *SlackConfig) IgnoreBotEvents() bool {
	return c.IgnoreBots == nil || *c.IgnoreBots
}

// EmailConfig configures an email trigger.
type EmailConfig struct {
	// Filter is either "from:|subject:|to:|body:value" or a free
	// substring matched across subject, sender, and body.
	Filter string `json:"email_filter,omitempty"`

	// Folder defaults to INBOX.
	Folder string `json:"folder,omitempty"`

	// MarkAsRead defaults to true.
	MarkAsRead *bool `json:"mark_as_read,omitempty"`

	// AttachmentProcessing is "include" (default) or "exclude".
	AttachmentProcessing string `json:"attachment_processing,omitempty"`

	// CheckIntervalSeconds overrides the daemon-wide poll interval.
	CheckIntervalSeconds int `json:"check_interval,omitempty"`
}

// MarkSeen resolves the mark_as_read default.
func (c *EmailConfig) MarkSeen() bool {
	return c.MarkAsRead == nil || *c.MarkAsRead
}

// IncludeAttachments resolves the attachment_processing default.
func (c *EmailConfig) IncludeAttachments() bool {
	return c.AttachmentProcessing == "" || c.AttachmentProcessing == "include"
}

// decodeConfig maps a trigger node's parameters onto a typed config.
func decodeConfig(params map[string]any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode trigger parameters: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &errors.ValidationError{
			Field:   "parameters",
			Message: fmt.Sprintf("trigger parameters do not match config: %v", err),
		}
	}
	return nil
}

// nodeEnabled reads the enabled flag of a trigger node, defaulting to true.
// A disabled node also disables its trigger.
func nodeEnabled(node workflow.Node) bool {
	if node.Disabled {
		return false
	}
	if v, ok := node.Parameters["enabled"].(bool); ok {
		return v
	}
	return true
}

// normalizePath guarantees a leading slash.
func normalizePath(path string) string {
	if path == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
