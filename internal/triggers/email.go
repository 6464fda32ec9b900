package triggers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/workflow"
)

// maxEmbeddedAttachment is the inclusive size boundary for base64-embedding
// an attachment into trigger data. Larger attachments carry metadata only.
const maxEmbeddedAttachment = 1 << 20

// IMAPSettings are the daemon-wide IMAP service credentials.
type IMAPSettings struct {
	Server   string // host:port, IMAPS
	User     string
	Password string

	// Interval is the default poll interval when the trigger config does
	// not override it.
	Interval time.Duration
}

// EmailMessage is one parsed inbound message.
type EmailMessage struct {
	Subject     string            `json:"subject"`
	Sender      string            `json:"sender"`
	Recipient   string            `json:"recipient"`
	Date        time.Time         `json:"date"`
	BodyText    string            `json:"body_text,omitempty"`
	BodyHTML    string            `json:"body_html,omitempty"`
	Attachments []EmailAttachment `json:"attachments,omitempty"`
}

// EmailAttachment is one attachment, embedded when small enough.
type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`

	// Content is the base64 payload for attachments up to
	// maxEmbeddedAttachment bytes, empty beyond that.
	Content string `json:"content,omitempty"`
}

// Email polls an IMAP folder for unseen messages and dispatches matches.
// Sessions are per poll; there is no long-lived IMAP idle.
type Email struct {
	base
	wf       *workflow.Workflow
	cfg      EmailConfig
	settings IMAPSettings
	interval time.Duration

	dispatcher dispatch.Dispatcher
	notifier   dispatch.Notifier
	logger     *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewEmail creates an email trigger.
func NewEmail(id string, wf *workflow.Workflow, cfg EmailConfig, enabled bool, settings IMAPSettings, d dispatch.Dispatcher, n dispatch.Notifier, logger *slog.Logger) (*Email, error) {
	if settings.Server == "" || settings.User == "" || settings.Password == "" {
		return nil, &errors.ConfigError{
			Key:    "IMAP_SERVER",
			Reason: "email triggers need IMAP_SERVER, EMAIL_USER, and EMAIL_PASSWORD",
		}
	}
	interval := settings.Interval
	if cfg.CheckIntervalSeconds > 0 {
		interval = time.Duration(cfg.CheckIntervalSeconds) * time.Second
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Email{
		base:       newBase(id, wf.ID, KindEmail, enabled),
		wf:         wf,
		cfg:        cfg,
		settings:   settings,
		interval:   interval,
		dispatcher: d,
		notifier:   n,
		logger:     logger.With("component", "trigger-email", "workflow_id", wf.ID),
	}, nil
}

func (e *Email) folder() string {
	if e.cfg.Folder == "" {
		return "INBOX"
	}
	return e.cfg.Folder
}

// Start implements Trigger. The IMAP connection is tested before the poll
// loop begins; a failed test puts the trigger in ERROR.
func (e *Email) Start(ctx context.Context) error {
	if !e.startState() {
		return nil
	}

	if err := e.testConnection(); err != nil {
		e.setStatus(StatusError)
		return &errors.TriggerError{TriggerID: e.id, Message: "IMAP connection test failed", Cause: err}
	}

	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.pollLoop()
	e.logger.Info("email trigger started",
		"folder", e.folder(), "check_interval", e.interval.String())
	return nil
}

// Stop implements Trigger.
func (e *Email) Stop(ctx context.Context) error {
	if !e.stopState() {
		return nil
	}
	if e.stopCh != nil {
		close(e.stopCh)
		select {
		case <-e.doneCh:
		case <-ctx.Done():
		}
	}
	return nil
}

// Health implements Trigger.
func (e *Email) Health() Health {
	return e.health(map[string]any{
		"folder":         e.folder(),
		"check_interval": e.interval.String(),
	})
}

func (e *Email) pollLoop() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.poll(context.Background()); err != nil {
				e.logger.Error("email poll failed", "error", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Email) testConnection() error {
	c, err := client.DialTLS(e.settings.Server, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", e.settings.Server, err)
	}
	defer c.Logout()
	if err := c.Login(e.settings.User, e.settings.Password); err != nil {
		return &errors.AuthenticationError{Provider: "imap", Message: "login failed", Cause: err}
	}
	if _, err := c.Select(e.folder(), true); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", e.folder(), err)
	}
	return nil
}

// poll runs one fetch-match-dispatch pass over unseen messages.
func (e *Email) poll(ctx context.Context) error {
	c, err := client.DialTLS(e.settings.Server, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", e.settings.Server, err)
	}
	defer c.Logout()

	if err := c.Login(e.settings.User, e.settings.Password); err != nil {
		return &errors.AuthenticationError{Provider: "imap", Message: "login failed", Cause: err}
	}
	if _, err := c.Select(e.folder(), false); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", e.folder(), err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search unseen messages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	section := &imap.BodySectionName{}
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, len(ids))
	if err := c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages); err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		parsed, err := parseEmail(body, e.cfg.IncludeAttachments())
		if err != nil {
			e.logger.Warn("failed to parse message", "seq", msg.SeqNum, "error", err)
			continue
		}
		if !matchesEmailFilter(e.cfg.Filter, parsed) {
			continue
		}

		result := fire(ctx, e.dispatcher, e.notifier, e.wf, KindEmail, map[string]any{
			"email": parsed,
		})
		if result.Started() && e.cfg.MarkSeen() {
			one := new(imap.SeqSet)
			one.AddNum(msg.SeqNum)
			item := imap.FormatFlagsOp(imap.AddFlags, true)
			if err := c.Store(one, item, []interface{}{imap.SeenFlag}, nil); err != nil {
				e.logger.Warn("failed to mark message seen", "seq", msg.SeqNum, "error", err)
			}
		}
	}
	return nil
}

// parseEmail extracts the fields trigger data carries from a raw RFC822
// message.
func parseEmail(r io.Reader, includeAttachments bool) (*EmailMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	msg := &EmailMessage{}
	header := mr.Header
	msg.Subject, _ = header.Subject()
	if date, err := header.Date(); err == nil {
		msg.Date = date
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil && len(to) > 0 {
		msg.Recipient = to[0].Address
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch contentType {
			case "text/html":
				msg.BodyHTML = string(data)
			default:
				if msg.BodyText == "" {
					msg.BodyText = string(data)
				}
			}
		case *mail.AttachmentHeader:
			if !includeAttachments {
				continue
			}
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			att := EmailAttachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        len(data),
			}
			if len(data) <= maxEmbeddedAttachment {
				att.Content = base64.StdEncoding.EncodeToString(data)
			}
			msg.Attachments = append(msg.Attachments, att)
		}
	}
	return msg, nil
}

// matchesEmailFilter applies the trigger's email_filter: a prefixed field
// match (from:, subject:, to:, body:) or a free substring across subject,
// sender, and body. Matching is case-insensitive; an empty filter matches
// everything.
func matchesEmailFilter(filter string, msg *EmailMessage) bool {
	if filter == "" {
		return true
	}
	lower := strings.ToLower(filter)
	if field, value, ok := strings.Cut(lower, ":"); ok {
		value = strings.TrimSpace(value)
		switch field {
		case "from":
			return strings.Contains(strings.ToLower(msg.Sender), value)
		case "subject":
			return strings.Contains(strings.ToLower(msg.Subject), value)
		case "to":
			return strings.Contains(strings.ToLower(msg.Recipient), value)
		case "body":
			return strings.Contains(strings.ToLower(msg.BodyText), value) ||
				strings.Contains(strings.ToLower(msg.BodyHTML), value)
		}
	}
	haystack := strings.ToLower(msg.Subject + " " + msg.Sender + " " + msg.BodyText)
	return strings.Contains(haystack, lower)
}
