package triggers

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/pkg/workflow"
)

// TokenValidator decides whether an inbound webhook credential is valid.
// Empty tokens always reject.
type TokenValidator func(ctx context.Context, token string) bool

// WebhookRequest is the gateway's view of one inbound delivery.
type WebhookRequest struct {
	Method      string
	Path        string
	Headers     map[string]string
	QueryParams map[string]string
	Body        any
	RemoteAddr  string
	UserAgent   string
	ContentType string

	// BearerToken and APIKey are the credentials the gateway extracted
	// from Authorization and X-API-Key.
	BearerToken string
	APIKey      string
}

// Webhook fires on inbound HTTP deliveries to its path.
type Webhook struct {
	base
	wf          *workflow.Workflow
	path        string
	methods     map[string]struct{}
	requireAuth bool
	validate    TokenValidator
	limiter     *rate.Limiter
	gatewayURL  string
	dispatcher  dispatch.Dispatcher
	notifier    dispatch.Notifier
	logger      *slog.Logger
}

// NewWebhook creates a webhook trigger. The path defaults to
// /webhook/{workflow_id} and is normalized to carry a leading slash.
func NewWebhook(id string, wf *workflow.Workflow, cfg WebhookConfig, enabled bool, gatewayURL string, validate TokenValidator, d dispatch.Dispatcher, n dispatch.Notifier, logger *slog.Logger) *Webhook {
	path := cfg.Path
	if path == "" {
		path = "/webhook/" + wf.ID
	}
	path = normalizePath(path)

	methods := make(map[string]struct{})
	if len(cfg.Methods) == 0 {
		methods["POST"] = struct{}{}
	}
	for _, m := range cfg.Methods {
		methods[strings.ToUpper(m)] = struct{}{}
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute)
	}

	return &Webhook{
		base:        newBase(id, wf.ID, KindWebhook, enabled),
		wf:          wf,
		path:        path,
		methods:     methods,
		requireAuth: cfg.RequireAuth,
		validate:    validate,
		limiter:     limiter,
		gatewayURL:  strings.TrimRight(gatewayURL, "/"),
		dispatcher:  d,
		notifier:    n,
		logger:      logger.With("component", "trigger-webhook", "workflow_id", wf.ID),
	}
}

// Start implements Trigger.
func (w *Webhook) Start(ctx context.Context) error {
	w.startState()
	return nil
}

// Stop implements Trigger.
func (w *Webhook) Stop(ctx context.Context) error {
	w.stopState()
	return nil
}

// Health implements Trigger.
func (w *Webhook) Health() Health {
	return w.health(map[string]any{
		"webhook_path": w.path,
		"webhook_url":  w.URL(),
	})
}

// Path returns the normalized webhook path.
func (w *Webhook) Path() string {
	return w.path
}

// URL returns the absolute webhook URL under the gateway base.
func (w *Webhook) URL() string {
	if w.gatewayURL == "" {
		return w.path
	}
	return w.gatewayURL + w.path
}

// Process handles one inbound delivery.
func (w *Webhook) Process(ctx context.Context, req WebhookRequest) dispatch.Result {
	if !w.active() {
		return dispatch.Result{Status: dispatch.StatusSkipped, Message: "webhook trigger is not active"}
	}
	if _, ok := w.methods[strings.ToUpper(req.Method)]; !ok {
		w.logger.Warn("rejected webhook method", "method", req.Method)
		return dispatch.Result{Status: dispatch.StatusFailed, Message: "method not allowed"}
	}
	if w.requireAuth && !w.authorized(ctx, req) {
		w.logger.Warn("rejected unauthorized webhook delivery", "remote_addr", req.RemoteAddr)
		return dispatch.Result{Status: dispatch.StatusFailed, Message: "authentication required"}
	}
	if w.limiter != nil && !w.limiter.Allow() {
		w.logger.Warn("rate limited webhook delivery", "remote_addr", req.RemoteAddr)
		return dispatch.Result{Status: dispatch.StatusFailed, Message: "rate limit exceeded"}
	}

	return fire(ctx, w.dispatcher, w.notifier, w.wf, KindWebhook, map[string]any{
		"method":       strings.ToUpper(req.Method),
		"path":         req.Path,
		"headers":      req.Headers,
		"query_params": req.QueryParams,
		"body":         req.Body,
		"remote_addr":  req.RemoteAddr,
		"user_agent":   req.UserAgent,
		"content_type": req.ContentType,
		"webhook_path": w.path,
	})
}

func (w *Webhook) authorized(ctx context.Context, req WebhookRequest) bool {
	token := req.BearerToken
	if token == "" {
		token = req.APIKey
	}
	if token == "" {
		return false
	}
	if w.validate == nil {
		// No validator wired: presence of a non-empty credential is the
		// delegated check.
		return true
	}
	return w.validate(ctx, token)
}
