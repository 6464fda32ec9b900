// Copyright 2026 The Relay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway is relayd's inbound HTTP surface. It routes per-workflow
// webhook paths, the shared GitHub and Slack event endpoints, and manual
// trigger fires into the trigger registry.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/internal/metrics"
	"github.com/relayfleet/relay/internal/triggers"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 10 << 20

// Config holds the gateway's collaborators and verification secrets.
type Config struct {
	Registry    *triggers.Registry
	SlackRouter *triggers.SlackEventRouter

	// GitHubWebhookSecret signs X-Hub-Signature-256. Verification runs
	// only when RequireSignatureVerification is set.
	GitHubWebhookSecret          string
	RequireSignatureVerification bool

	// SlackSigningSecret verifies Slack event requests. Empty skips
	// verification.
	SlackSigningSecret string

	// Validator authenticates manual trigger calls. Nil accepts any
	// non-empty bearer token.
	Validator triggers.TokenValidator

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Server is the gateway HTTP handler.
type Server struct {
	cfg    Config
	mux    *http.ServeMux
	logger *slog.Logger
}

// New creates the gateway and registers its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: cfg.Logger.With("component", "gateway"),
	}

	s.mux.HandleFunc("POST /github/webhook", s.handleGitHub)
	s.mux.HandleFunc("POST /slack/events", s.handleSlack)
	s.mux.HandleFunc("POST /v1/triggers/manual/{workflow_id}", s.handleManual)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if cfg.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	// Everything else may be a deployed webhook path.
	s.mux.HandleFunc("/", s.handleWebhook)

	return s
}

// ServeHTTP implements http.Handler with request logging around the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.logger.Info("request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}()
	s.mux.ServeHTTP(w, r)
}

// handleWebhook serves the dynamic per-trigger webhook paths.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	trigger, ok := s.cfg.Registry.LookupWebhook(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result := trigger.Process(r.Context(), webhookRequest(r, body))
	s.cfg.Metrics.TriggerFired(string(triggers.KindWebhook), result.Status)
	writeResult(w, result)
}

// handleGitHub verifies and fans a GitHub App event out to every deployed
// github trigger. Each trigger applies its own repository and event filters.
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if s.cfg.RequireSignatureVerification {
		if err := verifyGitHubSignature(r.Header.Get("X-Hub-Signature-256"), body, s.cfg.GitHubWebhookSecret); err != nil {
			s.logger.Warn("github webhook signature rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		writeError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}
	if eventType == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	started := 0
	targets := s.cfg.Registry.GitHubTriggers()
	for _, t := range targets {
		result := t.ProcessEvent(r.Context(), eventType, payload)
		s.cfg.Metrics.TriggerFired(string(triggers.KindGitHub), result.Status)
		if result.Started() {
			started++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{
		"triggers": len(targets),
		"started":  started,
	})
}

// handleSlack verifies a Slack Events API request, answers URL-verification
// challenges, and routes callback events to the workspace's triggers.
func (s *Server) handleSlack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if s.cfg.SlackSigningSecret != "" {
		if err := verifySlackSignature(r.Header, body, s.cfg.SlackSigningSecret); err != nil {
			s.logger.Warn("slack request signature rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if payloadString(payload, "type") == "url_verification" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, payloadString(payload, "challenge"))
		return
	}

	teamID := payloadString(payload, "team_id")
	results := s.cfg.SlackRouter.Route(r.Context(), teamID, payload)
	for _, result := range results {
		s.cfg.Metrics.TriggerFired(string(triggers.KindSlack), result.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleManual fires a workflow's manual trigger for an authenticated caller.
func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflow_id")
	trigger, ok := s.cfg.Registry.Manual(workflowID)
	if !ok {
		writeError(w, http.StatusNotFound, "no manual trigger deployed for workflow")
		return
	}

	if !s.authorized(r.Context(), r) {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if body, err := readBody(r); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	result := trigger.Fire(r.Context(), req.UserID)
	s.cfg.Metrics.TriggerFired(string(triggers.KindManual), result.Status)
	writeResult(w, result)
}

// handleHealth aggregates trigger health across every deployed workflow.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	all := s.cfg.Registry.AllHealth()
	status := "ok"
	total := 0
	for _, hs := range all {
		total += len(hs)
		for _, h := range hs {
			if h.Status == triggers.StatusError {
				status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"workflows": len(all),
		"triggers":  total,
	})
}

func (s *Server) authorized(ctx context.Context, r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		return false
	}
	if s.cfg.Validator == nil {
		return true
	}
	return s.cfg.Validator(ctx, token)
}

// webhookRequest flattens an HTTP request into the trigger's request shape.
func webhookRequest(r *http.Request, body []byte) triggers.WebhookRequest {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string)
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	var parsed map[string]any
	if len(body) > 0 {
		// Non-JSON bodies still dispatch; the payload is just absent.
		json.Unmarshal(body, &parsed)
	}

	return triggers.WebhookRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		Headers:     headers,
		QueryParams: query,
		Body:        parsed,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		ContentType: r.Header.Get("Content-Type"),
		BearerToken: bearerToken(r),
		APIKey:      r.Header.Get("X-API-Key"),
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// writeResult maps a dispatch outcome onto an HTTP response. Accepted fires
// return 202 with the execution ID; rejections map to the closest 4xx.
func writeResult(w http.ResponseWriter, result dispatch.Result) {
	if result.Started() {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"execution_id": result.ExecutionID,
			"status":       result.Status,
		})
		return
	}

	status := http.StatusBadGateway
	switch result.Message {
	case "method not allowed":
		status = http.StatusMethodNotAllowed
	case "authentication required":
		status = http.StatusUnauthorized
	case "rate limit exceeded":
		status = http.StatusTooManyRequests
	case "Manual trigger is disabled":
		status = http.StatusForbidden
	default:
		if result.Status == dispatch.StatusSkipped {
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, map[string]string{
		"status": result.Status,
		"error":  result.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
