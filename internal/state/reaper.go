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

package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/relayfleet/relay/internal/metrics"
	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/pkg/execution"
)

// defaultReaperInterval is how often the reaper scans when the config does
// not override it.
const defaultReaperInterval = 5 * time.Minute

// expiryWarnWindow is how far ahead the reaper warns about pauses that are
// about to time out.
const expiryWarnWindow = 15 * time.Minute

// timeoutCancellationReason is recorded on pauses cancelled by the reaper.
const timeoutCancellationReason = "timeout_cancellation"

// Resumer re-enters a resumed execution at its paused node. The engine
// implements this; without one the reaper only flips execution state.
type Resumer interface {
	Resume(ctx context.Context, executionID, resumeReason string, resumeData map[string]any) error
}

// ReaperConfig configures the pause timeout reaper.
type ReaperConfig struct {
	Manager *Manager
	Pauses  repository.PauseRepository

	// Resumer, when set, continues timeout-resumed executions instead of
	// leaving them RUNNING for an external engine.
	Resumer Resumer

	// Interval between passes. Zero means the default of five minutes.
	Interval time.Duration

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Reaper periodically applies timeout actions to expired pauses and warns
// about pauses expiring soon. One reaper runs per process; a pass in flight
// finishes before shutdown completes.
type Reaper struct {
	manager  *Manager
	pauses   repository.PauseRepository
	resumer  Resumer
	interval time.Duration
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReaper creates a reaper from the config.
func NewReaper(cfg ReaperConfig) *Reaper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		manager:  cfg.Manager,
		pauses:   cfg.Pauses,
		resumer:  cfg.Resumer,
		interval: interval,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "reaper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the reaper loop.
func (r *Reaper) Start() {
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run()
	r.logger.Info("pause reaper started", "interval", r.interval.String())
}

// Stop waits for the current pass to finish, bounded by ctx.
func (r *Reaper) Stop(ctx context.Context) {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-ctx.Done():
	}
}

func (r *Reaper) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Pass(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Pass runs one reap cycle: expired pauses get their timeout action, and
// pauses expiring within the warn window get a one-time warning.
func (r *Reaper) Pass(ctx context.Context) {
	now := r.now()

	expired, err := r.pauses.ListExpiredPauses(ctx, now)
	if err != nil {
		r.logger.Error("failed to list expired pauses", "error", err)
		return
	}
	for _, rec := range expired {
		r.reap(ctx, rec)
	}

	expiring, err := r.pauses.ListExpiringPauses(ctx, now, expiryWarnWindow)
	if err != nil {
		r.logger.Error("failed to list expiring pauses", "error", err)
		return
	}
	for _, rec := range expiring {
		r.warn(ctx, rec)
	}

	r.metrics.ReaperPass()
}

func (r *Reaper) reap(ctx context.Context, rec *execution.PauseRecord) {
	action := rec.TimeoutAction()
	logger := r.logger.With(
		"execution_id", rec.ExecutionID, "pause_id", rec.ID, "timeout_action", action)

	var err error
	switch action {
	case execution.TimeoutActionResume:
		if r.resumer != nil {
			err = r.resumer.Resume(ctx, rec.ExecutionID,
				"timeout", rec.TimeoutDefaultData())
		} else {
			_, err = r.manager.ResumeExecution(ctx, rec.ExecutionID,
				"timeout", rec.TimeoutDefaultData())
		}
	case execution.TimeoutActionCancel:
		err = r.manager.CancelPausedExecution(ctx, rec.ExecutionID, timeoutCancellationReason)
	default:
		action = execution.TimeoutActionFail
		err = r.manager.FailPausedExecution(ctx, rec.ExecutionID)
	}

	if err != nil {
		logger.Error("timeout action failed", "error", err)
		return
	}
	r.metrics.ReaperAction(action)
	logger.Info("applied pause timeout action")
}

// warn emits the single expiring-soon warning for a pause. The ExpiryWarned
// flag makes the warning idempotent across passes.
func (r *Reaper) warn(ctx context.Context, rec *execution.PauseRecord) {
	r.logger.Warn("pause expiring soon",
		"execution_id", rec.ExecutionID, "pause_id", rec.ID,
		"node_id", rec.PausedNodeID, "timeout_at", rec.TimeoutAt)

	rec.ExpiryWarned = true
	if err := r.pauses.UpdatePause(ctx, rec); err != nil {
		r.logger.Error("failed to persist expiry warning flag",
			"pause_id", rec.ID, "error", err)
		return
	}
	r.metrics.ReaperAction("warn")
}
