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

package dispatch

import (
	"context"
	"log/slog"
)

// Notifier receives dispatch outcomes. Notification is best effort: failures
// never affect the dispatch result.
type Notifier interface {
	NotifyDispatch(ctx context.Context, workflowID, triggerSource string, result Result)
}

// LogNotifier records dispatch outcomes as structured log lines.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "dispatch-notify")}
}

// NotifyDispatch implements Notifier.
func (n *LogNotifier) NotifyDispatch(ctx context.Context, workflowID, triggerSource string, result Result) {
	level := slog.LevelInfo
	if result.Status == StatusFailed || result.Status == StatusError {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "dispatch outcome",
		"workflow_id", workflowID,
		"trigger_source", triggerSource,
		"status", result.Status,
		"execution_id", result.ExecutionID,
		"message", result.Message,
	)
}
