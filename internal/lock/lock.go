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

// Package lock provides single-flight locks for scheduled trigger fires.
// A cron trigger acquires workflow_{workflow_id} before dispatching so that
// only one relayd instance fires a given workflow per tick.
package lock

import (
	"context"
	"time"
)

// Lease is a held lock. Release is safe to call once; releasing a lease
// another holder has since acquired is a no-op.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks with a TTL. Acquire returns acquired=false
// without error when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}

// WorkflowKey builds the lock key for a scheduled workflow fire.
func WorkflowKey(workflowID string) string {
	return "workflow_" + workflowID
}
