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

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SingleFlight(t *testing.T) {
	ctx := context.Background()
	locker := NewMemory()
	key := WorkflowKey("wf_1")

	lease, ok, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must be refused while held")

	require.NoError(t, lease.Release(ctx))

	_, ok, err = locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released key must be acquirable again")
}

func TestMemory_ExpiredHoldIsReclaimable(t *testing.T) {
	ctx := context.Background()
	locker := NewMemory()

	now := time.Now()
	locker.clock = func() time.Time { return now }

	_, ok, err := locker.Acquire(ctx, "workflow_wf_2", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok, err = locker.Acquire(ctx, "workflow_wf_2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired hold must not block a new acquire")
}

func TestMemory_StaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewMemory()

	now := time.Now()
	locker.clock = func() time.Time { return now }

	stale, ok, err := locker.Acquire(ctx, "workflow_wf_3", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok, err = locker.Acquire(ctx, "workflow_wf_3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale lease no longer owns the key; release must not evict the
	// current holder.
	require.NoError(t, stale.Release(ctx))
	_, ok, err = locker.Acquire(ctx, "workflow_wf_3", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkflowKey(t *testing.T) {
	assert.Equal(t, "workflow_wf_42", WorkflowKey("wf_42"))
}
