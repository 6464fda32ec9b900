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
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Locker for single-instance deployments and tests.
// Held keys expire lazily when a later Acquire observes a past deadline.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	clock func() time.Time
}

type memoryHold struct {
	token    string
	deadline time.Time
}

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{
		held:  make(map[string]memoryHold),
		clock: time.Now,
	}
}

// Acquire grants the lock unless an unexpired holder exists.
func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if hold, ok := m.held[key]; ok && hold.deadline.After(now) {
		return nil, false, nil
	}
	token := uuid.NewString()
	m.held[key] = memoryHold{token: token, deadline: now.Add(ttl)}
	return &memoryLease{owner: m, key: key, token: token}, true, nil
}

type memoryLease struct {
	owner *Memory
	key   string
	token string
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if hold, ok := l.owner.held[l.key]; ok && hold.token == l.token {
		delete(l.owner.held, l.key)
	}
	return nil
}
