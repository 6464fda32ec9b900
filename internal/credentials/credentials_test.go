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

package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/pkg/errors"
)

func newTestStore(t *testing.T) (*Store, *repository.Memory) {
	t.Helper()
	var key fernet.Key
	require.NoError(t, key.Generate())
	repo := repository.NewMemory()
	store, err := NewStore(repo, key.Encode())
	require.NoError(t, err)
	return store, repo
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, repo := newTestStore(t)

	expires := time.Now().Add(time.Hour).UTC()
	require.NoError(t, store.Save(ctx, "user_1", "github",
		"gho_access", "ghr_refresh", &expires, []string{"repo"}))

	token, err := store.GetValidToken(ctx, "user_1", "github")
	require.NoError(t, err)
	assert.Equal(t, "gho_access", token)

	// Plaintext never reaches the repository.
	rec, err := repo.GetCredential(ctx, "user_1", "github")
	require.NoError(t, err)
	assert.NotContains(t, rec.EncryptedAccessToken, "gho_access")
	assert.NotContains(t, rec.EncryptedRefreshToken, "ghr_refresh")
}

func TestStore_MissingCredential(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetValidToken(context.Background(), "user_x", "slack")
	var authErr *errors.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "slack", authErr.Provider)
}

func TestStore_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	expires := time.Now().Add(30 * time.Second).UTC() // inside the 60s margin
	require.NoError(t, store.Save(ctx, "user_1", "github", "gho_access", "", &expires, nil))

	_, err := store.GetValidToken(ctx, "user_1", "github")
	var authErr *errors.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "expired")
}

func TestStore_InvalidatedCredential(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(ctx, "user_1", "github", "gho_access", "", nil, nil))
	require.NoError(t, store.Invalidate(ctx, "user_1", "github", "token revoked by user"))

	_, err := store.GetValidToken(ctx, "user_1", "github")
	var authErr *errors.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "token revoked by user")
}

func TestNewStore_BadKey(t *testing.T) {
	_, err := NewStore(repository.NewMemory(), "not-a-key")
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "CREDENTIAL_ENCRYPTION_KEY", cfgErr.Key)
}
