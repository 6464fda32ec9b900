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

package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayfleet/relay/internal/repository"
)

func testKeyPEM(t *testing.T) (string, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block)), &key.PublicKey
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppJWT_Claims(t *testing.T) {
	pemKey, pubKey := testKeyPEM(t)
	auth, err := NewAppAuth("12345", pemKey, "https://api.github.com", nil)
	require.NoError(t, err)

	signed, err := auth.AppJWT()
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, &claims, func(tok *jwt.Token) (any, error) {
		return pubKey, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "12345", claims.Issuer)
	assert.True(t, claims.IssuedAt.Before(time.Now()), "iat is backdated")
	assert.True(t, claims.ExpiresAt.After(time.Now()))
	assert.Equal(t, "RS256", parsed.Method.Alg())
}

func TestInstallationToken_CachesUntilNearExpiry(t *testing.T) {
	var exchanges int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/app/installations/77/access_tokens", r.URL.Path)
		require.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		atomic.AddInt32(&exchanges, 1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      fmt.Sprintf("ghs_tok%d", exchanges),
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer server.Close()

	pemKey, _ := testKeyPEM(t)
	auth, err := NewAppAuth("12345", pemKey, server.URL, nil)
	require.NoError(t, err)

	tok1, err := auth.InstallationToken(context.Background(), 77)
	require.NoError(t, err)
	tok2, err := auth.InstallationToken(context.Background(), 77)
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
	assert.EqualValues(t, 1, exchanges, "second call must hit the cache")

	// Force the cached token inside the refresh margin.
	auth.mu.Lock()
	tok := auth.tokens[77]
	tok.ExpiresAt = time.Now().Add(30 * time.Second)
	auth.tokens[77] = tok
	auth.mu.Unlock()

	tok3, err := auth.InstallationToken(context.Background(), 77)
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok3)
	assert.EqualValues(t, 2, exchanges)
}

func newTestClient(t *testing.T, apiURL string) (*Client, *repository.Memory) {
	t.Helper()
	pemKey, _ := testKeyPEM(t)
	auth, err := NewAppAuth("12345", pemKey, apiURL, nil)
	require.NoError(t, err)
	repo := repository.NewMemory()
	client, err := NewClient(auth, apiURL, repo, testLogger())
	require.NoError(t, err)
	return client, repo
}

func githubAPIStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/app/installations/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_test",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/repos/octo/demo/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/vnd.github.diff" {
			fmt.Fprint(w, "diff --git a/main.go b/main.go\n")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"number": 42,
			"title":  "Add retry budget",
			"state":  "open",
			"draft":  false,
			"base":   map[string]any{"ref": "main"},
			"head":   map[string]any{"ref": "feature/retry", "sha": "abc123"},
			"user":   map[string]any{"login": "octocat"},
			"labels": []map[string]any{{"name": "enhancement"}},
		})
	})
	mux.HandleFunc("/repos/octo/demo/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"filename": "main.go", "status": "modified", "additions": 10, "deletions": 2},
		})
	})
	return httptest.NewServer(mux)
}

func TestPRDetails(t *testing.T) {
	server := githubAPIStub(t)
	defer server.Close()
	client, repo := newTestClient(t, server.URL)

	pr, err := client.PRDetails(context.Background(), 77, "octo", "demo", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "Add retry budget", pr.Title)
	assert.Equal(t, "main", pr.BaseRef)
	assert.Equal(t, "feature/retry", pr.HeadRef)
	assert.Equal(t, "octocat", pr.Author)
	assert.Equal(t, []string{"enhancement"}, pr.Labels)

	calls := repo.APICalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "github", calls[0].Provider)
	assert.Equal(t, "get_pr", calls[0].Operation)
	assert.Equal(t, http.StatusOK, calls[0].StatusCode)
}

func TestPRFiles(t *testing.T) {
	server := githubAPIStub(t)
	defer server.Close()
	client, _ := newTestClient(t, server.URL)

	files, err := client.PRFiles(context.Background(), 77, "octo", "demo", 42)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].Filename)
	assert.Equal(t, "modified", files[0].Status)
}

func TestPRDiff(t *testing.T) {
	server := githubAPIStub(t)
	defer server.Close()
	client, _ := newTestClient(t, server.URL)

	diff, err := client.PRDiff(context.Background(), 77, "octo", "demo", 42)
	require.NoError(t, err)
	assert.Contains(t, diff, "diff --git")
}

func TestWarmInstallation(t *testing.T) {
	server := githubAPIStub(t)
	defer server.Close()
	client, _ := newTestClient(t, server.URL)

	require.NoError(t, client.WarmInstallation(context.Background(), 77))

	client.auth.mu.Lock()
	tok, ok := client.auth.tokens[77]
	client.auth.mu.Unlock()
	require.True(t, ok, "warm-up caches the installation token")
	assert.Equal(t, "ghs_test", tok.Token)
}

func TestWarmInstallation_BadInstallation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server.URL)

	assert.Error(t, client.WarmInstallation(context.Background(), 404))
}

func TestNewAppAuth_BadKey(t *testing.T) {
	_, err := NewAppAuth("12345", "not a key", "https://api.github.com", nil)
	require.Error(t, err)
}
