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

// Package github authenticates as a GitHub App and fetches the pull request
// context used to enrich github trigger events.
package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relayfleet/relay/pkg/errors"
)

// tokenRefreshMargin refreshes installation tokens this long before they
// expire so in-flight requests never carry a dying token.
const tokenRefreshMargin = 60 * time.Second

// appTokenTTL is the lifetime requested for app JWTs. GitHub caps it at 10
// minutes.
const appTokenTTL = 10 * time.Minute

// defaultAPIBase is the public GitHub API endpoint, overridable for GitHub
// Enterprise and tests.
const defaultAPIBase = "https://api.github.com"

// installationToken is a cached installation access token.
type installationToken struct {
	Token     string
	ExpiresAt time.Time
}

func (t installationToken) usable(now time.Time) bool {
	return t.Token != "" && t.ExpiresAt.After(now.Add(tokenRefreshMargin))
}

// AppAuth mints GitHub App JWTs and caches per-installation access tokens.
// Token refresh is single flight: concurrent callers share one exchange.
type AppAuth struct {
	appID      string
	privateKey *rsa.PrivateKey
	baseURL    string
	client     *http.Client
	now        func() time.Time

	mu     sync.Mutex
	tokens map[int64]installationToken
}

// NewAppAuth creates an app authenticator from a PEM-encoded RSA private key.
func NewAppAuth(appID, privateKeyPEM, baseURL string, client *http.Client) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    "GITHUB_APP_PRIVATE_KEY",
			Reason: "not a PEM-encoded RSA private key",
			Cause:  err,
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &AppAuth{
		appID:      appID,
		privateKey: key,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		now:        time.Now,
		tokens:     make(map[int64]installationToken),
	}, nil
}

// AppJWT signs a short-lived RS256 JWT identifying the app. The issued-at
// claim is backdated 60s to tolerate clock skew.
func (a *AppAuth) AppJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appTokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

// InstallationToken returns a valid access token for the installation,
// exchanging a fresh one when the cached token is absent or near expiry.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tok, ok := a.tokens[installationID]; ok && tok.usable(a.now()) {
		return tok.Token, nil
	}

	tok, err := a.exchange(ctx, installationID)
	if err != nil {
		return "", err
	}
	a.tokens[installationID] = tok
	return tok.Token, nil
}

func (a *AppAuth) exchange(ctx context.Context, installationID int64) (installationToken, error) {
	appJWT, err := a.AppJWT()
	if err != nil {
		return installationToken{}, err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return installationToken{}, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.client.Do(req)
	if err != nil {
		return installationToken{}, &errors.TemporaryError{
			Operation: "exchange installation token",
			Message:   err.Error(),
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return installationToken{}, errors.FromHTTPStatus("github",
			fmt.Sprintf("exchange installation token: %s", strings.TrimSpace(string(body))),
			resp.StatusCode)
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return installationToken{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	return installationToken{Token: payload.Token, ExpiresAt: payload.ExpiresAt}, nil
}
