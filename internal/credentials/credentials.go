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

// Package credentials stores and serves external OAuth tokens. Tokens are
// Fernet-encrypted at rest; callers only ever see plaintext through
// GetValidToken.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/pkg/errors"
)

// expiryMargin treats tokens expiring within the margin as already expired,
// so callers never receive a token about to die mid-request.
const expiryMargin = 60 * time.Second

// Provider serves decrypted, validity-checked tokens.
type Provider interface {
	// GetValidToken returns the plaintext access token for (user, provider).
	// It fails with an AuthenticationError when the credential is missing,
	// marked invalid, or expired.
	GetValidToken(ctx context.Context, userID, provider string) (string, error)
}

// Store is a Fernet-backed credential store over a CredentialRepository.
type Store struct {
	repo repository.CredentialRepository
	key  *fernet.Key
	now  func() time.Time
}

// NewStore creates a credential store. encryptionKey is a base64 Fernet key.
func NewStore(repo repository.CredentialRepository, encryptionKey string) (*Store, error) {
	key, err := fernet.DecodeKey(encryptionKey)
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    "CREDENTIAL_ENCRYPTION_KEY",
			Reason: "not a valid Fernet key",
			Cause:  err,
		}
	}
	return &Store{repo: repo, key: key, now: time.Now}, nil
}

// Save encrypts and upserts a credential.
func (s *Store) Save(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt *time.Time, scopes []string) error {
	encAccess, err := s.encrypt(accessToken)
	if err != nil {
		return err
	}
	rec := &repository.CredentialRecord{
		UserID:               userID,
		Provider:             provider,
		EncryptedAccessToken: encAccess,
		TokenExpiresAt:       expiresAt,
		Scopes:               scopes,
		TokenType:            "bearer",
		IsValid:              true,
	}
	if refreshToken != "" {
		encRefresh, err := s.encrypt(refreshToken)
		if err != nil {
			return err
		}
		rec.EncryptedRefreshToken = encRefresh
	}
	return s.repo.UpsertCredential(ctx, rec)
}

// GetValidToken returns the plaintext access token, enforcing validity and
// expiry.
func (s *Store) GetValidToken(ctx context.Context, userID, provider string) (string, error) {
	rec, err := s.repo.GetCredential(ctx, userID, provider)
	if err != nil {
		if errors.IsNotFound(err) {
			return "", &errors.AuthenticationError{
				Provider: provider,
				Message:  fmt.Sprintf("no credential stored for user %s", userID),
				Cause:    err,
			}
		}
		return "", err
	}
	if !rec.IsValid {
		return "", &errors.AuthenticationError{
			Provider: provider,
			Message:  "credential marked invalid: " + rec.ValidationError,
		}
	}
	if rec.TokenExpiresAt != nil && !rec.TokenExpiresAt.After(s.now().Add(expiryMargin)) {
		return "", &errors.AuthenticationError{
			Provider: provider,
			Message:  "access token expired",
		}
	}

	token := fernet.VerifyAndDecrypt([]byte(rec.EncryptedAccessToken), 0, []*fernet.Key{s.key})
	if token == nil {
		return "", &errors.AuthenticationError{
			Provider: provider,
			Message:  "stored token failed decryption",
		}
	}
	return string(token), nil
}

// Invalidate marks the credential unusable.
func (s *Store) Invalidate(ctx context.Context, userID, provider, reason string) error {
	return s.repo.MarkCredentialInvalid(ctx, userID, provider, reason)
}

func (s *Store) encrypt(plaintext string) (string, error) {
	out, err := fernet.EncryptAndSign([]byte(plaintext), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return string(out), nil
}
