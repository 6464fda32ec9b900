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

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
)

// verifyGitHubSignature checks the X-Hub-Signature-256 header against the
// HMAC-SHA256 of the raw body.
func verifyGitHubSignature(signature string, body []byte, secret string) error {
	if secret == "" {
		return fmt.Errorf("no webhook secret configured")
	}
	if signature == "" {
		return fmt.Errorf("missing X-Hub-Signature-256 header")
	}

	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return fmt.Errorf("unsupported signature format")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// verifySlackSignature checks the Slack request signature headers
// (X-Slack-Signature, X-Slack-Request-Timestamp) against the signing secret.
func verifySlackSignature(header http.Header, body []byte, secret string) error {
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("failed to init signature verifier: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("failed to hash request body: %w", err)
	}
	return sv.Ensure()
}
