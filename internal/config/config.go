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

// Package config loads relayd configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/relayfleet/relay/pkg/errors"
)

// Config is the complete relayd runtime configuration.
type Config struct {
	// EngineURL is the base URL of the workflow execution backend.
	// Required.
	EngineURL string

	// GatewayURL is the public base URL used to build absolute webhook
	// URLs. Optional.
	GatewayURL string

	// Listen is the address the inbound HTTP gateway binds to.
	Listen string

	// DatabaseURL selects the repository backend. When both DatabaseURL
	// and SupabaseURL are set, DatabaseURL wins.
	DatabaseURL string
	SupabaseURL string
	SupabaseKey string

	// RedisURL enables the Redis-backed distributed lock for cron
	// single-flight. Empty means in-process locking only.
	RedisURL string

	// IMAP settings, required only when an email trigger is deployed.
	IMAPServer    string
	EmailUser     string
	EmailPassword string

	// EmailCheckInterval is the default email poll interval.
	EmailCheckInterval time.Duration

	// GitHub App identity.
	GitHubAppID         string
	GitHubAppPrivateKey string
	GitHubWebhookSecret string

	// SlackSigningSecret verifies inbound Slack event requests.
	SlackSigningSecret string

	// CredentialEncryptionKey is the Fernet key (base64, 32 bytes) for
	// at-rest credential encryption.
	CredentialEncryptionKey string

	// APIToken authenticates manual trigger calls on the gateway. Empty
	// accepts any non-empty bearer token.
	APIToken string

	// WorkflowsDir optionally points at a directory of YAML workflow
	// definitions deployed at boot.
	WorkflowsDir string

	// ReaperInterval is how often the pause timeout reaper runs.
	ReaperInterval time.Duration
}

// FromEnv reads configuration from environment variables and validates the
// required settings.
func FromEnv() (*Config, error) {
	cfg := &Config{
		EngineURL:               os.Getenv("WORKFLOW_ENGINE_URL"),
		GatewayURL:              os.Getenv("API_GATEWAY_URL"),
		Listen:                  envOr("RELAY_LISTEN", ":8085"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		SupabaseURL:             os.Getenv("SUPABASE_URL"),
		SupabaseKey:             os.Getenv("SUPABASE_SERVICE_KEY"),
		RedisURL:                os.Getenv("REDIS_URL"),
		IMAPServer:              os.Getenv("IMAP_SERVER"),
		EmailUser:               os.Getenv("EMAIL_USER"),
		EmailPassword:           os.Getenv("EMAIL_PASSWORD"),
		EmailCheckInterval:      envSeconds("EMAIL_CHECK_INTERVAL", 60*time.Second),
		GitHubAppID:             os.Getenv("GITHUB_APP_ID"),
		GitHubAppPrivateKey:     os.Getenv("GITHUB_APP_PRIVATE_KEY"),
		GitHubWebhookSecret:     os.Getenv("GITHUB_WEBHOOK_SECRET"),
		SlackSigningSecret:      os.Getenv("SLACK_SIGNING_SECRET"),
		CredentialEncryptionKey: os.Getenv("CREDENTIAL_ENCRYPTION_KEY"),
		APIToken:                os.Getenv("RELAY_API_TOKEN"),
		WorkflowsDir:            os.Getenv("RELAY_WORKFLOWS_DIR"),
		ReaperInterval:          envMinutes("PAUSE_REAPER_INTERVAL", 5*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.EngineURL == "" {
		return &errors.ConfigError{
			Key:    "WORKFLOW_ENGINE_URL",
			Reason: "workflow engine URL is required",
		}
	}
	return nil
}

// RepositoryDSN returns the effective repository connection string.
// DATABASE_URL wins when both a database URL and Supabase settings are set.
func (c *Config) RepositoryDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.SupabaseURL
}

// HasIMAP reports whether IMAP credentials are fully configured.
func (c *Config) HasIMAP() bool {
	return c.IMAPServer != "" && c.EmailUser != "" && c.EmailPassword != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func envMinutes(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	mins, err := strconv.Atoi(v)
	if err != nil || mins <= 0 {
		return fallback
	}
	return time.Duration(mins) * time.Minute
}
