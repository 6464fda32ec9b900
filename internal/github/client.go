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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/httpclient"
)

// maxDiffBytes bounds fetched diffs so a pathological PR cannot balloon
// trigger payloads.
const maxDiffBytes = 1 << 20

// PullRequest is the enrichment payload attached to github trigger events.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	State     string     `json:"state"`
	Draft     bool       `json:"draft"`
	Merged    bool       `json:"merged"`
	BaseRef   string     `json:"base_ref"`
	HeadRef   string     `json:"head_ref"`
	HeadSHA   string     `json:"head_sha"`
	Author    string     `json:"author"`
	Labels    []string   `json:"labels,omitempty"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Commit is a single commit summary.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
}

// Client fetches pull request context as a GitHub App installation. Every
// call is recorded in the audit repository.
type Client struct {
	auth    *AppAuth
	baseURL string
	client  *http.Client
	audit   repository.AuditRepository
	logger  *slog.Logger
}

// NewClient creates an enrichment client.
func NewClient(auth *AppAuth, baseURL string, audit repository.AuditRepository, logger *slog.Logger) (*Client, error) {
	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "relayd-github/1.0"
	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &Client{
		auth:    auth,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		audit:   audit,
		logger:  logger.With("component", "github"),
	}, nil
}

// WarmInstallation exchanges an installation token ahead of the first
// enrichment call, so a misconfigured app key or installation ID shows up
// when the trigger starts instead of on the first delivered event.
func (c *Client) WarmInstallation(ctx context.Context, installationID int64) error {
	if c.auth == nil {
		return nil
	}
	_, err := c.auth.InstallationToken(ctx, installationID)
	return err
}

// PRDetails fetches the pull request summary.
func (c *Client) PRDetails(ctx context.Context, installationID int64, owner, repo string, number int) (*PullRequest, error) {
	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		State  string `json:"state"`
		Draft  bool   `json:"draft"`
		Merged bool   `json:"merged"`
		Base   struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
		Additions int        `json:"additions"`
		Deletions int        `json:"deletions"`
		CreatedAt time.Time  `json:"created_at"`
		MergedAt  *time.Time `json:"merged_at"`
	}

	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	if err := c.getJSON(ctx, installationID, "get_pr", path, &raw); err != nil {
		return nil, err
	}

	pr := &PullRequest{
		Number:    raw.Number,
		Title:     raw.Title,
		Body:      raw.Body,
		State:     raw.State,
		Draft:     raw.Draft,
		Merged:    raw.Merged,
		BaseRef:   raw.Base.Ref,
		HeadRef:   raw.Head.Ref,
		HeadSHA:   raw.Head.SHA,
		Author:    raw.User.Login,
		Additions: raw.Additions,
		Deletions: raw.Deletions,
		CreatedAt: raw.CreatedAt,
		MergedAt:  raw.MergedAt,
	}
	for _, l := range raw.Labels {
		pr.Labels = append(pr.Labels, l.Name)
	}
	return pr, nil
}

// PRFiles fetches the files changed by a pull request, first page only.
func (c *Client) PRFiles(ctx context.Context, installationID int64, owner, repo string, number int) ([]ChangedFile, error) {
	var files []ChangedFile
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=100", owner, repo, number)
	if err := c.getJSON(ctx, installationID, "get_pr_files", path, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// GetCommit fetches a single commit summary.
func (c *Client) GetCommit(ctx context.Context, installationID int64, owner, repo, sha string) (*Commit, error) {
	var raw struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commit"`
	}
	path := fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, sha)
	if err := c.getJSON(ctx, installationID, "get_commit", path, &raw); err != nil {
		return nil, err
	}
	return &Commit{SHA: raw.SHA, Message: raw.Commit.Message, Author: raw.Commit.Author.Name}, nil
}

// PRDiff fetches the unified diff for a pull request, truncated to
// maxDiffBytes.
func (c *Client) PRDiff(ctx context.Context, installationID int64, owner, repo string, number int) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	body, err := c.get(ctx, installationID, "get_pr_diff", path, "application/vnd.github.diff")
	if err != nil {
		return "", err
	}
	defer body.Close()
	diff, err := io.ReadAll(io.LimitReader(body, maxDiffBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read diff: %w", err)
	}
	return string(diff), nil
}

func (c *Client) getJSON(ctx context.Context, installationID int64, operation, path string, out any) error {
	body, err := c.get(ctx, installationID, operation, path, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, installationID int64, operation, path, accept string) (io.ReadCloser, error) {
	token, err := c.auth.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start).Milliseconds()

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.recordCall(ctx, operation, url, status, duration, err)

	if err != nil {
		return nil, &errors.TemporaryError{Operation: operation, Message: err.Error(), Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.FromHTTPStatus("github", operation, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) recordCall(ctx context.Context, operation, url string, status int, durationMS int64, callErr error) {
	if c.audit == nil {
		return
	}
	rec := &repository.APICallRecord{
		Provider:   "github",
		Operation:  operation,
		Method:     http.MethodGet,
		URL:        url,
		StatusCode: status,
		DurationMS: durationMS,
		CalledAt:   time.Now().UTC(),
	}
	if callErr != nil {
		rec.ResponseMeta = map[string]any{"error": callErr.Error()}
	}
	if err := c.audit.RecordAPICall(ctx, rec); err != nil {
		c.logger.Warn("failed to record API call", "operation", operation, "error", err)
	}
}
