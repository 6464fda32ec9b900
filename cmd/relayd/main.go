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

// relayd is the workflow trigger daemon: it deploys triggers, serves the
// inbound HTTP gateway, and runs the pause timeout reaper.
package main

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relayfleet/relay/internal/config"
	"github.com/relayfleet/relay/internal/credentials"
	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/internal/engine"
	"github.com/relayfleet/relay/internal/gateway"
	"github.com/relayfleet/relay/internal/github"
	"github.com/relayfleet/relay/internal/lock"
	"github.com/relayfleet/relay/internal/log"
	"github.com/relayfleet/relay/internal/metrics"
	"github.com/relayfleet/relay/internal/repository"
	"github.com/relayfleet/relay/internal/state"
	"github.com/relayfleet/relay/internal/triggers"
	"github.com/relayfleet/relay/pkg/workflow"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		logLevel  string
		logFormat string
		listen    string
	)

	cmd := &cobra.Command{
		Use:           "relayd",
		Short:         "Workflow trigger and execution daemon",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logCfg := log.FromEnv()
			if logLevel != "" {
				logCfg.Level = logLevel
			}
			if logFormat != "" {
				logCfg.Format = log.Format(logFormat)
			}
			logger := log.New(logCfg)
			slog.SetDefault(logger)

			cfg, err := config.FromEnv()
			if err != nil {
				logger.Error("invalid configuration", log.Error(err))
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("daemon error", log.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log format (json, text)")
	cmd.Flags().StringVar(&listen, "listen", "", "Gateway listen address")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var repo repository.Repository
	if dsn := cfg.RepositoryDSN(); dsn != "" {
		db, err := repository.OpenSQLite(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = db
		logger.Info("using sqlite repository", "path", dsn)
	} else {
		repo = repository.NewMemory()
		logger.Warn("no database configured, executions will not survive restarts")
	}

	var locker lock.Locker
	if cfg.RedisURL != "" {
		redisLock, err := lock.NewRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		locker = redisLock
		logger.Info("using redis distributed lock")
	} else {
		locker = lock.NewMemory()
	}

	registryProm := prometheus.NewRegistry()
	collector := metrics.NewCollector(registryProm)

	dispatcher, err := dispatch.NewEngine(cfg.EngineURL, repo, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(collector)

	var creds credentials.Provider
	if cfg.CredentialEncryptionKey != "" {
		store, err := credentials.NewStore(repo, cfg.CredentialEncryptionKey)
		if err != nil {
			return err
		}
		creds = store
	}

	var ghClient *github.Client
	if cfg.GitHubAppID != "" && cfg.GitHubAppPrivateKey != "" {
		auth, err := github.NewAppAuth(cfg.GitHubAppID, cfg.GitHubAppPrivateKey, "", nil)
		if err != nil {
			return err
		}
		ghClient, err = github.NewClient(auth, "", repo, logger)
		if err != nil {
			return err
		}
	}

	slackRouter := triggers.NewSlackEventRouter(logger)
	validator := tokenValidator(cfg.APIToken)

	registry := triggers.NewRegistry(triggers.Deps{
		Dispatcher: dispatcher,
		Notifier:   dispatch.NewLogNotifier(logger),
		Locker:     locker,
		GitHub:     ghClient,
		Slack:      slackRouter,
		IMAP: triggers.IMAPSettings{
			Server:   cfg.IMAPServer,
			User:     cfg.EmailUser,
			Password: cfg.EmailPassword,
			Interval: cfg.EmailCheckInterval,
		},
		GatewayURL: cfg.GatewayURL,
		Validator:  validator,
		Metrics:    collector,
		Logger:     logger,
	})

	manager := state.NewManager(repo, logger)
	// Node executors register here once they ship. Until then the factory is
	// empty and every resumed node fails with a not-found error.
	factory := engine.NewFactory()
	graph := engine.New(engine.Config{
		Factory:     factory,
		Repo:        repo,
		State:       manager,
		Credentials: creds,
		Logger:      logger,
	})
	if factory.Len() == 0 {
		logger.Warn("no node executors registered, timeout resume will fail nodes")
	}
	reaper := state.NewReaper(state.ReaperConfig{
		Manager:  manager,
		Pauses:   repo,
		Resumer:  graph,
		Interval: cfg.ReaperInterval,
		Metrics:  collector,
		Logger:   logger,
	})

	deployWorkflows(ctx, cfg, repo, registry, logger)
	reaper.Start()

	gw := gateway.New(gateway.Config{
		Registry:                     registry,
		SlackRouter:                  slackRouter,
		GitHubWebhookSecret:          cfg.GitHubWebhookSecret,
		RequireSignatureVerification: cfg.GitHubWebhookSecret != "",
		SlackSigningSecret:           cfg.SlackSigningSecret,
		Validator:                    validator,
		MetricsHandler:               promhttp.HandlerFor(registryProm, promhttp.HandlerOpts{}),
		Metrics:                      collector,
		Logger:                       logger,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("relayd listening", "addr", cfg.Listen, "version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", log.Error(err))
	}
	registry.Shutdown(shutdownCtx)
	reaper.Stop(shutdownCtx)
	logger.Info("relayd stopped")
	return nil
}

// deployWorkflows deploys active workflows from the repository plus any YAML
// definitions in the workflows directory. A workflow that fails to deploy is
// logged and skipped; the daemon still starts.
func deployWorkflows(ctx context.Context, cfg *config.Config, repo repository.Repository, registry *triggers.Registry, logger *slog.Logger) {
	var workflows []*workflow.Workflow

	stored, err := repo.ListActiveWorkflows(ctx)
	if err != nil {
		logger.Error("failed to list stored workflows", log.Error(err))
	} else {
		workflows = append(workflows, stored...)
	}

	if cfg.WorkflowsDir != "" {
		loaded, err := workflow.LoadDir(cfg.WorkflowsDir)
		if err != nil {
			logger.Error("failed to load workflows directory",
				"dir", cfg.WorkflowsDir, log.Error(err))
		}
		for _, wf := range loaded {
			if err := repo.SaveWorkflow(ctx, wf); err != nil {
				logger.Error("failed to store workflow",
					log.WorkflowIDKey, wf.ID, log.Error(err))
				continue
			}
			workflows = append(workflows, wf)
		}
	}

	deployed := 0
	for _, wf := range workflows {
		if !wf.Active {
			continue
		}
		if err := registry.Deploy(ctx, wf); err != nil {
			logger.Error("failed to deploy workflow",
				log.WorkflowIDKey, wf.ID, log.Error(err))
			continue
		}
		deployed++
	}
	logger.Info("workflows deployed", "count", deployed)
}

// tokenValidator compares bearer tokens against the configured API token.
// With no token configured the gateway falls back to accepting any
// non-empty bearer token.
func tokenValidator(token string) triggers.TokenValidator {
	if token == "" {
		return nil
	}
	want := []byte(token)
	return func(ctx context.Context, presented string) bool {
		return subtle.ConstantTimeCompare(want, []byte(presented)) == 1
	}
}
