package triggers

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/internal/lock"
	"github.com/relayfleet/relay/pkg/errors"
	"github.com/relayfleet/relay/pkg/workflow"
)

// maxCronJitter bounds the deterministic pre-fire sleep.
const maxCronJitter = 30 * time.Second

// cronLockTTL covers the jitter plus the 30s dispatch timeout.
const cronLockTTL = 90 * time.Second

// cronParser accepts 5-field expressions, or 6 fields with seconds first.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Cron fires on a schedule. Ticks are deduplicated across replicas by a
// distributed single-flight lock keyed workflow_{workflow_id}, and
// serialized within the process by the scheduler's skip-if-running chain.
type Cron struct {
	base
	wf         *workflow.Workflow
	cfg        CronConfig
	location   *time.Location
	runner     *cron.Cron
	locker     lock.Locker
	dispatcher dispatch.Dispatcher
	notifier   dispatch.Notifier
	logger     *slog.Logger

	// sleep is swapped out by tests.
	sleep func(context.Context, time.Duration)
}

// NewCron creates a cron trigger. Unknown timezones fall back to UTC.
func NewCron(id string, wf *workflow.Workflow, cfg CronConfig, enabled bool, locker lock.Locker, d dispatch.Dispatcher, n dispatch.Notifier, logger *slog.Logger) (*Cron, error) {
	if _, err := cronParser.Parse(cfg.Expression); err != nil {
		return nil, &errors.ValidationError{
			Field:      "cron_expression",
			Message:    err.Error(),
			Suggestion: "use 5 fields, or 6 fields with seconds first",
		}
	}

	log := logger.With("component", "trigger-cron", "workflow_id", wf.ID)
	location := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Warn("unknown timezone, falling back to UTC", "timezone", cfg.Timezone)
		} else {
			location = loc
		}
	}

	return &Cron{
		base:       newBase(id, wf.ID, KindCron, enabled),
		wf:         wf,
		cfg:        cfg,
		location:   location,
		locker:     locker,
		dispatcher: d,
		notifier:   n,
		logger:     log,
		sleep:      sleepCtx,
	}, nil
}

// Start implements Trigger.
func (c *Cron) Start(ctx context.Context) error {
	if !c.startState() {
		return nil
	}

	c.runner = cron.New(
		cron.WithLocation(c.location),
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.runner.AddFunc(c.cfg.Expression, c.tick); err != nil {
		c.setStatus(StatusError)
		return &errors.TriggerError{TriggerID: c.id, Message: "failed to schedule cron job", Cause: err}
	}
	c.runner.Start()
	c.logger.Info("cron trigger started",
		"cron_expression", c.cfg.Expression, "timezone", c.location.String())
	return nil
}

// Stop implements Trigger.
func (c *Cron) Stop(ctx context.Context) error {
	if !c.stopState() {
		return nil
	}
	if c.runner != nil {
		stopCtx := c.runner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	return nil
}

// Health implements Trigger.
func (c *Cron) Health() Health {
	return c.health(map[string]any{
		"cron_expression": c.cfg.Expression,
		"timezone":        c.location.String(),
	})
}

// tick runs on every schedule fire.
func (c *Cron) tick() {
	ctx := context.Background()
	scheduled := time.Now().In(c.location)

	// Deterministic jitter desynchronizes replicas so one consistently
	// reaches the lock first.
	c.sleep(ctx, jitterFor(c.workflowID))

	lease, acquired, err := c.locker.Acquire(ctx, lock.WorkflowKey(c.workflowID), cronLockTTL)
	if err != nil {
		c.logger.Error("failed to acquire cron lock", "error", err)
		return
	}
	if !acquired {
		c.logger.Debug("skipping tick, another replica holds the lock")
		return
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			c.logger.Warn("failed to release cron lock", "error", err)
		}
	}()

	fire(ctx, c.dispatcher, c.notifier, c.wf, KindCron, map[string]any{
		"cron_expression": c.cfg.Expression,
		"scheduled_time":  scheduled.Format(time.RFC3339),
		"timezone":        c.location.String(),
	})
}

// jitterFor derives the per-workflow jitter: (fnv32(workflow_id) mod 30000) ms.
func jitterFor(workflowID string) time.Duration {
	h := fnv.New32a()
	h.Write([]byte(workflowID))
	return time.Duration(h.Sum32()%uint32(maxCronJitter.Milliseconds())) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
