package triggers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayfleet/relay/internal/dispatch"
	"github.com/relayfleet/relay/internal/lock"
)

func newCronTrigger(t *testing.T, d *fakeDispatcher, locker lock.Locker, cfg CronConfig) *Cron {
	t.Helper()
	c, err := NewCron("trigger_cron_a1b2c3d4", triggerWorkflow("wf_1"), cfg, true,
		locker, d, nil, testLogger())
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) {}
	return c
}

func TestCron_ExpressionValidation(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 */5 * * * *", "@hourly"} {
		_, err := NewCron("t", triggerWorkflow("wf_1"), CronConfig{Expression: expr},
			true, lock.NewMemory(), &fakeDispatcher{}, nil, testLogger())
		assert.NoError(t, err, expr)
	}
	for _, expr := range []string{"", "* * *", "* * * * * * *", "not a cron"} {
		_, err := NewCron("t", triggerWorkflow("wf_1"), CronConfig{Expression: expr},
			true, lock.NewMemory(), &fakeDispatcher{}, nil, testLogger())
		assert.Error(t, err, expr)
	}
}

func TestCron_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	c := newCronTrigger(t, &fakeDispatcher{}, lock.NewMemory(),
		CronConfig{Expression: "*/5 * * * *", Timezone: "Mars/Olympus"})
	assert.Equal(t, "UTC", c.location.String())

	c = newCronTrigger(t, &fakeDispatcher{}, lock.NewMemory(),
		CronConfig{Expression: "*/5 * * * *", Timezone: "America/New_York"})
	assert.Equal(t, "America/New_York", c.location.String())
}

func TestCron_JitterIsDeterministic(t *testing.T) {
	a := jitterFor("wf_1")
	assert.Equal(t, a, jitterFor("wf_1"))
	assert.GreaterOrEqual(t, a, time.Duration(0))
	assert.Less(t, a, maxCronJitter)

	// Different workflows usually land on different offsets.
	assert.NotEqual(t, jitterFor("wf_alpha"), jitterFor("wf_beta"))
}

func TestCron_TickDispatches(t *testing.T) {
	d := &fakeDispatcher{}
	c := newCronTrigger(t, d, lock.NewMemory(),
		CronConfig{Expression: "*/5 * * * *"})
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	c.tick()
	require.Equal(t, 1, d.callCount())

	data := d.lastCall().TriggerData
	assert.Equal(t, "cron", data["trigger_type"])
	assert.Equal(t, "*/5 * * * *", data["cron_expression"])
	assert.Equal(t, "UTC", data["timezone"])
	assert.NotEmpty(t, data["scheduled_time"])
}

func TestCron_TickSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	locker := lock.NewMemory()

	// Another replica holds the workflow lock.
	_, acquired, err := locker.Acquire(ctx, lock.WorkflowKey("wf_1"), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	c := newCronTrigger(t, d, locker, CronConfig{Expression: "*/5 * * * *"})
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	c.tick()
	assert.Zero(t, d.callCount(), "held lock must suppress the tick")
}

func TestCron_TickReleasesLock(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewMemory()
	c := newCronTrigger(t, &fakeDispatcher{}, locker, CronConfig{Expression: "*/5 * * * *"})
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	c.tick()

	// The lock is free again after the tick finishes.
	lease, acquired, err := locker.Acquire(ctx, lock.WorkflowKey("wf_1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, lease.Release(ctx))
}

func TestCron_DispatchFailureDoesNotStopTrigger(t *testing.T) {
	d := &fakeDispatcher{result: &dispatch.Result{
		Status: dispatch.StatusError, Message: "engine unreachable",
	}}
	c := newCronTrigger(t, d, lock.NewMemory(), CronConfig{Expression: "*/5 * * * *"})
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	c.tick()
	c.tick()
	assert.Equal(t, 2, d.callCount())
	assert.Equal(t, StatusActive, c.Status())
}
