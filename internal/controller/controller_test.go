package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrlund/macrocore/internal/task"
)

type noopScheduler struct{ rescheduled int }

func (s *noopScheduler) MoveToActiveAndReschedule(c *Controller) { s.rescheduled++ }

func newTestController(fn task.Func) (*Controller, *noopScheduler) {
	sched := &noopScheduler{}
	c := New(Config{Cid: 1, Name: "t", Fn: fn, Scheduler: sched})
	return c, sched
}

func TestController_SleepThenFinish(t *testing.T) {
	c, _ := newTestController(func(ctx task.Context) error {
		require.NoError(t, ctx.Sleep(0.01))
		return nil
	})

	step := c.Next()
	assert.Equal(t, task.StepSleep, step.Kind)
	assert.Equal(t, 0.01, step.Seconds)

	step = c.Next()
	assert.Equal(t, task.StepDone, step.Kind)
}

func TestController_CrashPropagates(t *testing.T) {
	boom := errors.New("boom")
	c, _ := newTestController(func(ctx task.Context) error {
		return boom
	})

	step := c.Next()
	assert.Equal(t, task.StepCrashed, step.Kind)
	assert.ErrorIs(t, step.Err, boom)
}

func TestController_SoftPauseShiftsWakeTime(t *testing.T) {
	started := make(chan struct{})
	resumed := make(chan struct{})
	c, sched := newTestController(func(ctx task.Context) error {
		close(started)
		err := ctx.Sleep(1.0)
		close(resumed)
		return err
	})

	step := c.Next()
	require.Equal(t, task.StepSleep, step.Kind)
	<-started
	c.ScheduleAfter(time.Second)
	wakeBefore := c.WakeTime()

	ok := c.Pause(false)
	assert.True(t, ok)
	assert.Equal(t, task.StatePaused, c.State())

	time.Sleep(20 * time.Millisecond)
	d, ok := c.Resume()
	require.True(t, ok)
	assert.GreaterOrEqual(t, d, 20*time.Millisecond)
	assert.True(t, c.WakeTime().Equal(wakeBefore.Add(d)))
	assert.Equal(t, task.StateRunning, c.State())
	assert.Equal(t, 1, sched.rescheduled)
}

func TestController_InterruptCaughtThenResumed(t *testing.T) {
	c, _ := newTestController(func(ctx task.Context) error {
		err := ctx.Sleep(10)
		if errors.Is(err, task.ErrInterrupted) {
			if err := ctx.WaitForResume(); err != nil {
				return err
			}
			return nil
		}
		return err
	})

	step := c.Next()
	require.Equal(t, task.StepSleep, step.Kind)

	alive := c.Pause(true)
	assert.True(t, alive)
	assert.Equal(t, task.StateInterrupted, c.State())

	d, ok := c.Resume()
	assert.True(t, ok)
	assert.Zero(t, d.Round(time.Millisecond)) // time spent paused: Resume follows Pause at once

	step = c.Next()
	assert.Equal(t, task.StepDone, step.Kind)
}

func TestController_InterruptPropagatesCrashes(t *testing.T) {
	c, _ := newTestController(func(ctx task.Context) error {
		// does not catch Interrupted: propagates it, which crashes.
		return ctx.Sleep(10)
	})

	c.Next()
	alive := c.Pause(true)
	assert.False(t, alive)
	assert.Equal(t, task.StateCrashed, c.State())
}

func TestController_InterruptUnstartedBodyCrashesImmediately(t *testing.T) {
	c, _ := newTestController(func(ctx task.Context) error {
		t.Fatal("body should never run")
		return nil
	})

	alive := c.Pause(true)
	assert.False(t, alive)
	assert.Equal(t, task.StateCrashed, c.State())
}

func TestController_StopRunsCleanupAndTerminates(t *testing.T) {
	released := false
	c, _ := newTestController(func(ctx task.Context) error {
		err := ctx.Sleep(10)
		released = true
		return err
	})

	c.Next()
	c.Stop()

	assert.True(t, released)
	assert.Equal(t, task.StateStopped, c.State())
}

func TestController_PauseIdempotent(t *testing.T) {
	c, _ := newTestController(func(ctx task.Context) error {
		return ctx.Sleep(10)
	})
	c.Next()

	c.Pause(false)
	gen1 := c.Generation()
	c.Pause(false)
	assert.Equal(t, gen1, c.Generation())
	assert.Equal(t, task.StatePaused, c.State())
}

func TestController_RestartReplacesBody(t *testing.T) {
	calls := 0
	c, sched := newTestController(func(ctx task.Context) error {
		calls++
		return nil
	})

	c.Next()
	gen := c.Generation()
	c.Restart(nil)
	assert.Greater(t, c.Generation(), gen)
	assert.Equal(t, task.StateRunning, c.State())
	assert.Equal(t, 1, sched.rescheduled)

	c.Next()
	assert.Equal(t, 2, calls)
}
