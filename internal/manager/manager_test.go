package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrlund/macrocore/internal/task"
)

func TestManager_AddRunTask_DuplicateNameRejected(t *testing.T) {
	m := New(Config{})
	_, err := m.AddRunTask("t", true, false, func(ctx task.Context) error { return nil })
	require.NoError(t, err)

	_, err = m.AddRunTask("t", true, false, func(ctx task.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestManager_StartStopWorker(t *testing.T) {
	var mu sync.Mutex
	var ran bool

	m := New(Config{})
	_, err := m.AddRunTask("t", true, false, func(ctx task.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return ctx.Sleep(10)
	})
	require.NoError(t, err)

	m.StartWorker()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	}, time.Second, time.Millisecond)

	ok := m.StopWorker()
	assert.True(t, ok)
	assert.False(t, m.Worker().IsAlive())
}

func TestManager_PauseThenResumeWorker(t *testing.T) {
	started := make(chan struct{})
	m := New(Config{})
	c, err := m.AddRunTask("t", true, false, func(ctx task.Context) error {
		close(started)
		return ctx.Sleep(10)
	})
	require.NoError(t, err)

	m.StartWorker()
	<-started
	time.Sleep(20 * time.Millisecond)

	ok := m.PauseWorker(false)
	require.True(t, ok)
	assert.False(t, m.Worker().IsAlive())

	m.ResumeWorker()
	require.Eventually(t, func() bool { return m.Worker().IsAlive() }, time.Second, time.Millisecond)
	assert.Equal(t, task.StateRunning, c.State())

	m.StopWorker()
}

func TestManager_DeadlockedWorkerIsRebuiltWhenDeciderTerminates(t *testing.T) {
	release := make(chan struct{})
	m := New(Config{Decider: AutoTerminate})

	_, err := m.AddRunTask("stuck", true, false, func(ctx task.Context) error {
		<-release // never yields: simulates a task that won't cooperate
		return nil
	})
	require.NoError(t, err)

	before := m.Worker()
	m.StartWorker()
	time.Sleep(10 * time.Millisecond) // let the stuck body start running

	ok := m.StopWorker()
	assert.True(t, ok)
	assert.NotSame(t, before, m.Worker())

	close(release)
}

func TestManager_DeadlockedWorkerKeptRunningWhenDeciderDeclines(t *testing.T) {
	release := make(chan struct{})
	decided := make(chan struct{})
	m := New(Config{Decider: func(ctx context.Context) bool {
		close(decided)
		return false
	}})

	_, err := m.AddRunTask("stuck", true, false, func(ctx task.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	before := m.Worker()
	m.StartWorker()
	time.Sleep(10 * time.Millisecond)

	ok := m.StopWorker()
	assert.False(t, ok)
	assert.Same(t, before, m.Worker())

	close(release)
}

// TestManager_WatchdogForceTerminatesStalledWorker grounds the scenario
// where a task holds the loop without ever yielding: the watchdog must
// notice the stale heartbeat, attempt a pause, find the worker still
// wedged past the grace period, and force-rebuild it — all without any
// caller invoking StopWorker/PauseWorker itself.
func TestManager_WatchdogForceTerminatesStalledWorker(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := New(Config{
		Decider:               AutoTerminate,
		DeadlockGraceTimeout:  20 * time.Millisecond,
		WatchdogTickRate:      10 * time.Millisecond,
		PulseDeadlockDuration: 20 * time.Millisecond,
	})

	_, err := m.AddRunTask("stuck", true, false, func(ctx task.Context) error {
		<-release // never yields: the watchdog, not the body, must act
		return nil
	})
	require.NoError(t, err)

	before := m.Worker()
	m.StartWorker()

	require.Eventually(t, func() bool {
		return m.Worker() != before
	}, time.Second, 5*time.Millisecond, "watchdog should have force-rebuilt the stalled worker")
}

func TestManager_ListAndGetTask(t *testing.T) {
	m := New(Config{})
	_, err := m.AddRunTask("t", true, false, func(ctx task.Context) error { return ctx.Sleep(10) })
	require.NoError(t, err)

	infos := m.ListTasks()
	require.Len(t, infos, 1)
	assert.Equal(t, "t", infos[0].Name)
	assert.True(t, infos[0].Enabled)

	info, ok := m.GetTask("t")
	require.True(t, ok)
	assert.Equal(t, "t", info.Name)

	_, ok = m.GetTask("missing")
	assert.False(t, ok)
}

func TestManager_PauseResumeStopRestartTask_UnknownNameReturnsErrTaskNotFound(t *testing.T) {
	m := New(Config{})

	_, err := m.PauseTask("missing", false)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	assert.ErrorIs(t, m.ResumeTask("missing"), ErrTaskNotFound)
	assert.ErrorIs(t, m.StopTask("missing"), ErrTaskNotFound)
	assert.ErrorIs(t, m.RestartTask("missing"), ErrTaskNotFound)
}

func TestManager_PauseTask_PausesRunningController(t *testing.T) {
	started := make(chan struct{})
	m := New(Config{})
	c, err := m.AddRunTask("t", true, false, func(ctx task.Context) error {
		close(started)
		return ctx.Sleep(10)
	})
	require.NoError(t, err)

	m.StartWorker()
	<-started
	time.Sleep(20 * time.Millisecond)

	ok, err := m.PauseTask("t", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, c.State().PausedLike())

	require.NoError(t, m.ResumeTask("t"))
	m.StopWorker()
}

func TestManager_RemoveTaskStopsController(t *testing.T) {
	m := New(Config{})
	c, err := m.AddRunTask("t", true, false, func(ctx task.Context) error {
		return ctx.Sleep(10)
	})
	require.NoError(t, err)

	m.StartWorker()
	time.Sleep(10 * time.Millisecond) // let the worker dispatch it at least once

	m.RemoveTask("t")
	assert.Equal(t, task.StateStopped, c.State())

	m.StopWorker()
}
