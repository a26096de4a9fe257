package worker

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrlund/macrocore/internal/controller"
	"github.com/nrlund/macrocore/internal/task"
)

func waitFinished(t *testing.T, finished <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-finished:
	case <-time.After(d):
		t.Fatal("worker did not finish in time")
	}
}

func TestEntryHeap_OrdersByWakeTimeThenCid(t *testing.T) {
	now := time.Now()
	h := &entryHeap{
		{wakeTime: now, cid: 5},
		{wakeTime: now, cid: 2},
		{wakeTime: now.Add(time.Millisecond), cid: 1},
	}
	heap.Init(h)

	var order []task.Cid
	for h.Len() > 0 {
		e := heap.Pop(h).(*entry)
		order = append(order, e.cid)
	}
	assert.Equal(t, []task.Cid{2, 5, 1}, order)
}

func TestWorker_StaleGenerationEntryDropped(t *testing.T) {
	calls := 0
	c := controller.New(controller.Config{Cid: 1, Name: "t", Fn: func(ctx task.Context) error {
		calls++
		return nil
	}})

	finished := make(chan struct{})
	w := New(Config{OnFinished: func() { close(finished) }})
	w.track(Registration{Handle: c, Inner: c})

	heap.Push(&w.heap, &entry{
		wakeTime:   time.Now(),
		cid:        c.Cid(),
		generation: c.Generation() + 1, // stale on arrival
		handle:     c,
		inner:      c,
	})

	go w.Run(context.Background())
	waitFinished(t, finished, time.Second)
	assert.Equal(t, 0, calls)
}

func TestWorker_PingPongOrdering(t *testing.T) {
	var mu sync.Mutex
	var logs []string
	record := func(s string) {
		mu.Lock()
		logs = append(logs, s)
		mu.Unlock()
	}

	finished := make(chan struct{})
	w := New(Config{OnFinished: func() { close(finished) }})

	a := controller.New(controller.Config{Cid: 1, Name: "A", Scheduler: w, Fn: func(ctx task.Context) error {
		record("A1")
		if err := ctx.Sleep(0.10); err != nil {
			return err
		}
		record("A2")
		return nil
	}})
	b := controller.New(controller.Config{Cid: 2, Name: "B", Scheduler: w, Fn: func(ctx task.Context) error {
		record("B1")
		if err := ctx.Sleep(0.05); err != nil {
			return err
		}
		record("B2")
		return nil
	}})

	w.ReloadControllers([]Registration{{Handle: a, Inner: a}, {Handle: b, Inner: b}})
	go w.Run(context.Background())

	waitFinished(t, finished, 2*time.Second)
	assert.Equal(t, []string{"A1", "B1", "B2", "A2"}, logs)
	assert.Equal(t, task.StateFinished, a.State())
	assert.Equal(t, task.StateFinished, b.State())
}

func TestWorker_CrashIsolation(t *testing.T) {
	var mu sync.Mutex
	var logs []string

	finished := make(chan struct{})
	w := New(Config{OnFinished: func() { close(finished) }})

	a := controller.New(controller.Config{Cid: 1, Name: "A", Scheduler: w, Fn: func(ctx task.Context) error {
		return errors.New("boom")
	}})
	b := controller.New(controller.Config{Cid: 2, Name: "B", Scheduler: w, Fn: func(ctx task.Context) error {
		if err := ctx.Sleep(0.05); err != nil {
			return err
		}
		mu.Lock()
		logs = append(logs, "ok")
		mu.Unlock()
		return nil
	}})

	w.ReloadControllers([]Registration{{Handle: a, Inner: a}, {Handle: b, Inner: b}})
	go w.Run(context.Background())

	waitFinished(t, finished, 2*time.Second)
	assert.Equal(t, task.StateCrashed, a.State())
	assert.Equal(t, task.StateFinished, b.State())
	assert.Equal(t, []string{"ok"}, logs)
}

func TestWorker_AutoLoopRestarts(t *testing.T) {
	var mu sync.Mutex
	count := 0

	finished := make(chan struct{})
	w := New(Config{OnFinished: func() { close(finished) }})

	var c *controller.Controller
	c = controller.New(controller.Config{Cid: 1, Name: "loop", AutoLoop: true, Scheduler: w, Fn: func(ctx task.Context) error {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n >= 3 {
			c.SetAutoLoop(false)
		}
		return nil
	}})

	w.ReloadControllers([]Registration{{Handle: c, Inner: c}})
	go w.Run(context.Background())

	waitFinished(t, finished, 2*time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, task.StateFinished, c.State())
}

func TestWorker_GlobalSoftPausePreservesRemainingSleep(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	w := New(Config{OnFinished: func() { close(finished) }})

	c := controller.New(controller.Config{Cid: 1, Name: "t", Scheduler: w, Fn: func(ctx task.Context) error {
		close(started)
		return ctx.Sleep(0.2)
	}})

	w.ReloadControllers([]Registration{{Handle: c, Inner: c}})
	go w.Run(context.Background())
	<-started
	time.Sleep(20 * time.Millisecond) // let the sleep step land on the heap

	w.PauseGlobal(false)
	require.Eventually(t, func() bool { return !w.IsAlive() }, time.Second, time.Millisecond)

	w.mu.Lock()
	require.Equal(t, 1, len(w.heap))
	wakeBefore := w.heap[0].wakeTime
	w.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	w.ApplyGlobalResume()

	w.mu.Lock()
	wakeAfter := w.heap[0].wakeTime
	w.mu.Unlock()
	assert.True(t, wakeAfter.After(wakeBefore))
	assert.Equal(t, task.StateRunning, c.State())

	go w.Run(context.Background())
	waitFinished(t, finished, 2*time.Second)
	assert.Equal(t, task.StateFinished, c.State())
}

func TestWorker_GlobalHardPauseInterruptsAndResumes(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	w := New(Config{OnFinished: func() { close(finished) }})

	c := controller.New(controller.Config{Cid: 1, Name: "t", Scheduler: w, Fn: func(ctx task.Context) error {
		close(started)
		err := ctx.Sleep(10)
		if errors.Is(err, task.ErrInterrupted) {
			if werr := ctx.WaitForResume(); werr != nil {
				return werr
			}
			return nil
		}
		return err
	}})

	w.ReloadControllers([]Registration{{Handle: c, Inner: c}})
	go w.Run(context.Background())
	<-started
	time.Sleep(20 * time.Millisecond)

	w.PauseGlobal(true)
	require.Eventually(t, func() bool { return !w.IsAlive() }, time.Second, time.Millisecond)
	assert.Equal(t, task.StateInterrupted, c.State())

	w.ApplyGlobalResume()
	go w.Run(context.Background())

	waitFinished(t, finished, time.Second)
	assert.Equal(t, task.StateFinished, c.State())
}

func TestWorker_ReloadControllersStopsDroppedOnes(t *testing.T) {
	w := New(Config{})
	c := controller.New(controller.Config{Cid: 1, Name: "t", Scheduler: w, Fn: func(ctx task.Context) error {
		return ctx.Sleep(10)
	}})

	w.ReloadControllers([]Registration{{Handle: c, Inner: c}})

	w.mu.Lock()
	require.Equal(t, 1, len(w.heap))
	w.mu.Unlock()

	// started the body so Stop has something to unwind
	c.Next()

	w.ReloadControllers(nil)
	assert.Equal(t, task.StateStopped, c.State())

	w.mu.Lock()
	assert.Equal(t, 0, len(w.heap))
	w.mu.Unlock()
}
