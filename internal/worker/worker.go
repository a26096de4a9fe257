// Package worker implements the scheduling loop: a time-ordered heap of
// live controllers, keyed (wake_time, cid, generation), dispatched one
// step at a time on a single goroutine standing in for the original's
// worker thread.
package worker

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/nrlund/macrocore/internal/controller"
	"github.com/nrlund/macrocore/internal/logger"
	"github.com/nrlund/macrocore/internal/pause"
	"github.com/nrlund/macrocore/internal/task"
)

const (
	minSleep           = 1 * time.Millisecond
	maxSleep           = 50 * time.Millisecond
	pausedSetPollDelay = 50 * time.Millisecond
)

// Metrics is the instrumentation surface the worker reports through; nil
// is a valid no-op implementation.
type Metrics interface {
	TaskCompleted(status string)
	SetHeapDepth(n int)
	SetPausedControllers(n int)
}

// entry is one heap/paused-set slot: a snapshot of wake_time and
// generation taken at push time, plus the handle and its underlying
// cooperative controller (needed so MoveToActiveAndReschedule, which is
// handed only the inner *controller.Controller, can find its outer handle
// again — the outer handle is what ThreadedController callers need).
type entry struct {
	wakeTime   time.Time
	cid        task.Cid
	generation uint64
	handle     controller.Handle
	inner      *controller.Controller
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if !h[i].wakeTime.Equal(h[j].wakeTime) {
		return h[i].wakeTime.Before(h[j].wakeTime)
	}
	return h[i].cid < h[j].cid
}
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Registration pairs a handle (Controller or ThreadedController) with the
// inner cooperative *controller.Controller the handle wraps, which is the
// identity MoveToActiveAndReschedule receives back.
type Registration struct {
	Handle controller.Handle
	Inner  *controller.Controller
}

// Worker runs the scheduling loop. The heap and paused set are guarded by
// mu; body advancement happens with mu released so a body's own
// rescheduling call (Resume/Restart -> MoveToActiveAndReschedule) never
// deadlocks against the loop. A controller's own mutex is always acquired,
// if at all, only after mu is released on the controller's side — the two
// locks are never nested in the other order.
type Worker struct {
	mu       sync.Mutex
	heap     entryHeap
	paused   map[task.Cid]*entry
	registry map[*controller.Controller]controller.Handle

	pauseState *pause.State
	loopDelay  time.Duration
	metrics    Metrics
	onFinished func()

	// running is true only while a Run goroutine is actually executing,
	// set true at its start and cleared via defer when it returns —
	// the ground truth IsAlive reports. wantStop is the separate
	// stop-requested flag Shutdown sets for the loop to notice between
	// dispatches; a body that never yields means the loop never notices
	// it, so wantStop going true does not by itself make running false.
	running       bool
	wantStop      bool
	lastHeartbeat time.Time
}

// Config groups a new Worker's dependencies.
type Config struct {
	LoopDelay time.Duration
	Metrics   Metrics
	// OnFinished is called, if set, the moment Run observes the heap and
	// paused set both empty — the engine-level "finished" lifecycle signal
	// the embedding UI may observe.
	OnFinished func()
}

// New creates a not-yet-running worker with an empty heap.
func New(cfg Config) *Worker {
	return &Worker{
		paused:     make(map[task.Cid]*entry),
		registry:   make(map[*controller.Controller]controller.Handle),
		pauseState: pause.New(),
		loopDelay:  cfg.LoopDelay,
		metrics:    cfg.Metrics,
		onFinished: cfg.OnFinished,
	}
}

// PauseState exposes the worker's global pause primitive so a manager can
// trigger/clear it.
func (w *Worker) PauseState() *pause.State { return w.pauseState }

// GlobalPaused implements controller.GlobalPauseQuerier for threaded
// bodies, which must also react to the worker's global pause, not just
// their own controller's.
func (w *Worker) GlobalPaused() (active, hard bool) {
	return w.pauseState.Active(), w.pauseState.Hard()
}

// IsAlive reports whether a Run goroutine is actually executing right
// now. Unlike a plain stop-requested flag, this stays true for as long as
// a stuck task body holds the loop inside a single dispatch — which is
// exactly the condition a deadlock watchdog needs to detect.
func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastHeartbeat reports when the loop last completed an iteration, for a
// supervisor's deadlock watchdog.
func (w *Worker) LastHeartbeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHeartbeat
}

// track registers the (inner, handle) pair so MoveToActiveAndReschedule and
// reload can find the outer handle from the inner controller pointer a
// scheduler callback is handed. Must be called with mu held.
func (w *Worker) track(r Registration) {
	w.registry[r.Inner] = r.Handle
}

// MoveToActiveAndReschedule implements controller.Scheduler: a controller
// calls back into the worker after a user-driven Resume/Restart/enable to
// be reinserted into the heap with its now-current wake time and
// generation. Any stale paused-set entry for the same cid is dropped.
func (w *Worker) MoveToActiveAndReschedule(c *controller.Controller) {
	w.mu.Lock()
	defer w.mu.Unlock()

	handle, ok := w.registry[c]
	if !ok {
		return
	}
	delete(w.paused, handle.Cid())

	e := &entry{
		wakeTime:   handle.WakeTime(),
		cid:        handle.Cid(),
		generation: handle.Generation(),
		handle:     handle,
		inner:      c,
	}
	heap.Push(&w.heap, e)
	w.reportDepthLocked()
}

// ReloadControllers atomically replaces the heap and paused set: any
// previously-tracked controller not present in regs is stopped
// (worker-initiated), and every controller in regs is restarted at now
// (fresh generation, wake_time 0) and, via Restart's own
// MoveToActiveAndReschedule call, pushed back onto the heap. Passing an
// empty slice is the shutdown path.
func (w *Worker) ReloadControllers(regs []Registration) {
	now := time.Now()

	w.mu.Lock()
	keep := make(map[*controller.Controller]controller.Handle, len(regs))
	for _, r := range regs {
		keep[r.Inner] = r.Handle
	}

	var stale []controller.Handle
	for _, e := range w.heap {
		if _, ok := keep[e.inner]; !ok {
			stale = append(stale, e.handle)
		}
	}
	for _, e := range w.paused {
		if _, ok := keep[e.inner]; !ok {
			stale = append(stale, e.handle)
		}
	}

	w.heap = w.heap[:0]
	w.paused = make(map[task.Cid]*entry)
	w.registry = make(map[*controller.Controller]controller.Handle)
	for _, r := range regs {
		w.track(r)
	}
	w.mu.Unlock()

	for _, h := range stale {
		h.Stop()
	}
	for _, r := range regs {
		r.Handle.Restart(&now)
	}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// reportDepthLocked must be called with mu held.
func (w *Worker) reportDepthLocked() {
	if w.metrics == nil {
		return
	}
	w.metrics.SetHeapDepth(len(w.heap))
	w.metrics.SetPausedControllers(len(w.paused))
}

// gcPausedLocked drops paused-set entries for controllers that died while
// paused (the user stopped them without ever resuming). Must be called
// with mu held.
func (w *Worker) gcPausedLocked() {
	for cid, e := range w.paused {
		if e.handle.State().Dead() {
			delete(w.paused, cid)
		}
	}
}

// Run drives the scheduling loop until the heap and paused set are both
// empty, ctx is canceled, or Shutdown is called. It implements the loop
// invariant of 4.4: update heartbeat, drain stale/paused heap heads,
// dispatch the earliest due controller or sleep a clamped duration, and
// emit finished only once truly idle.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.wantStop = false
	w.lastHeartbeat = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.pauseState.Active() {
			w.quiesce()
			return
		}

		w.mu.Lock()
		if w.wantStop {
			w.mu.Unlock()
			return
		}
		w.lastHeartbeat = time.Now()

		for len(w.heap) > 0 {
			head := w.heap[0]
			if head.generation != head.handle.Generation() {
				heap.Pop(&w.heap)
				continue
			}
			if head.handle.State().PausedLike() {
				heap.Pop(&w.heap)
				w.paused[head.cid] = head
				continue
			}
			break
		}

		if len(w.heap) == 0 {
			if len(w.paused) == 0 {
				w.mu.Unlock()
				logger.Info().Msg("worker loop finished: heap and paused set both empty")
				if w.onFinished != nil {
					w.onFinished()
				}
				return
			}
			w.gcPausedLocked()
			w.reportDepthLocked()
			w.mu.Unlock()
			time.Sleep(pausedSetPollDelay)
			continue
		}

		head := w.heap[0]
		now := time.Now()
		if head.wakeTime.After(now) {
			sleepFor := clamp(head.wakeTime.Sub(now), minSleep, maxSleep)
			w.reportDepthLocked()
			w.mu.Unlock()
			time.Sleep(sleepFor)
			continue
		}

		due := heap.Pop(&w.heap).(*entry)
		w.reportDepthLocked()
		w.mu.Unlock()

		w.dispatch(due)
	}
}

// Shutdown requests that the loop stop at its next check, equivalent to
// ReloadControllers(nil) but without touching any tracked controller. It
// does not by itself make IsAlive false — a body that never yields means
// the loop never reaches the check, which is the condition a deadlock
// watchdog exists to catch.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	w.wantStop = true
	w.mu.Unlock()
}

// dispatch advances one controller a single step and interprets the
// result, outside the heap lock.
func (w *Worker) dispatch(e *entry) {
	step := e.handle.Next()

	switch step.Kind {
	case task.StepSleep:
		e.handle.ScheduleAfter(time.Duration(step.Seconds * float64(time.Second)))
		w.mu.Lock()
		e.wakeTime = e.handle.WakeTime()
		e.generation = e.handle.Generation()
		heap.Push(&w.heap, e)
		w.reportDepthLocked()
		w.mu.Unlock()

	case task.StepWaitForResume:
		e.handle.SelfPause()
		w.mu.Lock()
		w.paused[e.cid] = e
		w.reportDepthLocked()
		w.mu.Unlock()

	case task.StepDone:
		if e.handle.AutoLoop() {
			next := time.Now().Add(w.loopDelay)
			e.handle.Restart(&next)
			w.reportMetric("looped")
		} else {
			e.handle.Finish()
			w.reportMetric("finished")
		}

	case task.StepCrashed:
		e.handle.Crash()
		w.reportMetric("crashed")
		logger.Error().
			Str("task_name", e.handle.Name()).
			Err(step.Err).
			Str("traceback", step.Traceback).
			Msg("task crashed")
	}
}

func (w *Worker) reportMetric(status string) {
	if w.metrics != nil {
		w.metrics.TaskCompleted(status)
	}
}

// PauseGlobal triggers the worker's global pause. Run observes it at the
// top of its next iteration (within one clamp), performs the quiesce walk
// below, and returns; the caller (a supervisor) is responsible for
// restarting the loop on a fresh goroutine after a subsequent
// ApplyGlobalResume.
func (w *Worker) PauseGlobal(interrupt bool) {
	w.pauseState.Trigger(interrupt)
}

// quiesce is Run's end-of-run handler once a global pause is observed
// active. A soft pause leaves every heap entry exactly as it is — the
// controllers stay RUNNING, only the loop itself stops driving them. A
// hard (interrupted) pause injects an interrupt into every controller that
// is alive, including ones already paused-like, and moves survivors into
// the paused set with state_change_by_worker set so ApplyGlobalResume
// knows it, not the user, authored the pause. Controllers that do not
// handle the interrupt are logged as forcibly stopped.
func (w *Worker) quiesce() {
	hard := w.pauseState.Hard()

	w.mu.Lock()
	if !hard {
		heapSnapshot := make([]*entry, len(w.heap))
		copy(heapSnapshot, w.heap)
		w.mu.Unlock()

		// A soft pause leaves every controller's own state untouched, so
		// nothing else closes a threaded controller's gate the way
		// Pause(true) does for the hard path below — do it here instead.
		for _, e := range heapSnapshot {
			if p, ok := e.handle.(controller.GlobalSoftPauser); ok {
				p.FreezeForGlobalSoftPause()
			}
		}
		return
	}

	var live []*entry
	live = append(live, w.heap...)
	for _, e := range w.paused {
		live = append(live, e)
	}
	w.heap = w.heap[:0]
	w.paused = make(map[task.Cid]*entry)
	w.mu.Unlock()

	for _, e := range live {
		if e.handle.State().Dead() {
			continue
		}
		if alive := e.handle.Pause(true); alive {
			e.handle.SetStateChangeByWorker(true)
			w.mu.Lock()
			w.paused[e.cid] = e
			w.mu.Unlock()
		} else {
			logger.Warn().
				Str("task_name", e.handle.Name()).
				Msg("task forcibly stopped: did not handle interrupt")
		}
	}

	w.mu.Lock()
	w.reportDepthLocked()
	w.mu.Unlock()
}

// ApplyGlobalResume reverses quiesce and must be called by the supervisor
// before restarting Run on a fresh goroutine. It clears the global pause
// state and computes elapsed. Heap entries untouched by a soft pause have
// their wake time shifted by elapsed, preserving remaining sleep time.
// Paused-set entries the worker itself authored (state_change_by_worker)
// are resumed now — Controller.Resume runs an interrupted body immediately
// and a soft-paused one after its own shifted wake time. Per-task-paused
// entries are left alone.
func (w *Worker) ApplyGlobalResume() {
	elapsed, _ := w.pauseState.Clear()

	w.mu.Lock()
	heapSnapshot := make([]*entry, len(w.heap))
	copy(heapSnapshot, w.heap)
	w.mu.Unlock()

	for _, e := range heapSnapshot {
		shifted := e.handle.WakeTime().Add(elapsed)
		e.handle.SetWakeTime(shifted)
		w.mu.Lock()
		e.wakeTime = shifted
		w.mu.Unlock()

		// Heap entries only survive a hard pause's quiesce as an empty
		// slice, so this only ever thaws gates a soft pause's quiesce froze.
		if p, ok := e.handle.(controller.GlobalSoftPauser); ok {
			p.ThawFromGlobalSoftPause()
		}
	}

	w.mu.Lock()
	var candidates []*entry
	for cid, e := range w.paused {
		if e.handle.StateChangeByWorker() {
			candidates = append(candidates, e)
			delete(w.paused, cid)
		}
	}
	w.mu.Unlock()

	for _, e := range candidates {
		if e.handle.State().Dead() {
			continue
		}
		e.handle.Resume()
	}

	w.mu.Lock()
	w.reportDepthLocked()
	w.mu.Unlock()
}
