package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/nrlund/macrocore/internal/task"
)

// threadPollInterval is how often the bridge generator checks the OS
// thread's liveness, matching the original's ≈50ms poll.
const threadPollInterval = 50 * time.Millisecond

// threadSleepChunk bounds how long a threaded body's Sleep blocks between
// signal checks; threadSpinWindow is the final slice spent spin-waiting
// for millisecond precision instead of chunk-sleeping through it.
const (
	threadSleepChunk = 100 * time.Millisecond
	threadSpinWindow = 2 * time.Millisecond
)

// GlobalPauseQuerier lets a threaded body's sleep primitives also observe
// the worker's global pause state, not just its own controller's.
type GlobalPauseQuerier interface {
	GlobalPaused() (active, hard bool)
}

// GlobalSoftPauser lets the worker's quiesce walk freeze and thaw a
// threaded controller's real thread for a global soft pause, the one
// case where nothing else ever closes the gate: a hard pause already
// does it through Pause(true), and a per-task pause through Pause
// directly, but a soft global pause leaves every controller's own state
// untouched, so without this the thread would see globalActive on an
// open gate and spin.
type GlobalSoftPauser interface {
	FreezeForGlobalSoftPause()
	ThawFromGlobalSoftPause()
}

// FreezeForGlobalSoftPause closes the gate without touching the
// controller's own state, mirroring what Pause(true) does for a per-task
// or hard-global pause.
func (tc *ThreadedController) FreezeForGlobalSoftPause() { tc.gate.Set(false) }

// ThawFromGlobalSoftPause reopens the gate a FreezeForGlobalSoftPause
// closed, once the worker's global soft pause clears.
func (tc *ThreadedController) ThawFromGlobalSoftPause() { tc.gate.Set(true) }

var _ GlobalSoftPauser = (*ThreadedController)(nil)

// gate is resume_event: closed (blocking) while the controller is
// paused-like, open while it is RUNNING. Waiters block on Wait() until
// the gate opens.
type gate struct {
	mu   sync.Mutex
	open bool
	ch   chan struct{}
}

func newGate(open bool) *gate {
	g := &gate{open: open, ch: make(chan struct{})}
	if open {
		close(g.ch)
	}
	return g
}

func (g *gate) Set(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if open == g.open {
		return
	}
	g.open = open
	if open {
		close(g.ch)
	} else {
		g.ch = make(chan struct{})
	}
}

func (g *gate) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// ThreadedController runs the body on a dedicated goroutine standing in
// for an OS thread, bridging it to the worker through a cooperative
// Controller whose body is the bridge generator below. The outward state
// machine is identical to Controller's.
type ThreadedController struct {
	*Controller
	gate   *gate
	global GlobalPauseQuerier
}

// ThreadedConfig groups the dependencies a new ThreadedController needs.
type ThreadedConfig struct {
	Cid       task.Cid
	Name      string
	Fn        task.Func
	AutoLoop  bool
	Scheduler Scheduler
	Sink      Sink
	Vars      task.VarProvider
	Global    GlobalPauseQuerier
}

// NewThreaded creates a threaded controller. The bridge generator it
// installs as the cooperative body spawns the real thread goroutine on
// first Next() and polls it thereafter.
func NewThreaded(cfg ThreadedConfig) *ThreadedController {
	tc := &ThreadedController{
		gate:   newGate(true),
		global: cfg.Global,
	}
	tc.Controller = New(Config{
		Cid:       cfg.Cid,
		Name:      cfg.Name,
		Fn:        tc.bridge(cfg.Fn),
		AutoLoop:  cfg.AutoLoop,
		Scheduler: cfg.Scheduler,
		Sink:      cfg.Sink,
		Vars:      cfg.Vars,
	})
	return tc
}

// bridge builds the cooperative body installed on the embedded Controller.
// It spawns userFn on its own goroutine and polls its liveness, translating
// the thread's outcome into the bridge's own return value so the ordinary
// Done/Crashed path applies uniformly to both controller flavors.
func (tc *ThreadedController) bridge(userFn task.Func) task.Func {
	return func(ctx task.Context) error {
		threadDone := make(chan struct{})
		var threadErr error

		tctx := &threadContext{tc: tc, bridge: ctx}
		go func() {
			defer close(threadDone)
			threadErr = userFn(tctx)
		}()

		for {
			select {
			case <-threadDone:
				return threadErr
			default:
			}

			err := ctx.Sleep(threadPollInterval.Seconds())
			if err == nil {
				continue
			}
			if errors.Is(err, task.ErrAborted) {
				<-threadDone
				return threadErr
			}
			if errors.Is(err, task.ErrInterrupted) {
				tc.gate.Set(false)
				if werr := ctx.WaitForResume(); werr != nil {
					<-threadDone
					return threadErr
				}
				tc.gate.Set(true)
				continue
			}
			return err
		}
	}
}

// threadContext is the task.Context given to the real thread body. Its
// Sleep/WaitForResume implement the spec's chunked-sleep-with-spin-wait
// cooperation, independent of the bridge's own rendezvous. GetVar/Log/
// LogError delegate to the bridge's own context, which already knows how
// to reach the controller's var provider and sink.
type threadContext struct {
	tc     *ThreadedController
	bridge task.Context
}

func (t *threadContext) GetVar(key string) (interface{}, bool) { return t.bridge.GetVar(key) }

func (t *threadContext) Log(level task.Level, parts ...interface{}) {
	t.bridge.Log(level, parts...)
}

func (t *threadContext) LogError(message, traceback string) {
	t.bridge.LogError(message, traceback)
}

func (t *threadContext) HoldKey(name string, seconds float64) error {
	return holdKey(t, name, seconds)
}

func (t *threadContext) MouseClick(x, y int, button string) error {
	return mouseClick(t, x, y, button)
}

func (t *threadContext) checkSignals() error {
	for {
		state := t.tc.Controller.State()
		if state.Dead() {
			return task.ErrAborted
		}
		globalActive, globalHard := false, false
		if t.tc.global != nil {
			globalActive, globalHard = t.tc.global.GlobalPaused()
		}
		if state == task.StateInterrupted || (globalActive && globalHard) {
			t.tc.gate.Set(false)
			return task.ErrInterrupted
		}
		if state == task.StatePaused || globalActive {
			<-t.tc.gate.Wait()
			continue
		}
		return nil
	}
}

// Sleep blocks the calling (simulated OS) thread for seconds, waking early
// with ErrInterrupted/ErrAborted if the controller's state demands it.
func (t *threadContext) Sleep(seconds float64) error {
	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	for {
		if err := t.checkSignals(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining <= threadSpinWindow {
			for time.Now().Before(deadline) {
				if err := t.checkSignals(); err != nil {
					return err
				}
			}
			return nil
		}
		chunk := remaining
		if chunk > threadSleepChunk {
			chunk = threadSleepChunk
		}
		time.Sleep(chunk)
	}
}

// WaitForResume blocks until the controller leaves INTERRUPTED by resuming.
func (t *threadContext) WaitForResume() error {
	for {
		state := t.tc.Controller.State()
		if state.Dead() {
			return task.ErrAborted
		}
		if state == task.StateRunning {
			return nil
		}
		<-t.tc.gate.Wait()
	}
}

// Pause clears the resume gate before delegating, so the real thread
// observes paused-like state within one poll chunk even during a soft
// pause (which the bridge's own rendezvous never touches).
func (tc *ThreadedController) Pause(interrupt bool) bool {
	tc.gate.Set(false)
	return tc.Controller.Pause(interrupt)
}

// Resume re-opens the gate after the embedded controller's bookkeeping,
// releasing any thread blocked in Sleep/WaitForResume.
func (tc *ThreadedController) Resume() (time.Duration, bool) {
	d, ok := tc.Controller.Resume()
	if ok {
		tc.gate.Set(true)
	}
	return d, ok
}

// Stop opens the gate so a thread blocked on it can observe the terminal
// state and unwind, then delegates to the embedded controller.
func (tc *ThreadedController) Stop() {
	tc.gate.Set(true)
	tc.Controller.Stop()
}
