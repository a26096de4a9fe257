// Package controller implements the per-task state machine described by
// TaskController: a cooperative body is modeled as a goroutine that
// rendezvous with the worker one step at a time over an unbuffered
// channel, which is the direct Go analog of resuming a generator — only
// one side of the channel is ever runnable at once, so body steps never
// race with worker housekeeping or with each other.
package controller

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nrlund/macrocore/internal/pause"
	"github.com/nrlund/macrocore/internal/task"
)

// Scheduler is the worker back-pointer a controller uses purely to ask to
// be rescheduled after a user-driven state change (resume, restart,
// enable). It is a logical relation, not an ownership edge.
type Scheduler interface {
	MoveToActiveAndReschedule(c *Controller)
}

// Sink receives the log stream a running body produces.
type Sink interface {
	Log(task.LogPacket)
	LogError(task.LogErrorPacket)
}

// Controller owns one task's body, generation counter, wake time, and
// pause state, and bridges worker ticks to the body.
type Controller struct {
	mu sync.Mutex // serializes Next/Pause/Resume/Stop/Restart, mirroring the original's per-controller lock

	cid      task.Cid
	name     string
	fn       task.Func
	autoLoop bool
	enabled  bool

	state                task.State
	generation           uint64
	wakeTime             time.Time
	pauseState           pause.State
	stateChangeByWorker  bool

	scheduler Scheduler
	sink      Sink
	vars      task.VarProvider

	started          bool
	pendingInterrupt bool
	pendingAbort     bool

	stepCh   chan struct{}
	resultCh chan task.Step
	doneCh   chan struct{}
}

// Config groups the dependencies a new Controller needs.
type Config struct {
	Cid       task.Cid
	Name      string
	Fn        task.Func
	AutoLoop  bool
	Scheduler Scheduler
	Sink      Sink
	Vars      task.VarProvider
}

// New creates an enabled, not-yet-started controller in
// RUNNING state, ready to be pushed onto the worker heap at wake_time 0.
func New(cfg Config) *Controller {
	vars := cfg.Vars
	if vars == nil {
		vars = task.NoVars
	}
	return &Controller{
		cid:       cfg.Cid,
		name:      cfg.Name,
		fn:        cfg.Fn,
		autoLoop:  cfg.AutoLoop,
		enabled:   true,
		state:     task.StateRunning,
		scheduler: cfg.Scheduler,
		sink:      cfg.Sink,
		vars:      vars,
		stepCh:    make(chan struct{}),
		resultCh:  make(chan task.Step),
		doneCh:    make(chan struct{}),
	}
}

func (c *Controller) Cid() task.Cid          { return c.cid }
func (c *Controller) Name() string           { return c.name }

func (c *Controller) State() task.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Controller) WakeTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakeTime
}

func (c *Controller) SetWakeTime(t time.Time) {
	c.mu.Lock()
	c.wakeTime = t
	c.mu.Unlock()
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Controller) AutoLoop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoLoop
}

// SetAutoLoop flips the repeat-on-finish behavior live; it is not a
// construction-only setting.
func (c *Controller) SetAutoLoop(v bool) {
	c.mu.Lock()
	c.autoLoop = v
	c.mu.Unlock()
}

// StateChangeByWorker reports whether the most recent transition into a
// paused-like state was authored by the worker's global pause propagation
// rather than an explicit per-task pause. It governs auto-resume eligibility
// when a global pause lifts.
func (c *Controller) StateChangeByWorker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateChangeByWorker
}

// SetStateChangeByWorker lets the worker mark a pause it authored itself
// (global pause propagation), distinct from a user's explicit per-task
// pause, so it knows who is eligible for auto-resume later.
func (c *Controller) SetStateChangeByWorker(v bool) {
	c.mu.Lock()
	c.stateChangeByWorker = v
	c.mu.Unlock()
}

// SetScheduler rebinds the controller to a new scheduler, used when a
// deadlocked worker is torn down and replaced: every controller it owned
// gets rebound to the freshly built worker rather than re-created.
func (c *Controller) SetScheduler(s Scheduler) {
	c.mu.Lock()
	c.scheduler = s
	c.mu.Unlock()
}

// bodyContext is the task.Context implementation handed to a cooperative
// body; every suspending call routes through the controller's rendezvous
// channels.
type bodyContext struct {
	c *Controller
}

func (ctx *bodyContext) Sleep(seconds float64) error {
	return ctx.c.yield(task.Sleep(seconds))
}

func (ctx *bodyContext) WaitForResume() error {
	return ctx.c.yield(task.WaitForResume())
}

func (ctx *bodyContext) HoldKey(name string, seconds float64) error {
	return holdKey(ctx, name, seconds)
}

func (ctx *bodyContext) MouseClick(x, y int, button string) error {
	return mouseClick(ctx, x, y, button)
}

func (ctx *bodyContext) GetVar(key string) (interface{}, bool) {
	return ctx.c.vars.GetVar(key)
}

func (ctx *bodyContext) Log(level task.Level, parts ...interface{}) {
	if ctx.c.sink == nil {
		return
	}
	ctx.c.sink.Log(task.LogPacket{Parts: parts, Level: level, TaskName: ctx.c.name})
}

func (ctx *bodyContext) LogError(message, traceback string) {
	if ctx.c.sink == nil {
		return
	}
	ctx.c.sink.LogError(task.LogErrorPacket{Message: message, Traceback: traceback, TaskName: ctx.c.name})
}

// yield is the body-side half of the rendezvous: publish a step to
// whoever is waiting in Next()/Pause(), then block until released, then
// report whatever signal was pending at release time.
func (c *Controller) yield(step task.Step) error {
	c.resultCh <- step
	<-c.stepCh
	return c.consumeSignal()
}

func (c *Controller) consumeSignal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingAbort {
		c.pendingAbort = false
		return task.ErrAborted
	}
	if c.pendingInterrupt {
		c.pendingInterrupt = false
		return task.ErrInterrupted
	}
	return nil
}

// signalStep wakes a body parked on stepCh, or is a safe no-op if the body
// has already returned (doneCh closed) — which can happen when the worker
// has not yet observed a StepDone/StepCrashed result via Finish/Crash.
// Must be called without holding mu.
func (c *Controller) signalStep() {
	select {
	case c.stepCh <- struct{}{}:
	case <-c.doneCh:
	}
}

// awaitOutcome waits for the rendezvous result after signalStep, or for
// doneCh if the body had already exited. Must be called without holding mu.
func (c *Controller) awaitOutcome() task.Step {
	select {
	case step := <-c.resultCh:
		return step
	case <-c.doneCh:
		return task.Done()
	}
}

func (c *Controller) runBody() {
	ctx := &bodyContext{c: c}
	c.resultCh <- c.invokeBody(ctx)
	close(c.doneCh)
}

// invokeBody runs the user body and recovers a panic into a crash step with
// a captured stack trace, the same containment the worker's crash path
// gives an ordinary returned error.
func (c *Controller) invokeBody(ctx task.Context) (step task.Step) {
	defer func() {
		if r := recover(); r != nil {
			step = task.CrashedTrace(fmt.Errorf("panic: %v", r), string(debug.Stack()))
		}
	}()
	err := c.fn(ctx)
	if err != nil && !errors.Is(err, task.ErrAborted) {
		return task.Crashed(err)
	}
	return task.Done()
}

// Next advances the body one step. Worker-only: callers other than the
// worker's scheduling loop must not call this.
func (c *Controller) Next() task.Step {
	c.mu.Lock()
	fresh := !c.started
	if fresh {
		c.started = true
		go c.runBody()
	}
	c.mu.Unlock()

	if !fresh {
		c.signalStep()
	}
	return c.awaitOutcome()
}

// Pause transitions RUNNING -> PAUSED (interrupt=false) or
// RUNNING/PAUSED -> INTERRUPTED (interrupt=true). It is idempotent.
// Interrupting injects ErrInterrupted at the body's current suspension
// point and waits synchronously for the outcome.
func (c *Controller) Pause(interrupt bool) bool {
	c.mu.Lock()

	if c.state.Dead() {
		c.mu.Unlock()
		return false
	}

	if !interrupt {
		if !c.state.PausedLike() {
			c.enterPaused(task.StatePaused, false)
		}
		c.mu.Unlock()
		return true
	}

	// interrupt=true: soft-paused or running both upgrade to INTERRUPTED.
	if c.state == task.StateInterrupted {
		c.mu.Unlock()
		return true
	}

	wasPaused := c.state == task.StatePaused
	if !c.started {
		// Mirrors throwing into a fresh, unstarted generator: it crashes
		// immediately without running any user code.
		c.closeDead(task.StateCrashed)
		c.mu.Unlock()
		return false
	}

	c.pendingInterrupt = true
	c.enterPaused(task.StateInterrupted, wasPaused)
	c.mu.Unlock()

	c.signalStep()
	step := c.awaitOutcome()

	c.mu.Lock()
	defer c.mu.Unlock()
	if step.IsTerminal() {
		c.closeDead(task.StateCrashed)
		return false
	}
	return true
}

// enterPaused must be called with mu held; it does not bump generation —
// only resume/restart/stop do.
func (c *Controller) enterPaused(s task.State, alreadyPausedLike bool) {
	c.state = s
	if !alreadyPausedLike {
		c.pauseState.Trigger(s == task.StateInterrupted)
	} else if s == task.StateInterrupted {
		c.pauseState.Trigger(true)
	}
}

// Resume moves a paused-like controller back to RUNNING, bumps its
// generation (invalidating stale heap entries), adjusts its wake time, and
// asks the scheduler to reinsert it. It returns the elapsed pause duration.
func (c *Controller) Resume() (time.Duration, bool) {
	c.mu.Lock()

	if !c.state.PausedLike() {
		c.mu.Unlock()
		return 0, false
	}

	wasInterrupted := c.state == task.StateInterrupted
	d, _ := c.pauseState.Clear()
	c.generation++
	c.state = task.StateRunning
	c.stateChangeByWorker = false

	if wasInterrupted {
		c.wakeTime = time.Now()
	} else {
		c.wakeTime = c.wakeTime.Add(d)
	}

	sched := c.scheduler
	c.mu.Unlock()

	if sched != nil {
		sched.MoveToActiveAndReschedule(c)
	}
	return d, true
}

// Stop moves the controller to STOPPED, injecting ErrAborted at the
// body's current suspension point if it is alive so that finally blocks
// run before the body is closed.
func (c *Controller) Stop() {
	c.stopAs(task.StateStopped)
}

func (c *Controller) stopAs(final task.State) {
	c.mu.Lock()
	if c.state.Dead() {
		c.mu.Unlock()
		return
	}
	if !c.started {
		c.closeDead(final)
		c.mu.Unlock()
		return
	}

	// Whether RUNNING, PAUSED, or INTERRUPTED, the body is always parked
	// on stepCh (blocked in Sleep/WaitForResume); inject abort and wait
	// for it to unwind through any finally/defer before closing.
	c.pendingAbort = true
	c.mu.Unlock()

	c.signalStep()
	c.awaitOutcome()

	c.mu.Lock()
	c.closeDead(final)
	c.mu.Unlock()
}

// closeDead must be called with mu held. It bumps generation so any stale
// heap entry referencing the closed body is discarded on pop.
func (c *Controller) closeDead(final task.State) {
	c.state = final
	c.pauseState.Clear()
	c.generation++
	c.started = false
	c.stepCh = make(chan struct{})
	c.resultCh = make(chan task.Step)
	c.doneCh = make(chan struct{})
}

// Restart atomically closes the current body (if any) and creates a fresh
// one at wakeAt (or now, if nil), bumping generation and asking the
// scheduler to reinsert it.
func (c *Controller) Restart(wakeAt *time.Time) {
	c.mu.Lock()
	if !c.state.Dead() {
		c.stopBodySync()
	}
	c.pendingAbort = false
	c.pendingInterrupt = false
	c.state = task.StateRunning
	c.generation++
	c.started = false
	c.stepCh = make(chan struct{})
	c.resultCh = make(chan task.Step)
	c.doneCh = make(chan struct{})
	if wakeAt != nil {
		c.wakeTime = *wakeAt
	} else {
		c.wakeTime = time.Now()
	}
	sched := c.scheduler
	c.mu.Unlock()

	if sched != nil {
		sched.MoveToActiveAndReschedule(c)
	}
}

// stopBodySync must be called with mu held; it injects abort and waits
// for the body to close without itself calling closeDead (the caller
// finishes the transition).
func (c *Controller) stopBodySync() {
	if !c.started {
		return
	}
	c.pendingAbort = true
	c.mu.Unlock()
	c.signalStep()
	c.awaitOutcome()
	c.mu.Lock()
}

// SetEnabled disables or enables the controller. Disabling forces STOPPED
// (as if user-stopped) and excludes it from the worker's reload set;
// re-enabling restarts it, and Restart asks the attached scheduler (if
// any) to reschedule it.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	wasEnabled := c.enabled
	c.enabled = enabled
	c.mu.Unlock()

	if !enabled && wasEnabled {
		c.Stop()
		return
	}
	if enabled && !wasEnabled {
		c.Restart(nil)
	}
}

// The methods below are worker-only: they interpret the Step a worker-only
// Next() call just returned and are never called by user/UI code directly.

// ScheduleAfter records that the body asked to sleep for d starting now.
// The controller stays RUNNING; the worker re-pushes it onto the heap at
// the new wake time with the same generation.
func (c *Controller) ScheduleAfter(d time.Duration) {
	c.mu.Lock()
	c.wakeTime = time.Now().Add(d)
	c.mu.Unlock()
}

// SelfPause handles a body that yielded WaitForResume outside of an
// interrupt rendezvous (i.e. the worker, not Pause, observed the step):
// the controller enters INTERRUPTED on its own initiative so state/pause
// coherence holds, and the worker moves it to the paused set.
func (c *Controller) SelfPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Dead() {
		return
	}
	c.enterPaused(task.StateInterrupted, c.state.PausedLike())
}

// Finish transitions RUNNING -> FINISHED after the worker observes a
// StepDone result and the controller is not configured to auto-loop (or
// the worker otherwise decides not to restart it).
func (c *Controller) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Dead() {
		return
	}
	c.closeDead(task.StateFinished)
}

// Crash transitions RUNNING (or any alive state) -> CRASHED after the
// worker observes a StepCrashed result from an ordinary dispatch (not an
// interrupt rendezvous, which handles its own crash transition).
func (c *Controller) Crash() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Dead() {
		return
	}
	c.closeDead(task.StateCrashed)
}
