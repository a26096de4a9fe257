// Package manager implements the supervisor that owns the worker's
// lifecycle and the controller registry: starting, stopping, pausing and
// resuming the scheduling loop, and a watchdog that detects a worker
// stuck mid-task and force-rebuilds it.
package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nrlund/macrocore/internal/controller"
	"github.com/nrlund/macrocore/internal/logger"
	"github.com/nrlund/macrocore/internal/task"
	"github.com/nrlund/macrocore/internal/worker"
)

// Default tuning values, named for the original's equivalents; overridden
// per-Manager by Config's matching fields when set.
const (
	defaultDeadlockGraceTimeout  = 200 * time.Millisecond
	defaultWatchdogTickRate      = 2 * time.Second
	defaultPulseDeadlockDuration = 5 * time.Second
)

// ErrNameTaken is returned by AddRunTask/AddThreadTask when a controller
// with the given name is already registered.
var ErrNameTaken = errors.New("manager: name already registered")

// ErrTaskNotFound is returned by the per-task control methods when name
// isn't registered.
var ErrTaskNotFound = errors.New("manager: task not found")

// TaskInfo is a read-only snapshot of one registered controller, for
// introspection by the admin API.
type TaskInfo struct {
	Name    string
	Cid     task.Cid
	State   task.State
	Enabled bool
}

// registration pairs a tracked controller with the metadata the registry
// needs to reconstruct a worker.Registration.
type registration struct {
	name    string
	handle  controller.Handle
	inner   *controller.Controller
	enabled bool
}

// DeadlockDecider is consulted when the worker fails to quiesce within the
// grace period; it returns true to force-terminate the stuck worker and
// rebuild a fresh one, false to let it keep running unsupervised. The
// default AutoTerminate always returns true, matching a headless engine
// with no operator to ask.
type DeadlockDecider func(ctx context.Context) bool

// AutoTerminate always force-terminates a deadlocked worker. It is the
// default used when no DeadlockDecider is configured, appropriate for a
// daemon with nobody watching a dialog.
func AutoTerminate(context.Context) bool { return true }

// Config groups a new Manager's dependencies.
type Config struct {
	LoopDelay time.Duration
	Metrics   worker.Metrics
	Sink      controller.Sink
	Vars      task.VarProvider
	Decider   DeadlockDecider
	// OnFinished is forwarded to every worker this manager builds.
	OnFinished func()

	// DeadlockGraceTimeout, WatchdogTickRate, and PulseDeadlockDuration
	// tune the watchdog; zero falls back to the package defaults.
	DeadlockGraceTimeout  time.Duration
	WatchdogTickRate      time.Duration
	PulseDeadlockDuration time.Duration
}

// Manager is TaskManager: it owns the live *worker.Worker, the name-keyed
// controller registry, and the start/stop/pause/resume/watchdog lifecycle
// described for the engine's worker supervisor.
type Manager struct {
	mu      sync.Mutex
	worker  *worker.Worker
	regs    map[string]*registration
	nextCid task.Cid

	loopDelay  time.Duration
	metrics    worker.Metrics
	sink       controller.Sink
	vars       task.VarProvider
	decider    DeadlockDecider
	onFinished func()

	deadlockGraceTimeout  time.Duration
	watchdogTickRate      time.Duration
	pulseDeadlockDuration time.Duration

	cancel       context.CancelFunc
	watchdogStop chan struct{}
}

// New creates a Manager with a freshly built, not-yet-started worker.
func New(cfg Config) *Manager {
	decider := cfg.Decider
	if decider == nil {
		decider = AutoTerminate
	}
	m := &Manager{
		regs:       make(map[string]*registration),
		loopDelay:  cfg.LoopDelay,
		metrics:    cfg.Metrics,
		sink:       cfg.Sink,
		vars:       cfg.Vars,
		decider:    decider,
		onFinished: cfg.OnFinished,

		deadlockGraceTimeout:  orDefault(cfg.DeadlockGraceTimeout, defaultDeadlockGraceTimeout),
		watchdogTickRate:      orDefault(cfg.WatchdogTickRate, defaultWatchdogTickRate),
		pulseDeadlockDuration: orDefault(cfg.PulseDeadlockDuration, defaultPulseDeadlockDuration),
	}
	m.worker = m.buildWorker()
	return m
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (m *Manager) buildWorker() *worker.Worker {
	return worker.New(worker.Config{
		LoopDelay:  m.loopDelay,
		Metrics:    m.metrics,
		OnFinished: m.onFinished,
	})
}

// Worker returns the manager's current worker, primarily so a threaded
// controller can be built against it as a GlobalPauseQuerier. Callers must
// not retain it across a forced rebuild; re-fetch after any Stop/pause
// operation that might have replaced it.
func (m *Manager) Worker() *worker.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.worker
}

// AddRunTask registers a cooperative task under name and returns its
// controller. The controller is bound to the manager's current worker as
// its scheduler, so a later forced worker rebuild can rebind it.
func (m *Manager) AddRunTask(name string, enabled, autoLoop bool, fn task.Func) (*controller.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.regs[name]; taken {
		return nil, ErrNameTaken
	}
	m.nextCid++
	cid := m.nextCid
	w := m.worker

	c := controller.New(controller.Config{
		Cid:       cid,
		Name:      name,
		Fn:        fn,
		AutoLoop:  autoLoop,
		Scheduler: w,
		Sink:      m.sink,
		Vars:      m.vars,
	})
	c.SetEnabled(enabled)

	m.regs[name] = &registration{name: name, handle: c, inner: c, enabled: enabled}
	return c, nil
}

// AddThreadTask registers a threaded task under name and returns its
// controller. Its bridge body consults the manager's worker for the
// global-pause state it needs in addition to its own.
func (m *Manager) AddThreadTask(name string, enabled, autoLoop bool, fn task.Func) (*controller.ThreadedController, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.regs[name]; taken {
		return nil, ErrNameTaken
	}
	m.nextCid++
	cid := m.nextCid
	w := m.worker

	tc := controller.NewThreaded(controller.ThreadedConfig{
		Cid:       cid,
		Name:      name,
		Fn:        fn,
		AutoLoop:  autoLoop,
		Scheduler: w,
		Sink:      m.sink,
		Vars:      m.vars,
		Global:    w,
	})
	tc.SetEnabled(enabled)

	m.regs[name] = &registration{name: name, handle: tc, inner: tc.Controller, enabled: enabled}
	return tc, nil
}

// RemoveTask stops and forgets the named controller, mirroring
// _onManualTaskRemoved. It is a no-op if the name is not registered.
func (m *Manager) RemoveTask(name string) {
	m.mu.Lock()
	r, ok := m.regs[name]
	if ok {
		delete(m.regs, name)
	}
	m.mu.Unlock()
	if ok {
		r.handle.Stop()
	}
}

// SetTaskEnabled flips the named controller's enabled flag, restarting or
// stopping it per Controller.SetEnabled.
func (m *Manager) SetTaskEnabled(name string, enabled bool) {
	m.mu.Lock()
	r, ok := m.regs[name]
	if ok {
		r.enabled = enabled
	}
	m.mu.Unlock()
	if ok {
		r.handle.SetEnabled(enabled)
	}
}

// ListTasks returns a snapshot of every registered controller, for the
// admin API's task listing endpoint.
func (m *Manager) ListTasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskInfo, 0, len(m.regs))
	for _, r := range m.regs {
		out = append(out, TaskInfo{
			Name:    r.name,
			Cid:     r.inner.Cid(),
			State:   r.handle.State(),
			Enabled: r.enabled,
		})
	}
	return out
}

// GetTask returns a snapshot of the named controller, or false if it
// isn't registered.
func (m *Manager) GetTask(name string) (TaskInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[name]
	if !ok {
		return TaskInfo{}, false
	}
	return TaskInfo{Name: r.name, Cid: r.inner.Cid(), State: r.handle.State(), Enabled: r.enabled}, true
}

func (m *Manager) lookup(name string) (*registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[name]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return r, nil
}

// PauseTask pauses the named controller (soft if interrupt is false, hard
// if true). It returns what the controller's Pause returns: whether the
// task is still alive after the call.
func (m *Manager) PauseTask(name string, interrupt bool) (bool, error) {
	r, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return r.handle.Pause(interrupt), nil
}

// ResumeTask resumes the named controller.
func (m *Manager) ResumeTask(name string) error {
	r, err := m.lookup(name)
	if err != nil {
		return err
	}
	_, _ = r.handle.Resume()
	return nil
}

// StopTask stops the named controller without removing its registration.
func (m *Manager) StopTask(name string) error {
	r, err := m.lookup(name)
	if err != nil {
		return err
	}
	r.handle.Stop()
	return nil
}

// RestartTask restarts the named controller from the beginning.
func (m *Manager) RestartTask(name string) error {
	r, err := m.lookup(name)
	if err != nil {
		return err
	}
	r.handle.Restart(nil)
	return nil
}

func (m *Manager) enabledRegistrations() []worker.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []worker.Registration
	for _, r := range m.regs {
		if r.enabled {
			out = append(out, worker.Registration{Handle: r.handle, Inner: r.inner})
		}
	}
	return out
}

// StartWorker clears any stale pause state, reloads every enabled
// controller onto the worker's heap, and launches the scheduling loop on a
// fresh goroutine plus its watchdog.
func (m *Manager) StartWorker() {
	m.mu.Lock()
	w := m.worker
	m.mu.Unlock()

	w.PauseState().Clear()
	w.ReloadControllers(m.enabledRegistrations())

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.watchdogStop = make(chan struct{})
	stop := m.watchdogStop
	m.mu.Unlock()

	logger.Info().Msg("starting worker")
	go w.Run(ctx)
	go m.watchdogLoop(stop)
}

// StopWorker shuts the worker down, waiting up to the deadlock grace
// period for it to quiesce naturally. If it does not, the configured
// DeadlockDecider is consulted: terminating tears the stuck worker down
// and rebinds every registered controller to a freshly built replacement,
// matching the "destructs the old worker and builds a fresh one" design.
func (m *Manager) StopWorker() bool {
	m.mu.Lock()
	w := m.worker
	if m.cancel != nil {
		m.cancel()
	}
	m.stopWatchdogLocked()
	m.mu.Unlock()

	w.Shutdown()
	return m.awaitQuiesceOrDecide(w, false)
}

// PauseWorker triggers a global pause (soft if interrupt is false, hard if
// true) and waits for the loop to quiesce, applying the same
// grace-period-then-decide protocol as StopWorker.
func (m *Manager) PauseWorker(interrupt bool) bool {
	m.mu.Lock()
	w := m.worker
	alreadyPaused := w.PauseState().Active()
	m.stopWatchdogLocked()
	m.mu.Unlock()

	if alreadyPaused {
		return true
	}
	w.PauseGlobal(interrupt)
	return m.awaitQuiesceOrDecide(w, true)
}

// ResumeWorker reverses a successful PauseWorker: it applies the global
// resume (shifting soft-paused wake times, waking hard-paused survivors)
// and restarts the loop and watchdog on fresh goroutines.
func (m *Manager) ResumeWorker() {
	m.mu.Lock()
	w := m.worker
	m.mu.Unlock()

	if w.IsAlive() || !w.PauseState().Active() {
		return
	}
	w.ApplyGlobalResume()

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.watchdogStop = make(chan struct{})
	stop := m.watchdogStop
	m.mu.Unlock()

	go w.Run(ctx)
	go m.watchdogLoop(stop)
}

// awaitQuiesceOrDecide waits for the worker to report itself no longer
// alive within the deadlock grace period. If it does, and this wasn't a
// pause, the controller registry is reloaded against the now-idle worker
// (mirroring "the worker shut down naturally, so reload"). If it times
// out, the decider is consulted: a true verdict tears the worker down and
// replaces it, rebinding every registered controller; a false verdict
// leaves the stuck worker running, unsupervised, and reports failure.
func (m *Manager) awaitQuiesceOrDecide(w *worker.Worker, isPause bool) bool {
	deadline := time.Now().Add(m.deadlockGraceTimeout)
	for time.Now().Before(deadline) {
		if !w.IsAlive() {
			if !isPause {
				w.ReloadControllers(nil)
			}
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}

	if !w.IsAlive() {
		return true
	}

	logger.Warn().Msg("worker did not yield within the deadlock grace period")
	if !m.decider(context.Background()) {
		logger.Warn().Msg("deadlocked worker left running; watchdog disabled for this worker's remaining lifetime")
		return false
	}

	logger.Error().Msg("force-terminating deadlocked worker")
	m.rebuildWorker()
	return true
}

// rebuildWorker replaces the manager's worker with a fresh one and rebinds
// every registered controller's scheduler to it. The stuck worker's
// goroutine, if it is truly wedged, is simply abandoned — Go has no
// analogue of the original's thread-kill, so containment here means never
// dispatching through it again, not reclaiming it.
func (m *Manager) rebuildWorker() {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := m.buildWorker()
	for _, r := range m.regs {
		r.inner.SetScheduler(fresh)
	}
	m.worker = fresh
}

func (m *Manager) stopWatchdogLocked() {
	if m.watchdogStop != nil {
		close(m.watchdogStop)
		m.watchdogStop = nil
	}
}

// watchdogLoop periodically checks the worker's heartbeat; a gap longer
// than pulseDeadlockDuration while the worker claims to be alive and
// unpaused means some task has held the loop without yielding, so the
// watchdog auto-triggers a soft pause to surface it rather than let the
// engine appear frozen.
func (m *Manager) watchdogLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.watchdogTickRate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			w := m.worker
			m.mu.Unlock()

			if !w.IsAlive() || w.PauseState().Active() {
				continue
			}
			since := time.Since(w.LastHeartbeat())
			if since <= m.pulseDeadlockDuration {
				continue
			}

			logger.Warn().
				Dur("since_last_pulse", since).
				Msg("engine auto-protect: a task has held the worker without yielding")

			if m.PauseWorker(false) {
				if w.IsAlive() {
					w.PauseState().Clear()
				}
			}
			return
		}
	}
}
