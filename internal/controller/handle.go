package controller

import (
	"time"

	"github.com/nrlund/macrocore/internal/task"
)

// Handle is the surface the worker's scheduling loop needs from a
// controller, satisfied by both Controller and ThreadedController. The
// worker never distinguishes the two flavors beyond this interface.
type Handle interface {
	Cid() task.Cid
	Name() string
	State() task.State
	Generation() uint64
	WakeTime() time.Time
	SetWakeTime(time.Time)
	Enabled() bool
	AutoLoop() bool
	SetAutoLoop(bool)
	StateChangeByWorker() bool
	SetStateChangeByWorker(bool)
	Next() task.Step
	Pause(interrupt bool) bool
	Resume() (time.Duration, bool)
	Stop()
	Restart(wakeAt *time.Time)
	SetEnabled(bool)
	ScheduleAfter(time.Duration)
	SelfPause()
	Finish()
	Crash()
}

var (
	_ Handle = (*Controller)(nil)
	_ Handle = (*ThreadedController)(nil)
)
