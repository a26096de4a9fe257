// Package action is the small library a task body calls into to hold keys
// and click the mouse, with release guaranteed on every exit path —
// normal return, a body error, or an interrupt surfaced through Sleeper.
package action

import "github.com/go-vgo/robotgo"

// Sleeper is the suspension primitive a scoped action yields through while
// it holds a resource. It is satisfied by task.Context.Sleep: action never
// imports package task, so task.Context can be implemented on top of
// action without a cycle.
type Sleeper interface {
	Sleep(seconds float64) error
}

// Injector is the OS input-injection surface HoldKey/MouseClick drive.
// It exists as a seam so tests can assert exact press/release counts
// without touching the real screen or keyboard; production code always
// goes through robotgoInjector.
type Injector interface {
	KeyDown(key string)
	KeyUp(key string)
	Move(x, y int)
	Toggle(button, direction string)
}

type robotgoInjector struct{}

func (robotgoInjector) KeyDown(key string)             { robotgo.KeyDown(key) }
func (robotgoInjector) KeyUp(key string)                { robotgo.KeyUp(key) }
func (robotgoInjector) Move(x, y int)                   { robotgo.Move(x, y) }
func (robotgoInjector) Toggle(button, direction string) { robotgo.Toggle(button, direction) }

// injector is package-level so tests can swap in a fake; production
// callers never need to touch it.
var injector Injector = robotgoInjector{}

// HoldKey presses name, sleeps for seconds via s, and releases name
// unconditionally — including when s.Sleep returns an interrupt or abort
// error. The error from s.Sleep propagates to the caller after release.
func HoldKey(s Sleeper, name string, seconds float64) error {
	injector.KeyDown(name)
	defer injector.KeyUp(name)
	return s.Sleep(seconds)
}

// clickDwell is the short hold between mouse-down and mouse-up a click
// performs, matching the original implementation's fixed dwell.
const clickDwell = 0.05

// MouseClick moves to (x, y) when both coordinates are non-negative,
// presses button, dwells briefly via s, and releases button unconditionally.
func MouseClick(s Sleeper, x, y int, button string) error {
	if x >= 0 && y >= 0 {
		injector.Move(x, y)
	}
	if button == "" {
		button = "left"
	}
	injector.Toggle(button, "down")
	defer injector.Toggle(button, "up")
	return s.Sleep(clickDwell)
}
