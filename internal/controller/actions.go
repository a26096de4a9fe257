package controller

import "github.com/nrlund/macrocore/internal/action"

// holdKey and mouseClick adapt the package-local Sleep implementations
// (cooperative rendezvous or threaded chunked-sleep) to action.Sleeper so
// both controller flavors share one scoped-acquisition implementation.

func holdKey(s action.Sleeper, name string, seconds float64) error {
	return action.HoldKey(s, name, seconds)
}

func mouseClick(s action.Sleeper, x, y int, button string) error {
	return action.MouseClick(s, x, y, button)
}
