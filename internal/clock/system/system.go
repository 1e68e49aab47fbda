// Package system provides the wall clock used by the scheduler and notifier.
package system

import (
	"time"

	"github.com/doggo-watch/doggo/internal/watchdog"
)

var (
	_ watchdog.Clock = Clock{}
	_ watchdog.Clock = Frozen{}
)

// Clock implements watchdog.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC, without the monotonic reading so that
// persisted and compared values agree.
func (Clock) Now() time.Time {
	return time.Now().UTC().Round(0)
}

// Frozen always reports the same instant.
type Frozen struct {
	At time.Time
}

// Now returns the frozen instant.
func (f Frozen) Now() time.Time {
	return f.At
}
