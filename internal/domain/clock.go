package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze "today" via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for lagged default dates. Pass nil to
// reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Today returns the current UTC calendar date.
func Today() time.Time {
	return Day(clock.Now())
}

// DaysAgo returns the UTC calendar date n days before today.
func DaysAgo(n int) time.Time {
	return Today().AddDate(0, 0, -n)
}

// Now returns the current instant in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
