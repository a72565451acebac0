package cycle

import (
	"context"
	"time"
)

// Clock is the time source of the cycle.  All stage budgets and schedule
// gates are measured with Now, and every wait is a receive on After.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock
var RealClock Clock = realClock{}

// Wait sleeps for d on clk and returns true if ctx was cancelled before or
// during the sleep, in which case it returns as soon as cancellation is seen.
// A nil ctx sleeps unconditionally and a nil clk is RealClock.
func Wait(ctx context.Context, clk Clock, d time.Duration) bool {
	if clk == nil {
		clk = RealClock
	}
	if ctx == nil {
		<-clk.After(d)
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	case <-clk.After(d):
		return ctx.Err() != nil
	}
}
