// Package clock provides an injectable time source so that election and
// catch-up retry backoff can be driven deterministically in tests, per the
// "global clock" design note: the implementation must expose a clock
// abstraction rather than calling system time directly.
package clock

import "time"

// Clock is the time source every actor uses instead of calling the time
// package directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock, backed by the standard library.
type Real struct{}

var _ Clock = Real{}

func (Real) Now() time.Time                  { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) Sleep(d time.Duration)            { time.Sleep(d) }
