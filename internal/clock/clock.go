// Package clock abstracts time so the settle timer, the liveness sweep and the
// client heartbeat loop can share one logical clock and be driven
// deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by every timed component in bloc.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback created by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Real implements Clock using the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type serialized struct {
	Clock
	l sync.Locker
}

// Serialize returns a Clock whose AfterFunc callbacks run while holding l.
// Components that are mutated under l can then schedule their own timers
// without racing request-driven mutations.
func Serialize(c Clock, l sync.Locker) Clock {
	return serialized{Clock: c, l: l}
}

func (s serialized) AfterFunc(d time.Duration, f func()) Timer {
	return s.Clock.AfterFunc(d, func() {
		s.l.Lock()
		defer s.l.Unlock()
		f()
	})
}
