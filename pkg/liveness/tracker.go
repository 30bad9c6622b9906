// Package liveness tracks client heartbeats and evicts clients that go quiet.
package liveness

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/internal/clock"
)

// ErrNotFound is returned when removing a client that is not tracked.
var ErrNotFound = errors.New("client not tracked")

// Tracker records the last heartbeat of every client and sweeps every
// interval, evicting clients silent for longer than the timeout.
//
// Like group.Group, Tracker does no locking of its own.
type Tracker struct {
	clock    clock.Clock
	timeout  time.Duration
	interval time.Duration
	onEvict  func(id string)
	log      *zap.Logger

	lastSeen map[string]time.Time
	timer    clock.Timer
	stopped  bool
}

// New creates a Tracker and starts its sweep loop. onEvict is called once for
// every evicted client, after it has been removed from tracking.
func New(c clock.Clock, timeout, interval time.Duration, onEvict func(id string), log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		clock:    c,
		timeout:  timeout,
		interval: interval,
		onEvict:  onEvict,
		log:      log,
		lastSeen: make(map[string]time.Time),
	}
	t.timer = c.AfterFunc(interval, t.sweep)
	return t
}

// Heartbeat marks id as seen now.
func (t *Tracker) Heartbeat(id string) {
	t.lastSeen[id] = t.clock.Now()
}

// Remove stops tracking id without reporting an eviction.
func (t *Tracker) Remove(id string) error {
	if _, ok := t.lastSeen[id]; !ok {
		return fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	delete(t.lastSeen, id)
	return nil
}

func (t *Tracker) Contains(id string) bool {
	_, ok := t.lastSeen[id]
	return ok
}

func (t *Tracker) Len() int { return len(t.lastSeen) }

// Stop ends the sweep loop.
func (t *Tracker) Stop() {
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *Tracker) sweep() {
	if t.stopped {
		return
	}
	t.timer = t.clock.AfterFunc(t.interval, t.sweep)

	now := t.clock.Now()
	var expired []string
	for id, seen := range t.lastSeen {
		if now.Sub(seen) > t.timeout {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		t.log.Info("client timed out",
			zap.String("client", id),
			zap.Duration("inactive", now.Sub(t.lastSeen[id])))
		delete(t.lastSeen, id)
		if t.onEvict != nil {
			t.onEvict(id)
		}
	}
}
