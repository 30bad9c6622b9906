// Package group implements a settling group: a membership set that hands out
// dense indices once it has stopped changing for a configured settle period.
package group

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/internal/clock"
)

var (
	// ErrNotSettled is returned by IndexOf while the group is settling.
	ErrNotSettled = errors.New("group not settled")
	// ErrNotFound is returned for members that do not belong to the group.
	ErrNotFound = errors.New("member not found")
)

// Group tracks members and assigns each one an index in 1..N once no member
// has been added or removed for the settle duration.
//
// Group is not safe for concurrent use. Callers that share it between
// goroutines must serialize access and schedule its clock with
// clock.Serialize on the same lock.
type Group struct {
	clock  clock.Clock
	settle time.Duration
	log    *zap.Logger

	members []string       // insertion order
	index   map[string]int // member -> index, 0 while settling
	settled bool

	timer clock.Timer
	gen   uint64

	// OnSettle, if set, is called with the group size after every settlement.
	OnSettle func(total int)
}

// New creates an empty, unsettled group.
func New(c clock.Clock, settle time.Duration, log *zap.Logger) *Group {
	if log == nil {
		log = zap.NewNop()
	}
	return &Group{
		clock:  c,
		settle: settle,
		log:    log,
		index:  make(map[string]int),
	}
}

// Add inserts m. Adding a member that is already present does nothing and
// leaves the pending timer alone.
func (g *Group) Add(m string) {
	if _, ok := g.index[m]; ok {
		return
	}
	g.members = append(g.members, m)
	g.index[m] = 0
	g.reset()
}

// Remove deletes m and restarts the settle countdown.
func (g *Group) Remove(m string) error {
	if _, ok := g.index[m]; !ok {
		return fmt.Errorf("remove %q: %w", m, ErrNotFound)
	}
	delete(g.index, m)
	for i, p := range g.members {
		if p == m {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	g.reset()
	return nil
}

// IndexOf returns the index assigned to m in the current generation.
func (g *Group) IndexOf(m string) (int, error) {
	if !g.settled {
		return 0, ErrNotSettled
	}
	i, ok := g.index[m]
	if !ok {
		return 0, fmt.Errorf("index of %q: %w", m, ErrNotFound)
	}
	return i, nil
}

// Size returns the number of members regardless of settlement.
func (g *Group) Size() int { return len(g.members) }

// Settled reports whether every member currently holds an index.
func (g *Group) Settled() bool { return g.settled }

// Members returns the members in insertion order.
func (g *Group) Members() []string {
	return append([]string(nil), g.members...)
}

// Stop cancels the pending settle timer, if any.
func (g *Group) Stop() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.gen++
}

func (g *Group) reset() {
	if g.settled {
		for m := range g.index {
			g.index[m] = 0
		}
	}
	g.settled = false
	if g.timer != nil {
		g.timer.Stop()
	}
	g.gen++
	gen := g.gen
	g.timer = g.clock.AfterFunc(g.settle, func() { g.fire(gen) })
	g.log.Debug("settle timer reset", zap.Int("members", len(g.members)), zap.Duration("settle", g.settle))
}

func (g *Group) fire(gen uint64) {
	// A reset that raced with this callback has already scheduled a newer one.
	if gen != g.gen {
		return
	}
	g.timer = nil
	for i, m := range g.members {
		g.index[m] = i + 1
	}
	g.settled = true
	g.log.Info("group settled", zap.Int("total", len(g.members)))
	if g.OnSettle != nil {
		g.OnSettle(len(g.members))
	}
}
