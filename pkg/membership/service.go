// Package membership composes a settling group and a liveness tracker into
// the coordinator's heartbeat and leave operations.
package membership

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/internal/clock"
	"github.com/ryandielhenn/bloc/internal/telemetry"
	"github.com/ryandielhenn/bloc/pkg/api"
	"github.com/ryandielhenn/bloc/pkg/group"
	"github.com/ryandielhenn/bloc/pkg/liveness"
)

// ErrNoSession is returned when a heartbeat carries no session id.
var ErrNoSession = errors.New("missing session id")

type Config struct {
	// Timeout is how long a client may stay silent before it is evicted.
	Timeout time.Duration
	// Settle is how long membership must stay unchanged before indices are assigned.
	Settle time.Duration
	// Interval is the liveness sweep cadence.
	Interval time.Duration
}

// Service is the single authority for one group. Every mutation, including
// the settle timer and the liveness sweep, runs under mu.
type Service struct {
	mu      sync.Mutex
	group   *group.Group
	tracker *liveness.Tracker
	log     *zap.Logger
}

type Snapshot struct {
	Members []string
	Tracked int
	Settled bool
}

func New(cfg Config, c clock.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{log: log}
	sc := clock.Serialize(c, &s.mu)

	s.group = group.New(sc, cfg.Settle, log.Named("group"))
	s.group.OnSettle = func(int) {
		telemetry.Settlements.Inc()
		telemetry.Settled.Set(1)
	}
	s.tracker = liveness.New(sc, cfg.Timeout, cfg.Interval, s.evict, log.Named("liveness"))
	return s
}

// Heartbeat is both the join and the keep-alive. It reports the caller's
// settlement as seen after the heartbeat has been applied.
func (s *Service) Heartbeat(id string) (api.IndexResponse, error) {
	if id == "" {
		return api.IndexResponse{}, ErrNoSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracker.Contains(id) {
		s.tracker.Heartbeat(id)
	} else {
		s.group.Add(id)
		s.tracker.Heartbeat(id)
		s.log.Info("added client", zap.String("client", id))
		s.observe()
	}

	if !s.group.Settled() {
		return api.Settling(), nil
	}
	idx, err := s.group.IndexOf(id)
	if err != nil {
		s.log.Warn("settled group without index", zap.String("client", id), zap.Error(err))
		return api.Settling(), nil
	}
	return api.Settled(idx, s.group.Size()), nil
}

// Leave removes id from the group. Unknown or empty ids are ignored.
func (s *Service) Leave(id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tracker.Remove(id); err != nil {
		return
	}
	if err := s.group.Remove(id); err != nil {
		s.log.Warn("tracked client missing from group", zap.String("client", id), zap.Error(err))
	}
	telemetry.Leaves.Inc()
	s.log.Info("removed client", zap.String("client", id))
	s.observe()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Members: s.group.Members(),
		Tracked: s.tracker.Len(),
		Settled: s.group.Settled(),
	}
}

// Close stops the settle timer and the sweep loop.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Stop()
	s.group.Stop()
}

// evict runs from the sweep, with mu held.
func (s *Service) evict(id string) {
	if err := s.group.Remove(id); err != nil {
		s.log.Warn("evicted client missing from group", zap.String("client", id), zap.Error(err))
		return
	}
	telemetry.Evictions.Inc()
	s.observe()
}

func (s *Service) observe() {
	telemetry.Members.Set(float64(s.group.Size()))
	telemetry.Settled.Set(0)
}
