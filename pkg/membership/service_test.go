package membership

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/bloc/internal/clock"
	"github.com/ryandielhenn/bloc/internal/telemetry"
	"github.com/ryandielhenn/bloc/pkg/api"
)

func newService(t *testing.T, timeout, settle time.Duration) (*Service, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Unix(0, 0))
	s := New(Config{Timeout: timeout, Settle: settle, Interval: time.Second}, c, zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s, c
}

func heartbeat(t *testing.T, s *Service, id string) api.IndexResponse {
	t.Helper()
	resp, err := s.Heartbeat(id)
	if err != nil {
		t.Fatalf("Heartbeat(%q): %v", id, err)
	}
	return resp
}

func TestHeartbeatSettling(t *testing.T) {
	s, _ := newService(t, 30*time.Second, 10*time.Second)
	resp := heartbeat(t, s, "s")
	if resp.Status != api.StatusSettling || resp.Index != nil || resp.Total != nil {
		t.Fatalf("got %+v, want bare SETTLING", resp)
	}
}

func TestHeartbeatSettled(t *testing.T) {
	s, c := newService(t, 30*time.Second, 10*time.Second)
	heartbeat(t, s, "a")
	heartbeat(t, s, "b")
	c.Advance(10 * time.Second)

	seen := map[int]bool{}
	for _, id := range []string{"a", "b"} {
		resp := heartbeat(t, s, id)
		if resp.Status != api.StatusSettled {
			t.Fatalf("%s: status %s, want SETTLED", id, resp.Status)
		}
		if *resp.Total != 2 {
			t.Fatalf("%s: total %d, want 2", id, *resp.Total)
		}
		seen[*resp.Index] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("indices %v, want {1,2}", seen)
	}
}

func TestHeartbeatExistingDoesNotResettle(t *testing.T) {
	s, c := newService(t, 30*time.Second, 10*time.Second)
	heartbeat(t, s, "a")
	c.Advance(9 * time.Second)
	heartbeat(t, s, "a")
	c.Advance(time.Second)
	if resp := heartbeat(t, s, "a"); resp.Status != api.StatusSettled {
		t.Fatalf("status %s, want SETTLED", resp.Status)
	}
}

func TestHeartbeatWithoutSession(t *testing.T) {
	s, _ := newService(t, 30*time.Second, 10*time.Second)
	if _, err := s.Heartbeat(""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if snap := s.Snapshot(); len(snap.Members) != 0 {
		t.Fatalf("empty session admitted: %v", snap.Members)
	}
}

func TestTimeoutEvictsAndResettles(t *testing.T) {
	s, c := newService(t, 3*time.Second, 2*time.Second)
	ev0 := testutil.ToFloat64(telemetry.Evictions)

	heartbeat(t, s, "quiet")
	heartbeat(t, s, "busy")
	for i := 0; i < 4; i++ {
		c.Advance(time.Second)
		heartbeat(t, s, "busy")
	}

	snap := s.Snapshot()
	if len(snap.Members) != 1 || snap.Members[0] != "busy" || snap.Tracked != 1 {
		t.Fatalf("snapshot %+v, want only busy", snap)
	}
	if got := testutil.ToFloat64(telemetry.Evictions) - ev0; got != 1 {
		t.Fatalf("evictions delta = %v, want 1", got)
	}

	// Eviction at t=4 restarted the settle countdown.
	c.Advance(time.Second)
	if resp := heartbeat(t, s, "busy"); resp.Status != api.StatusSettling {
		t.Fatalf("settled 1s after eviction")
	}
	c.Advance(time.Second)
	resp := heartbeat(t, s, "busy")
	if resp.Status != api.StatusSettled || *resp.Index != 1 || *resp.Total != 1 {
		t.Fatalf("got %+v, want SETTLED 1/1", resp)
	}
}

func TestClientActiveWithinTimeout(t *testing.T) {
	s, c := newService(t, 3*time.Second, 10*time.Second)
	heartbeat(t, s, "new")
	c.Pump(time.Second, time.Second)
	heartbeat(t, s, "new")
	c.Pump(time.Second, time.Second)
	if snap := s.Snapshot(); len(snap.Members) != 1 {
		t.Fatalf("active client evicted")
	}
}

func TestLeave(t *testing.T) {
	s, c := newService(t, 30*time.Second, 10*time.Second)
	heartbeat(t, s, "a")
	heartbeat(t, s, "b")
	c.Advance(10 * time.Second)

	s.Leave("a")
	snap := s.Snapshot()
	if snap.Settled || len(snap.Members) != 1 || snap.Tracked != 1 {
		t.Fatalf("snapshot after leave %+v", snap)
	}
	c.Advance(10 * time.Second)
	if resp := heartbeat(t, s, "b"); *resp.Index != 1 || *resp.Total != 1 {
		t.Fatalf("survivor got %+v, want 1/1", resp)
	}
}

func TestLeaveUnknownIsNoop(t *testing.T) {
	s, c := newService(t, 30*time.Second, 10*time.Second)
	heartbeat(t, s, "a")
	c.Advance(10 * time.Second)

	s.Leave("unknown")
	s.Leave("")
	if snap := s.Snapshot(); !snap.Settled || len(snap.Members) != 1 {
		t.Fatalf("no-op leave changed state: %+v", snap)
	}
}

func TestConcurrentHeartbeats(t *testing.T) {
	s := New(Config{Timeout: time.Minute, Settle: 20 * time.Millisecond, Interval: 10 * time.Millisecond},
		clock.Real{}, zaptest.NewLogger(t))
	defer s.Close()

	const G = 16
	var wg sync.WaitGroup
	for g := 0; g < G; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := s.Heartbeat(fmt.Sprintf("c%d", g)); err != nil {
					t.Errorf("Heartbeat: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Snapshot().Settled {
		if time.Now().After(deadline) {
			t.Fatalf("group never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	seen := map[int]bool{}
	for g := 0; g < G; g++ {
		resp := heartbeat(t, s, fmt.Sprintf("c%d", g))
		if resp.Status != api.StatusSettled || *resp.Total != G {
			t.Fatalf("c%d got %+v", g, resp)
		}
		seen[*resp.Index] = true
	}
	for i := 1; i <= G; i++ {
		if !seen[i] {
			t.Fatalf("index %d not assigned", i)
		}
	}
}
