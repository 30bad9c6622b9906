// Package client heartbeats a bloc coordinator and caches the index it hands
// out, so callers can partition work by (index, total) without touching the
// network.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/internal/clock"
	"github.com/ryandielhenn/bloc/internal/transport"
	"github.com/ryandielhenn/bloc/pkg/api"
	"github.com/ryandielhenn/bloc/pkg/shard"
)

// DefaultLeaveTimeout bounds the session delete sent by Stop.
const DefaultLeaveTimeout = time.Second

// Transport issues a single HTTP request. *transport.HTTP implements it.
type Transport interface {
	Do(ctx context.Context, method, url string, header http.Header) (transport.Response, error)
}

type Config struct {
	// URL of the coordinator, e.g. http://bloc:8989.
	URL string
	// Interval between heartbeats.
	Interval time.Duration
	// Timeout for one heartbeat request. Defaults to Interval.
	Timeout time.Duration
	// LeaveTimeout bounds the session delete on Stop.
	LeaveTimeout time.Duration
	// SessionID identifies this client. Generated when empty.
	SessionID string
}

// Status is the last settlement the client heard about.
type Status struct {
	Settled bool
	Index   int
	Total   int
}

type Option func(*Client)

func WithTransport(t Transport) Option { return func(c *Client) { c.transport = t } }

func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithTracer replaces the global "bloc/client" tracer.
func WithTracer(t trace.Tracer) Option { return func(c *Client) { c.tracer = t } }

// WithOnStatus registers fn to be called after every heartbeat cycle with
// the resulting status. fn runs on the heartbeat goroutine and must not block.
func WithOnStatus(fn func(Status)) Option { return func(c *Client) { c.onStatus = fn } }

type Client struct {
	cfg       Config
	base      string
	transport Transport
	clock     clock.Clock
	log       *zap.Logger
	tracer    trace.Tracer
	onStatus  func(Status)

	mu      sync.Mutex
	status  Status
	ring    *shard.Ring
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	timer   clock.Timer
	wg      sync.WaitGroup
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("client: URL must be set")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("client: interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.LeaveTimeout <= 0 {
		cfg.LeaveTimeout = DefaultLeaveTimeout
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	c := &Client{cfg: cfg, base: NormalizeURL(cfg.URL)}
	for _, o := range opts {
		o(c)
	}
	if c.transport == nil {
		c.transport = transport.NewHTTP(nil)
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("bloc/client")
	}
	c.log = c.log.With(zap.String("session", cfg.SessionID))
	return c, nil
}

func (c *Client) SessionID() string { return c.cfg.SessionID }

// Start sends the first heartbeat immediately and then one every interval.
// Calling Start on a running client does nothing.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.cycle()
}

// Stop ends the heartbeat loop and tells the coordinator this session is
// gone. The delete is best effort and bounded by LeaveTimeout. Stop returns
// once no heartbeat is running.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel()
	c.mu.Unlock()

	c.leave()
	c.wg.Wait()

	c.mu.Lock()
	c.status = Status{}
	c.ring = nil
	c.mu.Unlock()
}

// Status returns the cached settlement. It never blocks on the network.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IndexTotal returns the cached index and group size, ok is false while
// unsettled.
func (c *Client) IndexTotal() (index, total int, ok bool) {
	s := c.Status()
	return s.Index, s.Total, s.Settled
}

// Owns reports whether key belongs to this client in the cached settlement.
// Nothing is owned while unsettled.
func (c *Client) Owns(key []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Settled || c.ring == nil {
		return false
	}
	return c.ring.Owner(key) == c.status.Index
}

func (c *Client) cycle() {
	defer c.wg.Done()

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	started := c.clock.Now()
	st := c.heartbeat(ctx)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.setLocked(st)
	delay := c.cfg.Interval - c.clock.Now().Sub(started)
	if delay < 0 {
		delay = 0
	}
	c.timer = c.clock.AfterFunc(delay, c.tick)
	c.mu.Unlock()

	if c.onStatus != nil {
		c.onStatus(st)
	}
}

func (c *Client) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.timer = nil
	c.wg.Add(1)
	go c.cycle()
}

func (c *Client) setLocked(st Status) {
	if st.Settled && (c.ring == nil || c.ring.Total() != st.Total) {
		c.ring = shard.New(st.Total, 0, nil)
	}
	c.status = st
}

// heartbeat runs one request. Every failure collapses into an unsettled status.
func (c *Client) heartbeat(parent context.Context) Status {
	spanCtx, span := c.tracer.Start(parent, "bloc.heartbeat",
		trace.WithAttributes(attribute.String("bloc.session", c.cfg.SessionID)))
	defer span.End()

	ctx, cancel := context.WithCancel(spanCtx)
	defer cancel()
	t := c.clock.AfterFunc(c.cfg.Timeout, cancel)
	defer t.Stop()

	resp, err := c.transport.Do(ctx, http.MethodGet, c.base+api.IndexPath, c.header())
	if err == nil {
		var st Status
		st, err = decode(resp)
		if err == nil {
			span.SetAttributes(attribute.Bool("bloc.settled", st.Settled))
			if st.Settled {
				span.SetAttributes(attribute.Int("bloc.index", st.Index), attribute.Int("bloc.total", st.Total))
			}
			return st
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	switch {
	case parent.Err() != nil:
		c.log.Debug("heartbeat cancelled", zap.Error(err))
	case ctx.Err() != nil:
		c.log.Warn("heartbeat timed out", zap.Duration("timeout", c.cfg.Timeout))
	default:
		c.log.Warn("heartbeat failed", zap.Error(err))
	}
	return Status{}
}

func (c *Client) leave() {
	spanCtx, span := c.tracer.Start(context.Background(), "bloc.leave",
		trace.WithAttributes(attribute.String("bloc.session", c.cfg.SessionID)))
	defer span.End()

	ctx, cancel := context.WithCancel(spanCtx)
	defer cancel()
	t := c.clock.AfterFunc(c.cfg.LeaveTimeout, cancel)
	defer t.Stop()

	resp, err := c.transport.Do(ctx, http.MethodDelete, c.base+api.SessionPath, c.header())
	switch {
	case err != nil:
		c.log.Info("session delete abandoned", zap.Error(err))
	case resp.StatusCode != http.StatusOK:
		c.log.Info("session delete rejected", zap.Int("status", resp.StatusCode))
	default:
		c.log.Debug("session deleted")
	}
}

func (c *Client) header() http.Header {
	h := make(http.Header)
	h.Set(api.SessionHeader, c.cfg.SessionID)
	return h
}

func decode(resp transport.Response) (Status, error) {
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body api.IndexResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Status{}, fmt.Errorf("decode index response: %w", err)
	}
	switch body.Status {
	case api.StatusSettling:
		return Status{}, nil
	case api.StatusSettled:
		if body.Index == nil || body.Total == nil {
			return Status{}, errors.New("settled response without index or total")
		}
		return Status{Settled: true, Index: *body.Index, Total: *body.Total}, nil
	default:
		return Status{}, fmt.Errorf("unknown status %q", body.Status)
	}
}

// NormalizeURL adds an http:// scheme when missing and drops trailing slashes.
func NormalizeURL(raw string) string {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return strings.TrimRight(raw, "/")
}
