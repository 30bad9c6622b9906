package server

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/internal/telemetry"
	"github.com/ryandielhenn/bloc/pkg/membership"
)

// Server exposes a membership.Service over HTTP.
type Server struct {
	svc    *membership.Service
	log    *zap.Logger
	tracer trace.Tracer
	server *http.Server
}

type Option func(*Server)

// WithTracer replaces the global "bloc/server" tracer.
func WithTracer(t trace.Tracer) Option { return func(s *Server) { s.tracer = t } }

func New(addr string, svc *membership.Service, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, log: log, tracer: otel.Tracer("bloc/server")}
	for _, o := range opts {
		o(s)
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routes, each instrumented under its own op label.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/index", telemetry.Instrument("index", http.HandlerFunc(s.Index)))
	mux.Handle("/session", telemetry.Instrument("session", http.HandlerFunc(s.Session)))
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(s.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(s.Info)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}

func (s *Server) Addr() string { return s.server.Addr }

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
