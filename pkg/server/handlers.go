package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/pkg/api"
	"github.com/ryandielhenn/bloc/pkg/membership"
)

// Healthz returns 200 OK to indicate the coordinator is alive.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the process ID, current time and the group as seen right now.
func (s *Server) Info(w http.ResponseWriter, _ *http.Request) {
	snap := s.svc.Snapshot()
	members := snap.Members
	if members == nil {
		members = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.InfoResponse{
		PID:     os.Getpid(),
		Now:     time.Now().UTC().Format(time.RFC3339Nano),
		Members: members,
		Tracked: snap.Tracked,
		Settled: snap.Settled,
	})
}

// Index heartbeats the caller's session and returns its settlement.
func (s *Server) Index(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: "+req.Method)
		return
	}
	id := req.Header.Get(api.SessionHeader)
	_, span := s.tracer.Start(req.Context(), "bloc.index")
	defer span.End()
	span.SetAttributes(attribute.String("bloc.session", id))

	resp, err := s.svc.Heartbeat(id)
	if errors.Is(err, membership.ErrNoSession) {
		span.SetStatus(codes.Error, "missing session")
		s.writeError(w, http.StatusBadRequest, "missing "+api.SessionHeader+" header")
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	span.SetAttributes(attribute.String("bloc.status", string(resp.Status)))
	if resp.Index != nil && resp.Total != nil {
		span.SetAttributes(attribute.Int("bloc.index", *resp.Index), attribute.Int("bloc.total", *resp.Total))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// Session handles DELETE /session. Unknown or missing sessions are not an error.
func (s *Server) Session(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: "+req.Method)
		return
	}
	id := req.Header.Get(api.SessionHeader)
	_, span := s.tracer.Start(req.Context(), "bloc.leave")
	span.SetAttributes(attribute.String("bloc.session", id))
	s.svc.Leave(id)
	span.End()
	s.writeJSON(w, http.StatusOK, api.SessionResponse{})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, api.ErrorResponse{Error: msg})
}
