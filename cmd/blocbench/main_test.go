package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ryandielhenn/bloc/internal/clock"
	"github.com/ryandielhenn/bloc/pkg/membership"
	"github.com/ryandielhenn/bloc/pkg/server"
)

func TestRunSettlesAllClients(t *testing.T) {
	svc := membership.New(membership.Config{
		Timeout:  time.Minute,
		Settle:   50 * time.Millisecond,
		Interval: 20 * time.Millisecond,
	}, clock.Real{}, nil)
	defer svc.Close()
	srv := httptest.NewServer(server.New("", svc, nil).Handler())
	defer srv.Close()

	var buf bytes.Buffer
	err := run(context.Background(), &options{
		addr:     srv.URL,
		n:        8,
		interval: 20 * time.Millisecond,
		wait:     10 * time.Second,
	}, &buf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "8 clients settled in ") {
		t.Fatalf("output %q", buf.String())
	}
	if snap := svc.Snapshot(); len(snap.Members) != 0 {
		t.Fatalf("members left after bench: %v", snap.Members)
	}
}
