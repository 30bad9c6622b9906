package client

import (
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder() (*tracetest.SpanRecorder, Option) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, WithTracer(provider.Tracer("client-test"))
}

func TestHeartbeatSpans(t *testing.T) {
	recorder, opt := newRecorder()
	h := newHarness(t, opt)
	h.startSettled()

	h.tr.set(500, ``)
	h.clock.Advance(interval)
	h.next()

	h.tr.set(200, `{}`)
	h.client.Stop()

	var beats []sdktrace.ReadOnlySpan
	leaves := 0
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "bloc.heartbeat":
			beats = append(beats, s)
		case "bloc.leave":
			leaves++
		}
	}
	if len(beats) != 2 || leaves != 1 {
		t.Fatalf("heartbeat spans = %d, leave spans = %d", len(beats), leaves)
	}
	if v, ok := attr(beats[0].Attributes(), "bloc.index"); !ok || v.AsInt64() != 1 {
		t.Fatalf("settled span index = %v", v)
	}
	if v, _ := attr(beats[0].Attributes(), "bloc.session"); v.AsString() != "sid" {
		t.Fatalf("session attr = %v", v)
	}
	if beats[1].Status().Code != codes.Error {
		t.Fatalf("failed heartbeat span status = %v", beats[1].Status())
	}
}

func TestTimedOutHeartbeatSpanIsError(t *testing.T) {
	recorder, opt := newRecorder()
	h := newHarness(t, opt)
	h.tr.hang()
	h.client.Start()
	h.waitStarted("GET")
	h.clock.Advance(2 * time.Second)
	h.next()

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Status().Code != codes.Error {
		t.Fatalf("spans = %v", spans)
	}
}

func attr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}
