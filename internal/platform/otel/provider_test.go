package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "canonsafe-test", SampleRatio: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), Config{
		ServiceName: "canonsafe-test",
		Endpoint:    "http://192.0.2.1:4318",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupRejectsSampleRatioOutOfRange(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5} {
		if _, err := Setup(context.Background(), Config{ServiceName: "canonsafe-test", Endpoint: "http://192.0.2.1:4318", SampleRatio: ratio}); err == nil {
			t.Errorf("ratio %v: expected error", ratio)
		}
	}
}

func TestResourceCarriesDeployment(t *testing.T) {
	res, err := newResource(context.Background(), Config{ServiceName: "canonsafe", ServiceVersion: "1.4.0", Environment: "staging"})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	tests := []struct {
		key  attribute.Key
		want string
	}{
		{key: semconv.ServiceNameKey, want: "canonsafe"},
		{key: semconv.ServiceVersionKey, want: "1.4.0"},
		{key: semconv.DeploymentEnvironmentKey, want: "staging"},
	}
	set := res.Set()
	for _, tt := range tests {
		got, ok := set.Value(tt.key)
		if !ok || got.AsString() != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got.AsString(), tt.want)
		}
	}
}

func TestSamplerHonoursRatio(t *testing.T) {
	low := trace.TraceID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	high := trace.TraceID{0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	sampledParent := trace.ContextWithRemoteSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    high,
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	tests := []struct {
		name  string
		ratio float64
		ctx   context.Context
		id    trace.TraceID
		want  sdktrace.SamplingDecision
	}{
		{name: "full ratio records everything", ratio: 1, ctx: context.Background(), id: high, want: sdktrace.RecordAndSample},
		{name: "zero ratio drops new traces", ratio: 0, ctx: context.Background(), id: low, want: sdktrace.Drop},
		{name: "partial ratio keeps low ids", ratio: 0.25, ctx: context.Background(), id: low, want: sdktrace.RecordAndSample},
		{name: "partial ratio drops high ids", ratio: 0.25, ctx: context.Background(), id: high, want: sdktrace.Drop},
		{name: "sampled parent wins", ratio: 0, ctx: sampledParent, id: high, want: sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		res := newSampler(tt.ratio).ShouldSample(sdktrace.SamplingParameters{ParentContext: tt.ctx, TraceID: tt.id, Name: "evaluate"})
		if res.Decision != tt.want {
			t.Errorf("%s: decision = %v, want %v", tt.name, res.Decision, tt.want)
		}
	}
}
