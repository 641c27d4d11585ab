// Package tracing provides a lightweight span/correlation-id mechanism for
// threading bus-event-to-launch traces through context.Context without a hard
// dependency on an OTEL exporter pipeline. Adapted from the teacher's internal
// tracing helper; kept stdlib-only so it never blocks on exporter config.
package tracing

import (
	randcrypto "crypto/rand"
	"encoding/hex"
	"context"
	"sync"
	"time"
)

// Span represents an in-flight unit of traced work.
type Span interface {
	End()
	SetAttribute(key string, value any)
	Context() SpanContext
	IsEnded() bool
}

// SpanContext carries correlation identifiers across goroutines via context.Context.
type SpanContext struct {
	TraceID, SpanID, ParentSpanID string
	Start, End                   time.Time
}

// Tracer starts spans, optionally sampling.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	Noop() bool
}

type noopTracer struct{}
type noopSpan struct{}

func (noopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopTracer) Noop() bool                      { return true }
func (noopSpan) End()                              {}
func (noopSpan) SetAttribute(key string, value any) {}
func (noopSpan) Context() SpanContext              { return SpanContext{} }
func (noopSpan) IsEnded() bool                     { return true }

type simpleTracer struct{}

type simpleSpan struct {
	ctx   SpanContext
	mu    sync.Mutex
	ended bool
	attrs map[string]any
}

// NewTracer returns a Tracer; disabled returns a no-op implementation.
func NewTracer(enabled bool) Tracer {
	if !enabled {
		return noopTracer{}
	}
	return simpleTracer{}
}

func (simpleTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	parent := SpanFromContext(ctx)
	traceID := parent.ctx.TraceID
	if traceID == "" {
		traceID = newID(16)
	}
	sp := &simpleSpan{ctx: SpanContext{
		TraceID:        traceID,
		SpanID:         newID(8),
		ParentSpanID:   parent.ctx.SpanID,
		Start:          time.Now(),
	}, attrs: make(map[string]any)}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	return ctx, sp
}
func (simpleTracer) Noop() bool { return false }

func (s *simpleSpan) End() {
	s.mu.Lock()
	if !s.ended {
		s.ctx.End = time.Now()
		s.ended = true
	}
	s.mu.Unlock()
}

func (s *simpleSpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	if s.attrs != nil {
		s.attrs[key] = value
	}
	s.mu.Unlock()
}

func (s *simpleSpan) Context() SpanContext { return s.ctx }

func (s *simpleSpan) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

type spanKey struct{}

// SpanFromContext extracts the active span, or a zero-value span if none is set.
func SpanFromContext(ctx context.Context) *simpleSpan {
	if ctx == nil {
		return &simpleSpan{}
	}
	if sp, ok := ctx.Value(spanKey{}).(*simpleSpan); ok {
		return sp
	}
	return &simpleSpan{}
}

// ExtractIDs pulls trace/span IDs out of ctx for log correlation.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sp := SpanFromContext(ctx)
	return sp.ctx.TraceID, sp.ctx.SpanID
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = randcrypto.Read(b)
	return hex.EncodeToString(b)
}
