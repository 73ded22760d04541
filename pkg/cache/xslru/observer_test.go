package xslru

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omeyang/slrukit/pkg/observability/xmetrics"
)

type spanRecord struct {
	component, operation string
	err                  error
}

type recordingObserver struct {
	mu    sync.Mutex
	spans []spanRecord
}

func (o *recordingObserver) Start(ctx context.Context, opts xmetrics.SpanOptions) (context.Context, xmetrics.Span) {
	return ctx, &recordingSpan{o: o, component: opts.Component, operation: opts.Operation}
}

type recordingSpan struct {
	o                    *recordingObserver
	component, operation string
}

func (s *recordingSpan) End(r xmetrics.Result) {
	s.o.mu.Lock()
	defer s.o.mu.Unlock()
	s.o.spans = append(s.o.spans, spanRecord{s.component, s.operation, r.Err})
}

func TestObserver_ComputeAndDisposeSpans(t *testing.T) {
	obs := &recordingObserver{}
	c, rec := newTestCache(t, 1, WithObserver(obs), WithName("scanners"))
	rec.failDispose["a"] = true

	touch(t, c, "a", "b")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if assert.Len(t, obs.spans, 3) {
		assert.Equal(t, spanRecord{"scanners", opCompute, nil}, obs.spans[0])
		assert.Equal(t, spanRecord{"scanners", opCompute, nil}, obs.spans[1])
		assert.Equal(t, spanRecord{"scanners", opDispose, errBoom}, obs.spans[2])
	}
}
