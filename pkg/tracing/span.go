// Package tracing records lightweight span trees for the request path and
// logs sampled trees through slog when the root span ends.
package tracing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

type ctxKey struct{}

type settings struct {
	enabled    bool
	sampleRate float64
}

var current atomic.Pointer[settings]

func init() {
	current.Store(&settings{})
}

// Configure sets whether root spans are sampled and logged.
func Configure(cfg config.TracingConfig) {
	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	current.Store(&settings{enabled: cfg.Enabled, sampleRate: rate})
}

// Span is one timed stage. Children are appended concurrently by stages
// that fan out.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration

	sampled  bool
	root     bool
	mu       sync.Mutex
	attrs    []slog.Attr
	children []*Span
}

// Start opens a span under the one in ctx, or a new root span whose trace
// id is the request id when there is one.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		s.sampled = parent.sampled
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else {
		cfg := current.Load()
		s.root = true
		s.sampled = cfg.enabled && rand.Float64() < cfg.sampleRate
		s.TraceID = logger.RequestID(ctx)
		if s.TraceID == "" {
			s.TraceID = uuid.NewString()
		}
	}
	return context.WithValue(ctx, ctxKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(ctxKey{}).(*Span)
	return s
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// End stops the clock. Ending a sampled root span logs the whole tree.
func (s *Span) End() {
	s.Duration = time.Since(s.Start)
	if s.root && s.sampled {
		s.log(slog.Default(), 0)
	}
}

// Children returns a copy of the child spans.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) log(l *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := append([]slog.Attr{
		slog.String("trace_id", s.TraceID),
		slog.String("span", s.Name),
		slog.Float64("duration_ms", float64(s.Duration.Microseconds())/1000),
		slog.Int("depth", depth),
	}, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	l.LogAttrs(context.Background(), slog.LevelDebug, "span", attrs...)
	for _, c := range children {
		c.log(l, depth+1)
	}
}
