package otel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pithecene-io/ringscan/internal/testutil"
	"github.com/pithecene-io/ringscan/ringscan"
)

// -----------------------------------------------------------------------------
// Recording tracer
// -----------------------------------------------------------------------------

type recordedSpan struct {
	noop.Span

	name   string
	attrs  map[attribute.Key]attribute.Value
	status codes.Code
	errs   []error
	ended  int
}

func (s *recordedSpan) SetAttributes(kv ...attribute.KeyValue) {
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordedSpan) SetStatus(c codes.Code, _ string) { s.status = c }

func (s *recordedSpan) RecordError(err error, _ ...trace.EventOption) { s.errs = append(s.errs, err) }

func (s *recordedSpan) End(...trace.SpanEndOption) { s.ended++ }

type recorder struct {
	noop.TracerProvider

	mu    sync.Mutex
	spans []*recordedSpan
}

func (r *recorder) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return &recordingTracer{r: r}
}

func (r *recorder) named(name string) []*recordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*recordedSpan
	for _, s := range r.spans {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}

type recordingTracer struct {
	noop.Tracer
	r *recorder
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordedSpan{name: name, attrs: map[attribute.Key]attribute.Value{}}
	s.SetAttributes(cfg.Attributes()...)

	t.r.mu.Lock()
	t.r.spans = append(t.r.spans, s)
	t.r.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestProvider_TracesEveryQuery(t *testing.T) {
	rec := &recorder{}
	table := testutil.NewTable([]string{"id"}, -100, -5, 0, 5, 90, 95)
	traced := NewProvider(table.Provider(), WithTracerProvider(rec), WithAttributes(attribute.String("env", "test")))

	reader, err := ringscan.NewReader(traced, testutil.TokenMapper())
	if err != nil {
		t.Fatal(err)
	}
	spec := ringscan.ReadSpec{
		Keyspace:   "ks",
		Table:      "t",
		RingRanges: []ringscan.RingRange{ringscan.NewRingRange(-10, 1), ringscan.NewRingRange(90, -50)},
	}
	var got []int64
	sink := ringscan.SinkFunc[int64](func(_ context.Context, v int64) error {
		got = append(got, v)
		return nil
	})
	if err := reader.Process(t.Context(), spec, sink); err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("emitted %v", got)
	}

	if n := len(rec.named("ringscan.Session")); n != 1 {
		t.Errorf("session spans = %d", n)
	}
	if n := len(rec.named("ringscan.PartitionKey")); n != 1 {
		t.Errorf("partition key spans = %d", n)
	}
	prep := rec.named("ringscan.Prepare")
	if len(prep) != 1 || prep[0].attrs[AttrStatement].AsString() != "SELECT * FROM ks.t WHERE (token(id) >= ?) AND (token(id) < ?)" {
		t.Errorf("prepare spans = %+v", prep)
	}

	queries := rec.named("ringscan.Query")
	if len(queries) != 3 {
		t.Fatalf("query spans = %d, want range + two splits", len(queries))
	}
	wantRows := []int64{2, 1, 2}
	for i, q := range queries {
		if q.ended != 1 {
			t.Errorf("query span %d ended %d times", i, q.ended)
		}
		if q.status != codes.Ok {
			t.Errorf("query span %d status = %v", i, q.status)
		}
		if q.attrs[AttrRows].AsInt64() != wantRows[i] {
			t.Errorf("query span %d rows = %d, want %d", i, q.attrs[AttrRows].AsInt64(), wantRows[i])
		}
		if q.attrs[AttrDBSystem].AsString() != "cassandra" || q.attrs["env"].AsString() != "test" {
			t.Errorf("query span %d attrs = %v", i, q.attrs)
		}
	}
	if queries[0].attrs[AttrBounds].AsString() != "-10,1" {
		t.Errorf("bounds = %q", queries[0].attrs[AttrBounds].AsString())
	}
}

func TestProvider_MarksSkippedQueries(t *testing.T) {
	rec := &recorder{}
	table := testutil.NewTable([]string{"id"}, 0, 95)
	syntax := errors.Join(ringscan.ErrBoundarySyntax, errors.New("line 1:40 no viable alternative"))
	table.FailOn("< -50)", syntax)

	reader, _ := ringscan.NewReader(NewProvider(table.Provider(), WithTracerProvider(rec)), testutil.TokenMapper())
	spec := ringscan.ReadSpec{Keyspace: "ks", Table: "t", RingRanges: []ringscan.RingRange{ringscan.NewRingRange(90, -50)}}
	var got []int64
	if err := reader.Process(t.Context(), spec, ringscan.SinkFunc[int64](func(_ context.Context, v int64) error {
		got = append(got, v)
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 95 {
		t.Errorf("emitted %v", got)
	}

	queries := rec.named("ringscan.Query")
	if len(queries) != 2 {
		t.Fatalf("query spans = %d", len(queries))
	}
	low := queries[0]
	if low.status != codes.Error || !low.attrs[AttrSkipped].AsBool() || len(low.errs) != 1 {
		t.Errorf("low split span = %+v", low)
	}
	if queries[1].status != codes.Ok {
		t.Errorf("high split status = %v", queries[1].status)
	}
}

func TestProvider_SessionError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("no hosts available")
	failing := ringscan.SessionProviderFunc(func(context.Context, ringscan.ReadSpec) (ringscan.Session, error) {
		return nil, boom
	})
	_, err := NewProvider(failing, WithTracerProvider(rec)).Session(t.Context(), ringscan.ReadSpec{Keyspace: "ks", Table: "t"})
	if !errors.Is(err, boom) {
		t.Fatalf("Session error = %v", err)
	}
	spans := rec.named("ringscan.Session")
	if len(spans) != 1 {
		t.Fatalf("session spans = %d", len(spans))
	}
	if spans[0].status != codes.Error || spans[0].ended != 1 {
		t.Errorf("session span = %+v", spans[0])
	}
	if spans[0].attrs[AttrTable].AsString() != "t" {
		t.Errorf("table attr = %v", spans[0].attrs[AttrTable])
	}
}

func TestSession_PrepareKeepsSharedAttributes(t *testing.T) {
	rec := &recorder{}
	table := testutil.NewTable([]string{"id"})
	p := NewProvider(table.Provider(), WithTracerProvider(rec))

	shared := make([]attribute.KeyValue, 1, 4)
	shared[0] = AttrTable.String("t")
	s := &session{next: table, p: p, attrs: shared}

	if _, err := s.Prepare(t.Context(), "SELECT * FROM ks.t WHERE (token(id) >= ?) AND (token(id) < ?)"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Prepare(t.Context(), "SELECT name FROM ks.t"); err != nil {
		t.Fatal(err)
	}
	if spare := shared[:2][1]; spare.Valid() {
		t.Errorf("Prepare wrote %v into the session's attribute slice", spare)
	}

	prep := rec.named("ringscan.Prepare")
	if len(prep) != 2 || prep[0].attrs[AttrStatement].AsString() == prep[1].attrs[AttrStatement].AsString() {
		t.Errorf("prepare spans = %+v", prep)
	}
}
