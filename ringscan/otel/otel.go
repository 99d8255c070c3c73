// Package otel decorates a ringscan.SessionProvider with OpenTelemetry spans.
//
// Every statement execution gets a client span that stays open until its
// Rows are closed, so the span covers paging and reports the row count.
package otel

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pithecene-io/ringscan/ringscan"
)

const instrumentationName = "github.com/pithecene-io/ringscan/ringscan"

// Span attribute keys.
const (
	AttrDBSystem  = attribute.Key("db.system")
	AttrStatement = attribute.Key("db.statement")
	AttrKeyspace  = attribute.Key("db.cassandra.keyspace")
	AttrTable     = attribute.Key("db.cassandra.table")
	AttrBounds    = attribute.Key("ringscan.bounds")
	AttrRows      = attribute.Key("ringscan.rows")
	AttrSkipped   = attribute.Key("ringscan.skipped")
)

type config struct {
	provider trace.TracerProvider
	attrs    []attribute.KeyValue
}

// Option configures the tracing decorator.
type Option func(*config)

// WithTracerProvider sets the provider. Default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.provider = tp }
}

// WithAttributes adds attributes to every span.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(c *config) { c.attrs = append(c.attrs, attrs...) }
}

// Provider wraps a SessionProvider so that every session it returns is traced.
type Provider struct {
	next   ringscan.SessionProvider
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

var _ ringscan.SessionProvider = (*Provider)(nil)

// NewProvider wraps next.
func NewProvider(next ringscan.SessionProvider, opts ...Option) *Provider {
	cfg := config{provider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provider{
		next:   next,
		tracer: cfg.provider.Tracer(instrumentationName),
		attrs:  append([]attribute.KeyValue{AttrDBSystem.String("cassandra")}, cfg.attrs...),
	}
}

// Session opens a traced session for spec.
func (p *Provider) Session(ctx context.Context, spec ringscan.ReadSpec) (ringscan.Session, error) {
	attrs := append(p.spanAttrs(), AttrKeyspace.String(spec.Keyspace), AttrTable.String(spec.Table))
	ctx, span := p.tracer.Start(ctx, "ringscan.Session",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	s, err := p.next.Session(ctx, spec)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return &session{next: s, p: p, attrs: attrs}, nil
}

func (p *Provider) spanAttrs() []attribute.KeyValue {
	return append([]attribute.KeyValue(nil), p.attrs...)
}

type session struct {
	next  ringscan.Session
	p     *Provider
	attrs []attribute.KeyValue
}

func (s *session) PartitionKey(ctx context.Context, keyspace, table string) ([]string, error) {
	ctx, span := s.p.tracer.Start(ctx, "ringscan.PartitionKey",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(s.attrs...),
	)
	defer span.End()

	cols, err := s.next.PartitionKey(ctx, keyspace, table)
	if err != nil {
		fail(span, err)
	}
	return cols, err
}

func (s *session) NewToken(v string) (ringscan.Token, error) {
	return s.next.NewToken(v)
}

func (s *session) Prepare(ctx context.Context, query string) (ringscan.Statement, error) {
	ctx, span := s.p.tracer.Start(ctx, "ringscan.Prepare",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(s.withAttrs(AttrStatement.String(query))...),
	)
	defer span.End()

	st, err := s.next.Prepare(ctx, query)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return &statement{next: st, s: s, query: query}, nil
}

func (s *session) Execute(ctx context.Context, query string) (ringscan.Rows, error) {
	ctx, span := s.startQuery(ctx, query, nil)
	r, err := s.next.Execute(ctx, query)
	if err != nil {
		fail(span, err)
		span.End()
		return nil, err
	}
	return &rows{next: r, span: span}, nil
}

// withAttrs returns the session attributes plus extra in a new slice.
func (s *session) withAttrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(s.attrs)+len(extra))
	return append(append(out, s.attrs...), extra...)
}

func (s *session) startQuery(ctx context.Context, query string, bounds []ringscan.Token) (context.Context, trace.Span) {
	attrs := s.withAttrs(AttrStatement.String(query))
	if len(bounds) > 0 {
		vals := make([]string, len(bounds))
		for i, b := range bounds {
			vals[i] = b.String()
		}
		attrs = append(attrs, AttrBounds.String(strings.Join(vals, ",")))
	}
	return s.p.tracer.Start(ctx, "ringscan.Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

type statement struct {
	next  ringscan.Statement
	s     *session
	query string
}

func (st *statement) Execute(ctx context.Context, bounds ...ringscan.Token) (ringscan.Rows, error) {
	ctx, span := st.s.startQuery(ctx, st.query, bounds)
	r, err := st.next.Execute(ctx, bounds...)
	if err != nil {
		fail(span, err)
		span.End()
		return nil, err
	}
	return &rows{next: r, span: span}, nil
}

type rows struct {
	next  ringscan.Rows
	span  trace.Span
	count int64
	done  bool
}

func (r *rows) Next() (ringscan.Row, bool) {
	row, ok := r.next.Next()
	if ok {
		r.count++
	}
	return row, ok
}

func (r *rows) Close() error {
	err := r.next.Close()
	if r.done {
		return err
	}
	r.done = true
	r.span.SetAttributes(AttrRows.Int64(r.count))
	if err != nil {
		fail(r.span, err)
	} else {
		r.span.SetStatus(codes.Ok, "")
	}
	r.span.End()
	return err
}

func fail(span trace.Span, err error) {
	if errors.Is(err, ringscan.ErrBoundarySyntax) {
		span.SetAttributes(AttrSkipped.Bool(true))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
