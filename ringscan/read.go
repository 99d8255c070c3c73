package ringscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Reader executes ReadSpecs against sessions from a SessionProvider and emits
// mapped entities to a Sink.
//
// A Reader holds no per-read state and may be shared. Each Process call is
// sequential: ranges run one at a time and each range is streamed to
// completion before the next one starts.
type Reader[T any] struct {
	sessions SessionProvider
	mappers  MapperFactory[T]
	logger   *slog.Logger
	observer Observer
}

// NewReader creates a Reader.
func NewReader[T any](sessions SessionProvider, mappers MapperFactory[T], opts ...Option) (*Reader[T], error) {
	if sessions == nil {
		return nil, errors.New("ringscan: session provider is required")
	}
	if mappers == nil {
		return nil, errors.New("ringscan: mapper factory is required")
	}

	cfg := &readerConfig{
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Reader[T]{
		sessions: sessions,
		mappers:  mappers,
		logger:   cfg.logger,
		observer: cfg.observer,
	}, nil
}

// Process reads everything spec selects and emits it to sink.
//
// A query rejected with ErrBoundarySyntax is logged and treated as empty;
// the remaining queries still run. Any other failure aborts the read and is
// returned as a *ReadError.
func (r *Reader[T]) Process(ctx context.Context, spec ReadSpec, sink Sink[T]) error {
	if err := r.process(ctx, spec, sink); err != nil {
		r.logger.Error("cannot process read operation against Cassandra",
			"keyspace", spec.Keyspace, "table", spec.Table, "error", err)
		return &ReadError{Keyspace: spec.Keyspace, Table: spec.Table, Err: err}
	}
	return nil
}

func (r *Reader[T]) process(ctx context.Context, spec ReadSpec, sink Sink[T]) error {
	if sink == nil {
		return errors.New("sink is required")
	}

	session, err := r.sessions.Session(ctx, spec)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	mapper, err := r.mappers(session)
	if err != nil {
		return fmt.Errorf("create mapper: %w", err)
	}

	r.logger.Debug("reading", "keyspace", spec.Keyspace, "table", spec.Table,
		"ranges", len(spec.RingRanges), "has_ranges", spec.HasRingRanges())

	columns, err := session.PartitionKey(ctx, spec.Keyspace, spec.Table)
	if err != nil {
		return fmt.Errorf("resolve partition key: %w", err)
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s has no partition key", spec)
	}
	pk := PartitionKeyExpr(columns)

	query := RangeQuery(spec, pk, spec.HasRingRanges())
	r.logger.Debug("generated query", "query", query)

	// A prepare-time syntax rejection only skips the queries that need the
	// statement. Wrapping ranges still run.
	stmt, prepErr := session.Prepare(ctx, query)
	if prepErr != nil && !errors.Is(prepErr, ErrBoundarySyntax) {
		return fmt.Errorf("prepare %q: %w", query, prepErr)
	}
	bound := func(bounds ...Token) (Rows, error) {
		if prepErr != nil {
			return nil, prepErr
		}
		return stmt.Execute(ctx, bounds...)
	}

	for _, rr := range spec.RingRanges {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rr.Validate(); err != nil {
			return err
		}

		start, err := session.NewToken(rr.Start.String())
		if err != nil {
			return fmt.Errorf("start token of %s: %w", rr, err)
		}
		end, err := session.NewToken(rr.End.String())
		if err != nil {
			return fmt.Errorf("end token of %s: %w", rr, err)
		}

		if rr.IsWrapping() {
			low := LowSplitQuery(spec, pk, rr.End)
			r.logger.Debug("generated wrap-around query", "query", low)
			if _, err := r.run(ctx, QueryLowSplit, low, rr, mapper, sink, func() (Rows, error) {
				return session.Execute(ctx, low)
			}); err != nil {
				return err
			}

			high := HighSplitQuery(spec, pk, rr.Start)
			r.logger.Debug("generated wrap-around query", "query", high)
			if _, err := r.run(ctx, QueryHighSplit, high, rr, mapper, sink, func() (Rows, error) {
				return session.Execute(ctx, high)
			}); err != nil {
				return err
			}
			continue
		}

		if _, err := r.run(ctx, QueryRange, query, rr, mapper, sink, func() (Rows, error) {
			return bound(start, end)
		}); err != nil {
			return err
		}
	}

	if !spec.HasRingRanges() {
		if _, err := r.run(ctx, QueryWhole, query, RingRange{}, mapper, sink, func() (Rows, error) {
			return bound()
		}); err != nil {
			return err
		}
	}

	return nil
}

// run executes one query and streams its rows to sink. A boundary syntax
// rejection is returned as a skipped result, not an error.
func (r *Reader[T]) run(
	ctx context.Context,
	kind QueryKind,
	query string,
	rr RingRange,
	mapper Mapper[T],
	sink Sink[T],
	exec func() (Rows, error),
) (QueryResult, error) {
	res := QueryResult{Kind: kind, Query: query, Range: rr}
	started := time.Now()

	rows, err := exec()
	if err == nil {
		res.Rows, err = emit(ctx, Stream(rows, mapper), sink)
	}
	res.Elapsed = time.Since(started)

	if err != nil {
		if !errors.Is(err, ErrBoundarySyntax) {
			return res, fmt.Errorf("%s query %q: %w", kind, query, err)
		}
		res.Skipped = true
		res.Cause = err
		r.logger.Debug("query rejected at ring boundary, skipping",
			"kind", kind.String(), "query", query, "error", err)
	}

	r.observer.QueryDone(res)
	return res, nil
}
