package ringscan

import (
	"log/slog"
	"time"
)

// -----------------------------------------------------------------------------
// Query results
// -----------------------------------------------------------------------------

// QueryKind identifies which of the generated queries ran.
type QueryKind int

// Query kinds, one per generated query shape.
const (
	// QueryWhole is the unbounded whole-table query.
	QueryWhole QueryKind = iota
	// QueryRange is the prepared statement bound to a non-wrapping range.
	QueryRange
	// QueryLowSplit is the low half of a wrapping range.
	QueryLowSplit
	// QueryHighSplit is the high half of a wrapping range.
	QueryHighSplit
)

func (k QueryKind) String() string {
	switch k {
	case QueryWhole:
		return "whole"
	case QueryRange:
		return "range"
	case QueryLowSplit:
		return "low_split"
	case QueryHighSplit:
		return "high_split"
	default:
		return "unknown"
	}
}

// QueryResult describes one executed query.
type QueryResult struct {
	Kind  QueryKind
	Query string

	// Range is the ring range the query served. Zero for QueryWhole.
	Range RingRange

	// Rows is the number of entities emitted.
	Rows int64

	// Skipped is set when the store rejected the query with a boundary
	// syntax error and its result was treated as empty.
	Skipped bool

	// Cause holds the rejection when Skipped is set.
	Cause error

	Elapsed time.Duration
}

// Observer receives a result for every query a Reader executes, skipped or
// not. Fatal failures are reported by Process, not here.
type Observer interface {
	QueryDone(r QueryResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r QueryResult)

// QueryDone calls f.
func (f ObserverFunc) QueryDone(r QueryResult) { f(r) }

type nopObserver struct{}

func (nopObserver) QueryDone(QueryResult) {}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

type readerConfig struct {
	logger   *slog.Logger
	observer Observer
}

// Option configures a Reader.
type Option func(*readerConfig)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *readerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the observer notified after every query.
func WithObserver(o Observer) Option {
	return func(c *readerConfig) {
		if o != nil {
			c.observer = o
		}
	}
}
