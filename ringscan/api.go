// Package ringscan reads rows from a token-ring wide-column store by turning a
// table scan into independent token-range queries.
//
// A read is described by a ReadSpec. The Reader builds range-restricted
// queries for it, executes them through a Session, maps each row and emits
// the result to a Sink. Ranges are consumed as given; computing or splitting
// them is left to the caller.
package ringscan

import (
	"context"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Read description
// -----------------------------------------------------------------------------

// ReadSpec describes one read operation. It is immutable for the duration of
// a read.
type ReadSpec struct {
	// Keyspace is the target keyspace.
	Keyspace string `json:"keyspace"`

	// Table is the target table.
	Table string `json:"table"`

	// Query optionally replaces the synthesized SELECT * statement.
	// Empty means unset.
	Query string `json:"query,omitempty"`

	// RingRanges is the set of token ranges to read.
	//
	// A nil slice means the set is absent and the whole table is read.
	// A non-nil empty slice means the set is present but selects nothing.
	// In JSON the two are null (or a missing key) and [] respectively.
	RingRanges []RingRange `json:"ring_ranges"`
}

// HasRingRanges reports whether a range set is present, regardless of its
// length.
func (s ReadSpec) HasRingRanges() bool {
	return s.RingRanges != nil
}

// String returns "keyspace.table".
func (s ReadSpec) String() string {
	return s.Keyspace + "." + s.Table
}

// -----------------------------------------------------------------------------
// Store-facing interfaces
// -----------------------------------------------------------------------------

// Row is one result row keyed by column name.
type Row map[string]any

// Rows is a forward-only result set.
type Rows interface {
	// Next returns the next row. ok is false once the set is exhausted or
	// paging failed; Close reports the failure.
	Next() (row Row, ok bool)

	// Close releases the result set and returns any error hit while reading.
	Close() error
}

// Token is a ring position in a form the session can bind to a statement.
type Token interface {
	String() string
}

// Statement is a prepared query with positional placeholders.
type Statement interface {
	// Execute binds bounds to placeholders in order, starting at position 0,
	// and runs the statement.
	Execute(ctx context.Context, bounds ...Token) (Rows, error)
}

// Session is a live connection to the store.
//
// A session bundles the metadata lookup, the token factory and query
// execution for one cluster.
type Session interface {
	// PartitionKey returns the ordered partition key column names of a table.
	PartitionKey(ctx context.Context, keyspace, table string) ([]string, error)

	// NewToken parses the string form of a ring token.
	NewToken(s string) (Token, error)

	// Prepare parses query once so it can be executed repeatedly.
	Prepare(ctx context.Context, query string) (Statement, error)

	// Execute runs an ad hoc query.
	Execute(ctx context.Context, query string) (Rows, error)
}

// SessionProvider hands out a session bound to the cluster a spec targets.
type SessionProvider interface {
	Session(ctx context.Context, spec ReadSpec) (Session, error)
}

// SessionProviderFunc adapts a function to SessionProvider.
type SessionProviderFunc func(ctx context.Context, spec ReadSpec) (Session, error)

// Session calls f.
func (f SessionProviderFunc) Session(ctx context.Context, spec ReadSpec) (Session, error) {
	return f(ctx, spec)
}

// -----------------------------------------------------------------------------
// Mapping and output
// -----------------------------------------------------------------------------

// Mapper converts one row into one entity.
type Mapper[T any] interface {
	Map(row Row) (T, error)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc[T any] func(row Row) (T, error)

// Map calls f.
func (f MapperFunc[T]) Map(row Row) (T, error) {
	return f(row)
}

// MapperFactory builds a mapper for a session.
type MapperFactory[T any] func(s Session) (Mapper[T], error)

// RowMapper returns a factory whose mappers emit each row as a plain map.
func RowMapper() MapperFactory[map[string]any] {
	return func(Session) (Mapper[map[string]any], error) {
		return MapperFunc[map[string]any](func(row Row) (map[string]any, error) {
			return map[string]any(row), nil
		}), nil
	}
}

// Sink receives entities one at a time, in order.
type Sink[T any] interface {
	Emit(ctx context.Context, v T) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, v T) error

// Emit calls f.
func (f SinkFunc[T]) Emit(ctx context.Context, v T) error {
	return f(ctx, v)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrBoundarySyntax marks a query the store rejected as syntactically invalid.
// It occurs when a token literal at the edge of the ring is not legal for the
// partitioner. Session implementations wrap driver errors with it.
var ErrBoundarySyntax = errors.New("boundary syntax error")

// ErrInvalidRange indicates a ring range that cannot be parsed or has nil
// bounds.
var ErrInvalidRange = errors.New("invalid ring range")

// ErrInvalidToken indicates a token string that is not valid for the
// partitioner.
var ErrInvalidToken = errors.New("invalid token")

// ReadError reports a read that could not be completed. It wraps the first
// non-recoverable failure.
type ReadError struct {
	Keyspace string
	Table    string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("ringscan: cannot process read operation against Cassandra (%s.%s): %v",
		e.Keyspace, e.Table, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
