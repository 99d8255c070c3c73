package ringscan

import (
	"context"
	"iter"
)

// Stream maps rows lazily, one row per step, in result-set order.
//
// The sequence is single-use. Rows is closed when the sequence ends or the
// consumer stops early. A mapping error stops the sequence; an error returned
// by Rows.Close is yielded as the final element.
func Stream[T any](rows Rows, mapper Mapper[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		closed := false
		defer func() {
			if !closed {
				_ = rows.Close()
			}
		}()

		for {
			row, ok := rows.Next()
			if !ok {
				break
			}
			v, err := mapper.Map(row)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}

		closed = true
		if err := rows.Close(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// emit drains seq into sink and returns the number of entities delivered.
func emit[T any](ctx context.Context, seq iter.Seq2[T, error], sink Sink[T]) (int64, error) {
	var n int64
	for v, err := range seq {
		if err != nil {
			return n, err
		}
		if err := sink.Emit(ctx, v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
