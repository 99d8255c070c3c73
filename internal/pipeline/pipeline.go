// Package pipeline runs a read as several independent work units on a
// bounded goroutine pool.
//
// A unit is a copy of the base ReadSpec carrying a subset of its ring ranges.
// Ranges are dealt to units as given; they are never computed or split here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/pithecene-io/ringscan/ringscan"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// UnitResult describes one finished work unit.
type UnitResult struct {
	Index   int
	Spec    ringscan.ReadSpec
	Err     error
	Elapsed time.Duration
}

// Units splits spec into at most workers specs.
//
// An absent range set yields a single whole-table unit. A present set is
// dealt round-robin into min(workers, len) units, preserving the relative
// order of ranges inside each unit. A present but empty set yields a single
// unit that reads nothing.
func Units(spec ringscan.ReadSpec, workers int) []ringscan.ReadSpec {
	if !spec.HasRingRanges() {
		return []ringscan.ReadSpec{spec}
	}
	if len(spec.RingRanges) == 0 {
		unit := spec
		unit.RingRanges = []ringscan.RingRange{}
		return []ringscan.ReadSpec{unit}
	}

	n := min(max(workers, 1), len(spec.RingRanges))
	units := make([]ringscan.ReadSpec, n)
	for i := range units {
		units[i] = spec
		units[i].RingRanges = make([]ringscan.RingRange, 0, (len(spec.RingRanges)+n-1)/n)
	}
	for i, rr := range spec.RingRanges {
		u := &units[i%n]
		u.RingRanges = append(u.RingRanges, rr)
	}
	return units
}

type config struct {
	workers int
	logger  *slog.Logger
	onUnit  func(UnitResult)
}

// Option configures a Runner.
type Option func(*config)

// WithWorkers bounds the number of units processed concurrently.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUnitDone registers fn to be called after every unit, from the unit's
// goroutine.
func WithUnitDone(fn func(UnitResult)) Option {
	return func(c *config) {
		c.onUnit = fn
	}
}

// Runner processes work units with a shared Reader.
type Runner[T any] struct {
	reader  *ringscan.Reader[T]
	workers int
	logger  *slog.Logger
	onUnit  func(UnitResult)
}

// New creates a Runner.
func New[T any](reader *ringscan.Reader[T], opts ...Option) (*Runner[T], error) {
	if reader == nil {
		return nil, errors.New("pipeline: reader is required")
	}
	cfg := &config{workers: DefaultWorkers, logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Runner[T]{
		reader:  reader,
		workers: cfg.workers,
		logger:  cfg.logger,
		onUnit:  cfg.onUnit,
	}, nil
}

// Run processes every unit of spec and emits to sink. With more than one
// worker, sink receives Emit calls concurrently.
//
// The first unit to fail cancels the others; its error is returned.
func (r *Runner[T]) Run(ctx context.Context, spec ringscan.ReadSpec, sink ringscan.Sink[T]) error {
	units := Units(spec, r.workers)

	pool, err := ants.NewPool(len(units), ants.WithPanicHandler(func(v any) {
		r.logger.Error("read unit panic escaped", "panic", v)
	}))
	if err != nil {
		return fmt.Errorf("pipeline: create pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel(err)
		})
	}

	r.logger.Debug("starting read", "table", spec.String(), "units", len(units), "workers", r.workers)

	for i, unit := range units {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			started := time.Now()
			err := r.process(ctx, unit, sink)
			if err != nil {
				fail(err)
			}
			res := UnitResult{Index: i, Spec: unit, Err: err, Elapsed: time.Since(started)}
			r.logger.Debug("read unit done", "unit", i, "ranges", len(unit.RingRanges),
				"elapsed", res.Elapsed, "error", err)
			if r.onUnit != nil {
				r.onUnit(res)
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			fail(fmt.Errorf("pipeline: submit unit %d: %w", i, err))
			break
		}
	}
	wg.Wait()

	return firstErr
}

// process runs one unit, turning a panic into an error.
func (r *Runner[T]) process(ctx context.Context, unit ringscan.ReadSpec, sink ringscan.Sink[T]) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("pipeline: read unit panicked: %v", v)
		}
	}()
	return r.reader.Process(ctx, unit, sink)
}
