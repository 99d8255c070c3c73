package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRecords is the part size used when WithMaxRecords is not given.
const DefaultMaxRecords = 10000

type writerConfig struct {
	codec      Codec
	compressor Compressor
	maxRecords int
	runID      string
	keyspace   string
	table      string
	now        func() time.Time
	logger     *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

// WithCodec sets the part codec. Default JSONL.
func WithCodec(c Codec) WriterOption {
	return func(cfg *writerConfig) { cfg.codec = c }
}

// WithCompressor sets the part compressor. Default noop.
func WithCompressor(c Compressor) WriterOption {
	return func(cfg *writerConfig) { cfg.compressor = c }
}

// WithMaxRecords sets how many records go into one part file.
func WithMaxRecords(n int) WriterOption {
	return func(cfg *writerConfig) { cfg.maxRecords = n }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) WriterOption {
	return func(cfg *writerConfig) { cfg.runID = id }
}

// WithSource records the scanned table in the manifest.
func WithSource(keyspace, table string) WriterOption {
	return func(cfg *writerConfig) { cfg.keyspace, cfg.table = keyspace, table }
}

// WithClock sets the manifest timestamp source.
func WithClock(now func() time.Time) WriterOption {
	return func(cfg *writerConfig) { cfg.now = now }
}

// WithLogger sets the logger for part and commit events.
func WithLogger(l *slog.Logger) WriterOption {
	return func(cfg *writerConfig) { cfg.logger = l }
}

// Writer buffers emitted records into part files and commits them with a
// manifest on Close. It implements ringscan.Sink[T] and is safe for
// concurrent use, so one Writer can collect the output of several readers.
//
// A failed part write is sticky: every later call returns the same error.
type Writer[T any] struct {
	store  Store
	prefix string
	cfg    writerConfig

	mu     sync.Mutex
	buf    []any
	seq    int
	files  []FileRef
	rows   int64
	closed bool
	err    error
}

// NewWriter creates a writer storing parts and the manifest under prefix.
// The manifest path must not exist yet.
func NewWriter[T any](ctx context.Context, store Store, prefix string, opts ...WriterOption) (*Writer[T], error) {
	if store == nil {
		return nil, errors.New("export: store is required")
	}
	cfg := writerConfig{
		codec:      NewJSONLCodec(),
		compressor: NewNoOpCompressor(),
		maxRecords: DefaultMaxRecords,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.codec == nil || cfg.compressor == nil {
		return nil, errors.New("export: codec and compressor are required")
	}
	if cfg.maxRecords <= 0 {
		return nil, fmt.Errorf("export: max records must be positive, got %d", cfg.maxRecords)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	exists, err := store.Exists(ctx, path.Join(prefix, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("export: check manifest: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("export: %s: %w", path.Join(prefix, ManifestFile), ErrPathExists)
	}

	return &Writer[T]{
		store:  store,
		prefix: prefix,
		cfg:    cfg,
		buf:    make([]any, 0, min(cfg.maxRecords, 1024)),
		files:  []FileRef{},
	}, nil
}

// RunID identifies this export; it is part of every part file name.
func (w *Writer[T]) RunID() string { return w.cfg.runID }

// Emit buffers rec and writes a part file once the buffer is full.
func (w *Writer[T]) Emit(ctx context.Context, rec T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return err
	}
	w.buf = append(w.buf, rec)
	if len(w.buf) >= w.cfg.maxRecords {
		return w.flushLocked(ctx)
	}
	return nil
}

// Flush writes any buffered records as a part file.
func (w *Writer[T]) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return err
	}
	return w.flushLocked(ctx)
}

// Close flushes the remaining records and writes the manifest. The export
// is visible to Open only after Close succeeds.
func (w *Writer[T]) Close(ctx context.Context) (*Manifest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return nil, err
	}
	if err := w.flushLocked(ctx); err != nil {
		return nil, err
	}
	w.closed = true

	m := &Manifest{
		SchemaName:    ManifestSchema,
		FormatVersion: ManifestVersion,
		RunID:         w.cfg.runID,
		Keyspace:      w.cfg.keyspace,
		Table:         w.cfg.table,
		CreatedAt:     w.cfg.now().UTC(),
		Files:         w.files,
		RowCount:      w.rows,
		Codec:         w.cfg.codec.Name(),
		Compressor:    w.cfg.compressor.Name(),
	}
	data, err := jsonAPI.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: encode manifest: %w", err)
	}
	mp := path.Join(w.prefix, ManifestFile)
	if err := w.store.Put(ctx, mp, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("export: write manifest %s: %w", mp, err)
	}

	w.cfg.logger.InfoContext(ctx, "export committed",
		slog.String("manifest", mp),
		slog.String("run_id", w.cfg.runID),
		slog.Int("files", len(w.files)),
		slog.Int64("rows", w.rows),
	)
	return m, nil
}

// Abort discards buffered records and deletes the part files written so
// far. The manifest is never written.
func (w *Writer[T]) Abort(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.buf = nil

	var errs []error
	for _, f := range w.files {
		if err := w.store.Delete(ctx, f.Path); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", f.Path, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Writer[T]) usable() error {
	if w.closed {
		return ErrClosed
	}
	return w.err
}

func (w *Writer[T]) flushLocked(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	var body bytes.Buffer
	if err := encodePart(&body, w.cfg.codec, w.cfg.compressor, w.buf); err != nil {
		w.err = fmt.Errorf("export: encode part %d: %w", w.seq, err)
		return w.err
	}

	name := fmt.Sprintf("part-%05d-%s%s%s", w.seq, w.cfg.runID, w.cfg.codec.Extension(), w.cfg.compressor.Extension())
	p := path.Join(w.prefix, name)
	size := int64(body.Len())
	if err := w.store.Put(ctx, p, &body); err != nil {
		w.err = fmt.Errorf("export: write part %s: %w", p, err)
		return w.err
	}

	n := int64(len(w.buf))
	w.files = append(w.files, FileRef{Path: p, SizeBytes: size, Rows: n})
	w.rows += n
	w.seq++
	w.buf = w.buf[:0]

	w.cfg.logger.DebugContext(ctx, "export part written",
		slog.String("path", p),
		slog.Int64("rows", n),
		slog.Int64("bytes", size),
	)
	return nil
}

func encodePart(dst io.Writer, codec Codec, comp Compressor, records []any) error {
	cw, err := comp.Compress(dst)
	if err != nil {
		return err
	}
	if err := codec.Encode(cw, records); err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}
