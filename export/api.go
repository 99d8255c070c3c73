// Package export persists records read from a token-ring scan as immutable
// part files plus a manifest on object storage.
//
// A Writer implements ringscan.Sink. Records are buffered into parts, each
// part is encoded by a Codec, wrapped by a Compressor, and written once to a
// Store. Closing the writer commits the export by writing manifest.json last;
// an export without a manifest is incomplete and must not be read.
package export

import (
	"context"
	"errors"
	"io"
	"time"
)

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the object storage an export is written to.
//
// Put never overwrites: writing an existing path returns ErrPathExists.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// -----------------------------------------------------------------------------
// Codec and Compressor
// -----------------------------------------------------------------------------

// Codec serializes a batch of records into one part file.
type Codec interface {
	// Name is recorded in the manifest, e.g. "jsonl" or "parquet".
	Name() string

	// Extension is the part file suffix before any compressor suffix.
	Extension() string

	Encode(w io.Writer, records []any) error
	Decode(r io.Reader) ([]any, error)
}

// Compressor wraps part file streams.
type Compressor interface {
	// Name is recorded in the manifest, e.g. "gzip", "zstd" or "noop".
	Name() string

	// Extension is appended to part file names, e.g. ".gz". Empty for noop.
	Extension() string

	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Manifest
// -----------------------------------------------------------------------------

// Manifest schema identifiers.
const (
	ManifestSchema  = "ringscan-export"
	ManifestVersion = "1"
	ManifestFile    = "manifest.json"
)

// Manifest describes a committed export.
type Manifest struct {
	SchemaName    string    `json:"schema_name"`
	FormatVersion string    `json:"format_version"`
	RunID         string    `json:"run_id"`
	Keyspace      string    `json:"keyspace,omitempty"`
	Table         string    `json:"table,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Files         []FileRef `json:"files"`
	RowCount      int64     `json:"row_count"`
	Codec         string    `json:"codec"`
	Compressor    string    `json:"compressor"`
}

// FileRef is one part file of an export.
type FileRef struct {
	// Path is relative to the store root, including the export prefix.
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Rows      int64  `json:"rows"`
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates a requested path does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errPathExists{}

	// ErrInvalidPath indicates an empty path or one escaping the store root.
	ErrInvalidPath = errors.New("invalid path: escapes storage root")

	// ErrClosed is returned by a Writer after Close.
	ErrClosed = errors.New("export: writer closed")

	// ErrManifestInvalid indicates a manifest failed validation.
	ErrManifestInvalid = errors.New("invalid manifest")

	// ErrSchemaViolation indicates a record does not fit the codec schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrInvalidFormat indicates a part file could not be decoded.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrCodecMismatch indicates the reader was configured with a codec or
	// compressor other than the one recorded in the manifest.
	ErrCodecMismatch = errors.New("export: codec mismatch")
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }
