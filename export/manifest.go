package export

import (
	"context"
	"errors"
	"fmt"
	"path"
)

type manifestError struct {
	Field   string
	Message string
}

func (e *manifestError) Error() string {
	return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Message)
}

func (e *manifestError) Unwrap() error { return ErrManifestInvalid }

func validateManifest(m *Manifest) error {
	switch {
	case m.SchemaName != ManifestSchema:
		return &manifestError{Field: "schema_name", Message: fmt.Sprintf("got %q, want %q", m.SchemaName, ManifestSchema)}
	case m.FormatVersion == "":
		return &manifestError{Field: "format_version", Message: "is required"}
	case m.RunID == "":
		return &manifestError{Field: "run_id", Message: "is required"}
	case m.CreatedAt.IsZero():
		return &manifestError{Field: "created_at", Message: "is required"}
	case m.Files == nil:
		return &manifestError{Field: "files", Message: "must not be nil"}
	case m.Codec == "":
		return &manifestError{Field: "codec", Message: "is required"}
	case m.Compressor == "":
		return &manifestError{Field: "compressor", Message: "is required"}
	}

	var rows int64
	for i, f := range m.Files {
		if f.Path == "" {
			return &manifestError{Field: fmt.Sprintf("files[%d].path", i), Message: "is required"}
		}
		if f.SizeBytes < 0 || f.Rows < 0 {
			return &manifestError{Field: fmt.Sprintf("files[%d]", i), Message: "sizes must be non-negative"}
		}
		rows += f.Rows
	}
	if rows != m.RowCount {
		return &manifestError{Field: "row_count", Message: fmt.Sprintf("is %d, files hold %d", m.RowCount, rows)}
	}
	return nil
}

// Export is a committed export opened for reading.
type Export struct {
	store    Store
	Manifest *Manifest
}

// Open loads and validates the manifest under prefix. It returns ErrNotFound
// when the export was never committed.
func Open(ctx context.Context, store Store, prefix string) (*Export, error) {
	mp := path.Join(prefix, ManifestFile)
	rc, err := store.Get(ctx, mp)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", mp, err)
	}
	defer func() { _ = rc.Close() }()

	var m Manifest
	if err := jsonAPI.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("export: decode %s: %w: %w", mp, ErrManifestInvalid, err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("export: %s: %w", mp, err)
	}
	return &Export{store: store, Manifest: &m}, nil
}

// ReadFile decodes one part file. codec must be the codec named in the
// manifest; the compressor is resolved from the manifest.
func (e *Export) ReadFile(ctx context.Context, codec Codec, ref FileRef) ([]any, error) {
	if codec.Name() != e.Manifest.Codec {
		return nil, fmt.Errorf("%w: manifest codec %q, reader codec %q", ErrCodecMismatch, e.Manifest.Codec, codec.Name())
	}
	comp, err := CompressorByName(e.Manifest.Compressor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodecMismatch, err)
	}

	rc, err := e.store.Get(ctx, ref.Path)
	if err != nil {
		return nil, fmt.Errorf("export: read %s: %w", ref.Path, err)
	}
	defer func() { _ = rc.Close() }()

	dr, err := comp.Decompress(rc)
	if err != nil {
		return nil, fmt.Errorf("export: %s: %w: %w", ref.Path, ErrInvalidFormat, err)
	}
	defer func() { _ = dr.Close() }()

	records, err := codec.Decode(dr)
	if err != nil {
		return nil, fmt.Errorf("export: %s: %w", ref.Path, err)
	}
	if int64(len(records)) != ref.Rows {
		return nil, fmt.Errorf("export: %s: %w: %d records, manifest says %d", ref.Path, ErrInvalidFormat, len(records), ref.Rows)
	}
	return records, nil
}

// ReadAll decodes every part file in manifest order.
func (e *Export) ReadAll(ctx context.Context, codec Codec) ([]any, error) {
	out := make([]any, 0, e.Manifest.RowCount)
	for _, ref := range e.Manifest.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := e.ReadFile(ctx, codec, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// IsNotCommitted reports whether err means the export has no manifest.
func IsNotCommitted(err error) bool {
	return errors.Is(err, ErrNotFound)
}
