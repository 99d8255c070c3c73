package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ColumnType is the Parquet logical type of an export column.
type ColumnType int

// Column types. The comments name the CQL types whose gocql values each
// column accepts.
const (
	ColumnInt32     ColumnType = iota // int, smallint, tinyint
	ColumnInt64                       // bigint, counter, time
	ColumnFloat32                     // float
	ColumnFloat64                     // double
	ColumnString                      // text, ascii, varchar, uuid, timeuuid, inet, varint, decimal
	ColumnBool                        // boolean
	ColumnBytes                       // blob
	ColumnTimestamp                   // timestamp, date
	columnTypeMax
)

var columnTypeNames = [...]string{"int32", "int64", "float32", "float64", "string", "bool", "bytes", "timestamp"}

func (t ColumnType) String() string {
	if t < 0 || t >= columnTypeMax {
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
	return columnTypeNames[t]
}

// ParseColumnType maps a name such as "int64" to its ColumnType.
func ParseColumnType(s string) (ColumnType, error) {
	for i, name := range columnTypeNames {
		if name == s {
			return ColumnType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown column type %q", ErrSchemaViolation, s)
}

// Column is one field of a Parquet schema.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema is the ordered column set of a Parquet export.
type Schema struct {
	Columns []Column
}

// ParseSchema parses "name:type" column specs. A trailing "?" on the type
// marks the column nullable, e.g. "score:float64?".
func ParseSchema(specs []string) (Schema, error) {
	var s Schema
	for _, spec := range specs {
		name, typ, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok || name == "" {
			return Schema{}, fmt.Errorf("%w: column %q is not name:type", ErrSchemaViolation, spec)
		}
		nullable := strings.HasSuffix(typ, "?")
		ct, err := ParseColumnType(strings.TrimSuffix(typ, "?"))
		if err != nil {
			return Schema{}, err
		}
		s.Columns = append(s.Columns, Column{Name: name, Type: ct, Nullable: nullable})
	}
	return s, nil
}

const (
	minInt32     = math.MinInt32
	maxInt32     = math.MaxInt32
	maxExactF64  = 1 << 53
	decodeBuffer = 128
)

type parquetCodec struct {
	schema  Schema
	columns []Column // in parquet leaf order
	pq      *parquet.Schema
}

// NewParquetCodec returns a codec writing one Parquet file per part, snappy
// compressed internally. Records must be map[string]any; keys outside the
// schema are ignored. Parts are written whole because Parquet needs a footer,
// so pair it with the noop compressor.
func NewParquetCodec(schema Schema) (Codec, error) {
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("%w: schema has no columns", ErrSchemaViolation)
	}
	group := make(parquet.Group, len(schema.Columns))
	byName := make(map[string]Column, len(schema.Columns))
	for _, col := range schema.Columns {
		if col.Name == "" {
			return nil, fmt.Errorf("%w: column name cannot be empty", ErrSchemaViolation)
		}
		if col.Type < 0 || col.Type >= columnTypeMax {
			return nil, fmt.Errorf("%w: column %q has invalid type %d", ErrSchemaViolation, col.Name, col.Type)
		}
		if _, dup := byName[col.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrSchemaViolation, col.Name)
		}
		byName[col.Name] = col
		group[col.Name] = columnNode(col)
	}

	pq := parquet.NewSchema("row", group)
	columns := make([]Column, 0, len(schema.Columns))
	for _, f := range pq.Fields() {
		columns = append(columns, byName[f.Name()])
	}
	return &parquetCodec{schema: schema, columns: columns, pq: pq}, nil
}

func (c *parquetCodec) Name() string      { return "parquet" }
func (c *parquetCodec) Extension() string { return ".parquet" }

func (c *parquetCodec) Encode(w io.Writer, records []any) error {
	buf := parquet.NewBuffer(c.pq)
	for i, rec := range records {
		row, err := c.toRow(rec, i)
		if err != nil {
			return err
		}
		if _, err := buf.WriteRows([]parquet.Row{row}); err != nil {
			return fmt.Errorf("parquet: write row %d: %w", i, err)
		}
	}

	var out bytes.Buffer
	pw := parquet.NewWriter(&out, c.pq, parquet.Compression(&parquet.Snappy))
	if _, err := pw.WriteRowGroup(buf); err != nil {
		_ = pw.Close()
		return fmt.Errorf("parquet: write row group: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	_, err := out.WriteTo(w)
	return err
}

func (c *parquetCodec) Decode(r io.Reader) ([]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parquet: read file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrInvalidFormat
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	records := make([]any, 0, file.NumRows())
	if file.NumRows() == 0 {
		return records, nil
	}
	pr := parquet.NewReader(file)
	defer func() { _ = pr.Close() }()

	rows := make([]parquet.Row, decodeBuffer)
	for {
		n, err := pr.ReadRows(rows)
		for _, row := range rows[:n] {
			records = append(records, c.fromRow(row))
		}
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read rows: %w", ErrInvalidFormat, err)
		}
	}
}

func (c *parquetCodec) toRow(rec any, index int) (parquet.Row, error) {
	m, ok := rec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: record %d is %T, want map[string]any", ErrSchemaViolation, index, rec)
	}
	row := make(parquet.Row, len(c.columns))
	for i, col := range c.columns {
		v, present := m[col.Name]
		if !present || v == nil || isNilPointer(v) {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: record %d: column %q is required", ErrSchemaViolation, index, col.Name)
			}
			row[i] = parquet.NullValue().Level(0, 0, i)
			continue
		}
		pv, err := toValue(v, col.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: column %q: %w", ErrSchemaViolation, index, col.Name, err)
		}
		def := 0
		if col.Nullable {
			def = 1
		}
		row[i] = pv.Level(0, def, i)
	}
	return row, nil
}

func (c *parquetCodec) fromRow(row parquet.Row) map[string]any {
	rec := make(map[string]any, len(c.columns))
	for i, col := range c.columns {
		if i >= len(row) || row[i].IsNull() {
			rec[col.Name] = nil
			continue
		}
		rec[col.Name] = fromValue(row[i], col.Type)
	}
	return rec
}

//nolint:gocyclo // one case per column type
func toValue(v any, t ColumnType) (parquet.Value, error) {
	switch t {
	case ColumnInt32:
		n, err := asInt64(v)
		if err != nil {
			return parquet.Value{}, err
		}
		if n < minInt32 || n > maxInt32 {
			return parquet.Value{}, fmt.Errorf("value %d overflows int32", n)
		}
		return parquet.Int32Value(int32(n)), nil
	case ColumnInt64:
		n, err := asInt64(v)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.Int64Value(n), nil
	case ColumnFloat32:
		f, err := asFloat64(v)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.FloatValue(float32(f)), nil
	case ColumnFloat64:
		f, err := asFloat64(v)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.DoubleValue(f), nil
	case ColumnString:
		switch s := v.(type) {
		case string:
			return parquet.ByteArrayValue([]byte(s)), nil
		case fmt.Stringer:
			return parquet.ByteArrayValue([]byte(s.String())), nil
		}
	case ColumnBool:
		if b, ok := v.(bool); ok {
			return parquet.BooleanValue(b), nil
		}
	case ColumnBytes:
		switch b := v.(type) {
		case []byte:
			return parquet.ByteArrayValue(b), nil
		case string:
			return parquet.ByteArrayValue([]byte(b)), nil
		}
	case ColumnTimestamp:
		switch ts := v.(type) {
		case time.Time:
			return parquet.Int64Value(ts.UnixNano()), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return parquet.Value{}, fmt.Errorf("invalid timestamp: %w", err)
			}
			return parquet.Int64Value(parsed.UnixNano()), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("cannot store %T as %s", v, t)
}

func fromValue(v parquet.Value, t ColumnType) any {
	switch t {
	case ColumnInt32:
		return v.Int32()
	case ColumnInt64:
		return v.Int64()
	case ColumnFloat32:
		return v.Float()
	case ColumnFloat64:
		return v.Double()
	case ColumnString:
		return string(v.ByteArray())
	case ColumnBool:
		return v.Boolean()
	case ColumnBytes:
		return bytes.Clone(v.ByteArray())
	case ColumnTimestamp:
		return time.Unix(0, v.Int64()).UTC()
	default:
		return nil
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case time.Duration:
		return int64(n), nil
	case float64:
		if math.Trunc(n) != n {
			return 0, fmt.Errorf("float64 %v is not an integer", n)
		}
		if n < -maxExactF64 || n > maxExactF64 {
			return 0, fmt.Errorf("float64 %v exceeds the exact integer range", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func asFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	}
	return 0, fmt.Errorf("expected float, got %T", v)
}

// isNilPointer reports typed nil pointers such as a null varint (*big.Int).
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func columnNode(col Column) parquet.Node {
	var node parquet.Node
	switch col.Type {
	case ColumnInt32:
		node = parquet.Int(32)
	case ColumnInt64:
		node = parquet.Int(64)
	case ColumnFloat32:
		node = parquet.Leaf(parquet.FloatType)
	case ColumnFloat64:
		node = parquet.Leaf(parquet.DoubleType)
	case ColumnString:
		node = parquet.String()
	case ColumnBool:
		node = parquet.Leaf(parquet.BooleanType)
	case ColumnBytes:
		node = parquet.Leaf(parquet.ByteArrayType)
	case ColumnTimestamp:
		node = parquet.Timestamp(parquet.Nanosecond)
	}
	if col.Nullable {
		node = parquet.Optional(node)
	}
	return node
}
