package export

import (
	"bufio"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const maxLineSize = 16 * 1024 * 1024

type jsonlCodec struct{}

// NewJSONLCodec returns a codec writing one JSON object per line.
//
// Decoded numbers are float64, the same as encoding/json.
func NewJSONLCodec() Codec {
	return jsonlCodec{}
}

func (jsonlCodec) Name() string      { return "jsonl" }
func (jsonlCodec) Extension() string { return ".jsonl" }

func (jsonlCodec) Encode(w io.Writer, records []any) error {
	enc := jsonAPI.NewEncoder(w)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("jsonl: record %d: %w", i, err)
		}
	}
	return nil
}

func (jsonlCodec) Decode(r io.Reader) ([]any, error) {
	records := []any{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec any
		if err := jsonAPI.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%w: jsonl line %d: %w", ErrInvalidFormat, line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return records, nil
}
