package ringscan

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// RingRange
// -----------------------------------------------------------------------------

// RingRange is the half-open token interval [Start, End).
//
// A range whose Start is greater than its End wraps past the top of the ring
// and stands for [Start, max] plus [min, End).
type RingRange struct {
	Start *big.Int
	End   *big.Int
}

// NewRingRange returns the range [start, end).
func NewRingRange(start, end int64) RingRange {
	return RingRange{Start: big.NewInt(start), End: big.NewInt(end)}
}

// IsWrapping reports whether the range crosses the ring's min/max boundary.
func (r RingRange) IsWrapping() bool {
	return r.Start.Cmp(r.End) > 0
}

// Validate returns ErrInvalidRange if either bound is missing.
func (r RingRange) Validate() error {
	if r.Start == nil || r.End == nil {
		return fmt.Errorf("%w: missing bound", ErrInvalidRange)
	}
	return nil
}

// String returns "start:end", the form accepted by ParseRingRange.
func (r RingRange) String() string {
	return r.Start.String() + ":" + r.End.String()
}

type ringRangeJSON struct {
	Start jsoniter.Number `json:"start"`
	End   jsoniter.Number `json:"end"`
}

// MarshalJSON encodes the range as {"start":n,"end":n}.
func (r RingRange) MarshalJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return jsonAPI.Marshal(ringRangeJSON{
		Start: jsoniter.Number(r.Start.String()),
		End:   jsoniter.Number(r.End.String()),
	})
}

// UnmarshalJSON accepts bounds as JSON numbers or decimal strings.
func (r *RingRange) UnmarshalJSON(data []byte) error {
	var raw ringRangeJSON
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	start, err := parseBound(string(raw.Start))
	if err != nil {
		return err
	}
	end, err := parseBound(string(raw.End))
	if err != nil {
		return err
	}
	r.Start, r.End = start, end
	return nil
}

// ParseRingRange parses "start:end". Bounds are base-10 and may be negative.
func ParseRingRange(s string) (RingRange, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return RingRange{}, fmt.Errorf("%w: %q: want start:end", ErrInvalidRange, s)
	}
	start, err := parseBound(startStr)
	if err != nil {
		return RingRange{}, err
	}
	end, err := parseBound(endStr)
	if err != nil {
		return RingRange{}, err
	}
	return RingRange{Start: start, End: end}, nil
}

// DecodeRingRanges reads a JSON array of ranges.
//
// An empty array yields a non-nil empty slice, so the result keeps the
// present-but-empty meaning when assigned to ReadSpec.RingRanges.
func DecodeRingRanges(r io.Reader) ([]RingRange, error) {
	ranges := []RingRange{}
	if err := jsonAPI.NewDecoder(r).Decode(&ranges); err != nil {
		return nil, fmt.Errorf("ringscan: decode ring ranges: %w", err)
	}
	if ranges == nil {
		return []RingRange{}, nil
	}
	return ranges, nil
}

func parseBound(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: missing bound", ErrInvalidRange)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bound %q is not an integer", ErrInvalidRange, s)
	}
	return v, nil
}

// -----------------------------------------------------------------------------
// Partitioners
// -----------------------------------------------------------------------------

// Partitioner names the cluster's token function by its class name.
type Partitioner string

// Partitioners with integer token spaces.
const (
	Murmur3Partitioner Partitioner = "org.apache.cassandra.dht.Murmur3Partitioner"
	RandomPartitioner  Partitioner = "org.apache.cassandra.dht.RandomPartitioner"
)

var (
	murmur3Min = new(big.Int).Lsh(big.NewInt(-1), 63)
	murmur3Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(1))
	randomMin  = big.NewInt(0)
	randomMax  = new(big.Int).Lsh(big.NewInt(1), 127)
)

// Bounds returns the smallest and largest token of the partitioner. ok is
// false for partitioners without an integer token space.
func (p Partitioner) Bounds() (lo, hi *big.Int, ok bool) {
	switch p.Canonical() {
	case Murmur3Partitioner:
		return new(big.Int).Set(murmur3Min), new(big.Int).Set(murmur3Max), true
	case RandomPartitioner:
		return new(big.Int).Set(randomMin), new(big.Int).Set(randomMax), true
	default:
		return nil, nil, false
	}
}

// Contains reports whether t is a legal token for the partitioner.
func (p Partitioner) Contains(t *big.Int) bool {
	lo, hi, ok := p.Bounds()
	if !ok {
		return false
	}
	return t.Cmp(lo) >= 0 && t.Cmp(hi) <= 0
}

// Canonical expands short names such as "Murmur3Partitioner" to the full
// class name.
func (p Partitioner) Canonical() Partitioner {
	s := string(p)
	if !strings.Contains(s, ".") {
		s = "org.apache.cassandra.dht." + s
	}
	return Partitioner(s)
}
