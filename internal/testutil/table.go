// Package testutil provides an in-memory ringscan session for examples and
// tests outside the ringscan package.
package testutil

import (
	"context"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pithecene-io/ringscan/ringscan"
)

// Table is an in-memory table whose rows carry their token in the "tok"
// column. It implements ringscan.Session and hands itself out as the session
// for every spec.
//
// Bound statements filter on [start, end). Ad hoc queries ending in a token
// literal, such as the wrapping-range splits, filter on that literal; other
// queries return every row.
type Table struct {
	pk []string

	mu       sync.Mutex
	rows     []ringscan.Row
	failures map[string]error
	executed []string
}

// NewTable returns a table with one row per token.
func NewTable(pk []string, tokens ...int64) *Table {
	t := &Table{pk: pk, failures: map[string]error{}}
	for _, tok := range tokens {
		t.rows = append(t.rows, ringscan.Row{"tok": tok, "name": "row-" + strconv.FormatInt(tok, 10)})
	}
	return t
}

// Provider returns a SessionProvider serving t.
func (t *Table) Provider() ringscan.SessionProvider {
	return ringscan.SessionProviderFunc(func(context.Context, ringscan.ReadSpec) (ringscan.Session, error) {
		return t, nil
	})
}

// FailOn makes every execution whose query text contains substr fail with
// err when its rows are closed, the way drivers report query errors.
func (t *Table) FailOn(substr string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[substr] = err
}

// Executed returns the executed query texts in order. Bound executions are
// recorded as "query [start end]".
func (t *Table) Executed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.executed...)
}

// PartitionKey implements ringscan.Session.
func (t *Table) PartitionKey(context.Context, string, string) ([]string, error) {
	return t.pk, nil
}

// NewToken implements ringscan.Session.
func (t *Table) NewToken(v string) (ringscan.Token, error) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, ringscan.ErrInvalidToken
	}
	return token{n}, nil
}

// Prepare implements ringscan.Session.
func (t *Table) Prepare(_ context.Context, query string) (ringscan.Statement, error) {
	return &statement{t: t, query: query}, nil
}

var literal = regexp.MustCompile(`token\([^)]*\) (<|>=) (-?\d+)\)$`)

// Execute implements ringscan.Session.
func (t *Table) Execute(ctx context.Context, query string) (ringscan.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := literal.FindStringSubmatch(query)
	if m == nil {
		return t.result(query, query, nil, nil), nil
	}
	bound, _ := new(big.Int).SetString(m[2], 10)
	if m[1] == "<" {
		return t.result(query, query, nil, bound), nil
	}
	return t.result(query, query, bound, nil), nil
}

// result selects rows with lo <= tok < hi; nil bounds are open.
func (t *Table) result(query, record string, lo, hi *big.Int) ringscan.Rows {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed = append(t.executed, record)

	var out []ringscan.Row
	for _, row := range t.rows {
		tok := big.NewInt(row["tok"].(int64))
		if (lo == nil || tok.Cmp(lo) >= 0) && (hi == nil || tok.Cmp(hi) < 0) {
			out = append(out, row)
		}
	}
	var err error
	for substr, e := range t.failures {
		if strings.Contains(query, substr) {
			err = e
		}
	}
	return &rows{rows: out, err: err}
}

type statement struct {
	t     *Table
	query string
}

func (st *statement) Execute(ctx context.Context, bounds ...ringscan.Token) (ringscan.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(bounds) != 2 {
		return st.t.result(st.query, st.query, nil, nil), nil
	}
	lo, hi := bounds[0].(token).v, bounds[1].(token).v
	return st.t.result(st.query, st.query+" ["+lo.String()+" "+hi.String()+"]", lo, hi), nil
}

type token struct{ v *big.Int }

func (t token) String() string { return t.v.String() }

type rows struct {
	rows []ringscan.Row
	pos  int
	err  error
}

func (r *rows) Next() (ringscan.Row, bool) {
	if r.pos >= len(r.rows) {
		return nil, false
	}
	r.pos++
	return r.rows[r.pos-1], true
}

func (r *rows) Close() error { return r.err }

// TokenMapper maps rows to their "tok" column.
func TokenMapper() ringscan.MapperFactory[int64] {
	return func(ringscan.Session) (ringscan.Mapper[int64], error) {
		return ringscan.MapperFunc[int64](func(r ringscan.Row) (int64, error) {
			return r["tok"].(int64), nil
		}), nil
	}
}
