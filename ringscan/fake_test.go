package ringscan

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"sync"
)

// -----------------------------------------------------------------------------
// Fake session
// -----------------------------------------------------------------------------
//
// fakeSession serves rows from an in-memory table. Every row carries its
// token under the "tok" column. Bound executions filter on [start, end);
// ad hoc split queries are filtered by parsing their trailing literal.

type fakeCall struct {
	op     string // "prepare", "bound", "adhoc"
	query  string
	bounds []string
}

type fakeSession struct {
	mu sync.Mutex

	partitionKey []string
	rows         []Row

	pkErr      error
	tokenErr   error
	prepareErr error
	execErr    map[string]error // by query text, returned from Execute
	closeErr   map[string]error // by query text, returned from Rows.Close

	calls []fakeCall
}

func newFakeSession(pk []string, toks ...int64) *fakeSession {
	s := &fakeSession{
		partitionKey: pk,
		execErr:      map[string]error{},
		closeErr:     map[string]error{},
	}
	for _, t := range toks {
		s.rows = append(s.rows, Row{"tok": t, "name": "row"})
	}
	return s
}

func (s *fakeSession) provider() SessionProvider {
	return SessionProviderFunc(func(context.Context, ReadSpec) (Session, error) {
		return s, nil
	})
}

func (s *fakeSession) record(c fakeCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *fakeSession) Calls() []fakeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeCall(nil), s.calls...)
}

func (s *fakeSession) PartitionKey(_ context.Context, _, _ string) ([]string, error) {
	if s.pkErr != nil {
		return nil, s.pkErr
	}
	return s.partitionKey, nil
}

func (s *fakeSession) NewToken(v string) (Token, error) {
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return fakeToken(v), nil
}

func (s *fakeSession) Prepare(_ context.Context, query string) (Statement, error) {
	s.record(fakeCall{op: "prepare", query: query})
	if s.prepareErr != nil {
		return nil, s.prepareErr
	}
	return &fakeStatement{session: s, query: query}, nil
}

var splitLiteral = regexp.MustCompile(`token\([^)]*\) (<|>=) (-?\d+)\)$`)

func (s *fakeSession) Execute(_ context.Context, query string) (Rows, error) {
	s.record(fakeCall{op: "adhoc", query: query})
	if err := s.execErr[query]; err != nil {
		return nil, err
	}

	m := splitLiteral.FindStringSubmatch(query)
	if m == nil {
		return s.result(query, s.rows), nil
	}
	bound, _ := new(big.Int).SetString(m[2], 10)
	var out []Row
	for _, row := range s.rows {
		tok := big.NewInt(row["tok"].(int64))
		if (m[1] == "<" && tok.Cmp(bound) < 0) || (m[1] == ">=" && tok.Cmp(bound) >= 0) {
			out = append(out, row)
		}
	}
	return s.result(query, out), nil
}

func (s *fakeSession) result(query string, rows []Row) Rows {
	return &fakeRows{rows: rows, closeErr: s.closeErr[query]}
}

type fakeStatement struct {
	session *fakeSession
	query   string
}

func (st *fakeStatement) Execute(_ context.Context, bounds ...Token) (Rows, error) {
	c := fakeCall{op: "bound", query: st.query}
	for _, b := range bounds {
		c.bounds = append(c.bounds, b.String())
	}
	st.session.record(c)

	if err := st.session.execErr[st.query]; err != nil {
		return nil, err
	}
	if len(bounds) == 0 {
		return st.session.result(st.query, st.session.rows), nil
	}

	start, _ := new(big.Int).SetString(bounds[0].String(), 10)
	end, _ := new(big.Int).SetString(bounds[1].String(), 10)
	var out []Row
	for _, row := range st.session.rows {
		tok := big.NewInt(row["tok"].(int64))
		if tok.Cmp(start) >= 0 && tok.Cmp(end) < 0 {
			out = append(out, row)
		}
	}
	return st.session.result(st.query, out), nil
}

type fakeToken string

func (t fakeToken) String() string { return string(t) }

// -----------------------------------------------------------------------------
// Fake rows
// -----------------------------------------------------------------------------

type fakeRows struct {
	rows     []Row
	pos      int
	closeErr error
	closed   int
}

func (r *fakeRows) Next() (Row, bool) {
	if r.pos >= len(r.rows) {
		return nil, false
	}
	row := r.rows[r.pos]
	r.pos++
	return row, true
}

func (r *fakeRows) Close() error {
	r.closed++
	return r.closeErr
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

type collectSink struct {
	mu  sync.Mutex
	got []int64
	err error
}

func (c *collectSink) Emit(_ context.Context, v int64) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	c.got = append(c.got, v)
	c.mu.Unlock()
	return nil
}

func tokenMapper() MapperFactory[int64] {
	return func(Session) (Mapper[int64], error) {
		return MapperFunc[int64](func(row Row) (int64, error) {
			return row["tok"].(int64), nil
		}), nil
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	results []QueryResult
}

func (o *recordingObserver) QueryDone(r QueryResult) {
	o.mu.Lock()
	o.results = append(o.results, r)
	o.mu.Unlock()
}

var (
	errInjectedSyntax = errors.Join(ErrBoundarySyntax, errors.New("injected: line 1:60 no viable alternative"))
	errInjectedStore  = errors.New("injected: store unavailable")
)
