// Package cql provides a ringscan.Session backed by gocql for Cassandra and
// compatible stores (ScyllaDB, Astra via its CQL endpoint).
//
// # Error mapping
//
// Server syntax errors (protocol code 0x2000) are wrapped with
// ringscan.ErrBoundarySyntax. gocql reports query errors lazily, so they
// surface from Rows.Close rather than from Execute.
//
// # Tokens
//
// Tokens are validated against the cluster partitioner. Murmur3 tokens bind
// as bigint, RandomPartitioner tokens as varint.
package cql

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gocql/gocql"

	"github.com/pithecene-io/ringscan/ringscan"
)

// metadataSource is the subset of *gocql.Session used for schema lookups.
type metadataSource interface {
	KeyspaceMetadata(keyspace string) (*gocql.KeyspaceMetadata, error)
}

// scanner is the subset of *gocql.Iter read by rows.
type scanner interface {
	MapScan(m map[string]any) bool
	Close() error
}

// execFunc runs stmt with values and returns its lazily fetched result.
type execFunc func(ctx context.Context, stmt string, values ...any) scanner

func gocqlExec(gs *gocql.Session) execFunc {
	return func(ctx context.Context, stmt string, values ...any) scanner {
		return gs.Query(stmt, values...).WithContext(ctx).Iter()
	}
}

// -----------------------------------------------------------------------------
// Provider
// -----------------------------------------------------------------------------

// Provider implements ringscan.SessionProvider. It connects on first use and
// shares the resulting gocql session, which is safe for concurrent use.
type Provider struct {
	cluster     *gocql.ClusterConfig
	partitioner ringscan.Partitioner

	mu      sync.Mutex
	session *Session
}

// NewProvider creates a provider for the configured cluster.
func NewProvider(cfg ClientConfig) (*Provider, error) {
	cluster, err := NewCluster(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{
		cluster:     cluster,
		partitioner: ringscan.Partitioner(cfg.Partitioner),
	}, nil
}

// Session returns the shared session, connecting if needed.
func (p *Provider) Session(ctx context.Context, _ ringscan.ReadSpec) (ringscan.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return p.session, nil
	}

	gs, err := p.cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cql: create session: %w", err)
	}

	part := p.partitioner
	if part == "" {
		var name string
		if err := gs.Query("SELECT partitioner FROM system.local").WithContext(ctx).Scan(&name); err != nil {
			gs.Close()
			return nil, fmt.Errorf("cql: resolve partitioner: %w", err)
		}
		part = ringscan.Partitioner(name)
	}

	p.session = &Session{gs: gs, meta: gs, exec: gocqlExec(gs), partitioner: part}
	return p.session, nil
}

// Close releases the underlying connection pool.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.gs.Close()
		p.session = nil
	}
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// Session implements ringscan.Session over a gocql session.
type Session struct {
	gs          *gocql.Session
	meta        metadataSource
	exec        execFunc
	partitioner ringscan.Partitioner
}

// Partitioner returns the partitioner tokens are validated against.
func (s *Session) Partitioner() ringscan.Partitioner {
	return s.partitioner
}

// PartitionKey returns the partition key columns of keyspace.table in
// declaration order.
func (s *Session) PartitionKey(_ context.Context, keyspace, table string) ([]string, error) {
	ks, err := s.meta.KeyspaceMetadata(keyspace)
	if err != nil {
		return nil, fmt.Errorf("cql: keyspace %q metadata: %w", keyspace, err)
	}
	tm, ok := ks.Tables[table]
	if !ok || tm == nil {
		return nil, fmt.Errorf("cql: table %s.%s not found", keyspace, table)
	}
	cols := make([]string, 0, len(tm.PartitionKey))
	for _, c := range tm.PartitionKey {
		cols = append(cols, c.Name)
	}
	return cols, nil
}

// NewToken parses a token and checks it lies on the partitioner's ring.
func (s *Session) NewToken(v string) (ringscan.Token, error) {
	return newToken(s.partitioner, v)
}

// Prepare returns a statement for query. gocql prepares bound statements on
// first execution and caches them per connection.
func (s *Session) Prepare(_ context.Context, query string) (ringscan.Statement, error) {
	return &statement{exec: s.exec, query: driverQuery(query)}, nil
}

// Execute runs an ad hoc query.
func (s *Session) Execute(ctx context.Context, query string) (ringscan.Rows, error) {
	return &rows{iter: s.exec(ctx, driverQuery(query))}, nil
}

// driverQuery drops a trailing WHERE with no condition after it, which the
// whole-table query carries and the server rejects as a syntax error.
func driverQuery(query string) string {
	trimmed := strings.TrimRightFunc(query, unicode.IsSpace)
	const where = "WHERE"
	if len(trimmed) <= len(where) || !strings.EqualFold(trimmed[len(trimmed)-len(where):], where) {
		return query
	}
	head := trimmed[:len(trimmed)-len(where)]
	if !unicode.IsSpace(rune(head[len(head)-1])) {
		return query
	}
	return strings.TrimRightFunc(head, unicode.IsSpace)
}

type statement struct {
	exec  execFunc
	query string
}

func (st *statement) Execute(ctx context.Context, bounds ...ringscan.Token) (ringscan.Rows, error) {
	values := make([]any, len(bounds))
	for i, b := range bounds {
		values[i] = bindValue(b)
	}
	return &rows{iter: st.exec(ctx, st.query, values...)}, nil
}

// -----------------------------------------------------------------------------
// Rows
// -----------------------------------------------------------------------------

type rows struct {
	iter scanner
}

func (r *rows) Next() (ringscan.Row, bool) {
	m := make(map[string]any)
	if !r.iter.MapScan(m) {
		return nil, false
	}
	return ringscan.Row(m), true
}

func (r *rows) Close() error {
	return classify(r.iter.Close())
}

// classify wraps server syntax errors with ringscan.ErrBoundarySyntax.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) && reqErr.Code() == gocql.ErrCodeSyntax {
		return fmt.Errorf("%w: %w", ringscan.ErrBoundarySyntax, err)
	}
	return err
}

// -----------------------------------------------------------------------------
// Tokens
// -----------------------------------------------------------------------------

type murmur3Token int64

func (t murmur3Token) String() string { return strconv.FormatInt(int64(t), 10) }

type randomToken struct{ v *big.Int }

func (t randomToken) String() string { return t.v.String() }

func newToken(p ringscan.Partitioner, v string) (ringscan.Token, error) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", ringscan.ErrInvalidToken, v)
	}
	if _, _, ok := p.Bounds(); !ok {
		return nil, fmt.Errorf("%w: partitioner %q has no integer tokens", ringscan.ErrInvalidToken, p)
	}
	if !p.Contains(n) {
		return nil, fmt.Errorf("%w: %s outside the %s ring", ringscan.ErrInvalidToken, v, p)
	}
	if p.Canonical() == ringscan.Murmur3Partitioner {
		return murmur3Token(n.Int64()), nil
	}
	return randomToken{v: n}, nil
}

func bindValue(t ringscan.Token) any {
	switch v := t.(type) {
	case murmur3Token:
		return int64(v)
	case randomToken:
		return v.v
	default:
		return t.String()
	}
}
