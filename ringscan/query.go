package ringscan

import (
	"fmt"
	"math/big"
	"strings"
)

// PartitionKeyExpr joins partition key columns into the argument list of
// token(...).
func PartitionKeyExpr(columns []string) string {
	return strings.Join(columns, ",")
}

// BaseQuery returns the statement a range filter is appended to.
//
// Without a user query it is "SELECT * FROM <keyspace>.<table> WHERE ",
// whether or not a filter follows. A user query is returned verbatim, joined
// to a following filter with " AND " when it already has a WHERE clause (any
// case) and with " WHERE " otherwise.
func BaseQuery(spec ReadSpec, hasRangeFilter bool) string {
	if spec.Query == "" {
		return fmt.Sprintf("SELECT * FROM %s.%s", spec.Keyspace, spec.Table) + " WHERE "
	}
	if !hasRangeFilter {
		return spec.Query
	}
	if strings.Contains(strings.ToUpper(spec.Query), "WHERE") {
		return spec.Query + " AND "
	}
	return spec.Query + " WHERE "
}

// RangeQuery returns the preparable query for non-wrapping ranges. With
// hasRanges it carries two placeholders, bound to the start and end tokens in
// that order; without it the query selects the whole table.
func RangeQuery(spec ReadSpec, partitionKey string, hasRanges bool) string {
	if !hasRanges {
		return BaseQuery(spec, false)
	}
	filter := fmt.Sprintf("(token(%s) >= ?)", partitionKey) +
		" AND " +
		fmt.Sprintf("(token(%s) < ?)", partitionKey)
	return BaseQuery(spec, true) + filter
}

// LowSplitQuery returns the query for the low half of a wrapping range: every
// token strictly below lowest. The bound is inlined as a literal.
func LowSplitQuery(spec ReadSpec, partitionKey string, lowest *big.Int) string {
	return BaseQuery(spec, true) + fmt.Sprintf("(token(%s) < %s)", partitionKey, lowest.String())
}

// HighSplitQuery returns the query for the high half of a wrapping range:
// every token at or above highest. The bound is inlined as a literal.
func HighSplitQuery(spec ReadSpec, partitionKey string, highest *big.Int) string {
	return BaseQuery(spec, true) + fmt.Sprintf("(token(%s) >= %s)", partitionKey, highest.String())
}
