package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/arcbond/bondengine/internal/journal"
	"github.com/arcbond/bondengine/internal/query"
)

// orderEntries is appended to every entry query so results are
// deterministic: seq first, then id with COLLATE BINARY.
const orderEntries = ` ORDER BY seq ASC, id COLLATE BINARY ASC`

// columns maps filterable fields to entry columns. Field names never reach
// the SQL text unless they are listed here.
var columns = map[string]string{
	query.FieldKind:   "kind",
	query.FieldCaller: "caller",
	query.FieldHolder: "holder",
}

// compileQuery converts a predicate to a parameterized SELECT over entries.
// Values are always bound as ? parameters, never interpolated.
func compileQuery(p query.Predicate) (string, []any, error) {
	if err := query.Validate(p); err != nil {
		return "", nil, err
	}
	where, params, err := compilePredicate(p)
	if err != nil {
		return "", nil, err
	}
	sql := selectEntries
	if where != "" {
		sql += " WHERE " + where
	}
	return sql + orderEntries, params, nil
}

// compilePredicate returns a WHERE fragment, or "" for always-true.
func compilePredicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "", nil, nil
	case query.Equals:
		col, ok := columns[pred.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported field %q", pred.Field)
		}
		return col + " = ?", []any{pred.Value}, nil
	case query.SeqRange:
		var parts []string
		var params []any
		if pred.From != 0 {
			parts = append(parts, "seq >= ?")
			params = append(params, pred.From)
		}
		if pred.To != 0 {
			parts = append(parts, "seq <= ?")
			params = append(params, pred.To)
		}
		return strings.Join(parts, " AND "), params, nil
	case query.And:
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if sql == "" {
				continue
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// Query returns the entries matching p in seq order.
func (s *Store) Query(ctx context.Context, p query.Predicate) ([]journal.Entry, error) {
	sql, params, err := compileQuery(p)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	return s.queryEntries(ctx, sql, params...)
}

// Query returns the entries matching p in seq order. Badger has no
// secondary indexes, so the filter runs over a full scan.
func (b *BadgerJournal) Query(ctx context.Context, p query.Predicate) ([]journal.Entry, error) {
	if err := query.Validate(p); err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	entries, err := b.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return query.Apply(p, entries), nil
}
