package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arcbond/bondengine/internal/journal"
	"github.com/arcbond/bondengine/internal/query"
)

const selectEntries = `
	SELECT id, seq, op_id, kind, caller, holder, amount, flag, at, result
	FROM entries
`

// Entries returns every journal entry.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) Entries(ctx context.Context) ([]journal.Entry, error) {
	return s.queryEntries(ctx, selectEntries+orderEntries)
}

// EntriesByKind returns the entries of one operation kind, in seq order.
func (s *Store) EntriesByKind(ctx context.Context, kind journal.Kind) ([]journal.Entry, error) {
	return s.Query(ctx, query.Equals{Field: query.FieldKind, Value: string(kind)})
}

// ReadEntry retrieves a single entry by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEntry(ctx context.Context, id string) (journal.Entry, error) {
	r := s.db.QueryRowContext(ctx, selectEntries+`WHERE id = ?`, id)
	var rw row
	if err := r.Scan(&rw.id, &rw.seq, &rw.opID, &rw.kind, &rw.caller, &rw.holder, &rw.amount, &rw.flag, &rw.at, &rw.result); err != nil {
		return journal.Entry{}, err
	}
	return fromRow(rw)
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM entries`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]journal.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []journal.Entry{}
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.seq, &rw.opID, &rw.kind, &rw.caller, &rw.holder, &rw.amount, &rw.flag, &rw.at, &rw.result); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e, err := fromRow(rw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}
