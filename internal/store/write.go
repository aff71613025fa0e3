package store

import (
	"context"
	"fmt"

	"github.com/arcbond/bondengine/internal/journal"
)

// Append inserts a journal entry.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
// A different entry at an existing seq violates the seq index and returns an error.
//
// The entry's ID must match its content.
func (s *Store) Append(ctx context.Context, e journal.Entry) error {
	if err := journal.Verify(e); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	r, err := toRow(e)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries
		(id, seq, op_id, kind, caller, holder, amount, flag, at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.id,
		r.seq,
		r.opID,
		r.kind,
		r.caller,
		r.holder,
		r.amount,
		r.flag,
		r.at,
		r.result,
	)
	if err != nil {
		return fmt.Errorf("append entry seq=%d: %w", e.Seq, err)
	}

	return nil
}
