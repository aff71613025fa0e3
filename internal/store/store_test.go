package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates a sealed entry with minimal required fields.
func createTestEntry(t *testing.T, seq int64, kind journal.Kind, amount fixed.Amount) journal.Entry {
	t.Helper()
	e, err := journal.Seal(journal.Entry{
		Seq:    seq,
		OpID:   "op-test",
		Kind:   kind,
		Caller: account.ID("alice"),
		Holder: account.ID("alice"),
		Amount: amount,
		At:     time.Date(2025, 1, 1, 0, 0, int(seq), 0, time.UTC),
		Result: map[string]string{"minted": amount.String()},
	})
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	return e
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"entries", "series_params"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_entries_kind'",
	).Scan(&name)
	if err != nil {
		t.Errorf("migration index missing: %v", err)
	}
}

func TestAppend_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := createTestEntry(t, 1, journal.KindDeposit, fixed.Units(2))
	if err := s.Append(ctx, want); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	got, err := s.ReadEntry(ctx, want.ID)
	if err != nil {
		t.Fatalf("ReadEntry() failed: %v", err)
	}
	if got.ID != want.ID || got.Amount != want.Amount || !got.At.Equal(want.At) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	if got.Result["minted"] != "2.000000" {
		t.Errorf("result = %v", got.Result)
	}
}

func TestAppend_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntry(t, 1, journal.KindDeposit, fixed.Units(2))
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append() #%d failed: %v", i, err)
		}
	}

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}
}

func TestAppend_RejectsSeqConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, createTestEntry(t, 1, journal.KindDeposit, fixed.Units(2))); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if err := s.Append(ctx, createTestEntry(t, 1, journal.KindDeposit, fixed.Units(3))); err == nil {
		t.Error("expected error for a second entry at seq 1")
	}
}

func TestAppend_RejectsForgedID(t *testing.T) {
	s := createTestStore(t)
	e := createTestEntry(t, 1, journal.KindDeposit, fixed.Units(2))
	e.Amount = fixed.Units(200)

	if err := s.Append(context.Background(), e); err == nil {
		t.Error("expected error for entry whose id does not match its content")
	}
}

func TestEntries_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, seq := range []int64{3, 1, 2} {
		if err := s.Append(ctx, createTestEntry(t, seq, journal.KindDeposit, fixed.Units(uint64(seq)))); err != nil {
			t.Fatalf("Append(seq=%d) failed: %v", seq, err)
		}
	}

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Errorf("entries[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}

	last, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if last != 3 {
		t.Errorf("LastSeq() = %d, want 3", last)
	}
}

func TestEntries_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	entries, err := s.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if entries == nil {
		t.Error("Entries() returned nil, want empty slice")
	}
	last, err := s.LastSeq(context.Background())
	if err != nil || last != 0 {
		t.Errorf("LastSeq() = %d, %v; want 0, nil", last, err)
	}
}

func TestEntriesByKind(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, kind := range []journal.Kind{journal.KindDeposit, journal.KindPause, journal.KindDeposit} {
		if err := s.Append(ctx, createTestEntry(t, int64(i+1), kind, fixed.Units(1))); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	deposits, err := s.EntriesByKind(ctx, journal.KindDeposit)
	if err != nil {
		t.Fatalf("EntriesByKind() failed: %v", err)
	}
	if len(deposits) != 2 || deposits[0].Seq != 1 || deposits[1].Seq != 3 {
		t.Errorf("deposits = %+v", deposits)
	}
}

func TestParams(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	got, err := s.LoadParams(ctx)
	if err != nil || got != nil {
		t.Fatalf("LoadParams() on empty store = %q, %v", got, err)
	}

	for _, data := range []string{`{"name":"a"}`, `{"name":"b"}`} {
		if err := s.SaveParams(ctx, []byte(data)); err != nil {
			t.Fatalf("SaveParams() failed: %v", err)
		}
	}
	got, err = s.LoadParams(ctx)
	if err != nil {
		t.Fatalf("LoadParams() failed: %v", err)
	}
	if string(got) != `{"name":"b"}` {
		t.Errorf("LoadParams() = %s", got)
	}
}

func TestReopenPreservesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Append(ctx, createTestEntry(t, 1, journal.KindDeposit, fixed.Units(2))); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries after reopen, want 1", len(entries))
	}
}
