package store

import (
	"context"
	"testing"

	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
)

func createTestBadger(t *testing.T, path string) *BadgerJournal {
	t.Helper()
	b, err := OpenBadger(path)
	if err != nil {
		t.Fatalf("OpenBadger() failed: %v", err)
	}
	return b
}

func TestBadger_AppendAndEntries(t *testing.T) {
	b := createTestBadger(t, "")
	defer b.Close()
	ctx := context.Background()

	for _, seq := range []int64{2, 10, 1} {
		if err := b.Append(ctx, createTestEntry(t, seq, journal.KindDeposit, fixed.Units(uint64(seq)))); err != nil {
			t.Fatalf("Append(seq=%d) failed: %v", seq, err)
		}
	}

	entries, err := b.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	want := []int64{1, 2, 10}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Seq != want[i] {
			t.Errorf("entries[%d].Seq = %d, want %d", i, e.Seq, want[i])
		}
	}
	if entries[2].Amount != fixed.Units(10) {
		t.Errorf("amount = %s", entries[2].Amount)
	}
}

func TestBadger_Idempotent(t *testing.T) {
	b := createTestBadger(t, "")
	defer b.Close()
	ctx := context.Background()

	e := createTestEntry(t, 1, journal.KindDeposit, fixed.Units(2))
	for i := 0; i < 2; i++ {
		if err := b.Append(ctx, e); err != nil {
			t.Fatalf("Append() #%d failed: %v", i, err)
		}
	}
	if err := b.Append(ctx, createTestEntry(t, 1, journal.KindDeposit, fixed.Units(5))); err == nil {
		t.Error("expected seq conflict")
	}

	entries, err := b.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}
}

func TestBadger_Params(t *testing.T) {
	b := createTestBadger(t, "")
	defer b.Close()
	ctx := context.Background()

	got, err := b.LoadParams(ctx)
	if err != nil || got != nil {
		t.Fatalf("LoadParams() on empty journal = %q, %v", got, err)
	}
	if err := b.SaveParams(ctx, []byte(`{"name":"x"}`)); err != nil {
		t.Fatalf("SaveParams() failed: %v", err)
	}
	got, err = b.LoadParams(ctx)
	if err != nil {
		t.Fatalf("LoadParams() failed: %v", err)
	}
	if string(got) != `{"name":"x"}` {
		t.Errorf("LoadParams() = %s", got)
	}
}

func TestBadger_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := createTestBadger(t, dir)
	if err := b.Append(ctx, createTestEntry(t, 1, journal.KindPause, 0)); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	b = createTestBadger(t, dir)
	defer b.Close()
	entries, err := b.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindPause {
		t.Errorf("entries after reopen = %+v", entries)
	}
}
