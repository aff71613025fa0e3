package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/arcbond/bondengine/internal/asset"
	"github.com/arcbond/bondengine/internal/journal"
)

// # Replay
//
// A journal holds only committed transitions, so re-executing its entries in
// seq order against a fresh series at the recorded instants rebuilds the
// exact state. Replay runs against a sandboxed backing asset that funds any
// external account on demand: deposits and coupon payments come from
// outside the series and are not journaled, while every movement in or out
// of custody is. Custody therefore ends with the same balance as the
// original run.
//
// Each re-executed operation must produce an entry with the same content
// address as the recorded one. Any difference is a divergence and stops the
// replay.

// DomainState separates state digests from entry IDs.
const DomainState = "bondengine/state/v1"

// DivergenceError reports a replayed operation whose outcome differs from
// the journal.
type DivergenceError struct {
	Seq  int64
	Kind journal.Kind
	Want string
	Got  string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("replay diverged at seq=%d (%s): journal id %s, replay id %s", e.Seq, e.Kind, e.Want, e.Got)
}

// Replay rebuilds a series from its parameters and journal.
func Replay(ctx context.Context, params Params, entries []journal.Entry, opts ...Option) (*Engine, error) {
	at := params.IssuedAt
	sandbox := asset.New(params.AssetSymbol, asset.WithAutoFund())

	opts = append(opts,
		WithTimeSource(TimeFunc(func() time.Time { return at })),
		WithJournal(nil),
		WithClock(NewClock()),
	)
	e, err := New(params, sandbox, opts...)
	if err != nil {
		return nil, err
	}

	for _, want := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at = want.At
		if _, err := e.Execute(ctx, RequestOf(want)); err != nil {
			return nil, fmt.Errorf("replay seq=%d (%s): %w", want.Seq, want.Kind, err)
		}
		got, _ := e.LastEntry()
		if got.Seq != want.Seq || got.ID != want.ID {
			return nil, &DivergenceError{Seq: want.Seq, Kind: want.Kind, Want: want.ID, Got: got.ID}
		}
	}
	return e, nil
}

// Resume lets a replayed series keep committing: later entries are appended
// to j and stamped by ts. The replay sandbox remains the backing asset, so
// a resumed series is only fit for transitions that move no asset, such as
// snapshots.
func (e *Engine) Resume(j journal.Appender, ts TimeSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = j
	e.now = ts
}

// StateDigest hashes the full series state: every holder's balance, mark and
// accrued coupon, every snapshot, and the series-wide counters. Two engines
// with equal digests are indistinguishable through the query surface.
func (e *Engine) StateDigest() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	holders := map[string]any{}
	ids := append(e.tokens.Holders(), e.index.Holders()...)
	for _, h := range ids {
		holders[string(h)] = map[string]any{
			"balance": uint64(e.tokens.BalanceOf(h)),
			"claimed": uint64(e.index.ClaimedIndex(h)),
			"accrued": uint64(e.index.Accrued(h)),
		}
	}
	snaps := make([]any, 0, e.snaps.Count())
	for i := uint64(1); i <= e.snaps.Count(); i++ {
		rec, err := e.snaps.Get(i)
		if err != nil {
			return "", err
		}
		snaps = append(snaps, map[string]any{
			"total_supply":     uint64(rec.TotalSupply),
			"treasury_balance": uint64(rec.TreasuryBalance),
			"timestamp":        rec.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	data, err := journal.MarshalCanonical(map[string]any{
		"seq":              e.clock.Current(),
		"total_supply":     uint64(e.tokens.TotalSupply()),
		"total_deposited":  uint64(e.treasury.TotalDeposited()),
		"treasury_balance": uint64(e.treasury.Balance()),
		"cumulative_index": uint64(e.index.Cumulative()),
		"last_distributed": strconv.FormatUint(e.index.LastDistributed(), 10),
		"paused":           e.paused,
		"emergency":        e.emergency,
		"holders":          holders,
		"snapshots":        snaps,
	})
	if err != nil {
		return "", fmt.Errorf("state digest: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(DomainState))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
