// Package journal defines the append-only record of committed ledger
// transitions.
//
// Each successful mutation of the settlement engine becomes one Entry,
// stamped with the engine's logical sequence number and a content-addressed
// ID. Rejected operations are not journaled: a failure changes no state,
// so replaying the entries alone reproduces the ledger exactly.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fixed"
)

// DomainEntry separates entry hashes from any other SHA-256 use.
// The version suffix allows a future change of the canonical form.
const DomainEntry = "bondengine/entry/v1"

// Kind names a ledger operation.
type Kind string

const (
	KindDeposit          Kind = "deposit"
	KindRecordSnapshot   Kind = "record_snapshot"
	KindDistributeCoupon Kind = "distribute_coupon"
	KindClaimCoupon      Kind = "claim_coupon"
	KindRedeem           Kind = "redeem"
	KindOwnerWithdraw    Kind = "owner_withdraw"
	KindOwnerDeposit     Kind = "owner_deposit"
	KindPause            Kind = "pause"
	KindUnpause          Kind = "unpause"
	KindSetEmergencyMode Kind = "set_emergency_mode"
	KindTransfer         Kind = "transfer"
)

// Kinds lists every operation kind.
func Kinds() []Kind {
	return []Kind{
		KindDeposit,
		KindRecordSnapshot,
		KindDistributeCoupon,
		KindClaimCoupon,
		KindRedeem,
		KindOwnerWithdraw,
		KindOwnerDeposit,
		KindPause,
		KindUnpause,
		KindSetEmergencyMode,
		KindTransfer,
	}
}

// ParseKind maps a string to a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Entry is one committed transition.
//
// Holder is the second party of the operation: the depositor, claimant or
// redeemer, the recipient of a withdrawal or transfer. Result carries the
// operation's outputs as decimal strings.
type Entry struct {
	Seq    int64             `json:"seq"`
	ID     string            `json:"id"`
	OpID   string            `json:"op_id"`
	Kind   Kind              `json:"kind"`
	Caller account.ID        `json:"caller"`
	Holder account.ID        `json:"holder,omitempty"`
	Amount fixed.Amount      `json:"amount"`
	Flag   bool              `json:"flag,omitempty"`
	At     time.Time         `json:"at"`
	Result map[string]string `json:"result,omitempty"`
}

// Canonical returns the canonical JSON of everything the ID covers.
//
// OpID is excluded: it correlates logs with entries but says nothing about
// what happened, and a replay assigns fresh ones.
func (e Entry) Canonical() ([]byte, error) {
	result := make(map[string]any, len(e.Result))
	for k, v := range e.Result {
		result[k] = v
	}
	return MarshalCanonical(map[string]any{
		"seq":    e.Seq,
		"kind":   string(e.Kind),
		"caller": string(e.Caller),
		"holder": string(e.Holder),
		"amount": uint64(e.Amount),
		"flag":   e.Flag,
		"at":     e.At.UTC().Format(time.RFC3339Nano),
		"result": result,
	})
}

// EntryID computes the content address of e.
// Format: hex(SHA256(DomainEntry + 0x00 + canonical)).
func EntryID(e Entry) (string, error) {
	data, err := e.Canonical()
	if err != nil {
		return "", fmt.Errorf("EntryID: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainEntry))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Seal returns e with its ID filled in.
func Seal(e Entry) (Entry, error) {
	id, err := EntryID(e)
	if err != nil {
		return Entry{}, err
	}
	e.ID = id
	return e, nil
}

// Verify reports whether e.ID matches its content.
func Verify(e Entry) error {
	id, err := EntryID(e)
	if err != nil {
		return err
	}
	if id != e.ID {
		return fmt.Errorf("entry seq=%d: id %s does not match content %s", e.Seq, e.ID, id)
	}
	return nil
}

// Appender receives committed entries.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Journal is a persistent entry log that also carries the series parameters
// needed to rebuild an engine.
type Journal interface {
	Appender
	Entries(ctx context.Context) ([]Entry, error)
	SaveParams(ctx context.Context, data []byte) error
	LoadParams(ctx context.Context) ([]byte, error)
	Close() error
}

// Filter returns the entries of the given kind, preserving order.
func Filter(entries []Entry, kind Kind) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Memory is an in-process Journal. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	seen    map[string]bool
	params  []byte
}

// NewMemory creates an empty in-process journal.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]bool)}
}

// Append adds e unless an entry with the same ID exists.
func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[e.ID] {
		return nil
	}
	m.seen[e.ID] = true
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns all entries ordered by (seq, id).
func (m *Memory) Entries(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// SaveParams stores the series parameters.
func (m *Memory) SaveParams(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = append([]byte(nil), data...)
	return nil
}

// LoadParams returns the stored series parameters, or nil.
func (m *Memory) LoadParams(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.params == nil {
		return nil, nil
	}
	return append([]byte(nil), m.params...), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
