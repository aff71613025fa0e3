// Package accrual tracks the cumulative coupon index and per-holder
// high-water marks.
//
// A distribution never iterates holders. It raises one global counter,
// coupon-per-unit, and each holder's share is computed lazily as
//
//	balance × (cumulativeIndex − claimedIndex[holder]) / Scale
//
// so claiming costs O(1) regardless of the number of holders.
//
// INVARIANTS:
//   - cumulativeIndex never decreases
//   - claimedIndex[h] ≤ cumulativeIndex for every h
//   - accrued[h] is coupon already earned at an earlier balance and not yet paid
//
// Mutations are split into Plan* (validate and compute, no writes) and
// Apply/Checkpoint (infallible writes) so the caller can assemble an
// all-or-nothing transition across several components.
package accrual

import (
	"fmt"
	"sort"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
)

// DefaultCouponDenominator pays 1/1000 (0.1%) of outstanding supply per snapshot.
const DefaultCouponDenominator fixed.Amount = 1000

// Index is the global accrual state.
type Index struct {
	cumulative      fixed.Amount
	lastDistributed uint64
	denominator     fixed.Amount
	claimed         map[account.ID]fixed.Amount
	accrued         map[account.ID]fixed.Amount
}

// New creates an index paying supply/denominator per distribution.
func New(denominator fixed.Amount) *Index {
	if denominator == 0 {
		denominator = DefaultCouponDenominator
	}
	return &Index{
		denominator: denominator,
		claimed:     make(map[account.ID]fixed.Amount),
		accrued:     make(map[account.ID]fixed.Amount),
	}
}

// Cumulative returns the global coupon-per-unit index.
func (x *Index) Cumulative() fixed.Amount { return x.cumulative }

// LastDistributed returns the snapshot number most recently paid for.
func (x *Index) LastDistributed() uint64 { return x.lastDistributed }

// Denominator returns the coupon rate denominator.
func (x *Index) Denominator() fixed.Amount { return x.denominator }

// ClaimedIndex returns holder's high-water mark.
func (x *Index) ClaimedIndex(holder account.ID) fixed.Amount { return x.claimed[holder] }

// Accrued returns coupon checkpointed for holder but not yet paid.
func (x *Index) Accrued(holder account.ID) fixed.Amount { return x.accrued[holder] }

// Pending reports how many recorded snapshots await distribution.
func (x *Index) Pending(recordCount uint64) uint64 {
	if recordCount <= x.lastDistributed {
		return 0
	}
	return recordCount - x.lastDistributed
}

// Due returns the coupon owed on dueSupply for one distribution.
func (x *Index) Due(dueSupply fixed.Amount) (fixed.Amount, error) {
	return fixed.MulDiv(dueSupply, 1, x.denominator)
}

// Distribution is a validated, not yet applied, index update.
type Distribution struct {
	Record    uint64
	DueSupply fixed.Amount
	Amount    fixed.Amount
	Delta     fixed.Amount
	Index     fixed.Amount
}

// PlanDistribution validates a coupon payment for the latest snapshot.
// recordCount is the snapshot log length and dueSupply the supply captured
// by snapshot number recordCount.
func (x *Index) PlanDistribution(recordCount uint64, dueSupply, amount fixed.Amount) (Distribution, error) {
	if recordCount <= x.lastDistributed {
		return Distribution{}, fault.New(fault.CodeNothingPending,
			"record %d already distributed", x.lastDistributed)
	}
	due, err := x.Due(dueSupply)
	if err != nil {
		return Distribution{}, err
	}
	if amount != due {
		return Distribution{}, fault.New(fault.CodeAmountMismatch,
			"coupon for record %d is %s, got %s", recordCount, due, amount).
			With("due", due.String()).With("amount", amount.String())
	}

	d := Distribution{Record: recordCount, DueSupply: dueSupply, Amount: amount, Index: x.cumulative}
	if dueSupply == 0 {
		return d, nil
	}
	delta, err := fixed.MulDiv(amount, fixed.Scale, dueSupply)
	if err != nil {
		return Distribution{}, err
	}
	next, err := fixed.Add(x.cumulative, delta)
	if err != nil {
		return Distribution{}, err
	}
	d.Delta = delta
	d.Index = next
	return d, nil
}

// Apply commits a planned distribution.
func (x *Index) Apply(d Distribution) {
	x.cumulative = d.Index
	x.lastDistributed = d.Record
}

// Claimable returns everything holder may claim given its current balance.
func (x *Index) Claimable(holder account.ID, balance fixed.Amount) (fixed.Amount, error) {
	owed := x.accrued[holder]
	mark := x.claimed[holder]
	if mark >= x.cumulative || balance == 0 {
		return owed, nil
	}
	fresh, err := fixed.MulDiv(balance, x.cumulative-mark, fixed.Scale)
	if err != nil {
		return 0, err
	}
	return fixed.Add(owed, fresh)
}

// Checkpoint records owed as holder's unpaid coupon and raises its mark to
// the current index. owed must come from Claimable on the same state.
func (x *Index) Checkpoint(holder account.ID, owed fixed.Amount) {
	if owed == 0 {
		delete(x.accrued, holder)
	} else {
		x.accrued[holder] = owed
	}
	x.claimed[holder] = x.cumulative
}

// Settle marks holder fully paid at the current index.
func (x *Index) Settle(holder account.ID) {
	x.Checkpoint(holder, 0)
}

// Holders returns every identity with a recorded mark, sorted.
func (x *Index) Holders() []account.ID {
	ids := make([]account.ID, 0, len(x.claimed))
	for id := range x.claimed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CheckInvariants verifies claimedIndex ≤ cumulativeIndex for every holder.
func (x *Index) CheckInvariants() error {
	for h, mark := range x.claimed {
		if mark > x.cumulative {
			return fmt.Errorf("accrual: claimed index %s for %s above cumulative %s", mark, h, x.cumulative)
		}
	}
	return nil
}
