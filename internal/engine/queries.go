package engine

import (
	"fmt"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/snapshot"
	"github.com/arcbond/bondengine/internal/treasury"
)

// SeriesInfo is the read model of the series.
type SeriesInfo struct {
	Name                  string       `json:"name"`
	Symbol                string       `json:"symbol"`
	Owner                 account.ID   `json:"owner"`
	IssuedAt              time.Time    `json:"issued_at"`
	Maturity              time.Time    `json:"maturity"`
	Cap                   fixed.Amount `json:"cap"`
	TotalDeposited        fixed.Amount `json:"total_deposited"`
	TotalSupply           fixed.Amount `json:"total_supply"`
	RecordCount           uint64       `json:"record_count"`
	LastDistributedRecord uint64       `json:"last_distributed_record"`
	CumulativeIndex       fixed.Amount `json:"cumulative_index"`
	EmergencyMode         bool         `json:"emergency_mode"`
	Paused                bool         `json:"paused"`
}

// SeriesInfo returns a consistent view of the series.
func (e *Engine) SeriesInfo() SeriesInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return SeriesInfo{
		Name:                  e.params.Name,
		Symbol:                e.params.Symbol,
		Owner:                 e.params.Owner,
		IssuedAt:              e.params.IssuedAt,
		Maturity:              e.maturity,
		Cap:                   e.treasury.Cap(),
		TotalDeposited:        e.treasury.TotalDeposited(),
		TotalSupply:           e.tokens.TotalSupply(),
		RecordCount:           e.snaps.Count(),
		LastDistributedRecord: e.index.LastDistributed(),
		CumulativeIndex:       e.index.Cumulative(),
		EmergencyMode:         e.emergency,
		Paused:                e.paused,
	}
}

// TreasuryStatus returns (balance, requiredReserve, withdrawable).
func (e *Engine) TreasuryStatus() (treasury.Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.treasury.Status()
}

// ClaimableAmount returns the coupon holder could claim now.
func (e *Engine) ClaimableAmount(holder account.ID) (fixed.Amount, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Claimable(holder, e.tokens.BalanceOf(holder))
}

// ClaimedIndex returns holder's high-water mark on the cumulative index.
func (e *Engine) ClaimedIndex(holder account.ID) fixed.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.ClaimedIndex(holder)
}

// Snapshot returns record i (1-based).
func (e *Engine) Snapshot(i uint64) (snapshot.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snaps.Get(i)
}

// Paused reports whether deposits are paused.
func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// EmergencyMode reports whether early redemption is enabled.
func (e *Engine) EmergencyMode() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.emergency
}

// BalanceOf returns holder's claim-token balance.
func (e *Engine) BalanceOf(holder account.ID) fixed.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tokens.BalanceOf(holder)
}

// TotalSupply returns the outstanding claim-token supply.
func (e *Engine) TotalSupply() fixed.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tokens.TotalSupply()
}

// Holders returns every identity with a non-zero balance, sorted.
func (e *Engine) Holders() []account.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tokens.Holders()
}

// NextRecordTime returns the earliest instant RecordSnapshot will succeed.
func (e *Engine) NextRecordTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snaps.NextRecordTime()
}

// RecordCount returns the number of snapshots taken.
func (e *Engine) RecordCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snaps.Count()
}

// LastDistributedRecord returns the snapshot most recently paid for.
func (e *Engine) LastDistributedRecord() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.LastDistributed()
}

// PendingDistributions returns recordCount − lastDistributedRecord.
func (e *Engine) PendingDistributions() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Pending(e.snaps.Count())
}

// CouponDue returns the exact amount DistributeCoupon expects next.
//
// Errors: NothingPending when every snapshot has been paid for.
func (e *Engine) CouponDue() (fixed.Amount, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index.Pending(e.snaps.Count()) == 0 {
		return 0, fault.New(fault.CodeNothingPending, "record %d already distributed", e.index.LastDistributed())
	}
	rec, _ := e.snaps.Latest()
	return e.index.Due(rec.TotalSupply)
}

// RedeemPreview returns what Redeem(holder, amount) would pay now, without
// checking maturity.
func (e *Engine) RedeemPreview(holder account.ID, amount fixed.Amount) (RedeemResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if amount == 0 {
		return RedeemResult{}, fault.New(fault.CodeInvalidAmount, "redeem amount is zero")
	}
	return e.previewRedeem(holder, amount)
}

// CheckInvariants verifies the series-wide invariants. Used by tests and the
// scenario harness after every step.
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.tokens.CheckConservation(); err != nil {
		return err
	}
	if err := e.index.CheckInvariants(); err != nil {
		return err
	}
	if td := e.treasury.TotalDeposited(); td > e.treasury.Cap() {
		return fmt.Errorf("treasury: total deposited %s above cap %s", td, e.treasury.Cap())
	}
	return nil
}
