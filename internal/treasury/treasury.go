// Package treasury holds custody of the backing asset and enforces the reserve.
//
// The treasury balance is never stored: it is whatever the backing-asset
// collaborator reports for the custody account. What the treasury does
// own is the lifetime deposit total, which drives the reserve floor:
//
//	requiredReserve = totalDeposited × reservePercent / 100
//	withdrawable    = max(0, balance − requiredReserve)
package treasury

import (
	"context"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
)

// Defaults for the deployed instrument.
const (
	DefaultReservePercent fixed.Amount = 30
)

// DefaultCap is the issuance cap: 100,000 whole units.
var DefaultCap = fixed.Units(100_000)

// Asset is the backing-asset collaborator. Transfer either moves the full
// amount or fails without effect.
type Asset interface {
	BalanceOf(id account.ID) fixed.Amount
	Transfer(ctx context.Context, from, to account.ID, amount fixed.Amount) error
}

// Config holds the immutable treasury parameters.
type Config struct {
	Custody        account.ID
	Owner          account.ID
	Cap            fixed.Amount
	ReservePercent fixed.Amount
}

// Status is the treasury status tuple.
type Status struct {
	Balance         fixed.Amount `json:"balance"`
	RequiredReserve fixed.Amount `json:"required_reserve"`
	Withdrawable    fixed.Amount `json:"withdrawable"`
}

// Treasury tracks deposits against custody.
type Treasury struct {
	asset          Asset
	custody        account.ID
	owner          account.ID
	cap            fixed.Amount
	reservePercent fixed.Amount
	totalDeposited fixed.Amount
}

// New creates a treasury over asset.
func New(asset Asset, cfg Config) *Treasury {
	if cfg.Cap == 0 {
		cfg.Cap = DefaultCap
	}
	return &Treasury{
		asset:          asset,
		custody:        cfg.Custody,
		owner:          cfg.Owner,
		cap:            cfg.Cap,
		reservePercent: cfg.ReservePercent,
	}
}

// Custody returns the account holding the backing asset.
func (t *Treasury) Custody() account.ID { return t.custody }

// Owner returns the identity allowed to withdraw.
func (t *Treasury) Owner() account.ID { return t.owner }

// Cap returns the issuance cap.
func (t *Treasury) Cap() fixed.Amount { return t.cap }

// ReservePercent returns the reserve ratio in percent.
func (t *Treasury) ReservePercent() fixed.Amount { return t.reservePercent }

// TotalDeposited returns the lifetime deposit total.
func (t *Treasury) TotalDeposited() fixed.Amount { return t.totalDeposited }

// Balance returns the custody balance.
func (t *Treasury) Balance() fixed.Amount {
	return t.asset.BalanceOf(t.custody)
}

// RequiredReserve returns the balance the owner may not withdraw below.
func (t *Treasury) RequiredReserve() (fixed.Amount, error) {
	return fixed.MulDiv(t.totalDeposited, t.reservePercent, 100)
}

// Withdrawable returns max(0, balance − requiredReserve).
func (t *Treasury) Withdrawable() (fixed.Amount, error) {
	reserve, err := t.RequiredReserve()
	if err != nil {
		return 0, err
	}
	return fixed.SaturatingSub(t.Balance(), reserve), nil
}

// Status returns the (balance, requiredReserve, withdrawable) tuple.
func (t *Treasury) Status() (Status, error) {
	reserve, err := t.RequiredReserve()
	if err != nil {
		return Status{}, err
	}
	bal := t.Balance()
	return Status{
		Balance:         bal,
		RequiredReserve: reserve,
		Withdrawable:    fixed.SaturatingSub(bal, reserve),
	}, nil
}

// PlanDeposit validates a deposit and returns the new lifetime total.
func (t *Treasury) PlanDeposit(amount fixed.Amount) (fixed.Amount, error) {
	if amount == 0 {
		return 0, fault.New(fault.CodeInvalidAmount, "deposit amount is zero")
	}
	total, err := fixed.Add(t.totalDeposited, amount)
	if err != nil {
		return 0, err
	}
	if total > t.cap {
		return 0, fault.New(fault.CodeCapExceeded, "deposits would reach %s, cap is %s", total, t.cap).
			With("remaining", fixed.SaturatingSub(t.cap, t.totalDeposited).String())
	}
	return total, nil
}

// CommitDeposit stores a total returned by PlanDeposit.
func (t *Treasury) CommitDeposit(total fixed.Amount) {
	if total > t.totalDeposited {
		t.totalDeposited = total
	}
}

// CheckWithdraw validates an owner withdrawal against the reserve floor.
func (t *Treasury) CheckWithdraw(caller account.ID, amount fixed.Amount) error {
	if caller != t.owner {
		return fault.New(fault.CodeUnauthorized, "%s may not withdraw", caller)
	}
	if amount == 0 {
		return fault.New(fault.CodeInvalidAmount, "withdraw amount is zero")
	}
	avail, err := t.Withdrawable()
	if err != nil {
		return err
	}
	if amount > avail {
		return fault.New(fault.CodeExceedsWithdrawable, "withdrawable is %s, requested %s", avail, amount).
			With("withdrawable", avail.String())
	}
	return nil
}

// Pull moves amount from an external account into custody.
func (t *Treasury) Pull(ctx context.Context, from account.ID, amount fixed.Amount) error {
	if amount == 0 {
		return nil
	}
	if err := t.asset.Transfer(ctx, from, t.custody, amount); err != nil {
		return fault.Wrap(fault.CodeTransferFailed, err, "pull %s from %s", amount, from)
	}
	return nil
}

// Pay moves amount from custody to an external account.
func (t *Treasury) Pay(ctx context.Context, to account.ID, amount fixed.Amount) error {
	if amount == 0 {
		return nil
	}
	if bal := t.Balance(); bal < amount {
		return fault.New(fault.CodeTransferFailed, "custody holds %s, cannot pay %s", bal, amount).
			With("balance", bal.String())
	}
	if err := t.asset.Transfer(ctx, t.custody, to, amount); err != nil {
		return fault.Wrap(fault.CodeTransferFailed, err, "pay %s to %s", amount, to)
	}
	return nil
}
