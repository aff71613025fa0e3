// Package token implements the fungible claim-token balance ledger.
//
// Only the owner may mint or burn. At issuance the owner is handed to the
// settlement engine, so from then on supply only changes through deposits
// and redemptions.
//
// INVARIANT: sum(balances) == TotalSupply() after every call. Every
// mutating method validates fully before touching state, so a failed call
// leaves the ledger unchanged.
//
// Thread-safety: Ledger is not synchronized. The settlement engine is the
// single writer; other users must provide their own locking.
package token

import (
	"fmt"
	"sort"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
)

// Ledger is a mint/burn/transfer balance book.
type Ledger struct {
	name     string
	symbol   string
	owner    account.ID
	balances map[account.ID]fixed.Amount
	supply   fixed.Amount
}

// New creates an empty ledger owned by owner.
func New(name, symbol string, owner account.ID) *Ledger {
	return &Ledger{
		name:     name,
		symbol:   symbol,
		owner:    owner,
		balances: make(map[account.ID]fixed.Amount),
	}
}

// Name returns the token name.
func (l *Ledger) Name() string { return l.name }

// Symbol returns the token ticker.
func (l *Ledger) Symbol() string { return l.symbol }

// Owner returns the identity allowed to mint and burn.
func (l *Ledger) Owner() account.ID { return l.owner }

// TransferOwnership hands mint/burn rights to next.
func (l *Ledger) TransferOwnership(caller, next account.ID) error {
	if caller != l.owner {
		return fault.New(fault.CodeUnauthorized, "%s is not the token owner", caller)
	}
	if next.IsZero() {
		return fault.New(fault.CodeUnauthorized, "new owner is empty")
	}
	l.owner = next
	return nil
}

// Mint credits amount new units to holder.
func (l *Ledger) Mint(caller, holder account.ID, amount fixed.Amount) error {
	if caller != l.owner {
		return fault.New(fault.CodeUnauthorized, "%s may not mint", caller)
	}
	if amount == 0 {
		return fault.New(fault.CodeInvalidAmount, "mint amount is zero")
	}
	supply, err := fixed.Add(l.supply, amount)
	if err != nil {
		return err
	}
	bal, err := fixed.Add(l.balances[holder], amount)
	if err != nil {
		return err
	}
	l.supply = supply
	l.balances[holder] = bal
	return nil
}

// Burn destroys amount units held by holder.
func (l *Ledger) Burn(caller, holder account.ID, amount fixed.Amount) error {
	if caller != l.owner {
		return fault.New(fault.CodeUnauthorized, "%s may not burn", caller)
	}
	if amount == 0 {
		return fault.New(fault.CodeInvalidAmount, "burn amount is zero")
	}
	bal := l.balances[holder]
	if bal < amount {
		return insufficient(holder, bal, amount)
	}
	supply, err := fixed.Sub(l.supply, amount)
	if err != nil {
		return err
	}
	l.supply = supply
	l.set(holder, bal-amount)
	return nil
}

// Transfer moves amount units from one holder to another. Zero transfers
// are accepted and change nothing.
func (l *Ledger) Transfer(from, to account.ID, amount fixed.Amount) error {
	bal := l.balances[from]
	if bal < amount {
		return insufficient(from, bal, amount)
	}
	if amount == 0 || from == to {
		return nil
	}
	dest, err := fixed.Add(l.balances[to], amount)
	if err != nil {
		return err
	}
	l.set(from, bal-amount)
	l.balances[to] = dest
	return nil
}

// BalanceOf returns holder's balance.
func (l *Ledger) BalanceOf(holder account.ID) fixed.Amount {
	return l.balances[holder]
}

// TotalSupply returns the sum of all balances.
func (l *Ledger) TotalSupply() fixed.Amount {
	return l.supply
}

// Holders returns every identity with a non-zero balance, sorted.
func (l *Ledger) Holders() []account.ID {
	ids := make([]account.ID, 0, len(l.balances))
	for id := range l.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CheckConservation verifies sum(balances) == TotalSupply().
func (l *Ledger) CheckConservation() error {
	var sum fixed.Amount
	for _, bal := range l.balances {
		next, err := fixed.Add(sum, bal)
		if err != nil {
			return err
		}
		sum = next
	}
	if sum != l.supply {
		return fmt.Errorf("token %s: balances sum %s != supply %s", l.symbol, sum, l.supply)
	}
	return nil
}

func (l *Ledger) set(holder account.ID, bal fixed.Amount) {
	if bal == 0 {
		delete(l.balances, holder)
		return
	}
	l.balances[holder] = bal
}

func insufficient(holder account.ID, have, want fixed.Amount) *fault.Error {
	return fault.New(fault.CodeInsufficientBalance, "%s holds %s, needs %s", holder, have, want).
		With("holder", holder.String())
}
