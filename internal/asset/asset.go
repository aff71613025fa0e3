// Package asset provides an in-process backing-asset ledger.
//
// It is the stand-in for an external stablecoin: accounts are funded through
// a faucet, and Transfer moves balances atomically. The settlement engine
// talks to it only through treasury.Asset, so any other implementation that
// honors all-or-nothing transfers can replace it.
package asset

import (
	"context"
	"sync"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/token"
)

// minter owns the underlying token book. It is not a valid account.Parse
// result, so no caller can collide with it.
const minter account.ID = "<faucet>"

// Option configures a Ledger.
type Option func(*Ledger)

// WithAutoFund makes Transfer mint any shortfall into the sender first.
// Used by replay, where external funding is not part of the journal.
func WithAutoFund() Option {
	return func(l *Ledger) {
		l.autoFund = true
	}
}

// Ledger is a mutex-guarded balance book for the backing asset.
type Ledger struct {
	mu       sync.Mutex
	book     *token.Ledger
	autoFund bool
	fail     error
}

// New creates an empty backing-asset ledger.
func New(symbol string, opts ...Option) *Ledger {
	l := &Ledger{book: token.New(symbol, symbol, minter)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fund credits amount to id out of thin air.
func (l *Ledger) Fund(id account.ID, amount fixed.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.book.Mint(minter, id, amount)
}

// BalanceOf returns id's balance.
func (l *Ledger) BalanceOf(id account.ID) fixed.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.book.BalanceOf(id)
}

// TotalSupply returns the total amount ever funded and not withdrawn.
func (l *Ledger) TotalSupply() fixed.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.book.TotalSupply()
}

// Transfer moves amount from one account to another, or fails without effect.
func (l *Ledger) Transfer(ctx context.Context, from, to account.ID, amount fixed.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail != nil {
		return l.fail
	}
	if l.autoFund {
		if have := l.book.BalanceOf(from); have < amount {
			if err := l.book.Mint(minter, from, amount-have); err != nil {
				return err
			}
		}
	}
	if err := l.book.Transfer(from, to, amount); err != nil {
		if fault.Is(err, fault.CodeInsufficientBalance) {
			return fault.New(fault.CodeInsufficientBalance, "%s cannot cover %s", from, amount).
				With("holder", from.String())
		}
		return err
	}
	return nil
}

// FailTransfers makes every subsequent Transfer return err until called with nil.
func (l *Ledger) FailTransfers(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}
