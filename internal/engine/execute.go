package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
)

// Request is a serialized operation. It is what a journal entry records
// about its input, and what scenario files describe.
//
// Holder-side operations (deposit, claim_coupon, redeem) act for Holder,
// falling back to Caller when Holder is empty. Transfer moves from Caller
// to Holder.
type Request struct {
	Kind   journal.Kind
	Caller account.ID
	Holder account.ID
	Amount fixed.Amount
	Flag   bool
}

// RequestOf recovers the request that produced a journal entry.
func RequestOf(e journal.Entry) Request {
	return Request{Kind: e.Kind, Caller: e.Caller, Holder: e.Holder, Amount: e.Amount, Flag: e.Flag}
}

func (r Request) subject() account.ID {
	if r.Holder.IsZero() {
		return r.Caller
	}
	return r.Holder
}

// Execute dispatches r to the matching operation and returns its outputs in
// the same string form the journal records.
func (e *Engine) Execute(ctx context.Context, r Request) (map[string]string, error) {
	switch r.Kind {
	case journal.KindDeposit:
		minted, err := e.Deposit(ctx, r.subject(), r.Amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"minted": minted.String()}, nil

	case journal.KindRecordSnapshot:
		res, err := e.RecordSnapshot(ctx, r.Caller)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"record":           strconv.FormatUint(res.Number, 10),
			"total_supply":     res.Record.TotalSupply.String(),
			"treasury_balance": res.Record.TreasuryBalance.String(),
		}, nil

	case journal.KindDistributeCoupon:
		res, err := e.DistributeCoupon(ctx, r.Caller, r.Amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"record": strconv.FormatUint(res.Record, 10),
			"delta":  res.Delta.String(),
			"index":  res.Index.String(),
		}, nil

	case journal.KindClaimCoupon:
		claimed, err := e.ClaimCoupon(ctx, r.subject())
		if err != nil {
			return nil, err
		}
		return map[string]string{"claimed": claimed.String()}, nil

	case journal.KindRedeem:
		res, err := e.Redeem(ctx, r.subject(), r.Amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"coupon":    res.Coupon.String(),
			"principal": res.Principal.String(),
		}, nil

	case journal.KindOwnerWithdraw:
		return nil, e.OwnerWithdraw(ctx, r.Caller, r.Amount)

	case journal.KindOwnerDeposit:
		return nil, e.OwnerDeposit(ctx, r.Caller, r.Amount)

	case journal.KindPause:
		return nil, e.Pause(ctx, r.Caller)

	case journal.KindUnpause:
		return nil, e.Unpause(ctx, r.Caller)

	case journal.KindSetEmergencyMode:
		return nil, e.SetEmergencyMode(ctx, r.Caller, r.Flag)

	case journal.KindTransfer:
		return nil, e.Transfer(ctx, r.Caller, r.Holder, r.Amount)

	default:
		return nil, fmt.Errorf("unknown operation %q", r.Kind)
	}
}
