package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/accrual"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
	"github.com/arcbond/bondengine/internal/snapshot"
	"github.com/arcbond/bondengine/internal/token"
	"github.com/arcbond/bondengine/internal/treasury"
)

// Engine is one bond series.
//
// Thread-safety model:
//   - every mutating method takes the write lock for its full duration
//   - every query takes the read lock
//   - the backing asset is called with the write lock held, so a slow asset
//     blocks the series rather than interleaving transitions
//
// INVARIANTS (hold between any two calls):
//   - sum(balances) == TotalSupply()
//   - cumulative index never decreases
//   - claimedIndex[h] ≤ cumulative index for every h
//   - totalDeposited never decreases and never exceeds the cap
type Engine struct {
	mu sync.RWMutex

	params   Params
	maturity time.Time

	tokens   *token.Ledger
	index    *accrual.Index
	snaps    *snapshot.Log
	treasury *treasury.Treasury

	paused    bool
	emergency bool

	clock   *Clock
	opIDs   OpIDGenerator
	now     TimeSource
	journal journal.Appender
	logger  *slog.Logger
	last    journal.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithJournal makes the engine append every committed transition to j.
func WithJournal(j journal.Appender) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithTimeSource replaces the host clock. Used by tests and replay.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) {
		e.now = ts
	}
}

// WithOpIDGenerator replaces the UUIDv7 operation-ID generator.
func WithOpIDGenerator(g OpIDGenerator) Option {
	return func(e *Engine) {
		e.opIDs = g
	}
}

// WithClock resumes the logical clock from an existing position.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New issues a series over the backing asset.
//
// The claim-token ledger is created owned by the series owner and its
// ownership is handed to the custody account immediately, so from then on
// supply only changes through Deposit and Redeem.
func New(params Params, asset treasury.Asset, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	// Operations run on whole seconds, so every deadline derived from
	// issuance must too.
	params.IssuedAt = params.IssuedAt.UTC().Truncate(time.Second)

	tokens := token.New(params.Name, params.Symbol, params.Owner)
	if err := tokens.TransferOwnership(params.Owner, params.Custody); err != nil {
		return nil, fmt.Errorf("hand token ownership to custody: %w", err)
	}

	e := &Engine{
		params:   params,
		maturity: params.MaturityTime(),
		tokens:   tokens,
		index:    accrual.New(params.CouponDenominator),
		snaps:    snapshot.New(params.IssuedAt, params.SnapshotInterval),
		treasury: treasury.New(asset, treasury.Config{
			Custody:        params.Custody,
			Owner:          params.Owner,
			Cap:            params.Cap,
			ReservePercent: params.ReservePercent,
		}),
		clock:  NewClock(),
		opIDs:  UUIDv7Generator{},
		now:    SystemTime{},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Params returns the issuance parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Now returns the engine's current time, UTC, truncated to whole seconds.
func (e *Engine) Now() time.Time {
	return e.now.Now().UTC().Truncate(time.Second)
}

// Deposit takes amount of backing asset from holder and mints
// amount × mintRatio claim tokens to it.
//
// Errors: Paused, InvalidAmount, CapExceeded, TransferFailed,
// ArithmeticOverflow.
func (e *Engine) Deposit(ctx context.Context, holder account.ID, amount fixed.Amount) (fixed.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if e.paused {
		return 0, fault.New(fault.CodePaused, "deposits are paused")
	}
	if err := e.requireHolder(holder); err != nil {
		return 0, err
	}
	total, err := e.treasury.PlanDeposit(amount)
	if err != nil {
		return 0, err
	}
	minted, err := fixed.Mul(amount, e.params.MintRatio)
	if err != nil {
		return 0, err
	}
	if _, err := fixed.Add(e.tokens.TotalSupply(), minted); err != nil {
		return 0, err
	}
	owed, err := e.index.Claimable(holder, e.tokens.BalanceOf(holder))
	if err != nil {
		return 0, err
	}

	if err := e.treasury.Pull(ctx, holder, amount); err != nil {
		return 0, err
	}

	e.index.Checkpoint(holder, owed)
	if err := e.tokens.Mint(e.params.Custody, holder, minted); err != nil {
		return 0, e.corrupt(journal.KindDeposit, err)
	}
	e.treasury.CommitDeposit(total)

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindDeposit,
		Caller: holder,
		Holder: holder,
		Amount: amount,
		Result: map[string]string{
			"minted":          minted.String(),
			"total_deposited": total.String(),
		},
	})
	return minted, nil
}

// SnapshotResult is the outcome of RecordSnapshot.
type SnapshotResult struct {
	Number uint64          `json:"number"`
	Record snapshot.Record `json:"record"`
}

// RecordSnapshot appends (totalSupply, treasuryBalance, now) to the snapshot
// log. Anyone may call it once per interval.
//
// Errors: TooSoon.
func (e *Engine) RecordSnapshot(ctx context.Context, caller account.ID) (SnapshotResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if err := e.requireHolder(caller); err != nil {
		return SnapshotResult{}, err
	}
	if err := e.snaps.Check(now); err != nil {
		return SnapshotResult{}, err
	}

	n := e.snaps.Append(now, e.tokens.TotalSupply(), e.treasury.Balance())
	rec, _ := e.snaps.Latest()

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindRecordSnapshot,
		Caller: caller,
		Result: map[string]string{
			"record":           strconv.FormatUint(n, 10),
			"total_supply":     rec.TotalSupply.String(),
			"treasury_balance": rec.TreasuryBalance.String(),
		},
	})
	return SnapshotResult{Number: n, Record: rec}, nil
}

// DistributionResult is the outcome of DistributeCoupon.
type DistributionResult struct {
	Record uint64       `json:"record"`
	Delta  fixed.Amount `json:"delta"`
	Index  fixed.Amount `json:"index"`
}

// DistributeCoupon pays the coupon due on the latest snapshot into the
// treasury and raises the cumulative index. amount must equal CouponDue().
//
// Errors: Unauthorized, NothingPending, AmountMismatch, TransferFailed.
func (e *Engine) DistributeCoupon(ctx context.Context, caller account.ID, amount fixed.Amount) (DistributionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if caller != e.params.Owner {
		return DistributionResult{}, fault.New(fault.CodeUnauthorized, "%s may not distribute coupons", caller)
	}
	count := e.snaps.Count()
	var dueSupply fixed.Amount
	if rec, ok := e.snaps.Latest(); ok {
		dueSupply = rec.TotalSupply
	}
	d, err := e.index.PlanDistribution(count, dueSupply, amount)
	if err != nil {
		return DistributionResult{}, err
	}

	if err := e.treasury.Pull(ctx, caller, amount); err != nil {
		return DistributionResult{}, err
	}

	e.index.Apply(d)

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindDistributeCoupon,
		Caller: caller,
		Amount: amount,
		Result: map[string]string{
			"record": strconv.FormatUint(d.Record, 10),
			"delta":  d.Delta.String(),
			"index":  d.Index.String(),
		},
	})
	return DistributionResult{Record: d.Record, Delta: d.Delta, Index: d.Index}, nil
}

// ClaimCoupon pays holder everything it has accrued. Allowed while paused.
//
// Errors: NothingToClaim, TransferFailed.
func (e *Engine) ClaimCoupon(ctx context.Context, holder account.ID) (fixed.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if err := e.requireHolder(holder); err != nil {
		return 0, err
	}
	owed, err := e.index.Claimable(holder, e.tokens.BalanceOf(holder))
	if err != nil {
		return 0, err
	}
	if owed == 0 {
		return 0, fault.New(fault.CodeNothingToClaim, "%s has no coupon to claim", holder)
	}

	if err := e.treasury.Pay(ctx, holder, owed); err != nil {
		return 0, err
	}

	e.index.Settle(holder)

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindClaimCoupon,
		Caller: holder,
		Holder: holder,
		Result: map[string]string{"claimed": owed.String()},
	})
	return owed, nil
}

// RedeemResult is the outcome of Redeem.
type RedeemResult struct {
	Coupon    fixed.Amount `json:"coupon"`
	Principal fixed.Amount `json:"principal"`
	Total     fixed.Amount `json:"total"`
}

// Redeem burns amount claim tokens and pays back amount / mintRatio of
// backing asset, together with any unclaimed coupon, in one transfer. A
// settled coupon is journaled as a claim_coupon entry ahead of the redeem.
// Allowed at or after maturity, or at any time in emergency mode. Allowed
// while paused.
//
// Errors: InvalidAmount, NotMatured, InsufficientBalance, TransferFailed.
func (e *Engine) Redeem(ctx context.Context, holder account.ID, amount fixed.Amount) (RedeemResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if err := e.requireHolder(holder); err != nil {
		return RedeemResult{}, err
	}
	if amount == 0 {
		return RedeemResult{}, fault.New(fault.CodeInvalidAmount, "redeem amount is zero")
	}
	if now.Before(e.maturity) && !e.emergency {
		return RedeemResult{}, fault.New(fault.CodeNotMatured, "series matures at %s", e.maturity.Format(time.RFC3339)).
			With("maturity", e.maturity.Format(time.RFC3339))
	}
	res, err := e.previewRedeem(holder, amount)
	if err != nil {
		return RedeemResult{}, err
	}

	if err := e.treasury.Pay(ctx, holder, res.Total); err != nil {
		return RedeemResult{}, err
	}

	e.index.Settle(holder)
	if err := e.tokens.Burn(e.params.Custody, holder, amount); err != nil {
		return RedeemResult{}, e.corrupt(journal.KindRedeem, err)
	}

	// The settled coupon is journaled as its own claim so replaying the
	// claim and then the redeem reproduces both entries.
	if res.Coupon > 0 {
		e.commit(ctx, now, journal.Entry{
			Kind:   journal.KindClaimCoupon,
			Caller: holder,
			Holder: holder,
			Result: map[string]string{"claimed": res.Coupon.String()},
		})
	}
	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindRedeem,
		Caller: holder,
		Holder: holder,
		Amount: amount,
		Result: map[string]string{"principal": res.Principal.String()},
	})
	return res, nil
}

// OwnerWithdraw pays amount of surplus backing asset to the owner. The
// treasury may never drop below the required reserve this way. Allowed while
// paused.
//
// Errors: Unauthorized, InvalidAmount, ExceedsWithdrawable, TransferFailed.
func (e *Engine) OwnerWithdraw(ctx context.Context, caller account.ID, amount fixed.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if err := e.treasury.CheckWithdraw(caller, amount); err != nil {
		return err
	}

	if err := e.treasury.Pay(ctx, caller, amount); err != nil {
		return err
	}

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindOwnerWithdraw,
		Caller: caller,
		Holder: caller,
		Amount: amount,
		Result: map[string]string{"treasury_balance": e.treasury.Balance().String()},
	})
	return nil
}

// OwnerDeposit tops up the treasury without minting. Anyone may call it;
// lifetime deposits are unchanged.
//
// Errors: InvalidAmount, TransferFailed.
func (e *Engine) OwnerDeposit(ctx context.Context, caller account.ID, amount fixed.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if err := e.requireHolder(caller); err != nil {
		return err
	}
	if amount == 0 {
		return fault.New(fault.CodeInvalidAmount, "deposit amount is zero")
	}

	if err := e.treasury.Pull(ctx, caller, amount); err != nil {
		return err
	}

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindOwnerDeposit,
		Caller: caller,
		Amount: amount,
		Result: map[string]string{"treasury_balance": e.treasury.Balance().String()},
	})
	return nil
}

// Pause blocks new deposits. Pausing a paused series is a no-op that still
// succeeds.
func (e *Engine) Pause(ctx context.Context, caller account.ID) error {
	return e.setPaused(ctx, caller, true)
}

// Unpause lifts a pause. Unpausing an active series is a no-op that still
// succeeds.
func (e *Engine) Unpause(ctx context.Context, caller account.ID) error {
	return e.setPaused(ctx, caller, false)
}

func (e *Engine) setPaused(ctx context.Context, caller account.ID, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	kind := journal.KindPause
	if !paused {
		kind = journal.KindUnpause
	}
	if caller != e.params.Owner {
		return fault.New(fault.CodeUnauthorized, "%s may not %s", caller, kind)
	}

	e.paused = paused

	e.commit(ctx, now, journal.Entry{Kind: kind, Caller: caller})
	return nil
}

// SetEmergencyMode turns emergency mode on or off. While on, holders may
// redeem before maturity. Emergency mode is never entered automatically.
func (e *Engine) SetEmergencyMode(ctx context.Context, caller account.ID, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if caller != e.params.Owner {
		return fault.New(fault.CodeUnauthorized, "%s may not set emergency mode", caller)
	}

	e.emergency = on

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindSetEmergencyMode,
		Caller: caller,
		Flag:   on,
	})
	return nil
}

// Transfer moves claim tokens between holders. Both sides are checkpointed
// first, so coupon earned before the transfer stays with the sender.
// Allowed while paused.
//
// Errors: InvalidAmount, InsufficientBalance, Unauthorized.
func (e *Engine) Transfer(ctx context.Context, from, to account.ID, amount fixed.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	if err := e.requireHolder(from); err != nil {
		return err
	}
	if err := e.requireHolder(to); err != nil {
		return err
	}
	if amount == 0 {
		return fault.New(fault.CodeInvalidAmount, "transfer amount is zero")
	}
	fromBal, toBal := e.tokens.BalanceOf(from), e.tokens.BalanceOf(to)
	if fromBal < amount {
		return fault.New(fault.CodeInsufficientBalance, "%s holds %s, needs %s", from, fromBal, amount).
			With("holder", from.String())
	}
	if _, err := fixed.Add(toBal, amount); err != nil {
		return err
	}
	owedFrom, err := e.index.Claimable(from, fromBal)
	if err != nil {
		return err
	}
	owedTo, err := e.index.Claimable(to, toBal)
	if err != nil {
		return err
	}

	e.index.Checkpoint(from, owedFrom)
	e.index.Checkpoint(to, owedTo)
	if err := e.tokens.Transfer(from, to, amount); err != nil {
		return e.corrupt(journal.KindTransfer, err)
	}

	e.commit(ctx, now, journal.Entry{
		Kind:   journal.KindTransfer,
		Caller: from,
		Holder: to,
		Amount: amount,
	})
	return nil
}

// LastEntry returns the most recently committed journal entry.
func (e *Engine) LastEntry() (journal.Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.last.Seq != 0
}

// requireHolder rejects the empty identity and the custody account, which
// must never hold claim tokens or act as a counterparty.
func (e *Engine) requireHolder(id account.ID) error {
	if id.IsZero() {
		return fault.New(fault.CodeUnauthorized, "identity is empty")
	}
	if id == e.params.Custody {
		return fault.New(fault.CodeUnauthorized, "custody account %s cannot act as a holder", id)
	}
	return nil
}

// previewRedeem computes the payout of a redemption without writing.
func (e *Engine) previewRedeem(holder account.ID, amount fixed.Amount) (RedeemResult, error) {
	bal := e.tokens.BalanceOf(holder)
	if bal < amount {
		return RedeemResult{}, fault.New(fault.CodeInsufficientBalance, "%s holds %s, needs %s", holder, bal, amount).
			With("holder", holder.String())
	}
	coupon, err := e.index.Claimable(holder, bal)
	if err != nil {
		return RedeemResult{}, err
	}
	principal, err := fixed.MulDiv(amount, 1, e.params.MintRatio)
	if err != nil {
		return RedeemResult{}, err
	}
	total, err := fixed.Add(coupon, principal)
	if err != nil {
		return RedeemResult{}, err
	}
	return RedeemResult{Coupon: coupon, Principal: principal, Total: total}, nil
}

// commit stamps and journals a transition that has already been applied.
// Must be called with the write lock held.
//
// ERROR HANDLING: a journal failure is logged and the transition stands.
// The in-memory series is authoritative; the journal can be rebuilt from a
// replayed engine.
func (e *Engine) commit(ctx context.Context, at time.Time, entry journal.Entry) {
	entry.Seq = e.clock.Next()
	entry.OpID = e.opIDs.Generate()
	entry.At = at

	sealed, err := journal.Seal(entry)
	if err != nil {
		e.logger.Error("seal journal entry", "op", entry.Kind, "seq", entry.Seq, "error", err)
		return
	}
	e.last = sealed

	e.logger.Info("committed",
		"op", sealed.Kind,
		"seq", sealed.Seq,
		"op_id", sealed.OpID,
		"caller", sealed.Caller,
		"holder", sealed.Holder,
		"amount", sealed.Amount.String(),
	)

	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, sealed); err != nil {
		e.logger.Error("journal append failed",
			"op", sealed.Kind,
			"seq", sealed.Seq,
			"id", sealed.ID,
			"error", err,
		)
	}
}

// corrupt reports a write that failed after validation passed. It means
// validation and apply disagree, which is a bug.
func (e *Engine) corrupt(kind journal.Kind, err error) error {
	e.logger.Error("apply failed after validation", "op", kind, "error", err)
	return fmt.Errorf("%s: apply after validation: %w", kind, err)
}
