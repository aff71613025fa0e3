package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/asset"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
	"github.com/arcbond/bondengine/internal/testutil"
)

var (
	issued = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	owner  = account.MustParse("owner")
	alice  = account.MustParse("alice")
	bob    = account.MustParse("bob")
	keeper = account.MustParse("keeper")
)

type fixture struct {
	eng     *Engine
	asset   *asset.Ledger
	clock   *testutil.ManualClock
	journal *journal.Memory
	params  Params
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, mutate ...func(*Params)) *fixture {
	t.Helper()
	p := DefaultParams(owner, issued)
	for _, m := range mutate {
		m(&p)
	}
	f := &fixture{
		asset:   asset.New(p.AssetSymbol),
		clock:   testutil.NewManualClock(issued),
		journal: journal.NewMemory(),
		params:  p,
	}
	eng, err := New(p, f.asset,
		WithTimeSource(f.clock),
		WithJournal(f.journal),
		WithOpIDGenerator(testutil.NewSequentialOpIDs("op")),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	f.eng = eng

	for _, id := range []account.ID{owner, alice, bob} {
		require.NoError(t, f.asset.Fund(id, fixed.Units(1000)))
	}
	return f
}

func (f *fixture) custody() fixed.Amount {
	return f.asset.BalanceOf(f.params.Custody)
}

func requireCode(t *testing.T, err error, code fault.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, fault.CodeOf(err), "error: %v", err)
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	minted, err := e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	assert.Equal(t, fixed.Units(20), minted)
	assert.Equal(t, fixed.Units(20), e.BalanceOf(alice))
	assert.Equal(t, fixed.Units(2), f.custody())

	f.clock.Advance(24 * time.Hour)
	snap, err := e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Number)
	assert.Equal(t, fixed.Units(20), snap.Record.TotalSupply)
	assert.Equal(t, fixed.Units(2), snap.Record.TreasuryBalance)

	due, err := e.CouponDue()
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.02"), due)

	dist, err := e.DistributeCoupon(ctx, owner, due)
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.001"), dist.Delta)
	assert.Equal(t, fixed.MustParse("0.001"), e.SeriesInfo().CumulativeIndex)

	owed, err := e.ClaimableAmount(alice)
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.02"), owed)

	claimed, err := e.ClaimCoupon(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.02"), claimed)
	assert.Equal(t, e.SeriesInfo().CumulativeIndex, e.ClaimedIndex(alice))

	f.clock.Set(f.params.MaturityTime())
	res, err := e.Redeem(ctx, alice, fixed.Units(20))
	require.NoError(t, err)
	assert.Equal(t, fixed.Zero, res.Coupon)
	assert.Equal(t, fixed.Units(2), res.Principal)

	assert.Equal(t, fixed.Zero, e.TotalSupply())
	assert.Equal(t, fixed.Zero, f.custody())
	assert.Equal(t, fixed.MustParse("1000.02"), f.asset.BalanceOf(alice))
	assert.Equal(t, fixed.Units(2), e.SeriesInfo().TotalDeposited)
	require.NoError(t, e.CheckInvariants())
	assert.Equal(t, 5, f.journal.Len())
}

func TestPauseGatesOnlyDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, fixed.Units(10))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.1"))
	require.NoError(t, err)

	requireCode(t, e.Pause(ctx, alice), fault.CodeUnauthorized)
	require.NoError(t, e.Pause(ctx, owner))
	require.NoError(t, e.Pause(ctx, owner), "pause is idempotent")
	assert.True(t, e.Paused())

	_, err = e.Deposit(ctx, bob, fixed.Units(1))
	requireCode(t, err, fault.CodePaused)

	_, err = e.ClaimCoupon(ctx, alice)
	assert.NoError(t, err)
	assert.NoError(t, e.Transfer(ctx, alice, bob, fixed.Units(1)))
	assert.NoError(t, e.OwnerWithdraw(ctx, owner, fixed.Units(1)))
	require.NoError(t, e.SetEmergencyMode(ctx, owner, true))
	_, err = e.Redeem(ctx, alice, fixed.Units(10))
	assert.NoError(t, err)

	require.NoError(t, e.Unpause(ctx, owner))
	_, err = e.Deposit(ctx, bob, fixed.Units(1))
	assert.NoError(t, err)
	require.NoError(t, e.CheckInvariants())
}

func TestNoDoubleClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.ClaimCoupon(ctx, alice)
	requireCode(t, err, fault.CodeNothingToClaim)

	_, err = e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.02"))
	require.NoError(t, err)

	_, err = e.ClaimCoupon(ctx, alice)
	require.NoError(t, err)
	_, err = e.ClaimCoupon(ctx, alice)
	requireCode(t, err, fault.CodeNothingToClaim)
}

func TestReserveFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, fixed.Units(10))
	require.NoError(t, err)

	st, err := e.TreasuryStatus()
	require.NoError(t, err)
	assert.Equal(t, fixed.Units(3), st.RequiredReserve)
	assert.Equal(t, fixed.Units(7), st.Withdrawable)

	requireCode(t, e.OwnerWithdraw(ctx, alice, fixed.Units(1)), fault.CodeUnauthorized)
	requireCode(t, e.OwnerWithdraw(ctx, owner, fixed.MustParse("7.000001")), fault.CodeExceedsWithdrawable)
	require.NoError(t, e.OwnerWithdraw(ctx, owner, fixed.Units(7)))
	requireCode(t, e.OwnerWithdraw(ctx, owner, fixed.MustParse("0.000001")), fault.CodeExceedsWithdrawable)
	assert.Equal(t, fixed.Units(3), f.custody())

	// A top-up raises the balance but not the reserve.
	require.NoError(t, e.OwnerDeposit(ctx, owner, fixed.Units(1)))
	st, err = e.TreasuryStatus()
	require.NoError(t, err)
	assert.Equal(t, fixed.Units(1), st.Withdrawable)
	assert.Equal(t, fixed.Units(10), e.SeriesInfo().TotalDeposited)
}

func TestSnapshotGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	assert.Equal(t, issued.Add(24*time.Hour), e.NextRecordTime())

	f.clock.Advance(24*time.Hour - time.Second)
	_, err := e.RecordSnapshot(ctx, keeper)
	requireCode(t, err, fault.CodeTooSoon)

	f.clock.Advance(time.Second)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)

	_, err = e.RecordSnapshot(ctx, keeper)
	requireCode(t, err, fault.CodeTooSoon)
	assert.Equal(t, uint64(1), e.RecordCount())

	_, err = e.Snapshot(2)
	requireCode(t, err, fault.CodeNotFound)
}

func TestSnapshotGating_SubSecondIssuance(t *testing.T) {
	f := newFixture(t, func(p *Params) {
		p.IssuedAt = issued.Add(500 * time.Millisecond)
	})
	ctx := context.Background()
	e := f.eng

	assert.Equal(t, issued, e.Params().IssuedAt)
	assert.Equal(t, issued.Add(24*time.Hour), e.NextRecordTime())

	f.clock.Advance(24 * time.Hour)
	_, err := e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(48*time.Hour), e.NextRecordTime())
}

func TestDistributeCouponErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.DistributeCoupon(ctx, owner, 0)
	requireCode(t, err, fault.CodeNothingPending)
	_, err = e.CouponDue()
	requireCode(t, err, fault.CodeNothingPending)

	_, err = e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)

	_, err = e.DistributeCoupon(ctx, alice, fixed.MustParse("0.02"))
	requireCode(t, err, fault.CodeUnauthorized)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.03"))
	requireCode(t, err, fault.CodeAmountMismatch)

	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.02"))
	require.NoError(t, err)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.02"))
	requireCode(t, err, fault.CodeNothingPending)
}

func TestLateDepositorEarnsNoPastCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.02"))
	require.NoError(t, err)

	_, err = e.Deposit(ctx, bob, fixed.Units(2))
	require.NoError(t, err)
	owed, err := e.ClaimableAmount(bob)
	require.NoError(t, err)
	assert.Equal(t, fixed.Zero, owed)
	assert.Equal(t, e.SeriesInfo().CumulativeIndex, e.ClaimedIndex(bob))

	// A second deposit by alice keeps what she had earned.
	_, err = e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	owed, err = e.ClaimableAmount(alice)
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.02"), owed)
}

func TestTransferKeepsEarnedCouponWithSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.02"))
	require.NoError(t, err)

	require.NoError(t, e.Transfer(ctx, alice, bob, fixed.Units(10)))
	assert.Equal(t, fixed.Units(10), e.BalanceOf(alice))
	assert.Equal(t, fixed.Units(10), e.BalanceOf(bob))

	aliceOwed, err := e.ClaimableAmount(alice)
	require.NoError(t, err)
	bobOwed, err := e.ClaimableAmount(bob)
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.02"), aliceOwed)
	assert.Equal(t, fixed.Zero, bobOwed)

	requireCode(t, e.Transfer(ctx, alice, bob, fixed.Units(11)), fault.CodeInsufficientBalance)
	requireCode(t, e.Transfer(ctx, alice, bob, 0), fault.CodeInvalidAmount)
	requireCode(t, e.Transfer(ctx, alice, f.params.Custody, fixed.Units(1)), fault.CodeUnauthorized)

	// Both earn on the next distribution.
	f.clock.Advance(24 * time.Hour)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.02"))
	require.NoError(t, err)
	bobOwed, err = e.ClaimableAmount(bob)
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.01"), bobOwed)
	aliceOwed, err = e.ClaimableAmount(alice)
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.03"), aliceOwed)
}

func TestRedeemMaturityAndEmergency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)

	_, err = e.Redeem(ctx, alice, fixed.Units(5))
	requireCode(t, err, fault.CodeNotMatured)
	_, err = e.Redeem(ctx, alice, 0)
	requireCode(t, err, fault.CodeInvalidAmount)

	requireCode(t, e.SetEmergencyMode(ctx, alice, true), fault.CodeUnauthorized)
	require.NoError(t, e.SetEmergencyMode(ctx, owner, true))
	assert.Equal(t, HealthEmergency, e.Health())

	_, err = e.Redeem(ctx, alice, fixed.Units(21))
	requireCode(t, err, fault.CodeInsufficientBalance)

	res, err := e.Redeem(ctx, alice, fixed.Units(5))
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.5"), res.Principal)

	require.NoError(t, e.SetEmergencyMode(ctx, owner, false))
	_, err = e.Redeem(ctx, alice, fixed.Units(5))
	requireCode(t, err, fault.CodeNotMatured)
}

func TestRedeemSettlesPendingCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = e.RecordSnapshot(ctx, keeper)
	require.NoError(t, err)
	_, err = e.DistributeCoupon(ctx, owner, fixed.MustParse("0.02"))
	require.NoError(t, err)

	f.clock.Set(f.params.MaturityTime())
	preview, err := e.RedeemPreview(alice, fixed.Units(10))
	require.NoError(t, err)
	assert.Equal(t, fixed.MustParse("0.02"), preview.Coupon)
	assert.Equal(t, fixed.Units(1), preview.Principal)

	res, err := e.Redeem(ctx, alice, fixed.Units(10))
	require.NoError(t, err)
	assert.Equal(t, preview, res)

	owed, err := e.ClaimableAmount(alice)
	require.NoError(t, err)
	assert.Equal(t, fixed.Zero, owed)
	assert.Equal(t, fixed.MustParse("999.02"), f.asset.BalanceOf(alice))

	entries, err := f.journal.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	claim, redeem := entries[3], entries[4]
	assert.Equal(t, journal.KindClaimCoupon, claim.Kind)
	assert.Equal(t, "0.020000", claim.Result["claimed"])
	assert.Equal(t, journal.KindRedeem, redeem.Kind)
	assert.Equal(t, map[string]string{"principal": "1.000000"}, redeem.Result)
	assert.Equal(t, claim.At, redeem.At)

	replayed, err := Replay(ctx, f.params, entries, WithLogger(quietLogger()))
	require.NoError(t, err)
	want, err := e.StateDigest()
	require.NoError(t, err)
	got, err := replayed.StateDigest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFailedTransferLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, fixed.Units(2))
	require.NoError(t, err)
	before, err := e.StateDigest()
	require.NoError(t, err)
	entries := f.journal.Len()

	f.asset.FailTransfers(errors.New("asset offline"))
	_, err = e.Deposit(ctx, bob, fixed.Units(2))
	requireCode(t, err, fault.CodeTransferFailed)
	f.clock.Set(f.params.MaturityTime())
	_, err = e.Redeem(ctx, alice, fixed.Units(20))
	requireCode(t, err, fault.CodeTransferFailed)
	f.asset.FailTransfers(nil)

	after, err := e.StateDigest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, entries, f.journal.Len())
	assert.Equal(t, fixed.Units(20), e.BalanceOf(alice))
}

func TestDepositRejections(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.Cap = fixed.Units(5) })
	ctx := context.Background()
	e := f.eng

	_, err := e.Deposit(ctx, alice, 0)
	requireCode(t, err, fault.CodeInvalidAmount)
	_, err = e.Deposit(ctx, "", fixed.Units(1))
	requireCode(t, err, fault.CodeUnauthorized)

	_, err = e.Deposit(ctx, alice, fixed.Units(5))
	require.NoError(t, err)
	_, err = e.Deposit(ctx, bob, fixed.MustParse("0.000001"))
	requireCode(t, err, fault.CodeCapExceeded)

	// Redemptions do not free cap.
	require.NoError(t, e.SetEmergencyMode(ctx, owner, true))
	_, err = e.Redeem(ctx, alice, fixed.Units(50))
	require.NoError(t, err)
	_, err = e.Deposit(ctx, bob, fixed.Units(1))
	requireCode(t, err, fault.CodeCapExceeded)

	// carol was never funded.
	_, err = newFixture(t).eng.Deposit(ctx, account.MustParse("carol"), fixed.Units(1))
	requireCode(t, err, fault.CodeTransferFailed)
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	assert.Equal(t, HealthHealthy, e.Health())
	assert.Equal(t, PhaseActive, e.Status().Phase)

	for i := 1; i <= 3; i++ {
		f.clock.Advance(24 * time.Hour)
		_, err := e.RecordSnapshot(ctx, keeper)
		require.NoError(t, err)
		if i < CriticalPending {
			assert.Equal(t, HealthWarning, e.Health())
		}
	}
	assert.Equal(t, HealthCritical, e.Health())
	assert.Equal(t, uint64(3), e.PendingDistributions())

	// Supply is zero, so every coupon is zero; distributing catches up to the latest record.
	_, err := e.DistributeCoupon(ctx, owner, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.LastDistributedRecord())
	assert.Equal(t, HealthHealthy, e.Health())

	require.NoError(t, e.Pause(ctx, owner))
	assert.Equal(t, PhasePaused, e.Status().Phase)

	f.clock.Set(f.params.MaturityTime())
	st := e.Status()
	assert.Equal(t, PhaseMatured, st.Phase)
	assert.True(t, st.Paused)
	assert.True(t, st.Matured)

	require.NoError(t, e.SetEmergencyMode(ctx, owner, true))
	assert.Equal(t, PhaseEmergency, e.Status().Phase)
}

func TestConcurrentOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.eng

	holders := make([]account.ID, 8)
	for i := range holders {
		holders[i] = account.ID(string(rune('a'+i)) + "-holder")
		require.NoError(t, f.asset.Fund(holders[i], fixed.Units(100)))
	}

	var wg sync.WaitGroup
	for _, h := range holders {
		wg.Add(1)
		go func(h account.ID) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := e.Deposit(ctx, h, fixed.Units(1))
				assert.NoError(t, err)
			}
		}(h)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				info := e.SeriesInfo()
				minted, err := fixed.Mul(info.TotalDeposited, DefaultMintRatio)
				assert.NoError(t, err)
				assert.Equal(t, minted, info.TotalSupply)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, fixed.Units(80), e.SeriesInfo().TotalDeposited)
	assert.Equal(t, fixed.Units(800), e.TotalSupply())
	assert.Len(t, e.Holders(), 8)
	require.NoError(t, e.CheckInvariants())

	entries, err := f.journal.Entries(ctx)
	require.NoError(t, err)
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
	}
}

type failingJournal struct{}

func (failingJournal) Append(context.Context, journal.Entry) error {
	return errors.New("disk full")
}

func TestJournalFailureDoesNotRollBack(t *testing.T) {
	p := DefaultParams(owner, issued)
	a := asset.New(p.AssetSymbol)
	require.NoError(t, a.Fund(alice, fixed.Units(5)))
	e, err := New(p, a, WithJournal(failingJournal{}), WithLogger(quietLogger()),
		WithTimeSource(testutil.NewManualClock(issued)))
	require.NoError(t, err)

	_, err = e.Deposit(context.Background(), alice, fixed.Units(1))
	require.NoError(t, err)
	assert.Equal(t, fixed.Units(10), e.BalanceOf(alice))
	last, ok := e.LastEntry()
	require.True(t, ok)
	assert.Equal(t, int64(1), last.Seq)
}

func TestParamsValidate(t *testing.T) {
	base := DefaultParams(owner, issued)
	require.NoError(t, base.Validate())
	assert.Equal(t, issued.Add(336*time.Hour), base.MaturityTime())

	cases := map[string]func(*Params){
		"no owner":        func(p *Params) { p.Owner = "" },
		"owner custody":   func(p *Params) { p.Custody = p.Owner },
		"no issuance":     func(p *Params) { p.IssuedAt = time.Time{} },
		"zero maturity":   func(p *Params) { p.Maturity = 0 },
		"zero interval":   func(p *Params) { p.SnapshotInterval = 0 },
		"frac maturity":   func(p *Params) { p.Maturity = 90 * time.Millisecond },
		"frac interval":   func(p *Params) { p.SnapshotInterval = 1500 * time.Millisecond },
		"zero cap":        func(p *Params) { p.Cap = 0 },
		"reserve > 100":   func(p *Params) { p.ReservePercent = 101 },
		"zero mint ratio": func(p *Params) { p.MintRatio = 0 },
		"zero coupon":     func(p *Params) { p.CouponDenominator = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			assert.Error(t, p.Validate())
			_, err := New(p, asset.New("USDC"))
			assert.Error(t, err)
		})
	}
}
