package token

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
)

var (
	owner = account.MustParse("series")
	alice = account.MustParse("alice")
	bob   = account.MustParse("bob")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	return New("ArcBond USDC", "arcUSDC", owner)
}

func TestMintBurn(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.Mint(owner, alice, fixed.Units(20)))
	require.NoError(t, l.Mint(owner, bob, fixed.Units(5)))
	assert.Equal(t, fixed.Units(25), l.TotalSupply())
	assert.Equal(t, fixed.Units(20), l.BalanceOf(alice))

	require.NoError(t, l.Burn(owner, alice, fixed.Units(20)))
	assert.Equal(t, fixed.Zero, l.BalanceOf(alice))
	assert.Equal(t, fixed.Units(5), l.TotalSupply())
	assert.Equal(t, []account.ID{bob}, l.Holders())
	require.NoError(t, l.CheckConservation())
}

func TestMintRejectsZeroAndStrangers(t *testing.T) {
	l := newLedger(t)

	err := l.Mint(owner, alice, 0)
	assert.True(t, fault.Is(err, fault.CodeInvalidAmount))

	err = l.Mint(alice, alice, 1)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))

	assert.Equal(t, fixed.Zero, l.TotalSupply())
}

func TestMintOverflowLeavesStateUntouched(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(owner, alice, fixed.Amount(math.MaxUint64-1)))

	err := l.Mint(owner, bob, 2)
	assert.True(t, fault.Is(err, fault.CodeArithmeticOverflow))
	assert.Equal(t, fixed.Zero, l.BalanceOf(bob))
	assert.Equal(t, fixed.Amount(math.MaxUint64-1), l.TotalSupply())
}

func TestBurnInsufficient(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(owner, alice, 10))

	err := l.Burn(owner, alice, 11)
	assert.True(t, fault.Is(err, fault.CodeInsufficientBalance))
	assert.Equal(t, fixed.Amount(10), l.BalanceOf(alice))
}

func TestTransfer(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(owner, alice, 10))

	require.NoError(t, l.Transfer(alice, bob, 4))
	assert.Equal(t, fixed.Amount(6), l.BalanceOf(alice))
	assert.Equal(t, fixed.Amount(4), l.BalanceOf(bob))

	err := l.Transfer(bob, alice, 5)
	assert.True(t, fault.Is(err, fault.CodeInsufficientBalance))

	require.NoError(t, l.Transfer(alice, alice, 6))
	assert.Equal(t, fixed.Amount(6), l.BalanceOf(alice))
	require.NoError(t, l.CheckConservation())
}

func TestTransferOwnership(t *testing.T) {
	l := newLedger(t)
	engine := account.MustParse("engine")

	require.NoError(t, l.TransferOwnership(owner, engine))
	assert.Equal(t, engine, l.Owner())

	err := l.Mint(owner, alice, 1)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))
	require.NoError(t, l.Mint(engine, alice, 1))

	err = l.TransferOwnership(owner, owner)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))
}

func TestConservationUnderMixedOperations(t *testing.T) {
	l := newLedger(t)
	holders := []account.ID{alice, bob, account.MustParse("carol")}

	for i := 0; i < 200; i++ {
		h := holders[i%len(holders)]
		next := holders[(i+1)%len(holders)]
		amt := fixed.Amount(i%7 + 1)
		switch i % 3 {
		case 0:
			require.NoError(t, l.Mint(owner, h, amt))
		case 1:
			if l.BalanceOf(h) >= amt {
				require.NoError(t, l.Burn(owner, h, amt))
			}
		case 2:
			if l.BalanceOf(h) >= amt {
				require.NoError(t, l.Transfer(h, next, amt))
			}
		}
		require.NoError(t, l.CheckConservation(), "step %d", i)
	}
}
