package engine

import (
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/accrual"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/snapshot"
	"github.com/arcbond/bondengine/internal/treasury"
)

// Issuance defaults of the deployed instrument.
const (
	DefaultMaturity          = 14 * 24 * time.Hour
	DefaultMintRatio         = fixed.Amount(10)
	DefaultName              = "Bond Series"
	DefaultSymbol            = "BOND"
	DefaultCustody           = account.ID("series")
	DefaultAssetSymbol       = "USDC"
	DefaultSnapshotInterval  = snapshot.DefaultInterval
	DefaultReservePercent    = treasury.DefaultReservePercent
	DefaultCouponDenominator = accrual.DefaultCouponDenominator
)

// Params fixes a series at issuance. Nothing here changes afterwards.
type Params struct {
	Name        string
	Symbol      string
	AssetSymbol string

	// Owner distributes coupons, withdraws surplus and toggles pause and
	// emergency mode.
	Owner account.ID

	// Custody holds the backing asset and owns the claim-token ledger.
	Custody account.ID

	IssuedAt time.Time

	// Maturity is the term, measured from IssuedAt.
	Maturity         time.Duration
	SnapshotInterval time.Duration

	Cap               fixed.Amount
	ReservePercent    fixed.Amount
	MintRatio         fixed.Amount
	CouponDenominator fixed.Amount
}

// DefaultParams returns the deployed instrument's parameters for owner,
// issued at issuedAt.
func DefaultParams(owner account.ID, issuedAt time.Time) Params {
	return Params{
		Name:              DefaultName,
		Symbol:            DefaultSymbol,
		AssetSymbol:       DefaultAssetSymbol,
		Owner:             owner,
		Custody:           DefaultCustody,
		IssuedAt:          issuedAt,
		Maturity:          DefaultMaturity,
		SnapshotInterval:  DefaultSnapshotInterval,
		Cap:               treasury.DefaultCap,
		ReservePercent:    DefaultReservePercent,
		MintRatio:         DefaultMintRatio,
		CouponDenominator: DefaultCouponDenominator,
	}
}

// MaturityTime returns the instant redemption opens.
func (p Params) MaturityTime() time.Time {
	return p.IssuedAt.Add(p.Maturity)
}

// Validate checks the parameters are internally consistent.
func (p Params) Validate() error {
	switch {
	case p.Owner.IsZero():
		return fault.New(fault.CodeUnauthorized, "owner is required")
	case p.Custody.IsZero():
		return fault.New(fault.CodeUnauthorized, "custody account is required")
	case p.Owner == p.Custody:
		return fault.New(fault.CodeUnauthorized, "owner and custody must differ")
	case p.IssuedAt.IsZero():
		return fault.New(fault.CodeInvalidAmount, "issued_at is required")
	case p.Maturity <= 0:
		return fault.New(fault.CodeInvalidAmount, "maturity must be positive")
	case p.SnapshotInterval <= 0:
		return fault.New(fault.CodeInvalidAmount, "snapshot interval must be positive")
	case p.Maturity%time.Second != 0:
		return fault.New(fault.CodeInvalidAmount, "maturity %s is not a whole number of seconds", p.Maturity)
	case p.SnapshotInterval%time.Second != 0:
		return fault.New(fault.CodeInvalidAmount, "snapshot interval %s is not a whole number of seconds", p.SnapshotInterval)
	case p.Cap == 0:
		return fault.New(fault.CodeInvalidAmount, "cap must be positive")
	case p.ReservePercent > 100:
		return fault.New(fault.CodeInvalidAmount, "reserve percent %d above 100", p.ReservePercent)
	case p.MintRatio == 0:
		return fault.New(fault.CodeInvalidAmount, "mint ratio must be positive")
	case p.CouponDenominator == 0:
		return fault.New(fault.CodeInvalidAmount, "coupon denominator must be positive")
	}
	if _, err := fixed.Mul(p.Cap, p.MintRatio); err != nil {
		return fault.Wrap(fault.CodeArithmeticOverflow, err, "cap × mint ratio overflows")
	}
	return nil
}
