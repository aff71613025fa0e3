// Package keeper runs the periodic snapshot job of a series.
//
// The keeper only ever records snapshots. Distributing coupons and
// switching emergency mode are owner actions and stay manual; the keeper
// reports when they are overdue.
package keeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/engine"
	"github.com/arcbond/bondengine/internal/fault"
)

// DefaultPoll is how often Run checks the series.
const DefaultPoll = time.Minute

// DefaultCaller is the identity snapshots are recorded under.
const DefaultCaller = account.ID("keeper")

// Series is the part of the engine the keeper drives.
type Series interface {
	Now() time.Time
	NextRecordTime() time.Time
	RecordSnapshot(ctx context.Context, caller account.ID) (engine.SnapshotResult, error)
	Status() engine.Status
}

// Keeper polls one series.
type Keeper struct {
	series Series
	caller account.ID
	poll   time.Duration
	logger *slog.Logger
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithPoll sets the polling interval.
func WithPoll(d time.Duration) Option {
	return func(k *Keeper) {
		if d > 0 {
			k.poll = d
		}
	}
}

// WithCaller sets the identity snapshots are recorded under.
func WithCaller(id account.ID) Option {
	return func(k *Keeper) {
		k.caller = id
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		k.logger = l
	}
}

// New creates a keeper for s.
func New(s Series, opts ...Option) *Keeper {
	k := &Keeper{
		series: s,
		caller: DefaultCaller,
		poll:   DefaultPoll,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Tick records a snapshot if one is due and reports on distribution health.
// It returns whether a snapshot was recorded.
func (k *Keeper) Tick(ctx context.Context) (bool, error) {
	recorded := false
	if !k.series.Now().Before(k.series.NextRecordTime()) {
		res, err := k.series.RecordSnapshot(ctx, k.caller)
		switch {
		case err == nil:
			recorded = true
			k.logger.Info("snapshot recorded",
				"record", res.Number,
				"total_supply", res.Record.TotalSupply.String(),
				"treasury_balance", res.Record.TreasuryBalance.String(),
			)
		case fault.Is(err, fault.CodeTooSoon):
			// Someone else recorded it first.
		default:
			return false, err
		}
	}

	st := k.series.Status()
	switch st.Health {
	case engine.HealthCritical:
		k.logger.Error("coupon distribution critically behind", "pending", st.Pending)
	case engine.HealthWarning:
		k.logger.Warn("coupon distribution pending", "pending", st.Pending)
	case engine.HealthEmergency:
		k.logger.Warn("series in emergency mode", "pending", st.Pending)
	}
	return recorded, nil
}

// Run ticks until ctx is cancelled. A failed tick is logged and the loop
// continues.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("keeper starting", "caller", k.caller, "poll", k.poll)

	ticker := time.NewTicker(k.poll)
	defer ticker.Stop()

	for {
		if _, err := k.Tick(ctx); err != nil {
			k.logger.Error("keeper tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
