package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/engine"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/treasury"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	Backend  string
	Holder   string
}

// HolderView is one holder's position.
type HolderView struct {
	ID           account.ID   `json:"id"`
	Balance      fixed.Amount `json:"balance"`
	Claimable    fixed.Amount `json:"claimable"`
	ClaimedIndex fixed.Amount `json:"claimed_index"`
}

// StatusReport is the rebuilt series as of its last journal entry.
type StatusReport struct {
	AsOf           time.Time         `json:"as_of"`
	Entries        int               `json:"entries"`
	Series         engine.SeriesInfo `json:"series"`
	Treasury       treasury.Status   `json:"treasury"`
	Status         engine.Status     `json:"status"`
	NextRecordTime time.Time         `json:"next_record_time"`
	CouponDue      fixed.Amount      `json:"coupon_due"`
	Holder         *HolderView       `json:"holder,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Rebuild a series from its journal and show its state",
		Long: `Rebuild a series from its persisted journal and print series info,
treasury status, timing and health. Times are evaluated at the last journal
entry.

Examples:
  bondctl status --db ./series.db
  bondctl status --db ./series.db --holder alice
  bondctl status --db ./series-badger --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Backend, "journal", "", "journal backend (sqlite|badger), detected when empty")
	cmd.Flags().StringVar(&opts.Holder, "holder", "", "also show this holder's position")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd, opts.RootOptions)
	formatter := newFormatter(cmd, opts.RootOptions)

	var holder account.ID
	if opts.Holder != "" {
		id, err := account.Parse(opts.Holder)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid holder", err)
		}
		holder = id
	}

	st, err := openExisting(opts.Database, opts.Backend)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	loaded, err := loadSeries(ctx, st)
	if err != nil {
		return err
	}
	eng, err := loaded.rebuild(ctx, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to rebuild series", err)
	}

	report, err := buildStatus(eng, len(loaded.Entries), holder)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read series state", err)
	}

	if formatter.JSON() {
		return formatter.Success(report)
	}
	printStatus(cmd, report)
	return nil
}

func buildStatus(eng *engine.Engine, entries int, holder account.ID) (*StatusReport, error) {
	ts, err := eng.TreasuryStatus()
	if err != nil {
		return nil, err
	}
	due, err := eng.CouponDue()
	if err != nil && fault.CodeOf(err) != fault.CodeNothingPending {
		return nil, err
	}
	report := &StatusReport{
		AsOf:           eng.Now(),
		Entries:        entries,
		Series:         eng.SeriesInfo(),
		Treasury:       ts,
		Status:         eng.Status(),
		NextRecordTime: eng.NextRecordTime(),
		CouponDue:      due,
	}
	if !holder.IsZero() {
		claimable, err := eng.ClaimableAmount(holder)
		if err != nil {
			return nil, err
		}
		report.Holder = &HolderView{
			ID:           holder,
			Balance:      eng.BalanceOf(holder),
			Claimable:    claimable,
			ClaimedIndex: eng.ClaimedIndex(holder),
		}
	}
	return report, nil
}

func printStatus(cmd *cobra.Command, r *StatusReport) {
	w := cmd.OutOrStdout()
	s := r.Series
	fmt.Fprintf(w, "Series: %s (%s), owner %s\n", s.Name, s.Symbol, s.Owner)
	fmt.Fprintf(w, "  As of:        %s (%d journal entries)\n", r.AsOf.UTC().Format(time.RFC3339), r.Entries)
	fmt.Fprintf(w, "  Phase:        %s, health %s\n", r.Status.Phase, r.Status.Health)
	fmt.Fprintf(w, "  Maturity:     %s\n", s.Maturity.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  Deposited:    %s of cap %s\n", s.TotalDeposited, s.Cap)
	fmt.Fprintf(w, "  Supply:       %s\n", s.TotalSupply)
	fmt.Fprintf(w, "  Records:      %d, distributed through %d (%d pending)\n", s.RecordCount, s.LastDistributedRecord, r.Status.Pending)
	fmt.Fprintf(w, "  Next record:  %s\n", r.NextRecordTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  Coupon due:   %s\n", r.CouponDue)
	fmt.Fprintf(w, "  Index:        %s\n", s.CumulativeIndex)
	fmt.Fprintf(w, "Treasury: balance %s, reserve %s, withdrawable %s\n",
		r.Treasury.Balance, r.Treasury.RequiredReserve, r.Treasury.Withdrawable)
	if r.Holder != nil {
		fmt.Fprintf(w, "Holder %s: balance %s, claimable %s, claimed index %s\n",
			r.Holder.ID, r.Holder.Balance, r.Holder.Claimable, r.Holder.ClaimedIndex)
	}
}
