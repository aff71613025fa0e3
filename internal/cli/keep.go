package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/engine"
	"github.com/arcbond/bondengine/internal/keeper"
)

// KeepOptions holds flags for the keep command.
type KeepOptions struct {
	*RootOptions
	Database string
	Backend  string
	Caller   string
	Poll     time.Duration
	Once     bool
	At       string
}

// KeepResult is the outcome of a single keeper tick.
type KeepResult struct {
	At             time.Time     `json:"at"`
	Recorded       bool          `json:"recorded"`
	Record         uint64        `json:"record,omitempty"`
	Entries        int           `json:"entries"`
	NextRecordTime time.Time     `json:"next_record_time"`
	Status         engine.Status `json:"status"`
}

// NewKeepCommand creates the keep command.
func NewKeepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keep",
		Short: "Record due snapshots for a persisted series",
		Long: `Rebuild a series from its journal and run the snapshot keeper against it.
Every snapshot the keeper records is appended to the same journal.

Without --once the keeper polls until interrupted. With --once it ticks a
single time; --at pins that tick to a given instant instead of the host
clock.

Examples:
  bondctl keep --db ./series.db
  bondctl keep --db ./series.db --poll 10m
  bondctl keep --db ./series.db --once --at 2025-01-16T00:00:00Z`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeep(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Backend, "journal", "", "journal backend (sqlite|badger), detected when empty")
	cmd.Flags().StringVar(&opts.Caller, "caller", keeper.DefaultCaller.String(), "identity snapshots are recorded under")
	cmd.Flags().DurationVar(&opts.Poll, "poll", keeper.DefaultPoll, "how often to check the series")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "tick once and exit")
	cmd.Flags().StringVar(&opts.At, "at", "", "RFC 3339 instant for a --once tick (default: now)")

	return cmd
}

func runKeep(opts *KeepOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd, opts.RootOptions)
	formatter := newFormatter(cmd, opts.RootOptions)

	caller, err := account.Parse(opts.Caller)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid caller", err)
	}
	if opts.Poll <= 0 {
		return NewExitError(ExitCommandError, "--poll must be positive")
	}
	var at time.Time
	if opts.At != "" {
		if !opts.Once {
			return NewExitError(ExitCommandError, "--at requires --once")
		}
		at, err = time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
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

	var ts engine.TimeSource = engine.SystemTime{}
	if !at.IsZero() {
		if at.Before(eng.Now()) {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("--at %s precedes the last journal entry at %s", opts.At, eng.Now().Format(time.RFC3339)))
		}
		ts = engine.TimeFunc(func() time.Time { return at })
	}
	eng.Resume(st, ts)

	k := keeper.New(eng,
		keeper.WithCaller(caller),
		keeper.WithPoll(opts.Poll),
		keeper.WithLogger(logger),
	)

	if !opts.Once {
		if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "keeper stopped", err)
		}
		return nil
	}

	recorded, err := k.Tick(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "keeper tick failed", err)
	}
	result := &KeepResult{
		At:             eng.Now(),
		Recorded:       recorded,
		Entries:        len(loaded.Entries),
		NextRecordTime: eng.NextRecordTime(),
		Status:         eng.Status(),
	}
	if recorded {
		result.Record = eng.RecordCount()
		result.Entries++
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	printKeep(cmd, result)
	return nil
}

func printKeep(cmd *cobra.Command, r *KeepResult) {
	w := cmd.OutOrStdout()
	at := r.At.UTC().Format(time.RFC3339)
	if r.Recorded {
		fmt.Fprintf(w, "✓ Snapshot %d recorded at %s\n", r.Record, at)
	} else {
		fmt.Fprintf(w, "No snapshot due at %s\n", at)
	}
	fmt.Fprintf(w, "  Journal entries: %d\n", r.Entries)
	fmt.Fprintf(w, "  Next record:     %s\n", r.NextRecordTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  Health:          %s (%d pending)\n", r.Status.Health, r.Status.Pending)
}
