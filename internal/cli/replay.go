package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcbond/bondengine/internal/engine"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Backend  string
}

// ReplayResult holds the replay verification result.
type ReplayResult struct {
	Entries       int    `json:"entries"`
	FirstDigest   string `json:"first_digest,omitempty"`
	SecondDigest  string `json:"second_digest,omitempty"`
	Deterministic bool   `json:"deterministic"`
	DivergedAt    int64  `json:"diverged_at,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify determinism",
		Long: `Rebuild the series from its journal twice and verify that every
re-executed operation reproduces its recorded entry ID and that both
rebuilds reach the same state digest.

Exit codes:
  0 - Replay is deterministic
  1 - Replay diverged from the journal or between runs
  2 - Command error (database not found, etc.)

Examples:
  bondctl replay --db ./series.db
  bondctl replay --db ./series-badger --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Backend, "journal", "", "journal backend (sqlite|badger), detected when empty")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd, opts.RootOptions)
	formatter := newFormatter(cmd, opts.RootOptions)

	st, err := openExisting(opts.Database, opts.Backend)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	loaded, err := loadSeries(ctx, st)
	if err != nil {
		return err
	}

	result := verifyReplay(ctx, loaded, opts.RootOptions, cmd)

	if formatter.JSON() {
		if result.Deterministic {
			return formatter.Success(result)
		}
		if err := formatter.Error(ErrCodeDivergence, "determinism verification failed", result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Replay Summary: %d entries\n", result.Entries)
	if result.Deterministic {
		fmt.Fprintf(w, "  State digest: %s\n", result.FirstDigest)
		fmt.Fprintln(w, "✓ Journal verified deterministic")
		return nil
	}
	if result.DivergedAt != 0 {
		fmt.Fprintf(w, "  Diverged at seq %d\n", result.DivergedAt)
	}
	fmt.Fprintf(w, "  %s\n", result.Reason)
	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}

// verifyReplay rebuilds twice and compares the resulting digests.
func verifyReplay(ctx context.Context, loaded *loadedSeries, opts *RootOptions, cmd *cobra.Command) ReplayResult {
	result := ReplayResult{Entries: len(loaded.Entries)}
	logger := newLogger(cmd, opts)

	digests := make([]string, 0, 2)
	for run := 1; run <= 2; run++ {
		eng, err := loaded.rebuild(ctx, logger)
		if err != nil {
			var div *engine.DivergenceError
			if errors.As(err, &div) {
				result.DivergedAt = div.Seq
			}
			result.Reason = fmt.Sprintf("replay %d: %v", run, err)
			return result
		}
		digest, err := eng.StateDigest()
		if err != nil {
			result.Reason = fmt.Sprintf("replay %d: %v", run, err)
			return result
		}
		logger.Debug("replay complete", "run", run, "digest", digest)
		digests = append(digests, digest)
	}

	result.FirstDigest, result.SecondDigest = digests[0], digests[1]
	result.Deterministic = digests[0] == digests[1]
	if !result.Deterministic {
		result.Reason = "state digests differ between replays"
	}
	return result
}
