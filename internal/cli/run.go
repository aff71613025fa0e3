package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcbond/bondengine/internal/config"
	"github.com/arcbond/bondengine/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Backend  string
}

// RunResult summarizes a scenario run.
type RunResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Steps    int                  `json:"steps"`
	Entries  int                  `json:"entries"`
	Digest   string               `json:"state_digest"`
	Database string               `json:"database,omitempty"`
	Trace    []harness.TraceEvent `json:"trace,omitempty"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a scenario against a fresh series",
		Long: `Execute a scenario against a fresh series and report whether every
expectation, invariant and assertion held.

With --db the series parameters and every committed journal entry are
persisted, so status, replay and trace can rebuild the series later. The
database must not already hold a journal.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed
  2 - Command error (invalid scenario, database errors, etc.)

Examples:
  bondctl run scenarios/end_to_end.yaml
  bondctl run --db ./series.db scenarios/end_to_end.yaml
  bondctl run --db ./series-badger --journal badger scenarios/end_to_end.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to persist the journal (sqlite file or badger directory)")
	cmd.Flags().StringVar(&opts.Backend, "journal", BackendSQLite, "journal backend (sqlite|badger)")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd, opts.RootOptions)
	formatter := newFormatter(cmd, opts.RootOptions)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scenario", err)
	}
	params, err := scenario.Series.Params()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid series", err)
	}

	var runOpts []harness.Option
	runOpts = append(runOpts, harness.WithLogger(logger))

	if opts.Database != "" {
		logger.Debug("opening database", "path", opts.Database, "journal", opts.Backend)
		st, err := openStore(opts.Database, opts.Backend)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer closeStore(st, logger)

		existing, err := st.Entries(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		if len(existing) > 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("database already holds %d journal entries", len(existing)))
		}

		data, err := config.EncodeParams(params)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode series parameters", err)
		}
		if err := st.SaveParams(ctx, data); err != nil {
			return WrapExitError(ExitCommandError, "failed to save series parameters", err)
		}
		runOpts = append(runOpts, harness.WithJournal(st))
	}

	logger.Info("running scenario", "name", scenario.Name, "steps", len(scenario.Steps))
	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario could not run", err)
	}

	digest, err := result.Engine.StateDigest()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to digest state", err)
	}
	last, _ := result.Engine.LastEntry()

	out := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Steps:    len(scenario.Steps),
		Entries:  int(last.Seq),
		Digest:   digest,
		Database: opts.Database,
		Errors:   result.Errors,
	}
	if opts.Verbose || formatter.JSON() {
		out.Trace = result.Trace
	}

	if formatter.JSON() {
		if out.Pass {
			if err := formatter.Success(out); err != nil {
				return err
			}
		} else if err := formatter.Error(ErrCodeScenario, "scenario failed", out); err != nil {
			return err
		}
	} else {
		printRun(cmd, out)
	}

	if !out.Pass {
		return NewExitError(ExitFailure, "scenario failed")
	}
	return nil
}

func printRun(cmd *cobra.Command, r RunResult) {
	w := cmd.OutOrStdout()
	status := "✓"
	if !r.Pass {
		status = "✗"
	}
	fmt.Fprintf(w, "%s Scenario: %s\n", status, r.Scenario)
	fmt.Fprintf(w, "  Steps: %d, journal entries: %d\n", r.Steps, r.Entries)
	fmt.Fprintf(w, "  State digest: %s\n", r.Digest)
	if r.Database != "" {
		fmt.Fprintf(w, "  Journal: %s\n", r.Database)
	}
	for _, ev := range r.Trace {
		outcome := ev.Error
		if outcome == "" {
			outcome = fmt.Sprintf("seq=%d", ev.Seq)
		}
		fmt.Fprintf(w, "    %s %-18s %-8s %s\n", ev.At.UTC().Format("2006-01-02T15:04:05Z"), ev.Op, ev.Caller, outcome)
	}
	for _, msg := range r.Errors {
		fmt.Fprintf(w, "  - %s\n", msg)
	}
}
