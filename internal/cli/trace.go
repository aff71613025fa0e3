package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/journal"
	"github.com/arcbond/bondengine/internal/query"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Backend  string
	Kind     string // optional - filter to one entry kind
	Caller   string
	Holder   string
	FromSeq  int64
	ToSeq    int64
}

// querier is implemented by journals that filter natively.
type querier interface {
	Query(ctx context.Context, p query.Predicate) ([]journal.Entry, error)
}

// TraceResult holds the listed entries.
type TraceResult struct {
	Filter  string          `json:"filter"`
	Entries []journal.Entry `json:"entries"`
	Stats   TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the journal.
type TraceStats struct {
	Total    int            `json:"total"`
	Shown    int            `json:"shown"`
	ByKind   map[string]int `json:"by_kind"`
	Verified bool           `json:"verified"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List journal entries",
		Long: `List the committed journal entries in seq order, optionally filtered by
kind, caller, holder or seq range. Each entry's content address is
re-verified.

Kinds: ` + strings.Join(kindNames(), ", ") + `

Examples:
  bondctl trace --db ./series.db
  bondctl trace --db ./series.db --kind distribute_coupon
  bondctl trace --db ./series.db --caller alice --from-seq 10
  bondctl trace --db ./series.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Backend, "journal", "", "journal backend (sqlite|badger), detected when empty")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one entry kind")
	cmd.Flags().StringVar(&opts.Caller, "caller", "", "filter to one caller")
	cmd.Flags().StringVar(&opts.Holder, "holder", "", "filter to one holder")
	cmd.Flags().Int64Var(&opts.FromSeq, "from-seq", 0, "first seq to show")
	cmd.Flags().Int64Var(&opts.ToSeq, "to-seq", 0, "last seq to show")

	return cmd
}

func kindNames() []string {
	names := make([]string, 0, len(journal.Kinds()))
	for _, k := range journal.Kinds() {
		names = append(names, string(k))
	}
	return names
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd, opts.RootOptions)
	formatter := newFormatter(cmd, opts.RootOptions)

	filter, err := traceFilter(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	st, err := openExisting(opts.Database, opts.Backend)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	entries, err := st.Entries(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{
		Filter:  query.Describe(filter),
		Entries: entries,
		Stats:   TraceStats{Total: len(entries), ByKind: map[string]int{}, Verified: true},
	}
	for _, e := range entries {
		result.Stats.ByKind[string(e.Kind)]++
		if err := journal.Verify(e); err != nil {
			logger.Warn("entry failed verification", "seq", e.Seq, "error", err)
			result.Stats.Verified = false
		}
	}
	if q, ok := st.(querier); ok {
		if result.Entries, err = q.Query(ctx, filter); err != nil {
			return WrapExitError(ExitCommandError, "failed to query journal", err)
		}
	} else {
		result.Entries = query.Apply(filter, entries)
	}
	result.Stats.Shown = len(result.Entries)

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printTrace(cmd, result, opts.Verbose)
	}

	if !result.Stats.Verified {
		return NewExitError(ExitFailure, "journal verification failed")
	}
	return nil
}

// traceFilter builds the entry filter from the command flags.
func traceFilter(opts *TraceOptions) (query.Predicate, error) {
	var preds []query.Predicate
	if opts.Kind != "" {
		preds = append(preds, query.Equals{Field: query.FieldKind, Value: opts.Kind})
	}
	for _, f := range []struct{ field, raw string }{
		{query.FieldCaller, opts.Caller},
		{query.FieldHolder, opts.Holder},
	} {
		if f.raw == "" {
			continue
		}
		id, err := account.Parse(f.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.field, err)
		}
		preds = append(preds, query.Equals{Field: f.field, Value: id.String()})
	}
	if opts.FromSeq != 0 || opts.ToSeq != 0 {
		preds = append(preds, query.SeqRange{From: opts.FromSeq, To: opts.ToSeq})
	}
	if len(preds) == 0 {
		return nil, nil
	}
	p := query.And{Predicates: preds}
	return p, query.Validate(p)
}

func printTrace(cmd *cobra.Command, r TraceResult, verbose bool) {
	w := cmd.OutOrStdout()
	if r.Stats.Total == 0 {
		fmt.Fprintln(w, "No entries found in journal.")
		return
	}

	fmt.Fprintf(w, "Journal: %d entries (%d shown, filter %s)\n", r.Stats.Total, r.Stats.Shown, r.Filter)
	for _, e := range r.Entries {
		fmt.Fprintf(w, "  [%d] %s %-18s %-8s", e.Seq, e.At.UTC().Format(time.RFC3339), e.Kind, e.Caller)
		if !e.Holder.IsZero() {
			fmt.Fprintf(w, " holder=%s", e.Holder)
		}
		if e.Amount != 0 {
			fmt.Fprintf(w, " amount=%s", e.Amount)
		}
		if e.Flag {
			fmt.Fprint(w, " flag=true")
		}
		fmt.Fprintln(w)
		if verbose {
			fmt.Fprintf(w, "      id=%s op=%s\n", e.ID, e.OpID)
			keys := make([]string, 0, len(e.Result))
			for k := range e.Result {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "      %s=%s\n", k, e.Result[k])
			}
		}
	}

	kinds := make([]string, 0, len(r.Stats.ByKind))
	for k := range r.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, r.Stats.ByKind[k]))
	}
	fmt.Fprintf(w, "By kind: %s\n", strings.Join(parts, " "))
	if !r.Stats.Verified {
		fmt.Fprintln(w, "✗ One or more entries failed verification")
	}
}
