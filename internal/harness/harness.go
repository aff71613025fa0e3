package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/asset"
	"github.com/arcbond/bondengine/internal/engine"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
	"github.com/arcbond/bondengine/internal/testutil"
)

// Harness executes one scenario against a fresh series.
type Harness struct {
	engine  *engine.Engine
	asset   *asset.Ledger
	clock   *testutil.ManualClock
	journal *journal.Memory
	logger  *slog.Logger

	// Last observed values for the monotonicity checks.
	deposited fixed.Amount
	index     fixed.Amount
}

// Option configures a run.
type Option func(*options)

type options struct {
	sinks  []journal.Appender
	logger *slog.Logger
}

// WithJournal also appends every committed entry to j.
func WithJournal(j journal.Appender) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, j)
	}
}

// WithLogger sets the engine logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// tee fans an entry out to several journals. The first failure wins.
type tee []journal.Appender

func (t tee) Append(ctx context.Context, e journal.Entry) error {
	for _, j := range t {
		if err := j.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh engine, an in-memory asset, a manual
// clock starting at issuance and sequential operation IDs, so two runs of
// the same scenario produce identical traces and journals.
//
// Execution flow:
// 1. Build the series from scenario.Series and fund the listed accounts
// 2. Run each step, checking its expect clause
// 3. Check the series invariants after every step
// 4. Evaluate the final assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	params, err := scenario.Series.Params()
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}

	h := &Harness{
		asset:   asset.New(params.AssetSymbol),
		clock:   testutil.NewManualClock(params.IssuedAt),
		journal: journal.NewMemory(),
		logger:  o.logger,
	}
	if err := h.fund(scenario.Funding, params.Custody); err != nil {
		return nil, err
	}

	h.engine, err = engine.New(params, h.asset,
		engine.WithTimeSource(h.clock),
		engine.WithJournal(append(tee{h.journal}, o.sinks...)),
		engine.WithOpIDGenerator(testutil.NewSequentialOpIDs("op")),
		engine.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("issue series: %w", err)
	}

	ctx := context.Background()
	result := NewResult()
	result.Params = params
	result.Engine = h.engine

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		for _, msg := range h.checkInvariants() {
			result.AddError(fmt.Sprintf("steps[%d]: invariant violated: %s", i, msg))
		}
	}

	actx := &AssertionContext{
		Engine:  h.engine,
		Asset:   h.asset,
		Journal: h.journal,
		Ctx:     ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// fund credits the scenario's accounts in a fixed order. The custody
// account is never funded directly.
func (h *Harness) fund(funding map[string]string, custody account.ID) error {
	ids := make([]string, 0, len(funding))
	for id := range funding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, raw := range ids {
		if err := checkFundable(raw, custody); err != nil {
			return err
		}
		id, err := account.Parse(raw)
		if err != nil {
			return fmt.Errorf("funding: %w", err)
		}
		amt, err := fixed.Parse(funding[raw])
		if err != nil {
			return fmt.Errorf("funding[%s]: %w", raw, err)
		}
		if err := h.asset.Fund(id, amt); err != nil {
			return fmt.Errorf("funding[%s]: %w", raw, err)
		}
	}
	return nil
}

// executeStep advances the clock, runs the operation and validates the
// expect clause. Mismatches are recorded on result; only malformed steps
// return an error.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)
	}
	if step.Op == "" {
		return nil
	}

	req, err := requestOf(step)
	if err != nil {
		return err
	}
	event := TraceEvent{
		Op:     step.Op,
		Caller: req.Caller.String(),
		Holder: req.Holder.String(),
		Flag:   req.Flag,
		At:     h.engine.Now(),
	}
	if req.Amount != 0 {
		event.Amount = req.Amount.String()
	}

	out, execErr := h.engine.Execute(ctx, req)
	if execErr != nil {
		event.Error = string(fault.CodeOf(execErr))
		if event.Error == "" {
			event.Error = execErr.Error()
		}
	} else {
		last, _ := h.engine.LastEntry()
		event.Seq = last.Seq
		event.Result = out
	}
	result.Trace = append(result.Trace, event)

	h.logger.Info("scenario step",
		"step", i,
		"op", step.Op,
		"seq", event.Seq,
		"error", event.Error,
	)

	var expect ExpectClause
	if step.Expect != nil {
		expect = *step.Expect
	}
	switch {
	case expect.Error != "" && execErr == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, succeeded", i, step.Op, expect.Error))
	case expect.Error != "" && event.Error != expect.Error:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %v", i, step.Op, expect.Error, execErr))
	case expect.Error == "" && execErr != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Op, execErr))
	case execErr == nil:
		for _, msg := range matchFields(expect.Result, out) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, msg))
		}
	}
	return nil
}

func requestOf(step Step) (engine.Request, error) {
	kind, ok := journal.ParseKind(step.Op)
	if !ok {
		return engine.Request{}, fmt.Errorf("unknown op %q", step.Op)
	}
	req := engine.Request{Kind: kind, Flag: step.Flag}
	var err error
	if req.Caller, err = account.Parse(step.Caller); err != nil {
		return engine.Request{}, fmt.Errorf("caller: %w", err)
	}
	if step.Holder != "" {
		if req.Holder, err = account.Parse(step.Holder); err != nil {
			return engine.Request{}, fmt.Errorf("holder: %w", err)
		}
	}
	if step.Amount != "" {
		if req.Amount, err = fixed.Parse(step.Amount); err != nil {
			return engine.Request{}, fmt.Errorf("amount: %w", err)
		}
	}
	return req, nil
}

// checkInvariants verifies the series invariants and the monotonicity of
// lifetime deposits and the cumulative index since the previous step.
func (h *Harness) checkInvariants() []string {
	var errs []string
	if err := h.engine.CheckInvariants(); err != nil {
		errs = append(errs, err.Error())
	}
	info := h.engine.SeriesInfo()
	if info.TotalDeposited < h.deposited {
		errs = append(errs, fmt.Sprintf("total deposited fell from %s to %s", h.deposited, info.TotalDeposited))
	}
	if info.CumulativeIndex < h.index {
		errs = append(errs, fmt.Sprintf("cumulative index fell from %s to %s", h.index, info.CumulativeIndex))
	}
	h.deposited = info.TotalDeposited
	h.index = info.CumulativeIndex
	return errs
}

// matchFields reports every key of want whose value differs in got.
func matchFields(want, got map[string]string) []string {
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []string
	for _, k := range keys {
		g, ok := got[k]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("field %q: missing", k))
		case !sameValue(want[k], g):
			errs = append(errs, fmt.Sprintf("field %q: expected %s, got %s", k, want[k], g))
		}
	}
	return errs
}

// sameValue compares two renderings, treating equal decimal amounts as
// equal so scenarios may write "2" for "2.000000".
func sameValue(want, got string) bool {
	if want == got {
		return true
	}
	w, err1 := fixed.Parse(want)
	g, err2 := fixed.Parse(got)
	return err1 == nil && err2 == nil && w == g
}
