package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/asset"
	"github.com/arcbond/bondengine/internal/engine"
	"github.com/arcbond/bondengine/internal/journal"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		outcome := event.Error
		if outcome == "" {
			outcome = fmt.Sprintf("seq=%d", event.Seq)
		}
		fmt.Fprintf(&buf, "  [%d] %s %s %s %s\n", i+1, event.At.Format(time.RFC3339), event.Op, event.Caller, outcome)
	}

	return buf.String()
}

// AssertionContext gives assertions access to the final series.
type AssertionContext struct {
	Engine  *engine.Engine
	Asset   *asset.Ledger
	Journal journal.Journal
	Ctx     context.Context
}

// EvaluateAssertions runs every assertion and returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	var fields map[string]string
	var err error

	switch a.Type {
	case AssertSeries:
		fields = seriesFields(actx.Engine)
	case AssertTreasury:
		fields, err = treasuryFields(actx.Engine)
	case AssertHolder:
		fields, err = holderFields(actx, a.Holder)
	case AssertSnapshot:
		fields, err = snapshotFields(actx.Engine, a.Record)
	case AssertJournalCount:
		return assertJournalCount(trace, a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if err != nil {
		return err
	}

	if mismatches := matchFields(a.Expect, fields); len(mismatches) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   strings.Join(mismatches, "; "),
			Trace:    trace,
		}
	}
	return nil
}

// seriesFields renders the series-wide state under the names assertions use.
func seriesFields(e *engine.Engine) map[string]string {
	info := e.SeriesInfo()
	st := e.Status()
	return map[string]string{
		"name":                    info.Name,
		"symbol":                  info.Symbol,
		"owner":                   info.Owner.String(),
		"maturity":                info.Maturity.Format(time.RFC3339),
		"cap":                     info.Cap.String(),
		"total_deposited":         info.TotalDeposited.String(),
		"total_supply":            info.TotalSupply.String(),
		"record_count":            strconv.FormatUint(info.RecordCount, 10),
		"last_distributed_record": strconv.FormatUint(info.LastDistributedRecord, 10),
		"cumulative_index":        info.CumulativeIndex.String(),
		"pending_distributions":   strconv.FormatUint(st.Pending, 10),
		"next_record_time":        e.NextRecordTime().Format(time.RFC3339),
		"paused":                  strconv.FormatBool(info.Paused),
		"emergency_mode":          strconv.FormatBool(info.EmergencyMode),
		"matured":                 strconv.FormatBool(st.Matured),
		"phase":                   string(st.Phase),
		"health":                  string(st.Health),
	}
}

func treasuryFields(e *engine.Engine) (map[string]string, error) {
	st, err := e.TreasuryStatus()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"balance":          st.Balance.String(),
		"required_reserve": st.RequiredReserve.String(),
		"withdrawable":     st.Withdrawable.String(),
	}, nil
}

func holderFields(actx *AssertionContext, raw string) (map[string]string, error) {
	id, err := account.Parse(raw)
	if err != nil {
		return nil, err
	}
	claimable, err := actx.Engine.ClaimableAmount(id)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"balance":       actx.Engine.BalanceOf(id).String(),
		"claimable":     claimable.String(),
		"claimed_index": actx.Engine.ClaimedIndex(id).String(),
		"asset_balance": actx.Asset.BalanceOf(id).String(),
	}, nil
}

func snapshotFields(e *engine.Engine, record uint64) (map[string]string, error) {
	rec, err := e.Snapshot(record)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"total_supply":     rec.TotalSupply.String(),
		"treasury_balance": rec.TreasuryBalance.String(),
		"timestamp":        rec.Timestamp.UTC().Format(time.RFC3339),
	}, nil
}

// assertJournalCount checks the number of committed entries, optionally of
// one kind.
func assertJournalCount(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	entries, err := actx.Journal.Entries(actx.Ctx)
	if err != nil {
		return err
	}
	if a.Kind != "" {
		kind, _ := journal.ParseKind(a.Kind)
		entries = journal.Filter(entries, kind)
	}
	if len(entries) != *a.Count {
		what := "entries"
		if a.Kind != "" {
			what = a.Kind + " entries"
		}
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d %s", *a.Count, what),
			Actual:   fmt.Sprintf("%d %s", len(entries), what),
			Trace:    trace,
		}
	}
	return nil
}
