package harness

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestAssertionError_Format(t *testing.T) {
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	err := &AssertionError{
		Type:     AssertJournalCount,
		Expected: "3 entries",
		Actual:   "2 entries",
		Trace: []TraceEvent{
			{Seq: 1, Op: "deposit", Caller: "alice", At: at},
			{Op: "redeem", Caller: "alice", At: at, Error: "NOT_MATURED"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: journal_count")
	assert.Contains(t, msg, "Expected: 3 entries")
	assert.Contains(t, msg, "Actual: 2 entries")
	assert.Contains(t, msg, "[1] 2025-01-02T00:00:00Z deposit alice seq=1")
	assert.Contains(t, msg, "[2] 2025-01-02T00:00:00Z redeem alice NOT_MATURED")
}

func TestAssertions_Pass(t *testing.T) {
	scenario := baseScenario(
		Step{Op: "deposit", Caller: "alice", Amount: "2"},
		Step{Advance: "24h", Op: "record_snapshot", Caller: "keeper"},
	)
	scenario.Assertions = []Assertion{
		{Type: AssertSeries, Expect: map[string]string{
			"total_supply":          "20",
			"record_count":          "1",
			"pending_distributions": "1",
			"health":                "warning",
			"phase":                 "active",
		}},
		{Type: AssertTreasury, Expect: map[string]string{
			"balance":          "2",
			"required_reserve": "0.6",
			"withdrawable":     "1.4",
		}},
		{Type: AssertHolder, Holder: "alice", Expect: map[string]string{
			"balance":       "20",
			"asset_balance": "8",
		}},
		{Type: AssertSnapshot, Record: 1, Expect: map[string]string{
			"total_supply": "20",
			"timestamp":    "2025-01-02T00:00:00Z",
		}},
		{Type: AssertJournalCount, Count: intPtr(2)},
		{Type: AssertJournalCount, Kind: "record_snapshot", Count: intPtr(1)},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertions_Mismatches(t *testing.T) {
	scenario := baseScenario(Step{Op: "deposit", Caller: "alice", Amount: "2"})
	scenario.Assertions = []Assertion{
		{Type: AssertSeries, Expect: map[string]string{"paused": "true"}},
		{Type: AssertHolder, Holder: "alice", Expect: map[string]string{"balance": "19"}},
		{Type: AssertSnapshot, Record: 1, Expect: map[string]string{"total_supply": "20"}},
		{Type: AssertJournalCount, Kind: "deposit", Count: intPtr(2)},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)

	assert.True(t, strings.HasPrefix(result.Errors[0], "assertions[0]: Assertion failed: series"))
	assert.Contains(t, result.Errors[0], `field "paused": expected true, got false`)
	assert.Contains(t, result.Errors[1], `field "balance": expected 19, got 20.000000`)
	assert.Contains(t, result.Errors[2], "NOT_FOUND")
	assert.Contains(t, result.Errors[3], "Expected: 2 deposit entries")
	assert.Contains(t, result.Errors[3], "Actual: 1 deposit entries")
}

func TestEvaluateAssertion_UnknownType(t *testing.T) {
	err := evaluateAssertion(nil, Assertion{Type: "final_state"}, &AssertionContext{})
	require.Error(t, err)

	var aerr *AssertionError
	assert.False(t, errors.As(err, &aerr))
	assert.Contains(t, err.Error(), `unknown assertion type "final_state"`)
}
