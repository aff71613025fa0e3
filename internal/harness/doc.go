// Package harness runs scripted bond-series scenarios as conformance tests.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: end_to_end
//	description: "What this scenario validates"
//	series:
//	  owner: issuer
//	  issued_at: "2025-01-01T00:00:00Z"
//	funding:
//	  alice: "10"
//	steps:
//	  - op: deposit
//	    caller: alice
//	    amount: "2"
//	    expect:
//	      result: { minted: "20" }
//	  - advance: 24h
//	    op: record_snapshot
//	    caller: keeper
//	  - op: redeem
//	    caller: alice
//	    amount: "20"
//	    expect:
//	      error: NOT_MATURED
//	assertions:
//	  - type: holder
//	    holder: alice
//	    expect: { balance: "20" }
//	  - type: journal_count
//	    count: 2
//
// series takes the same fields as a series file. A step may advance the
// clock, run an operation, or both; the clock moves first. Without an
// expect clause the operation must succeed.
//
// # Assertion Types
//
//   - series: series info, phase and health
//   - treasury: balance, required_reserve, withdrawable
//   - holder: balance, claimable, claimed_index, asset_balance
//   - snapshot: total_supply, treasury_balance, timestamp of one record
//   - journal_count: number of committed entries, optionally of one kind
//
// Amounts compare by value, so "2" matches "2.000000".
//
// # Invariants
//
// After every step the harness checks claim-token conservation,
// claimedIndex ≤ cumulativeIndex for every holder, and that neither lifetime
// deposits nor the cumulative index ever decrease.
//
// # Deterministic Testing
//
// Every run uses a manual clock starting at issuance, sequential operation
// IDs and an in-memory asset, so traces are byte-stable for golden
// comparison (see RunWithGolden).
package harness
