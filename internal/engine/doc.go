// Package engine implements the bond settlement engine.
//
// The engine composes the claim-token ledger, the accrual index, the
// snapshot log and the treasury into one series with a fixed maturity, and
// exposes the issuer, holder and keeper operations as atomic transitions.
//
// ARCHITECTURE:
//
// Single Writer:
// Every mutation takes the engine's write lock for its whole duration, so
// transitions are totally ordered. Queries take the read lock and never see
// a half-applied transition.
//
// Transition Flow:
//  1. Validate every precondition across all components (Plan* calls, no writes)
//  2. Move the backing asset through the treasury (the only fallible side effect)
//  3. Apply the planned ledger writes (infallible)
//  4. Stamp a journal entry with the next logical seq and append it
//
// A failure in steps 1 or 2 leaves the series untouched. A failure in step 4
// is logged and does not undo the committed transition.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Journal entries are ordered by a monotonic seq from Clock.Next(), never by
// wall-clock time. Wall time is only an input to the maturity and snapshot
// gates, and it is recorded so replay can feed the same instants back.
//
// Checkpointing:
// Before a holder's claim-token balance changes, the coupon it has earned at
// the old balance is frozen into the accrual index. A balance change can
// therefore neither create nor destroy entitlement to past coupons.
package engine
