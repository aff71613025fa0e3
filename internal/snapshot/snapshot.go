// Package snapshot keeps the append-only, time-gated record log.
//
// Records are 1-indexed and immutable once appended. A new record is
// allowed once now ≥ lastRecordTime + interval; the first one becomes
// possible one interval after issuance.
package snapshot

import (
	"time"

	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
)

// DefaultInterval is the snapshot cadence of the deployed instrument.
const DefaultInterval = 24 * time.Hour

// Record captures outstanding supply and treasury balance at one instant.
type Record struct {
	TotalSupply     fixed.Amount `json:"total_supply"`
	TreasuryBalance fixed.Amount `json:"treasury_balance"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Log is the ordered record sequence.
type Log struct {
	interval time.Duration
	last     time.Time
	records  []Record
}

// New creates an empty log. issuedAt seeds the time gate.
func New(issuedAt time.Time, interval time.Duration) *Log {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Log{interval: interval, last: issuedAt}
}

// Interval returns the minimum spacing between records.
func (l *Log) Interval() time.Duration { return l.interval }

// LastRecordTime returns the timestamp of the latest record, or issuance time.
func (l *Log) LastRecordTime() time.Time { return l.last }

// NextRecordTime returns the earliest instant the next record may be taken.
func (l *Log) NextRecordTime() time.Time { return l.last.Add(l.interval) }

// Count returns the number of records.
func (l *Log) Count() uint64 { return uint64(len(l.records)) }

// Check reports TooSoon when now precedes NextRecordTime.
func (l *Log) Check(now time.Time) error {
	next := l.NextRecordTime()
	if now.Before(next) {
		return fault.New(fault.CodeTooSoon, "next snapshot at %s", next.UTC().Format(time.RFC3339)).
			With("next_record_time", next.UTC().Format(time.RFC3339)).
			With("wait", next.Sub(now).String())
	}
	return nil
}

// Append records a snapshot and returns its 1-based number. Callers must
// have passed Check(now) under the same lock.
func (l *Log) Append(now time.Time, supply, treasury fixed.Amount) uint64 {
	l.records = append(l.records, Record{
		TotalSupply:     supply,
		TreasuryBalance: treasury,
		Timestamp:       now,
	})
	l.last = now
	return l.Count()
}

// Get returns record number i (1-based).
func (l *Log) Get(i uint64) (Record, error) {
	if i == 0 || i > l.Count() {
		return Record{}, fault.New(fault.CodeNotFound, "snapshot %d out of range [1, %d]", i, l.Count())
	}
	return l.records[i-1], nil
}

// Latest returns the most recent record.
func (l *Log) Latest() (Record, bool) {
	if len(l.records) == 0 {
		return Record{}, false
	}
	return l.records[len(l.records)-1], true
}
