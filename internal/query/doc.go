// Package query is a small filter language over journal entries.
//
// Predicates are plain values, so one filter built from CLI flags runs
// unchanged against every journal backend. The SQLite store compiles it to
// parameterized SQL; other backends evaluate it with Match. Either way the
// result keeps journal order (seq ascending).
//
// Example:
//
//	p := query.And{Predicates: []query.Predicate{
//		query.Equals{Field: query.FieldKind, Value: "claim_coupon"},
//		query.Equals{Field: query.FieldCaller, Value: "alice"},
//		query.SeqRange{From: 10},
//	}}
package query
