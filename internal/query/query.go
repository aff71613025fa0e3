package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arcbond/bondengine/internal/journal"
)

// Predicate is a filter over journal entries.
//
// This is a sealed interface - only types in this package implement it.
// Backends switch exhaustively over the concrete types: the SQL store
// compiles them to a WHERE clause, in-memory and key-value journals
// evaluate them with Match.
//
// Predicate types:
//   - Equals: field = value
//   - SeqRange: from ≤ seq ≤ to
//   - And: all predicates must hold
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Filterable entry fields.
const (
	FieldKind   = "kind"
	FieldCaller = "caller"
	FieldHolder = "holder"
)

// Equals matches entries whose field equals Value exactly. Identities are
// compared in their normalized form.
type Equals struct {
	Field string
	Value string
}

func (Equals) predicateNode() {}

// SeqRange matches entries with From ≤ seq ≤ To. A zero bound is open.
type SeqRange struct {
	From int64
	To   int64
}

func (SeqRange) predicateNode() {}

// And represents a conjunction of predicates. Empty means always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Validate reports the first malformed predicate in p. A nil predicate is
// valid and matches everything.
func Validate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		switch pred.Field {
		case FieldCaller, FieldHolder:
			return nil
		case FieldKind:
			if _, ok := journal.ParseKind(pred.Value); !ok {
				return fmt.Errorf("unknown kind %q", pred.Value)
			}
			return nil
		default:
			return fmt.Errorf("unsupported field %q", pred.Field)
		}
	case SeqRange:
		if pred.From < 0 || pred.To < 0 {
			return fmt.Errorf("negative seq bound in [%d, %d]", pred.From, pred.To)
		}
		if pred.To != 0 && pred.From > pred.To {
			return fmt.Errorf("empty seq range [%d, %d]", pred.From, pred.To)
		}
		return nil
	case And:
		for i, sub := range pred.Predicates {
			if err := Validate(sub); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// Match evaluates p against one entry. p must be valid.
func Match(p Predicate, e journal.Entry) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		return fieldValue(e, pred.Field) == pred.Value
	case SeqRange:
		if pred.From != 0 && e.Seq < pred.From {
			return false
		}
		return pred.To == 0 || e.Seq <= pred.To
	case And:
		for _, sub := range pred.Predicates {
			if !Match(sub, e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Apply returns the entries matching p, preserving order. The result is
// never nil.
func Apply(p Predicate, entries []journal.Entry) []journal.Entry {
	out := []journal.Entry{}
	for _, e := range entries {
		if Match(p, e) {
			out = append(out, e)
		}
	}
	return out
}

func fieldValue(e journal.Entry, field string) string {
	switch field {
	case FieldKind:
		return string(e.Kind)
	case FieldCaller:
		return e.Caller.String()
	case FieldHolder:
		return e.Holder.String()
	default:
		return ""
	}
}

// Describe renders p for logs and CLI output.
func Describe(p Predicate) string {
	switch pred := p.(type) {
	case nil:
		return "all"
	case Equals:
		return pred.Field + "=" + pred.Value
	case SeqRange:
		from, to := "", ""
		if pred.From != 0 {
			from = strconv.FormatInt(pred.From, 10)
		}
		if pred.To != 0 {
			to = strconv.FormatInt(pred.To, 10)
		}
		return "seq=[" + from + "," + to + "]"
	case And:
		if len(pred.Predicates) == 0 {
			return "all"
		}
		parts := make([]string, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			parts = append(parts, Describe(sub))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%T", p)
	}
}
