// Package account defines holder identities.
//
// An ID is an opaque, normalized string: NFC-normalized, trimmed and
// lower-cased, so "0xAbC" and "0xabc" address the same balance entry.
package account

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/arcbond/bondengine/internal/fault"
)

// ID identifies a participant (holder, owner, custody account).
type ID string

// None is the zero identity; it never holds balances.
const None ID = ""

// Parse normalizes s into an ID. Empty identities are rejected.
func Parse(s string) (ID, error) {
	n := strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
	if n == "" {
		return None, fault.New(fault.CodeUnauthorized, "empty account identity")
	}
	return ID(n), nil
}

// MustParse is Parse for constants and fixtures; it panics on error.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the normalized identity.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether id is the empty identity.
func (id ID) IsZero() bool {
	return id == None
}
