// Package ids generates prefixed, sortable identifiers ("txn_01h...") for ledger entities.
package ids

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

type Prefix string

const (
	PrefixTransaction Prefix = "txn"
	PrefixOrder       Prefix = "ord"
	PrefixRefund      Prefix = "rfd"
	PrefixAudit       Prefix = "aud"
)

// New returns a fresh id for prefix. It panics on an invalid prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Check validates s and that it carries the expected prefix.
func Check(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("ids: empty id")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("ids: parse %q: %w", s, err)
	}
	if tid.Prefix() != string(expected) {
		return fmt.Errorf("ids: expected prefix %q, got %q", expected, tid.Prefix())
	}
	return nil
}
