package ids

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefix(t *testing.T) {
	id := New(PrefixTransaction)
	if !strings.HasPrefix(id, "txn_") {
		t.Fatalf("expected txn_ prefix, got %q", id)
	}
	if err := Check(id, PrefixTransaction); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestCheckRejectsWrongPrefix(t *testing.T) {
	id := New(PrefixOrder)
	if err := Check(id, PrefixRefund); err == nil {
		t.Fatalf("expected prefix mismatch error")
	}
	if err := Check("", PrefixRefund); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := New(PrefixRefund)
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
