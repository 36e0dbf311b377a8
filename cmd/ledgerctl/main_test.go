package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootRegistersOperatorCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "seed-products", "token", "balance", "tx", "approve", "cancel", "approve-refund"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"token", "u1", "--role", "owner"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), `unknown role "owner"`) {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}

func TestSeedProductsRequiresReadableFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"seed-products", t.TempDir() + "/missing.yaml"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
