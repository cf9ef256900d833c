package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected status for empty command: %#v", results[2])
	}
}

func TestCheckBinariesIgnoresArguments(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "runner")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	results := CheckBinaries([]Requirement{{Name: "Runner", Command: present + " --quiet"}})
	if !results[0].Available {
		t.Fatalf("expected command with arguments to resolve, got %#v", results[0])
	}
}

func TestMissingSkipsOptional(t *testing.T) {
	statuses := []Status{
		{Name: "a", Available: true},
		{Name: "b"},
		{Name: "c", Optional: true},
	}
	missing := Missing(statuses)
	if len(missing) != 1 || missing[0].Name != "b" {
		t.Fatalf("unexpected missing list %#v", missing)
	}
}
