package services_test

import (
	"errors"
	"strings"
	"testing"

	"scribe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExecution, "asr", "transcribe", "remote call failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExecution) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"asr", "transcribe", "remote call failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestDetailsPrefersInvalidFormat(t *testing.T) {
	err := services.Wrap(services.ErrClassification, "classify", "wav", "bad header",
		services.ErrInvalidFormat)
	details := services.Details(err)
	if details.Kind != "invalid_format" {
		t.Fatalf("expected invalid_format kind, got %q", details.Kind)
	}
	if details.Hint == "" {
		t.Fatal("expected remediation hint")
	}

	registry := services.Details(services.Wrap(services.ErrRegistry, "registry", "lookup", "task 9", nil))
	if registry.Kind != "registry" {
		t.Fatalf("expected registry kind, got %q", registry.Kind)
	}

	if got := services.Details(nil); got.Kind != "" {
		t.Fatalf("expected empty details for nil error, got %+v", got)
	}
	if got := services.Details(errors.New("plain")); got.Kind != "unknown" {
		t.Fatalf("expected unknown kind, got %+v", got)
	}
}
