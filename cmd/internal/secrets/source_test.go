package secrets

import (
	"strings"
	"testing"
)

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("SECRETS_TEST_TOKEN", "hunter2")
	src := NewSource("test secret", "SECRETS_TEST_TOKEN")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected secret %q", got)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("SECRETS_TEST_TOKEN", "   ")
	src := NewSource("test secret", "SECRETS_TEST_TOKEN")
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected set-but-empty error, got %v", err)
	}
}

func TestSourceFailsWithoutTerminal(t *testing.T) {
	// Test stdin is never a terminal, so the unset-variable path must fail
	// with an error that names the variable to set.
	src := NewSource("test secret", "SECRETS_TEST_UNSET_TOKEN")
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "SECRETS_TEST_UNSET_TOKEN") {
		t.Fatalf("expected error naming the variable, got %v", err)
	}
}

func TestSourceCachesFirstResolution(t *testing.T) {
	t.Setenv("SECRETS_TEST_TOKEN", "first")
	src := NewSource("test secret", "SECRETS_TEST_TOKEN")
	if got, err := src.Get(); err != nil || got != "first" {
		t.Fatalf("get: %q %v", got, err)
	}
	t.Setenv("SECRETS_TEST_TOKEN", "second")
	if got, err := src.Get(); err != nil || got != "first" {
		t.Fatalf("expected cached value, got %q %v", got, err)
	}
}
