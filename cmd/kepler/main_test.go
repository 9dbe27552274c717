package main

import (
	"testing"

	"github.com/MrWong99/kepler/internal/config"
)

func TestBuildProviderEmptyNameIsPassThrough(t *testing.T) {
	t.Parallel()
	p, err := buildProvider(config.LLMConfig{})
	if err != nil {
		t.Fatalf("empty provider name must not error, got %v", err)
	}
	if p != nil {
		t.Fatalf("empty provider name must yield a nil provider, got %T", p)
	}
}

func TestBuildProviderUnknownNameErrors(t *testing.T) {
	t.Parallel()
	if _, err := buildProvider(config.LLMConfig{Provider: "not-a-backend", Model: "m"}); err == nil {
		t.Fatal("expected error for unregistered provider name")
	}
}
