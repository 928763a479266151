package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew_DisabledWithoutURL(t *testing.T) {
	c, err := New(context.Background(), "", "nutrition")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IsEnabled() {
		t.Fatal("expected disabled cache")
	}

	ctx := context.Background()
	if err := c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Errorf("Set on disabled cache: %v", err)
	}
	var dest map[string]int
	if err := c.Get(ctx, "k", &dest); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete on disabled cache: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on disabled cache: %v", err)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New(context.Background(), "://not-a-url", "nutrition"); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestKeyPrefix(t *testing.T) {
	c := &Cache{keyPrefix: "nutrition"}
	if got := c.key("previous-data:abc"); got != "nutrition:previous-data:abc" {
		t.Errorf("key() = %q", got)
	}
	c.keyPrefix = ""
	if got := c.key("x"); got != "x" {
		t.Errorf("key() without prefix = %q", got)
	}
}
