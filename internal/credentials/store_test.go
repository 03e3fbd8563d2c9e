package credentials

import (
	"context"
	"errors"
	"testing"
)

func TestStoreSetAndReselect(t *testing.T) {
	t.Parallel()

	store := NewStore("  key-1 ", nil)
	if store.APIKey() != "key-1" || !store.Configured() {
		t.Fatalf("expected trimmed initial key, got %q", store.APIKey())
	}

	store.Set("key-2")
	if store.APIKey() != "key-2" {
		t.Fatalf("expected replaced key, got %q", store.APIKey())
	}

	prompted := 0
	store.OnReselect(func(context.Context) error {
		prompted++
		return nil
	})
	if err := store.Reselect(context.Background()); err != nil {
		t.Fatalf("reselect failed: %v", err)
	}
	if prompted != 1 {
		t.Fatalf("expected prompt to run once, got %d", prompted)
	}
	if store.Configured() {
		t.Fatalf("expected rejected key to be forgotten")
	}
}

func TestStoreReselectPropagatesPromptError(t *testing.T) {
	t.Parallel()

	store := NewStore("k", nil)
	want := errors.New("dialog closed")
	store.OnReselect(func(context.Context) error { return want })
	if err := store.Reselect(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected prompt error, got %v", err)
	}
}

func TestStoreReselectWithoutPrompt(t *testing.T) {
	t.Parallel()

	store := NewStore("k", nil)
	if err := store.Reselect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
