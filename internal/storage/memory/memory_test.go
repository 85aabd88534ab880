package memory

import (
	"context"
	"errors"
	"testing"

	"kasse/internal/storage"
)

func TestMemoryStoreGetSet(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}

	in := []byte("value")
	if err := s.Set(ctx, "k", in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in[0] = 'X'

	out, err := s.Get(ctx, "k")
	if err != nil || string(out) != "value" {
		t.Fatalf("unexpected get: %q err=%v", out, err)
	}
	out[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "value" {
		t.Fatalf("stored value was mutated through a returned slice: %q", again)
	}
}
