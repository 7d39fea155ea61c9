package store

import (
	"context"
	"testing"
)

func TestUpsertContactCreatesThenRefreshes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertContact(ctx, "5511988887777", "Maria")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Name != "Maria" {
		t.Errorf("expected name Maria, got %q", first.Name)
	}
	if first.LastSeenAt == nil {
		t.Error("last_seen_at must be stamped on create")
	}

	second, err := s.UpsertContact(ctx, "5511988887777", "Maria Silva")
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert must reuse the row, got ids %d and %d", first.ID, second.ID)
	}

	got, err := s.ContactByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("load contact: %v", err)
	}
	if got.Name != "Maria Silva" {
		t.Errorf("profile name must follow the latest value, got %q", got.Name)
	}
}

func TestUpsertContactDefaultsNameToPhone(t *testing.T) {
	s := newTestStore(t)

	contact, err := s.UpsertContact(context.Background(), "5511900001111", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if contact.Name != "5511900001111" {
		t.Errorf("empty profile name falls back to the address, got %q", contact.Name)
	}
}
