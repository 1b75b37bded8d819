// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestDayKey(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2026, 8, 30, 23, 30, 0, 0, loc)

	if got := DayKey(ts); got != "2026-08-31" {
		t.Errorf("DayKey() = %q, want 2026-08-31", got)
	}
}

func TestDisabledNeverDeduplicates(t *testing.T) {
	s := NewDisabled()
	ctx := context.Background()

	if err := s.Mark(ctx, "2026-08-30", "id-1", Record{EventName: "purchase"}); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	seen, err := s.Seen(ctx, "2026-08-30", "id-1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Error("disabled store must never report duplicates")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	day := "2026-08-30"

	seen, err := s.Seen(ctx, day, "evt-1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatal("unmarked event reported as seen")
	}

	rec := Record{EventName: "purchase", ProcessedAt: time.Now().UTC()}
	if err := s.Mark(ctx, day, "evt-1", rec); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	seen, err = s.Seen(ctx, day, "evt-1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Fatal("marked event not reported as seen")
	}
}

func TestBadgerStoreDayScoping(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Mark(ctx, "2026-08-30", "evt-1", Record{}); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	seen, err := s.Seen(ctx, "2026-08-31", "evt-1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Error("same event id on a different day must not be a duplicate")
	}
}
