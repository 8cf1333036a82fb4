package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresEntriesInOrder(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	if err := registry.Register("*/10 * * * *", jobA); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := registry.Register("0 3 * * *", jobB); err != nil {
		t.Fatalf("register b: %v", err)
	}
	entries := registry.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Job != jobA || entries[1].Job != jobB {
		t.Fatalf("entries returned out of order")
	}
	entries[0].Job = nil
	if registry.Entries()[0].Job == nil {
		t.Fatalf("internal slice leaked")
	}
	if job, ok := registry.Lookup("b"); !ok || job != jobB {
		t.Fatalf("lookup b failed")
	}
}

func TestRegistryRejectsBadInput(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("every minute", &stubJob{name: "x"}); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if err := registry.Register("* * * * * *", &stubJob{name: "x"}); err == nil {
		t.Fatal("expected six-field schedule to be rejected")
	}
	if err := registry.Register("@hourly", &stubJob{name: "x"}); err != nil {
		t.Fatalf("descriptor rejected: %v", err)
	}
	if err := registry.Register("@daily", &stubJob{name: "x"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := registry.Register("", &stubJob{name: "disabled"}); err != nil {
		t.Fatalf("blank schedule should disable, got %v", err)
	}
	if _, ok := registry.Lookup("disabled"); ok {
		t.Fatal("disabled job must not be registered")
	}
}

func TestBackfillScheduleOffsetsFromLinking(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("*/10 * * * *", &stubJob{name: "link"}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register("5-59/10 * * * *", &stubJob{name: "backfill"}); err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 10, 15, 12, 1, 0, 0, time.UTC)
	entries := registry.Entries()
	if next := entries[0].spec.Next(from); next.Minute() != 10 {
		t.Fatalf("link should next run at :10, got %s", next)
	}
	if next := entries[1].spec.Next(from); next.Minute() != 5 {
		t.Fatalf("backfill should next run at :05, got %s", next)
	}
}
