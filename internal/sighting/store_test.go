package sighting

import "testing"

func clockAt(ms int64) func() int64 {
	return func() int64 { return ms }
}

// S1 — First sighting.
func TestFirstSighting(t *testing.T) {
	var cur int64 = 1000
	s := NewStore(16, 16, 500, WithClock(func() int64 { return cur }))

	if err := s.ObserveBR("AA:BB:CC:DD:EE:01", -60); err != nil {
		t.Fatalf("ObserveBR: %v", err)
	}
	if s.RecentLen() != 1 || s.TrackedLen() != 1 {
		t.Fatalf("RecentLen=%d TrackedLen=%d, want 1,1", s.RecentLen(), s.TrackedLen())
	}
	rec, ok := s.Lookup("aa:bb:cc:dd:ee:01")
	if !ok {
		t.Fatal("expected record to be found")
	}
	if rec.FirstSeenMs != 1000 || rec.LastSeenMs != 1000 || rec.RSSI != -60 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

// S2 — Update does not duplicate.
func TestUpdateDoesNotDuplicate(t *testing.T) {
	var cur int64 = 1000
	s := NewStore(16, 16, 500, WithClock(func() int64 { return cur }))
	if err := s.ObserveBR("AA:BB:CC:DD:EE:01", -60); err != nil {
		t.Fatal(err)
	}
	cur = 1500
	if err := s.ObserveBR("AA:BB:CC:DD:EE:01", -55); err != nil {
		t.Fatal(err)
	}
	if s.RecentLen() != 1 || s.TrackedLen() != 1 {
		t.Fatalf("RecentLen=%d TrackedLen=%d, want 1,1", s.RecentLen(), s.TrackedLen())
	}
	rec, _ := s.Lookup("AA:BB:CC:DD:EE:01")
	if rec.FirstSeenMs != 1000 || rec.LastSeenMs != 1500 || rec.RSSI != -55 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

// S3 — Cleanup timeout.
func TestCleanupTimeout(t *testing.T) {
	var cur int64 = 1000
	s := NewStore(16, 16, 500, WithClock(func() int64 { return cur }))
	if err := s.ObserveBR("AA:BB:CC:DD:EE:01", -60); err != nil {
		t.Fatal(err)
	}
	cur = 1500
	if err := s.ObserveBR("AA:BB:CC:DD:EE:01", -55); err != nil {
		t.Fatal(err)
	}
	// drain before cleanup; tracked hook should already be unlinked.
	_ = s.DrainForUpload(10)
	if s.TrackedLen() != 0 {
		t.Fatalf("TrackedLen = %d, want 0 after drain", s.TrackedLen())
	}

	cur = 1500 + 500 + 1
	removed := s.Cleanup()
	if removed != 1 {
		t.Fatalf("Cleanup() removed = %d, want 1", removed)
	}
	if s.RecentLen() != 0 {
		t.Fatalf("RecentLen = %d, want 0", s.RecentLen())
	}
	if _, ok := s.Lookup("AA:BB:CC:DD:EE:01"); ok {
		t.Fatal("expected record to be gone")
	}
}

// Invariant 4: drain_for_upload returns insertion order, never twice.
func TestDrainForUploadOrderAndNoDuplicate(t *testing.T) {
	var cur int64 = 1000
	s := NewStore(16, 16, 500, WithClock(func() int64 { return cur }))
	addrs := []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"}
	for _, a := range addrs {
		if err := s.ObserveBR(a, -50); err != nil {
			t.Fatal(err)
		}
		cur++
	}
	got := s.DrainForUpload(10)
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	for i, a := range addrs {
		if got[i].Address != a {
			t.Fatalf("got[%d].Address = %q, want %q", i, got[i].Address, a)
		}
	}
	second := s.DrainForUpload(10)
	if len(second) != 0 {
		t.Fatalf("second drain returned %d records, want 0", len(second))
	}
}

func TestStoreFullDropsAndCounts(t *testing.T) {
	var dropped []DropReason
	s := NewStore(1, 16, 500, WithDropHook(func(r DropReason) { dropped = append(dropped, r) }))
	if err := s.ObserveBR("AA:00:00:00:00:01", -50); err != nil {
		t.Fatal(err)
	}
	err := s.ObserveBR("AA:00:00:00:00:02", -50)
	if err == nil {
		t.Fatal("expected StoreFull error")
	}
	if len(dropped) != 1 || dropped[0] != DropStoreFull {
		t.Fatalf("dropped = %v, want [store_full]", dropped)
	}
}

func TestTrackedQueueOverflowEvictsOldest(t *testing.T) {
	var dropped []DropReason
	s := NewStore(16, 2, 500, WithDropHook(func(r DropReason) { dropped = append(dropped, r) }))
	for _, a := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"} {
		if err := s.ObserveBR(a, -50); err != nil {
			t.Fatal(err)
		}
	}
	if s.TrackedLen() != 2 {
		t.Fatalf("TrackedLen = %d, want 2", s.TrackedLen())
	}
	if len(dropped) != 1 || dropped[0] != DropQueueOverflow {
		t.Fatalf("dropped = %v, want [queue_overflow]", dropped)
	}
	// the oldest entry was evicted from the queue but the record
	// survives in the recent-sightings set.
	if _, ok := s.Lookup("AA:00:00:00:00:01"); !ok {
		t.Fatal("expected evicted record to remain in recent-sightings set")
	}
}
