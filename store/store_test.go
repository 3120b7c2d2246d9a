package store

import (
	"testing"

	"github.com/exitproof/verifier/beacon"
)

func pubkey(b byte) [48]byte {
	var p [48]byte
	p[0] = b
	return p
}

func TestAddAndEligibleEntriesOrdersBySlot(t *testing.T) {
	s := New()
	s.Add(map[beacon.Slot][]DeadlineGroup{
		30: {{Entries: []Entry{{Pubkey: pubkey(3)}}}},
		10: {{Entries: []Entry{{Pubkey: pubkey(1)}}}},
		20: {{Entries: []Entry{{Pubkey: pubkey(2)}}}},
	})

	got := s.EligibleEntries(100)
	if len(got) != 3 {
		t.Fatalf("got %d slot groups, want 3", len(got))
	}
	want := []beacon.Slot{10, 20, 30}
	for i, w := range want {
		if got[i].Slot != w {
			t.Fatalf("slot %d = %d, want %d", i, got[i].Slot, w)
		}
	}
}

func TestEligibleEntriesRespectsHeadSlotCeiling(t *testing.T) {
	s := New()
	s.Add(map[beacon.Slot][]DeadlineGroup{
		10: {{Entries: []Entry{{Pubkey: pubkey(1)}}}},
		50: {{Entries: []Entry{{Pubkey: pubkey(2)}}}},
	})
	got := s.EligibleEntries(10)
	if len(got) != 1 || got[0].Slot != 10 {
		t.Fatalf("got %+v, want only slot 10", got)
	}
}

func TestAddAppendsToExistingSlot(t *testing.T) {
	s := New()
	s.Add(map[beacon.Slot][]DeadlineGroup{10: {{Entries: []Entry{{Pubkey: pubkey(1)}}}}})
	s.Add(map[beacon.Slot][]DeadlineGroup{10: {{Entries: []Entry{{Pubkey: pubkey(2)}}}}})

	got := s.EligibleEntries(10)
	if len(got) != 1 || len(got[0].Groups) != 2 {
		t.Fatalf("got %+v, want one slot with two groups", got)
	}
}

func TestCleanupKeepsConfirmedDropsUnreported(t *testing.T) {
	s := New()
	reported := NewReportedSet()
	reported.Add(pubkey(1)) // pubkey(1)'s submission confirmed; pubkey(2) never reported

	s.Add(map[beacon.Slot][]DeadlineGroup{
		10: {{Entries: []Entry{{Pubkey: pubkey(1)}, {Pubkey: pubkey(2)}}}},
	})

	s.Cleanup(10, reported)

	got := s.EligibleEntries(10)
	if len(got) != 1 {
		t.Fatalf("got %d slots, want 1", len(got))
	}
	entries := got[0].Groups[0].Entries
	if len(entries) != 1 || entries[0].Pubkey != pubkey(1) {
		t.Fatalf("got %+v, want only confirmed pubkey(1) retained for re-check", entries)
	}
}

func TestCleanupDropsEmptySlots(t *testing.T) {
	s := New()
	reported := NewReportedSet() // the slot's only entry was never reported

	s.Add(map[beacon.Slot][]DeadlineGroup{
		10: {{Entries: []Entry{{Pubkey: pubkey(1)}}}},
	})
	s.Cleanup(10, reported)

	if got := s.EligibleEntries(10); len(got) != 0 {
		t.Fatalf("got %+v, want the now-empty slot dropped", got)
	}
	stats := s.Stats()
	if stats.Slots != 0 {
		t.Fatalf("Stats().Slots = %d, want 0", stats.Slots)
	}
}

func TestCleanupKeepsReportedEntriesAcrossCycles(t *testing.T) {
	s := New()
	reported := NewReportedSet()
	reported.Add(pubkey(1)) // both entries confirmed reported: both must survive for re-check
	reported.Add(pubkey(2))

	s.Add(map[beacon.Slot][]DeadlineGroup{
		10: {{Entries: []Entry{{Pubkey: pubkey(1)}, {Pubkey: pubkey(2)}}}},
	})
	s.Cleanup(10, reported)

	got := s.EligibleEntries(10)
	if len(got) != 1 || len(got[0].Groups[0].Entries) != 2 {
		t.Fatalf("got %+v, want both reported entries retained", got)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	s := New()
	reported := NewReportedSet()
	reported.Add(pubkey(1))

	s.Add(map[beacon.Slot][]DeadlineGroup{
		10: {{Entries: []Entry{{Pubkey: pubkey(1)}, {Pubkey: pubkey(2)}}}},
	})

	s.Cleanup(10, reported)
	first := s.EligibleEntries(10)
	s.Cleanup(10, reported)
	second := s.EligibleEntries(10)

	if len(first) != len(second) {
		t.Fatalf("cleanup not idempotent: %+v vs %+v", first, second)
	}
	if len(first) == 1 && len(second) == 1 {
		if len(first[0].Groups[0].Entries) != len(second[0].Groups[0].Entries) {
			t.Fatalf("cleanup not idempotent on entry count")
		}
	}
}

func TestCleanupDoesNotTouchIneligibleSlots(t *testing.T) {
	s := New()
	reported := NewReportedSet() // nothing reported

	s.Add(map[beacon.Slot][]DeadlineGroup{
		100: {{Entries: []Entry{{Pubkey: pubkey(1)}}}},
	})
	s.Cleanup(10, reported) // headSlot below the tracked slot

	got := s.EligibleEntries(200)
	if len(got) != 1 || len(got[0].Groups[0].Entries) != 1 {
		t.Fatalf("ineligible slot was modified: %+v", got)
	}
}

func TestStatsReportsOccupancy(t *testing.T) {
	s := New()
	s.Add(map[beacon.Slot][]DeadlineGroup{
		10: {{Entries: []Entry{{Pubkey: pubkey(1)}, {Pubkey: pubkey(2)}}}},
		30: {{Entries: []Entry{{Pubkey: pubkey(3)}}}},
	})
	stats := s.Stats()
	if stats.Slots != 2 || stats.MinSlot != 10 || stats.MaxSlot != 30 || stats.TotalValidators != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReportedSetAddRemoveContains(t *testing.T) {
	rs := NewReportedSet()
	pk := pubkey(7)
	if rs.Contains(pk) {
		t.Fatal("empty set should not contain pk")
	}
	rs.Add(pk)
	if !rs.Contains(pk) {
		t.Fatal("set should contain pk after Add")
	}
	rs.Remove(pk)
	if rs.Contains(pk) {
		t.Fatal("set should not contain pk after Remove")
	}
}
