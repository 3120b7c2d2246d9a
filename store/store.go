// Package store holds the validator exit-deadline bookkeeping (C5):
// DeadlineGroups keyed by their deadline slot, and the ReportedSet of
// pubkeys that have already cleared a confirmed submission.
package store

import (
	"sort"
	"sync"

	"github.com/exitproof/verifier/beacon"
)

// ExitRequest identifies the oracle-reported batch a DeadlineGroup's
// entries were decoded from: its raw data/format is forwarded verbatim as
// the submission's exitRequestData argument, per distilled spec §4.8.3's
// "first encountered exit request wins the submission payload" rule.
type ExitRequest struct {
	DataFormat uint64
	Payload    []byte
}

// Entry is one validator tracked within a DeadlineGroup. ModuleID/NodeOpID
// and ExitDataIndex are carried per-entry, not on the enclosing
// ExitRequest, because a single oracle-reported batch can name validators
// from different node operators (even different modules) at arbitrary
// positions, and the verification pass's penalty-applicability call plus
// the ValidatorWitness.ExitRequestIndex field are both always per-validator.
type Entry struct {
	ValidatorIndex        uint64
	Pubkey                [48]byte
	ModuleID              uint32
	NodeOpID              uint64
	ExitDataIndex         int
	ActivationEpoch       beacon.Epoch
	ExitDeadlineEpoch     beacon.Epoch
	EligibleExitTimestamp beacon.Timestamp
}

// DeadlineGroup bundles the validators that share both a deadline slot and
// an originating exit request.
type DeadlineGroup struct {
	ExitRequest ExitRequest
	Entries     []Entry
}

// ReportedSet tracks pubkeys with a confirmed submission still awaiting
// penalty-applicability re-check.
type ReportedSet struct {
	mu   sync.Mutex
	keys map[[48]byte]struct{}
}

// NewReportedSet constructs an empty ReportedSet.
func NewReportedSet() *ReportedSet {
	return &ReportedSet{keys: make(map[[48]byte]struct{})}
}

// Add records pubkey as reported.
func (s *ReportedSet) Add(pubkey [48]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[pubkey] = struct{}{}
}

// Remove drops pubkey, e.g. once penalty-applicability returns false.
func (s *ReportedSet) Remove(pubkey [48]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, pubkey)
}

// Contains reports whether pubkey has a confirmed, not-yet-cleared submission.
func (s *ReportedSet) Contains(pubkey [48]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[pubkey]
	return ok
}

// Stats summarizes store occupancy for the observability collaborator.
type Stats struct {
	Slots           int
	MinSlot         beacon.Slot
	MaxSlot         beacon.Slot
	TotalValidators int
}

// Store is the ordered deadlineSlot -> []DeadlineGroup mapping. A sorted key
// slice is maintained incrementally (insertion keeps it sorted via binary
// search) so EligibleEntries never needs a full re-sort.
type Store struct {
	mu     sync.Mutex
	groups map[beacon.Slot][]DeadlineGroup
	sorted []beacon.Slot
}

// New constructs an empty Store.
func New() *Store {
	return &Store{groups: make(map[beacon.Slot][]DeadlineGroup)}
}

// Add appends groups to their matching deadline slots, inserting new slot
// keys into the sorted index at their correct position.
func (s *Store) Add(byDeadlineSlot map[beacon.Slot][]DeadlineGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot, groups := range byDeadlineSlot {
		if len(groups) == 0 {
			continue
		}
		if _, exists := s.groups[slot]; !exists {
			s.insertSorted(slot)
		}
		s.groups[slot] = append(s.groups[slot], groups...)
	}
}

func (s *Store) insertSorted(slot beacon.Slot) {
	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i] >= slot })
	s.sorted = append(s.sorted, 0)
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = slot
}

// SlotEntries is one deadline slot's groups, returned in ascending slot order.
type SlotEntries struct {
	Slot   beacon.Slot
	Groups []DeadlineGroup
}

// EligibleEntries returns, in ascending slot order, every tracked slot with
// deadlineSlot <= headSlot. Cost is proportional to the number of eligible
// slots, not the total number tracked, since the sorted index lets the scan
// stop at the first ineligible slot.
func (s *Store) EligibleEntries(headSlot beacon.Slot) []SlotEntries {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SlotEntries
	for _, slot := range s.sorted {
		if slot > headSlot {
			break
		}
		out = append(out, SlotEntries{Slot: slot, Groups: s.groups[slot]})
	}
	return out
}

// Cleanup walks every eligible slot (deadlineSlot <= headSlot) and removes
// validator entries whose pubkey is NOT in reportedSet: an entry only stays
// tracked once it has a confirmed submission pending its penalty-applicability
// re-check, so the next cycle can re-verify it. Groups left with no entries
// are dropped, and slots left with no groups are removed from the index.
// Idempotent: a second call with the same reportedSet and headSlot is a
// no-op.
func (s *Store) Cleanup(headSlot beacon.Slot, reportedSet *ReportedSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []beacon.Slot
	for _, slot := range s.sorted {
		if slot > headSlot {
			kept = append(kept, slot)
			continue
		}
		groups := s.groups[slot]
		var remainingGroups []DeadlineGroup
		for _, g := range groups {
			var remainingEntries []Entry
			for _, e := range g.Entries {
				if reportedSet.Contains(e.Pubkey) {
					remainingEntries = append(remainingEntries, e)
				}
			}
			if len(remainingEntries) > 0 {
				g.Entries = remainingEntries
				remainingGroups = append(remainingGroups, g)
			}
		}
		if len(remainingGroups) > 0 {
			s.groups[slot] = remainingGroups
			kept = append(kept, slot)
		} else {
			delete(s.groups, slot)
		}
	}
	s.sorted = kept
}

// Stats reports current occupancy.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Slots: len(s.sorted)}
	if len(s.sorted) > 0 {
		st.MinSlot = s.sorted[0]
		st.MaxSlot = s.sorted[len(s.sorted)-1]
	}
	for _, groups := range s.groups {
		for _, g := range groups {
			st.TotalValidators += len(g.Entries)
		}
	}
	return st
}
