// Package beacon holds the consensus-layer data model (slots, roots, the
// decoded beacon state view, validators, historical summaries) and the C1
// Beacon State Reader that fetches them over the Beacon REST API with
// endpoint failover.
package beacon

import (
	"encoding/hex"
	"fmt"
)

// Slot, Epoch and Timestamp are all non-negative 64-bit integers on the
// consensus layer's timeline.
type Slot uint64
type Epoch uint64
type Timestamp uint64

// FarFutureEpoch is the sentinel value the consensus spec uses for
// "never" (2^64 - 1), e.g. an unset withdrawable epoch.
const FarFutureEpoch Epoch = ^Epoch(0)

// Root is a 32-byte SSZ hash tree root.
type Root [32]byte

func (r Root) String() string { return "0x" + hex.EncodeToString(r[:]) }

// RootFromHex parses a "0x"-prefixed or bare hex string into a Root.
func RootFromHex(s string) (Root, error) {
	var r Root
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return r, fmt.Errorf("beacon: invalid root hex: %w", err)
	}
	if len(b) != 32 {
		return r, fmt.Errorf("beacon: root must be 32 bytes, got %d", len(b))
	}
	copy(r[:], b)
	return r, nil
}

// Config holds the process-wide, read-only-after-startup beacon chain
// parameters. CAPELLA_FORK_EPOCH and SECONDS_PER_SLOT etc. come from the
// node's /eth/v1/config/spec; SHARD_COMMITTEE_PERIOD_IN_SECONDS is read
// from the verifier contract at init, not the beacon node.
type Config struct {
	GenesisTime                    Timestamp
	SecondsPerSlot                 uint64
	SlotsPerEpoch                  uint64
	SlotsPerHistoricalRoot         uint64
	CapellaForkEpoch               Epoch
	ShardCommitteePeriodInSeconds  uint64
}

// SlotToTimestamp converts a slot to its wall-clock start time.
func (c Config) SlotToTimestamp(s Slot) Timestamp {
	return c.GenesisTime + Timestamp(uint64(s)*c.SecondsPerSlot)
}

// EpochToSlot returns the first slot of an epoch.
func (c Config) EpochToSlot(e Epoch) Slot {
	return Slot(uint64(e) * c.SlotsPerEpoch)
}

// SlotToEpoch returns the epoch containing a slot.
func (c Config) SlotToEpoch(s Slot) Epoch {
	return Epoch(uint64(s) / c.SlotsPerEpoch)
}

// CapellaForkSlot returns the first slot of the Capella fork epoch, the
// anchor point for historical-summary index arithmetic.
func (c Config) CapellaForkSlot() Slot {
	return c.EpochToSlot(c.CapellaForkEpoch)
}

// SummaryIndex returns the historicalSummaries[] index whose
// SLOTS_PER_HISTORICAL_ROOT-sized span contains slot s.
func (c Config) SummaryIndex(s Slot) int {
	return int((uint64(s) - uint64(c.CapellaForkSlot())) / c.SlotsPerHistoricalRoot)
}

// SlotOfSummary returns the first slot strictly after the span covered by
// historicalSummaries[i] — i.e. the slot at which that summary's
// block/state roots became the current state's own, not yet historical.
func (c Config) SlotOfSummary(i int) Slot {
	return c.CapellaForkSlot() + Slot(uint64(i+1)*c.SlotsPerHistoricalRoot)
}

// RootIndexInSummary returns slot s's position within its
// historicalSummaries[] entry's block-roots vector.
func (c Config) RootIndexInSummary(s Slot) int {
	return int(uint64(s) % c.SlotsPerHistoricalRoot)
}

// IsSlotOld reports whether deadlineSlot has already rolled off the
// current state's own block-roots vector and into a historical summary,
// per distilled spec §4.2: true once the head has advanced at least
// SLOTS_PER_HISTORICAL_ROOT slots past it.
func (c Config) IsSlotOld(headSlot, deadlineSlot Slot) bool {
	return uint64(headSlot)-uint64(deadlineSlot) >= c.SlotsPerHistoricalRoot
}

// Validator is one entry of the beacon state's validator registry, the
// subset of fields this daemon actually reads.
type Validator struct {
	Pubkey                     [48]byte
	WithdrawalCredentials      [32]byte
	EffectiveBalance           uint64
	Slashed                    bool
	ActivationEligibilityEpoch Epoch
	ActivationEpoch            Epoch
	ExitEpoch                  Epoch
	WithdrawableEpoch          Epoch
}

// HistoricalSummary is one entry of the beacon state's historicalSummaries
// list: roots of a past SLOTS_PER_HISTORICAL_ROOT-sized span.
type HistoricalSummary struct {
	BlockSummaryRoot Root
	StateSummaryRoot Root
}

// BeaconBlockHeader is the standard consensus-layer block header, plus the
// header's own hash tree root as reported by the Beacon API alongside it
// (the root the daemon persists as its progress cursor).
type BeaconBlockHeader struct {
	Root          Root
	Slot          Slot
	ProposerIndex uint64
	ParentRoot    Root
	StateRoot     Root
	BodyRoot      Root
}

// ProvableBeaconBlockHeader pairs a header with the timestamp at which its
// state root became the canonical "roots" source for the slot following it,
// matching the wire payload the verifier contract expects.
type ProvableBeaconBlockHeader struct {
	Header         BeaconBlockHeader
	RootsTimestamp Timestamp
}

// NewProvableBeaconBlockHeader derives RootsTimestamp = genesisTime +
// (slot+1)*secondsPerSlot from the header's own slot, per the data model.
func NewProvableBeaconBlockHeader(cfg Config, header BeaconBlockHeader) ProvableBeaconBlockHeader {
	return ProvableBeaconBlockHeader{
		Header:         header,
		RootsTimestamp: cfg.GenesisTime + Timestamp((uint64(header.Slot)+1)*cfg.SecondsPerSlot),
	}
}

// HistoricalHeaderWitness proves that header is contained in the finalized
// state's historicalSummaries[i].BlockSummaryRoot. RootGIndex is populated,
// with HasRootGIndex set, when the verifier contract's ABI declares the
// field separately from Proof; otherwise it is left at its zero value. The
// calldata encoder always includes RootGIndex and does not read
// HasRootGIndex.
type HistoricalHeaderWitness struct {
	Header     BeaconBlockHeader
	Proof      [][32]byte
	RootGIndex uint64
	HasRootGIndex bool
}

// StateView is the typed, read-only facade C2 and C8 use over a decoded
// beacon state: consumers never touch raw SSZ bytes.
type StateView interface {
	Slot() Slot
	Root() Root
	ValidatorCount() int
	ValidatorAt(i int) Validator
	ValidatorGindex(i int) uint64
	HistoricalSummaryCount() int
	HistoricalSummaryAt(i int) HistoricalSummary
	HistoricalSummaryGindex(i int) uint64
	BlockRootCount() int
	BlockRootAt(i int) Root
	BlockRootGindex(i int) uint64
}
