package beacon

import (
	"fmt"

	"github.com/exitproof/verifier/gindex"
	"github.com/exitproof/verifier/ssz"
)

// validatorMerkleCacheCapacity bounds the per-State validator container-root
// cache. Mainnet-scale validator sets run into the hundreds of thousands;
// this is generous enough to cover every validator touched by a single
// cycle's proof batch without holding the whole set resident indefinitely.
const validatorMerkleCacheCapacity = 1 << 16

// electraFields lists the Electra BeaconState fields in wire order. Only
// validators, historicalSummaries, blockRoots and a few scalars are given
// full semantic decoding (see decodeValidators etc. below); every other
// field is carried as an undecoded byte blob whose root is still computed
// correctly for its fixed/variable shape, so the overall state root this
// daemon reconstructs is internally consistent even though it does not
// reinterpret fields this daemon never reads. Sizes
// for fixed fields are SSZ byte widths; sizes are 0 for variable fields
// (UnmarshalVariableContainer uses 0 to mean "read an offset here").
var electraFields = []struct {
	name      string
	fixedSize int // 0 => variable (offset-based)
}{
	{"genesisTime", 8},
	{"genesisValidatorsRoot", 32},
	{"slot", 8},
	{"fork", 16},
	{"latestBlockHeader", 112},
	{"blockRoots", 0}, // fixed-size vector but encoded as a blob here; see blockRootsLen
	{"stateRoots", 0},
	{"historicalRoots", 0},
	{"eth1Data", 72},
	{"eth1DataVotes", 0},
	{"eth1DepositIndex", 8},
	{"validators", 0},
	{"balances", 0},
	{"randaoMixes", 0},
	{"slashings", 0},
	{"previousEpochParticipation", 0},
	{"currentEpochParticipation", 0},
	{"justificationBits", 1},
	{"previousJustifiedCheckpoint", 40},
	{"currentJustifiedCheckpoint", 40},
	{"finalizedCheckpoint", 40},
	{"inactivityScores", 0},
	{"currentSyncCommittee", 0},
	{"nextSyncCommittee", 0},
	{"latestExecutionPayloadHeader", 0},
	{"nextWithdrawalIndex", 8},
	{"nextWithdrawalValidatorIndex", 8},
	{"historicalSummaries", 0},
	{"depositRequestsStartIndex", 8},
	{"depositBalanceToConsume", 8},
	{"exitBalanceToConsume", 8},
	{"earliestExitEpoch", 8},
	{"consolidationBalanceToConsume", 8},
	{"earliestConsolidationEpoch", 8},
	{"pendingDeposits", 0},
	{"pendingPartialWithdrawals", 0},
	{"pendingConsolidations", 0},
}

// Field index constants for fields this daemon decodes semantically.
const (
	fieldSlot                = 2
	fieldBlockRoots          = 5
	fieldValidators          = 11
	fieldJustificationBits   = 17
	fieldHistoricalSummaries = 27
)

// justificationBitsLength is JUSTIFICATION_BITS_LENGTH: one bit per of the
// four most recent epochs, oldest to newest from bit 0.
const justificationBitsLength = 4

const (
	validatorSize          = 121 // pubkey(48) + creds(32) + balance(8) + slashed(1) + 4*epoch(8)
	historicalSummarySize  = 64  // two 32-byte roots
)

// State is the decoded Electra beacon state. Only validators,
// historicalSummaries, blockRoots and the handful of scalar fields this
// daemon reads are parsed into structured form; everything else is kept as
// the raw SSZ bytes of its field slot purely so the overall state root can
// still be reconstructed.
type State struct {
	fields [][]byte // raw per-field bytes, in electraFields order

	slot                Slot
	blockRootsLen       int
	validators          []Validator
	historicalSummaries []HistoricalSummary

	// merkleCache memoizes validator container roots across repeated
	// ProveValidator calls against this same snapshot: a cycle typically
	// proves many validators out of one finalized state, and each call
	// otherwise recomputes every other validator's container root from
	// scratch just to assemble the sibling leaves.
	merkleCache *ssz.MerkleCache
}

// DecodeState decodes a raw SSZ-encoded Electra BeaconState. blockRootsLen
// is SLOTS_PER_HISTORICAL_ROOT from BeaconConfig, needed because blockRoots
// is a fixed-size vector whose element count isn't self-describing.
func DecodeState(data []byte, blockRootsLen int) (*State, error) {
	fixedSizes := make([]int, len(electraFields))
	for i, f := range electraFields {
		fixedSizes[i] = f.fixedSize
	}

	fields, err := ssz.UnmarshalVariableContainer(data, len(electraFields), fixedSizes)
	if err != nil {
		return nil, fmt.Errorf("beacon: decode state container: %w", err)
	}

	s := &State{fields: fields, blockRootsLen: blockRootsLen}
	s.merkleCache = ssz.NewMerkleCache(validatorMerkleCacheCapacity)

	slotRaw, err := ssz.UnmarshalUint64(fields[fieldSlot])
	if err != nil {
		return nil, fmt.Errorf("beacon: decode slot: %w", err)
	}
	s.slot = Slot(slotRaw)

	validators, err := decodeValidators(fields[fieldValidators])
	if err != nil {
		return nil, fmt.Errorf("beacon: decode validators: %w", err)
	}
	s.validators = validators

	summaries, err := decodeHistoricalSummaries(fields[fieldHistoricalSummaries])
	if err != nil {
		return nil, fmt.Errorf("beacon: decode historical summaries: %w", err)
	}
	s.historicalSummaries = summaries

	return s, nil
}

func decodeValidators(data []byte) ([]Validator, error) {
	elems, err := ssz.UnmarshalList(data, validatorSize)
	if err != nil {
		return nil, err
	}
	out := make([]Validator, len(elems))
	for i, e := range elems {
		v := Validator{}
		copy(v.Pubkey[:], e[0:48])
		copy(v.WithdrawalCredentials[:], e[48:80])
		eb, _ := ssz.UnmarshalUint64(e[80:88])
		v.EffectiveBalance = eb
		slashed, _ := ssz.UnmarshalBool(e[88:89])
		v.Slashed = slashed
		aee, _ := ssz.UnmarshalUint64(e[89:97])
		v.ActivationEligibilityEpoch = Epoch(aee)
		ae, _ := ssz.UnmarshalUint64(e[97:105])
		v.ActivationEpoch = Epoch(ae)
		ee, _ := ssz.UnmarshalUint64(e[105:113])
		v.ExitEpoch = Epoch(ee)
		we, _ := ssz.UnmarshalUint64(e[113:121])
		v.WithdrawableEpoch = Epoch(we)
		out[i] = v
	}
	return out, nil
}

func decodeHistoricalSummaries(data []byte) ([]HistoricalSummary, error) {
	elems, err := ssz.UnmarshalList(data, historicalSummarySize)
	if err != nil {
		return nil, err
	}
	out := make([]HistoricalSummary, len(elems))
	for i, e := range elems {
		var hs HistoricalSummary
		copy(hs.BlockSummaryRoot[:], e[0:32])
		copy(hs.StateSummaryRoot[:], e[32:64])
		out[i] = hs
	}
	return out, nil
}

// --- StateView implementation ---

func (s *State) Slot() Slot { return s.slot }

func (s *State) ValidatorCount() int          { return len(s.validators) }
func (s *State) ValidatorAt(i int) Validator  { return s.validators[i] }
func (s *State) HistoricalSummaryCount() int  { return len(s.historicalSummaries) }
func (s *State) HistoricalSummaryAt(i int) HistoricalSummary {
	return s.historicalSummaries[i]
}

func (s *State) BlockRootCount() int { return s.blockRootsLen }

// JustificationBits decodes the state's justificationBits field: one bit per
// of the four most recent epochs, used by the startup health report to
// surface how recently the chain last justified.
func (s *State) JustificationBits() (ssz.Bitvector, error) {
	return ssz.BitvectorFromBytes(s.fields[fieldJustificationBits], justificationBitsLength)
}

func (s *State) BlockRootAt(i int) Root {
	raw := s.fields[fieldBlockRoots]
	var r Root
	copy(r[:], raw[i*32:(i+1)*32])
	return r
}

// containerDepth is the tree depth of the top-level BeaconState container:
// ceil(log2(numFields)).
func containerDepth() int {
	n := len(electraFields)
	d := 0
	for (1 << uint(d)) < n {
		d++
	}
	return d
}

func fieldGindex(idx int) uint64 {
	return ssz.GeneralizedIndex(containerDepth(), idx)
}

// ValidatorGindex returns the absolute gindex of validators[i] within the
// whole BeaconState tree: the validators field's own gindex, concatenated
// with the list element's gindex inside the validators list's two-child
// virtual node (data root | length mixin).
func (s *State) ValidatorGindex(i int) uint64 {
	depth := treeDepthFor(len(s.validators))
	return gindex.ListGindex(fieldGindex(fieldValidators), depth, i)
}

// HistoricalSummaryGindex returns the absolute gindex of
// historicalSummaries[i] within the whole BeaconState tree.
func (s *State) HistoricalSummaryGindex(i int) uint64 {
	depth := treeDepthFor(len(s.historicalSummaries))
	return gindex.ListGindex(fieldGindex(fieldHistoricalSummaries), depth, i)
}

// BlockRootGindex returns the absolute gindex of blockRoots[i]. blockRoots
// is a fixed-size vector field (not a two-child list node), so its gindex
// is simply the field's own subtree position.
func (s *State) BlockRootGindex(i int) uint64 {
	depth := treeDepthFor(s.blockRootsLen)
	return gindex.Concat(fieldGindex(fieldBlockRoots), ssz.GeneralizedIndex(depth, i))
}

func treeDepthFor(n int) int {
	d := 0
	for (1 << uint(d)) < n {
		d++
	}
	return d
}

// Root computes the hash tree root of the whole decoded state. Fields this
// daemon interprets are re-serialized from their structured form; every
// other field's root is derived directly from its raw stored bytes
// according to its declared kind, so the reconstructed tree is internally
// consistent for proof purposes without requiring this daemon to understand
// every Electra field.
func (s *State) Root() Root {
	chunks := make([][32]byte, len(electraFields))
	for i, f := range electraFields {
		chunks[i] = s.fieldRoot(i, f)
	}
	root := ssz.Merkleize(chunks, 0)
	return Root(root)
}

func (s *State) fieldRoot(i int, f struct {
	name      string
	fixedSize int
}) [32]byte {
	switch i {
	case fieldValidators:
		return validatorsRoot(s.validators)
	case fieldHistoricalSummaries:
		return historicalSummariesRoot(s.historicalSummaries)
	}
	raw := s.fields[i]
	if f.fixedSize > 0 {
		return ssz.Merkleize(ssz.Pack(raw), 0)
	}
	// Opaque variable field: treat the stored bytes as a byte list for the
	// sole purpose of producing a deterministic, internally consistent
	// root; this daemon never verifies a proof through these fields.
	chunks := ssz.Pack(raw)
	dataRoot := ssz.Merkleize(chunks, 0)
	return ssz.MixInLength(dataRoot, len(raw))
}

func validatorsRoot(vs []Validator) [32]byte {
	chunks := make([][32]byte, 0, len(vs)*4)
	for _, v := range vs {
		chunks = append(chunks, validatorChunks(v)...)
	}
	dataRoot := ssz.Merkleize(chunks, 0)
	return ssz.MixInLength(dataRoot, len(vs))
}

func validatorChunks(v Validator) [][32]byte {
	enc := make([]byte, 0, validatorSize)
	enc = append(enc, v.Pubkey[:]...)
	enc = append(enc, v.WithdrawalCredentials[:]...)
	enc = append(enc, ssz.MarshalUint64(v.EffectiveBalance)...)
	enc = append(enc, ssz.MarshalBool(v.Slashed)...)
	enc = append(enc, ssz.MarshalUint64(uint64(v.ActivationEligibilityEpoch))...)
	enc = append(enc, ssz.MarshalUint64(uint64(v.ActivationEpoch))...)
	enc = append(enc, ssz.MarshalUint64(uint64(v.ExitEpoch))...)
	enc = append(enc, ssz.MarshalUint64(uint64(v.WithdrawableEpoch))...)
	return ssz.Pack(enc)
}

func historicalSummariesRoot(hs []HistoricalSummary) [32]byte {
	chunks := make([][32]byte, 0, len(hs)*2)
	for _, h := range hs {
		var blk, st [32]byte
		copy(blk[:], h.BlockSummaryRoot[:])
		copy(st[:], h.StateSummaryRoot[:])
		chunks = append(chunks, blk, st)
	}
	dataRoot := ssz.Merkleize(chunks, 0)
	return ssz.MixInLength(dataRoot, len(hs))
}
