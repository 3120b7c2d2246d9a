package beacon

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/exitproof/verifier/gindex"
	"github.com/exitproof/verifier/ssz"
)

// validatorContainerRoot is the hash tree root of one validator, the leaf
// value a ValidatorWitness's proof ultimately verifies against.
func validatorContainerRoot(v Validator) [32]byte {
	return ssz.Merkleize(validatorChunks(v), 0)
}

// validatorCacheKey derives a MerkleCache key from a validator's pubkey,
// which is unique within a beacon state's validator set. The cache this
// keys into is scoped to a single State snapshot and never outlives it, so
// a pubkey's mutable fields (effective balance, slashed, exit epoch, ...)
// are fixed for the cache's whole lifetime.
func validatorCacheKey(v Validator) [32]byte {
	return sha256.Sum256(v.Pubkey[:])
}

// cachedValidatorContainerRoot looks up v's container root in cache,
// computing and storing it on a miss. cache may be nil, in which case it
// always computes directly.
func cachedValidatorContainerRoot(cache *ssz.MerkleCache, v Validator) [32]byte {
	if cache == nil {
		return validatorContainerRoot(v)
	}
	key := validatorCacheKey(v)
	if root, ok := cache.GetHash(key); ok {
		return root
	}
	root := validatorContainerRoot(v)
	cache.PutHash(key, root)
	return root
}

// historicalSummaryContainerRoot is the hash tree root of one
// HistoricalSummary entry (two 32-byte roots).
func historicalSummaryContainerRoot(hs HistoricalSummary) [32]byte {
	return ssz.Merkleize([][32]byte{[32]byte(hs.BlockSummaryRoot), [32]byte(hs.StateSummaryRoot)}, 0)
}

// lengthMixinChunk is the raw chunk MixInLength hashes against a data root,
// exposed here so a composed gindex.Tree can patch a list field's
// length-mixin child directly instead of only the already-combined root.
func lengthMixinChunk(n int) [32]byte {
	var c [32]byte
	binary.LittleEndian.PutUint64(c[:8], uint64(n))
	return c
}

// buildStateTree assembles a gindex.Tree spanning the whole BeaconState
// down to depth, with every top-level field other than skipField patched in
// at its own field gindex (cutting recursion off there). skipField's node is
// left open: the caller patches its length-mixin child and populates its
// data-root subtree.
func (s *State) buildStateTree(depth int, skipField int) *gindex.Tree {
	tree := gindex.NewTree(depth, nil)
	for i, f := range electraFields {
		if i == skipField {
			continue
		}
		tree.SetNode(fieldGindex(i), s.fieldRoot(i, f))
	}
	return tree
}

// ProveValidator builds the generalized-index Merkle proof that
// validators[index]'s container root is included in the whole BeaconState
// tree, matching the ValidatorWitness.validatorProof wire field.
func (s *State) ProveValidator(index int) (value [32]byte, proof gindex.Proof, err error) {
	if index < 0 || index >= len(s.validators) {
		return value, proof, fmt.Errorf("beacon: validator index %d out of range (%d validators)", index, len(s.validators))
	}
	depthOfElems := treeDepthFor(len(s.validators))
	g := s.ValidatorGindex(index)

	tree := s.buildStateTree(gindex.Depth(g), fieldValidators)
	dataRootGindex := gindex.DataRootGindex(fieldGindex(fieldValidators))
	tree.SetNode(gindex.LengthGindex(fieldGindex(fieldValidators)), lengthMixinChunk(len(s.validators)))

	for j, v := range s.validators {
		leafGindex := gindex.Concat(dataRootGindex, ssz.GeneralizedIndex(depthOfElems, j))
		tree.SetNode(leafGindex, cachedValidatorContainerRoot(s.merkleCache, v))
	}

	value = cachedValidatorContainerRoot(s.merkleCache, s.validators[index])
	proof, err = tree.Prove(g)
	if err != nil {
		return value, proof, fmt.Errorf("beacon: prove validator %d: %w", index, err)
	}
	if tree.RootNode() != [32]byte(s.Root()) {
		return value, proof, fmt.Errorf("beacon: validator %d proof tree root diverges from state root", index)
	}
	return value, proof, nil
}

// ProveHistoricalSummary builds the proof that
// historicalSummaries[index]'s container root is included in the whole
// BeaconState tree, returning both the container root and the proof; the
// caller combines this with a further proof into that container's
// blockSummaryRoot field (see ProveHistoricalBlockRoot).
func (s *State) ProveHistoricalSummary(index int) (value [32]byte, proof gindex.Proof, err error) {
	if index < 0 || index >= len(s.historicalSummaries) {
		return value, proof, fmt.Errorf("beacon: historical summary index %d out of range (%d summaries)", index, len(s.historicalSummaries))
	}
	depthOfElems := treeDepthFor(len(s.historicalSummaries))
	g := s.HistoricalSummaryGindex(index)

	tree := s.buildStateTree(gindex.Depth(g), fieldHistoricalSummaries)
	dataRootGindex := gindex.DataRootGindex(fieldGindex(fieldHistoricalSummaries))
	tree.SetNode(gindex.LengthGindex(fieldGindex(fieldHistoricalSummaries)), lengthMixinChunk(len(s.historicalSummaries)))

	for j, hs := range s.historicalSummaries {
		leafGindex := gindex.Concat(dataRootGindex, ssz.GeneralizedIndex(depthOfElems, j))
		tree.SetNode(leafGindex, historicalSummaryContainerRoot(hs))
	}

	value = historicalSummaryContainerRoot(s.historicalSummaries[index])
	proof, err = tree.Prove(g)
	if err != nil {
		return value, proof, fmt.Errorf("beacon: prove historical summary %d: %w", index, err)
	}
	if tree.RootNode() != [32]byte(s.Root()) {
		return value, proof, fmt.Errorf("beacon: historical summary %d proof tree root diverges from state root", index)
	}
	return value, proof, nil
}

// blockSummaryRootRelativeGindex is the gindex of a HistoricalSummary
// container's first field (blockSummaryRoot) relative to that container's
// own root: a two-leaf tree has depth 1, so field 0 sits at gindex 2 and
// field 1 (stateSummaryRoot) at gindex 3.
const blockSummaryRootRelativeGindex = 2
const stateSummaryRootRelativeGindex = 3

// ProveHistoricalBlockRoot builds the "surgical node patching" proof that a
// block root at rootIndexInSummary within summaryState's block-roots vector
// is reachable from the finalized state's own root: the finalized tree's
// historicalSummaries[summaryIndex].blockSummaryRoot node is conceptually
// replaced by summaryState's real block-roots vector root, and the two
// sub-proofs are concatenated into one gindex/witness pair.
func (finalized *State) ProveHistoricalBlockRoot(summaryIndex int, summaryState *State, rootIndexInSummary int) (value [32]byte, proof gindex.Proof, err error) {
	if summaryIndex < 0 || summaryIndex >= len(finalized.historicalSummaries) {
		return value, proof, fmt.Errorf("beacon: historical summary index %d out of range (%d summaries)", summaryIndex, len(finalized.historicalSummaries))
	}

	_, summaryProof, err := finalized.ProveHistoricalSummary(summaryIndex)
	if err != nil {
		return value, proof, err
	}

	blockRootsProof, err := ProveBlockRootInBatch(summaryBlockRoots(summaryState), rootIndexInSummary)
	if err != nil {
		return value, proof, err
	}

	value = [32]byte(summaryState.BlockRootAt(rootIndexInSummary))
	stateSummaryRoot := [32]byte(finalized.historicalSummaries[summaryIndex].StateSummaryRoot)

	witnesses := make([][32]byte, 0, len(summaryProof.Witnesses)+1+len(blockRootsProof.Witnesses))
	witnesses = append(witnesses, summaryProof.Witnesses...)
	witnesses = append(witnesses, stateSummaryRoot)
	witnesses = append(witnesses, blockRootsProof.Witnesses...)

	blockSummaryRootGindex := gindex.Concat(finalized.HistoricalSummaryGindex(summaryIndex), blockSummaryRootRelativeGindex)
	proof = gindex.Proof{
		Gindex:    gindex.Concat(blockSummaryRootGindex, blockRootsProof.Gindex),
		Witnesses: witnesses,
	}

	if !gindex.Verify([32]byte(finalized.Root()), value, proof) {
		return value, proof, fmt.Errorf("beacon: historical block root proof failed local verification for summary %d root %d", summaryIndex, rootIndexInSummary)
	}
	return value, proof, nil
}

func summaryBlockRoots(s *State) [][32]byte {
	out := make([][32]byte, s.BlockRootCount())
	for i := range out {
		out[i] = [32]byte(s.BlockRootAt(i))
	}
	return out
}

// ProveBlockRootInBatch builds the local proof that headerRoot sits at
// position blockRootIndex within a SLOTS_PER_HISTORICAL_ROOT-sized
// block-roots batch fetched from the old state the header belongs to. This
// is the second leg of a historical proof: ProveHistoricalSummary reaches
// the batch's BlockSummaryRoot from the current finalized state; this
// function reaches the individual header from that batch.
func ProveBlockRootInBatch(batchBlockRoots [][32]byte, blockRootIndex int) (proof gindex.Proof, err error) {
	n := len(batchBlockRoots)
	if blockRootIndex < 0 || blockRootIndex >= n {
		return proof, fmt.Errorf("beacon: block root index %d out of range (%d roots)", blockRootIndex, n)
	}
	depth := treeDepthFor(n)
	tree := gindex.NewTree(depth, batchBlockRoots)
	g := ssz.GeneralizedIndex(depth, blockRootIndex)
	proof, err = tree.Prove(g)
	if err != nil {
		return proof, fmt.Errorf("beacon: prove block root %d in batch: %w", blockRootIndex, err)
	}
	return proof, nil
}
