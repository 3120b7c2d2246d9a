package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/exitproof/verifier/beacon"
	"github.com/exitproof/verifier/gindex"
)

const verifierABI = `[
	{"name": "verifyValidatorExitDelay", "type": "function", "stateMutability": "nonpayable",
	 "inputs": [
		{"name": "beaconBlockHeader", "type": "tuple", "components": [
			{"name": "header", "type": "tuple", "components": [
				{"name": "slot", "type": "uint64"},
				{"name": "proposerIndex", "type": "uint64"},
				{"name": "parentRoot", "type": "bytes32"},
				{"name": "stateRoot", "type": "bytes32"},
				{"name": "bodyRoot", "type": "bytes32"}
			]},
			{"name": "rootsTimestamp", "type": "uint64"}
		]},
		{"name": "witnesses", "type": "tuple[]", "components": [
			{"name": "exitRequestIndex", "type": "uint64"},
			{"name": "withdrawalCredentials", "type": "bytes32"},
			{"name": "effectiveBalance", "type": "uint64"},
			{"name": "slashed", "type": "bool"},
			{"name": "activationEligibilityEpoch", "type": "uint64"},
			{"name": "activationEpoch", "type": "uint64"},
			{"name": "withdrawableEpoch", "type": "uint64"},
			{"name": "validatorProof", "type": "bytes32[]"},
			{"name": "moduleId", "type": "uint24"},
			{"name": "nodeOpId", "type": "uint40"},
			{"name": "pubkey", "type": "bytes"}
		]},
		{"name": "exitRequests", "type": "tuple", "components": [
			{"name": "data", "type": "bytes"},
			{"name": "dataFormat", "type": "uint256"}
		]}
	]},
	{"name": "verifyHistoricalValidatorExitDelay", "type": "function", "stateMutability": "nonpayable",
	 "inputs": [
		{"name": "beaconBlockHeader", "type": "tuple", "components": [
			{"name": "header", "type": "tuple", "components": [
				{"name": "slot", "type": "uint64"},
				{"name": "proposerIndex", "type": "uint64"},
				{"name": "parentRoot", "type": "bytes32"},
				{"name": "stateRoot", "type": "bytes32"},
				{"name": "bodyRoot", "type": "bytes32"}
			]},
			{"name": "rootsTimestamp", "type": "uint64"}
		]},
		{"name": "oldBlock", "type": "tuple", "components": [
			{"name": "header", "type": "tuple", "components": [
				{"name": "slot", "type": "uint64"},
				{"name": "proposerIndex", "type": "uint64"},
				{"name": "parentRoot", "type": "bytes32"},
				{"name": "stateRoot", "type": "bytes32"},
				{"name": "bodyRoot", "type": "bytes32"}
			]},
			{"name": "rootGIndex", "type": "uint64"},
			{"name": "proof", "type": "bytes32[]"}
		]},
		{"name": "witnesses", "type": "tuple[]", "components": [
			{"name": "exitRequestIndex", "type": "uint64"},
			{"name": "withdrawalCredentials", "type": "bytes32"},
			{"name": "effectiveBalance", "type": "uint64"},
			{"name": "slashed", "type": "bool"},
			{"name": "activationEligibilityEpoch", "type": "uint64"},
			{"name": "activationEpoch", "type": "uint64"},
			{"name": "withdrawableEpoch", "type": "uint64"},
			{"name": "validatorProof", "type": "bytes32[]"},
			{"name": "moduleId", "type": "uint24"},
			{"name": "nodeOpId", "type": "uint40"},
			{"name": "pubkey", "type": "bytes"}
		]},
		{"name": "exitRequests", "type": "tuple", "components": [
			{"name": "data", "type": "bytes"},
			{"name": "dataFormat", "type": "uint256"}
		]}
	]},
	{"name": "SHARD_COMMITTEE_PERIOD_IN_SECONDS", "type": "function", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "uint64"}]}
]`

var verifierMethods abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(verifierABI))
	if err != nil {
		panic("contracts: invalid verifier ABI: " + err.Error())
	}
	verifierMethods = parsed
}

// ValidatorWitness is the ABI-facing shape of one validator's inclusion
// proof plus the exit-request metadata the contract needs to evaluate it.
type ValidatorWitness struct {
	ExitRequestIndex           uint64
	WithdrawalCredentials      [32]byte
	EffectiveBalance           uint64
	Slashed                    bool
	ActivationEligibilityEpoch uint64
	ActivationEpoch            uint64
	WithdrawableEpoch          uint64
	ValidatorProof             [][32]byte
	ModuleID                   uint32
	NodeOpID                   uint64
	Pubkey                     [48]byte
}

// ExitRequestsData is the raw oracle-reported exit requests blob passed
// through to the contract unmodified, so it can re-derive the same batch
// the daemon parsed.
type ExitRequestsData struct {
	Data       []byte
	DataFormat uint64
}

// abiHeader mirrors the contract's BeaconBlockHeader tuple field order.
type abiHeader struct {
	Slot          uint64
	ProposerIndex uint64
	ParentRoot    [32]byte
	StateRoot     [32]byte
	BodyRoot      [32]byte
}

type abiProvableHeader struct {
	Header         abiHeader
	RootsTimestamp uint64
}

type abiHistoricalHeader struct {
	Header     abiHeader
	RootGIndex uint64
	Proof      [][32]byte
}

type abiWitness struct {
	ExitRequestIndex           uint64
	WithdrawalCredentials      [32]byte
	EffectiveBalance           uint64
	Slashed                    bool
	ActivationEligibilityEpoch uint64
	ActivationEpoch            uint64
	WithdrawableEpoch          uint64
	ValidatorProof             [][32]byte
	ModuleId                   *big.Int
	NodeOpId                   *big.Int
	Pubkey                     []byte
}

type abiExitRequests struct {
	Data       []byte
	DataFormat *big.Int
}

func toABIHeader(h beacon.BeaconBlockHeader) abiHeader {
	return abiHeader{
		Slot:          uint64(h.Slot),
		ProposerIndex: h.ProposerIndex,
		ParentRoot:    [32]byte(h.ParentRoot),
		StateRoot:     [32]byte(h.StateRoot),
		BodyRoot:      [32]byte(h.BodyRoot),
	}
}

func toABIWitnesses(witnesses []ValidatorWitness) []abiWitness {
	out := make([]abiWitness, len(witnesses))
	for i, w := range witnesses {
		out[i] = abiWitness{
			ExitRequestIndex:           w.ExitRequestIndex,
			WithdrawalCredentials:      w.WithdrawalCredentials,
			EffectiveBalance:           w.EffectiveBalance,
			Slashed:                    w.Slashed,
			ActivationEligibilityEpoch: w.ActivationEligibilityEpoch,
			ActivationEpoch:            w.ActivationEpoch,
			WithdrawableEpoch:          w.WithdrawableEpoch,
			ValidatorProof:             w.ValidatorProof,
			ModuleId:                   new(big.Int).SetUint64(uint64(w.ModuleID)),
			NodeOpId:                   new(big.Int).SetUint64(w.NodeOpID),
			Pubkey:                     append([]byte(nil), w.Pubkey[:]...),
		}
	}
	return out
}

func toABIExitRequests(r ExitRequestsData) abiExitRequests {
	return abiExitRequests{Data: r.Data, DataFormat: new(big.Int).SetUint64(r.DataFormat)}
}

// EncodeVerifyValidatorExitDelay packs a verifyValidatorExitDelay call
// against a current (non-historical) block header.
func EncodeVerifyValidatorExitDelay(header beacon.ProvableBeaconBlockHeader, witnesses []ValidatorWitness, requests ExitRequestsData) ([]byte, error) {
	abiHdr := abiProvableHeader{Header: toABIHeader(header.Header), RootsTimestamp: uint64(header.RootsTimestamp)}
	return verifierMethods.Pack("verifyValidatorExitDelay", abiHdr, toABIWitnesses(witnesses), toABIExitRequests(requests))
}

// EncodeVerifyHistoricalValidatorExitDelay packs a
// verifyHistoricalValidatorExitDelay call against a historical block
// header reached by a secondary proof into the finalized state's
// historical summaries.
func EncodeVerifyHistoricalValidatorExitDelay(header beacon.ProvableBeaconBlockHeader, old beacon.HistoricalHeaderWitness, witnesses []ValidatorWitness, requests ExitRequestsData) ([]byte, error) {
	abiHdr := abiProvableHeader{Header: toABIHeader(header.Header), RootsTimestamp: uint64(header.RootsTimestamp)}
	abiOld := abiHistoricalHeader{
		Header:     toABIHeader(old.Header),
		RootGIndex: old.RootGIndex,
		Proof:      old.Proof,
	}
	return verifierMethods.Pack("verifyHistoricalValidatorExitDelay", abiHdr, abiOld, toABIWitnesses(witnesses), toABIExitRequests(requests))
}

// SubmitVerifyValidatorExitDelay encodes and returns the calldata of a
// verifyValidatorExitDelay call. It does not build, emulate, sign or send a
// transaction.
func (c *Client) SubmitVerifyValidatorExitDelay(ctx context.Context, verifierAddress [20]byte, header beacon.ProvableBeaconBlockHeader, witnesses []ValidatorWitness, requests ExitRequestsData) ([]byte, error) {
	data, err := EncodeVerifyValidatorExitDelay(header, witnesses, requests)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode verifyValidatorExitDelay: %w", err)
	}
	return data, nil
}

// SubmitVerifyHistoricalValidatorExitDelay is the historical-mode
// counterpart of SubmitVerifyValidatorExitDelay.
func (c *Client) SubmitVerifyHistoricalValidatorExitDelay(ctx context.Context, verifierAddress [20]byte, header beacon.ProvableBeaconBlockHeader, old beacon.HistoricalHeaderWitness, witnesses []ValidatorWitness, requests ExitRequestsData) ([]byte, error) {
	data, err := EncodeVerifyHistoricalValidatorExitDelay(header, old, witnesses, requests)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode verifyHistoricalValidatorExitDelay: %w", err)
	}
	return data, nil
}

// ShardCommitteePeriodInSeconds reads the verifier contract's configured
// shard committee period at startup, per distilled spec §3's note that
// this one BeaconConfig field comes from the contract rather than the
// beacon node.
func (c *Client) ShardCommitteePeriodInSeconds(ctx context.Context, verifierAddress [20]byte) (uint64, error) {
	data, err := verifierMethods.Pack("SHARD_COMMITTEE_PERIOD_IN_SECONDS")
	if err != nil {
		return 0, fmt.Errorf("contracts: pack SHARD_COMMITTEE_PERIOD_IN_SECONDS: %w", err)
	}
	out, err := c.CallContract(ctx, CallMsg{To: &verifierAddress, Data: data})
	if err != nil {
		return 0, fmt.Errorf("contracts: call SHARD_COMMITTEE_PERIOD_IN_SECONDS: %w", err)
	}
	values, err := verifierMethods.Unpack("SHARD_COMMITTEE_PERIOD_IN_SECONDS", out)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("contracts: unpack SHARD_COMMITTEE_PERIOD_IN_SECONDS: %w", err)
	}
	period, ok := values[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("contracts: SHARD_COMMITTEE_PERIOD_IN_SECONDS did not return a uint64")
	}
	return period, nil
}

// NewDynamicFeeTx builds an unsigned EIP-1559 transaction targeting the
// verifier contract with the given calldata and fee parameters, ready for
// txexec.Executor's sign-and-send callback.
func NewDynamicFeeTx(chainID uint64, to [20]byte, nonce uint64, gasLimit uint64, maxFeePerGas, maxPriorityFeePerGas *uint256.Int, data []byte) *types.Transaction {
	toAddr := common.Address(to)
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: bigFromU256(maxPriorityFeePerGas),
		GasFeeCap: bigFromU256(maxFeePerGas),
		Gas:       gasLimit,
		To:        &toAddr,
		Data:      data,
	})
}

// gindexProofLength returns the number of sibling witnesses in proof. It
// does not compare that count against the depth of the proof's gindex.
func gindexProofLength(proof gindex.Proof) int { return len(proof.Witnesses) }
