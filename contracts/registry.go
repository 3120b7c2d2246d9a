package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/exitproof/verifier/beacon"
)

const nodeOperatorsRegistryABI = `[
	{"name": "exitDeadlineThreshold", "type": "function", "stateMutability": "view",
	 "inputs": [{"name": "nodeOperatorId", "type": "uint256"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"name": "isValidatorExitDelayPenaltyApplicable", "type": "function", "stateMutability": "view",
	 "inputs": [
		{"name": "nodeOperatorId", "type": "uint256"},
		{"name": "proofSlotTimestamp", "type": "uint256"},
		{"name": "pubkey", "type": "bytes"},
		{"name": "secondsSinceEligibleExitRequest", "type": "uint256"}
	 ],
	 "outputs": [{"name": "", "type": "bool"}]}
]`

var nodeOperatorsRegistryMethods abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(nodeOperatorsRegistryABI))
	if err != nil {
		panic("contracts: invalid node operators registry ABI: " + err.Error())
	}
	nodeOperatorsRegistryMethods = parsed
}

// Registry is a deadline.Registry implementation calling one node
// operators registry contract over the execution client.
type Registry struct {
	client  *Client
	address [20]byte
}

// NewRegistry constructs a Registry bound to one on-chain contract address.
func NewRegistry(client *Client, address [20]byte) *Registry {
	return &Registry{client: client, address: address}
}

// ExitDeadlineThreshold implements deadline.Registry.
func (r *Registry) ExitDeadlineThreshold(ctx context.Context, nodeOpID uint64) (uint64, error) {
	data, err := nodeOperatorsRegistryMethods.Pack("exitDeadlineThreshold", new(big.Int).SetUint64(nodeOpID))
	if err != nil {
		return 0, fmt.Errorf("contracts: pack exitDeadlineThreshold: %w", err)
	}
	out, err := r.client.CallContract(ctx, CallMsg{To: &r.address, Data: data})
	if err != nil {
		return 0, fmt.Errorf("contracts: call exitDeadlineThreshold: %w", err)
	}
	values, err := nodeOperatorsRegistryMethods.Unpack("exitDeadlineThreshold", out)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("contracts: unpack exitDeadlineThreshold: %w", err)
	}
	bi, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("contracts: exitDeadlineThreshold did not return a uint256")
	}
	return bi.Uint64(), nil
}

// IsExitDelayPenaltyApplicable calls the registry's penalty-applicability
// predicate for one validator.
func (r *Registry) IsExitDelayPenaltyApplicable(ctx context.Context, nodeOpID uint64, proofSlotTimestamp beacon.Timestamp, pubkey [48]byte, secondsSinceEligible uint64) (bool, error) {
	data, err := nodeOperatorsRegistryMethods.Pack(
		"isValidatorExitDelayPenaltyApplicable",
		new(big.Int).SetUint64(nodeOpID),
		new(big.Int).SetUint64(uint64(proofSlotTimestamp)),
		pubkey[:],
		new(big.Int).SetUint64(secondsSinceEligible),
	)
	if err != nil {
		return false, fmt.Errorf("contracts: pack isValidatorExitDelayPenaltyApplicable: %w", err)
	}
	out, err := r.client.CallContract(ctx, CallMsg{To: &r.address, Data: data})
	if err != nil {
		return false, fmt.Errorf("contracts: call isValidatorExitDelayPenaltyApplicable: %w", err)
	}
	values, err := nodeOperatorsRegistryMethods.Unpack("isValidatorExitDelayPenaltyApplicable", out)
	if err != nil || len(values) == 0 {
		return false, fmt.Errorf("contracts: unpack isValidatorExitDelayPenaltyApplicable: %w", err)
	}
	applicable, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("contracts: isValidatorExitDelayPenaltyApplicable did not return a bool")
	}
	return applicable, nil
}

// Router maps moduleId to its registry contract address, populated at
// startup from the staking router, and satisfies deadline.Router.
type Router struct {
	client     *Client
	registries map[uint32]*Registry
}

// NewRouter constructs a Router with no modules registered; call Register
// for each (moduleId, registryAddress) pair resolved from the staking
// router at startup.
func NewRouter(client *Client) *Router {
	return &Router{client: client, registries: make(map[uint32]*Registry)}
}

// Register binds moduleId to the registry contract at address.
func (r *Router) Register(moduleID uint32, address [20]byte) {
	r.registries[moduleID] = NewRegistry(r.client, address)
}

// RegistryFor implements deadline.Router.
func (r *Router) RegistryFor(moduleID uint32) (interface {
	ExitDeadlineThreshold(ctx context.Context, nodeOpID uint64) (uint64, error)
}, bool) {
	reg, ok := r.registries[moduleID]
	return reg, ok
}

// ByModuleID returns the concrete *Registry for moduleID, for callers (the
// prover) that also need IsExitDelayPenaltyApplicable, which the narrower
// deadline.Registry interface doesn't expose.
func (r *Router) ByModuleID(moduleID uint32) (*Registry, bool) {
	reg, ok := r.registries[moduleID]
	return reg, ok
}

// AddressFromHex parses a "0x"-prefixed contract address.
func AddressFromHex(s string) [20]byte { return addressFromHex(s) }
