// Package deadline computes a validator's exit deadline from its on-chain
// activation epoch and the timestamp at which its exit request was
// delivered, consulting a per-module node-operator-registry threshold that
// is cached for the lifetime of one processing cycle.
package deadline

import (
	"context"
	"fmt"
	"sync"

	"github.com/exitproof/verifier/beacon"
)

// Registry is the read-only facade over one module's node-operators
// registry contract, supplying the per-node-operator exit deadline
// threshold (in seconds) that, added to a validator's eligible exit
// timestamp, yields its deadline.
type Registry interface {
	ExitDeadlineThreshold(ctx context.Context, nodeOpID uint64) (uint64, error)
}

// Router resolves a moduleId to the Registry that services it, populated at
// startup from the staking router's module list.
type Router interface {
	RegistryFor(moduleID uint32) (Registry, bool)
}

// cacheKey identifies one (moduleId, nodeOpId) pair's threshold lookup
// within a single cycle.
type cacheKey struct {
	moduleID uint32
	nodeOpID uint64
}

// Resolver computes exit deadlines, caching node-operator threshold lookups
// for the span of one RunCycle call so repeated entries for the same node
// operator in a batch cost one registry call, not one per validator.
type Resolver struct {
	router Router
	cfg    beacon.Config

	mu    sync.Mutex
	cache map[cacheKey]uint64
}

// NewResolver constructs a Resolver. The Prover calls ResetCache at the
// start of each RunCycle so stale thresholds from a prior cycle are not
// carried forward.
func NewResolver(router Router, cfg beacon.Config) *Resolver {
	return &Resolver{router: router, cfg: cfg, cache: make(map[cacheKey]uint64)}
}

// ResetCache clears the per-cycle threshold cache. Call once at the start
// of each RunCycle.
func (r *Resolver) ResetCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[cacheKey]uint64)
}

// Result is the fully resolved deadline for one validator's exit request.
type Result struct {
	EligibleExitTimestamp beacon.Timestamp
	ExitDeadline          beacon.Timestamp
	ExitDeadlineSlot      beacon.Slot
	ExitDeadlineEpoch     beacon.Epoch
}

// Resolve computes the six-step deadline derivation for one validator given
// the timestamp its exit request was delivered on-chain and its activation
// epoch.
func (r *Resolver) Resolve(ctx context.Context, moduleID uint32, nodeOpID uint64, deliveredTimestamp beacon.Timestamp, activationEpoch beacon.Epoch) (Result, error) {
	earliest := r.cfg.GenesisTime +
		beacon.Timestamp(uint64(activationEpoch)*r.cfg.SlotsPerEpoch*r.cfg.SecondsPerSlot) +
		beacon.Timestamp(r.cfg.ShardCommitteePeriodInSeconds)

	eligible := deliveredTimestamp
	if earliest > eligible {
		eligible = earliest
	}

	threshold, err := r.thresholdFor(ctx, moduleID, nodeOpID)
	if err != nil {
		return Result{}, err
	}

	deadline := eligible + beacon.Timestamp(threshold)
	deadlineSlot := beacon.Slot(uint64(deadline-r.cfg.GenesisTime) / r.cfg.SecondsPerSlot)
	deadlineEpoch := beacon.Epoch(uint64(deadlineSlot) / r.cfg.SlotsPerEpoch)

	return Result{
		EligibleExitTimestamp: eligible,
		ExitDeadline:          deadline,
		ExitDeadlineSlot:      deadlineSlot,
		ExitDeadlineEpoch:     deadlineEpoch,
	}, nil
}

func (r *Resolver) thresholdFor(ctx context.Context, moduleID uint32, nodeOpID uint64) (uint64, error) {
	key := cacheKey{moduleID: moduleID, nodeOpID: nodeOpID}

	r.mu.Lock()
	if v, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	registry, ok := r.router.RegistryFor(moduleID)
	if !ok {
		return 0, fmt.Errorf("deadline: no registry configured for module %d", moduleID)
	}
	threshold, err := registry.ExitDeadlineThreshold(ctx, nodeOpID)
	if err != nil {
		return 0, fmt.Errorf("deadline: exit deadline threshold for module %d node operator %d: %w", moduleID, nodeOpID, err)
	}

	r.mu.Lock()
	r.cache[key] = threshold
	r.mu.Unlock()

	return threshold, nil
}
