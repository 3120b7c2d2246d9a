// Package gas tracks base-fee history and decides EIP-1559 fee parameters,
// grounded on the teacher's fee-history tracker but reworked to u256
// arithmetic and linear-interpolated percentiles.
package gas

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/exitproof/verifier/log"
)

var gasLog = log.Default().Module("gas")

// FeeHistorySource is the execution-client facade this package fetches
// fee-history batches from.
type FeeHistorySource interface {
	// FeeHistory returns, for blockCount blocks ending at newestBlock, the
	// base fee per block (length blockCount+1, the chain convention of
	// including the next unconfirmed block's projected base fee) and the
	// reward at rewardPercentile for each of those blocks (length
	// blockCount).
	FeeHistory(ctx context.Context, blockCount uint64, newestBlock uint64, rewardPercentile float64) (baseFees []*uint256.Int, rewards []*uint256.Int, err error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	CurrentBaseFee(ctx context.Context) (*uint256.Int, error)
}

// Config bounds the Gas Manager's refresh and acceptability policy.
type Config struct {
	BlocksPerHour       uint64 // approx. blocks/hour at the chain's block time, used as the refresh cadence
	MaxBlockCount       uint64 // per-RPC-call fee-history batch cap
	HistoryDays         uint64
	HistoryPercentile   float64
	PriorityFeePercentile float64
	MinPriorityFee      *uint256.Int
	MaxPriorityFee      *uint256.Int
}

// Tracker maintains the oldest-first base-fee cache and answers gas
// acceptability / EIP-1559 parameter questions against it.
type Tracker struct {
	cfg    Config
	source FeeHistorySource

	mu                     sync.Mutex
	baseFeeCache           []*uint256.Int
	lastFeeHistoryBlockNum uint64
}

// NewTracker constructs a Tracker with an empty cache.
func NewTracker(cfg Config, source FeeHistorySource) *Tracker {
	return &Tracker{cfg: cfg, source: source}
}

// Refresh applies the refresh rule: skipped if fewer than BlocksPerHour
// blocks have elapsed since the last refresh; otherwise fetches up to
// min(blocksSinceRefresh, historyDays*24*blocksPerHour) blocks in batches of
// at most MaxBlockCount, each batch's trailing projected-next-block entry
// dropped, and appends the results to the oldest-first cache, dropping the
// oldest entries beyond the history window.
func (t *Tracker) Refresh(ctx context.Context) error {
	latest, err := t.source.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("gas: latest block number: %w", err)
	}

	t.mu.Lock()
	lastRefresh := t.lastFeeHistoryBlockNum
	t.mu.Unlock()

	if lastRefresh > 0 && latest-lastRefresh < t.cfg.BlocksPerHour {
		return nil
	}

	blocksSinceRefresh := latest - lastRefresh
	if lastRefresh == 0 {
		blocksSinceRefresh = t.cfg.HistoryDays * 24 * t.cfg.BlocksPerHour
	}
	maxWindow := t.cfg.HistoryDays * 24 * t.cfg.BlocksPerHour
	if blocksSinceRefresh > maxWindow {
		blocksSinceRefresh = maxWindow
	}

	var newest []*uint256.Int
	remaining := blocksSinceRefresh
	endBlock := latest
	for remaining > 0 {
		batch := t.cfg.MaxBlockCount
		if batch > remaining {
			batch = remaining
		}
		baseFees, _, err := t.source.FeeHistory(ctx, batch, endBlock, t.cfg.PriorityFeePercentile)
		if err != nil {
			return fmt.Errorf("gas: fee history batch ending at %d: %w", endBlock, err)
		}
		if len(baseFees) > 0 {
			baseFees = baseFees[:len(baseFees)-1] // drop the trailing projected-next-block entry
		}
		newest = append(baseFees, newest...)
		remaining -= batch
		endBlock -= batch
	}

	t.mu.Lock()
	t.baseFeeCache = append(t.baseFeeCache, newest...)
	if uint64(len(t.baseFeeCache)) > maxWindow {
		t.baseFeeCache = t.baseFeeCache[uint64(len(t.baseFeeCache))-maxWindow:]
	}
	t.lastFeeHistoryBlockNum = latest
	t.mu.Unlock()

	gasLog.Debug("refreshed fee history cache", "cachedBlocks", len(newest), "latestBlock", latest)
	return nil
}

// Acceptable reports whether currentBaseFee is at or below the configured
// history percentile of the cached base-fee history.
func (t *Tracker) Acceptable(currentBaseFee *uint256.Int) bool {
	p := t.Percentile(t.cfg.HistoryPercentile)
	if p == nil {
		return true // no history yet: don't block on an empty cache
	}
	return currentBaseFee.Cmp(p) <= 0
}

// Percentile returns the linear-interpolated value at percentile p (0-100)
// over the cached, oldest-first base fees. Returns nil on an empty cache.
//
// For a two-element cache [a, b] (a <= b) at p=50, this returns (a+b)/2:
// rank = (2-1)*50/100 = 0.5, interpolating exactly halfway between index 0
// and index 1.
func (t *Tracker) Percentile(p float64) *uint256.Int {
	t.mu.Lock()
	cached := make([]*uint256.Int, len(t.baseFeeCache))
	copy(cached, t.baseFeeCache)
	t.mu.Unlock()

	if len(cached) == 0 {
		return nil
	}
	sorted := make([]*uint256.Int, len(cached))
	copy(sorted, cached)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })

	if len(sorted) == 1 {
		return sorted[0].Clone()
	}

	rank := (float64(len(sorted)-1) * p) / 100
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1].Clone()
	}
	frac := rank - float64(lo)

	// interpolated = lo + (hi-lo)*frac, computed in u256 by scaling frac to
	// an integer numerator/denominator to avoid float rounding on-chain-sized values.
	return interpolate(sorted[lo], sorted[hi], frac)
}

// interpolate returns lo + (hi-lo)*frac as a uint256, using a fixed-point
// scale to avoid converting chain-sized values through float64.
func interpolate(lo, hi *uint256.Int, frac float64) *uint256.Int {
	const scale = 1_000_000
	fracScaled := uint64(frac * scale)

	diff := new(uint256.Int).Sub(hi, lo)
	delta := new(uint256.Int).Mul(diff, uint256.NewInt(fracScaled))
	delta.Div(delta, uint256.NewInt(scale))
	return new(uint256.Int).Add(lo, delta)
}

// EIP1559Params is the resolved fee suggestion for one transaction.
type EIP1559Params struct {
	MaxPriorityFeePerGas *uint256.Int
	MaxFeePerGas         *uint256.Int
}

// SuggestFees fetches a fresh one-block reward sample at
// PriorityFeePercentile, clamps it into [MinPriorityFee, MaxPriorityFee],
// and derives maxFeePerGas = 2*currentBaseFee + maxPriorityFeePerGas.
func (t *Tracker) SuggestFees(ctx context.Context) (EIP1559Params, error) {
	currentBaseFee, err := t.source.CurrentBaseFee(ctx)
	if err != nil {
		return EIP1559Params{}, fmt.Errorf("gas: current base fee: %w", err)
	}
	latest, err := t.source.LatestBlockNumber(ctx)
	if err != nil {
		return EIP1559Params{}, fmt.Errorf("gas: latest block number: %w", err)
	}
	_, rewards, err := t.source.FeeHistory(ctx, 1, latest, t.cfg.PriorityFeePercentile)
	if err != nil {
		return EIP1559Params{}, fmt.Errorf("gas: one-block fee history: %w", err)
	}
	if len(rewards) == 0 {
		return EIP1559Params{}, fmt.Errorf("gas: fee history returned no reward sample")
	}
	reward := rewards[0]

	priority := clamp(reward, t.cfg.MinPriorityFee, t.cfg.MaxPriorityFee)
	maxFee := new(uint256.Int).Mul(currentBaseFee, uint256.NewInt(2))
	maxFee.Add(maxFee, priority)

	return EIP1559Params{MaxPriorityFeePerGas: priority, MaxFeePerGas: maxFee}, nil
}

func clamp(v, min, max *uint256.Int) *uint256.Int {
	if v.Cmp(min) < 0 {
		return min.Clone()
	}
	if v.Cmp(max) > 0 {
		return max.Clone()
	}
	return v.Clone()
}

// CachedBlockCount reports the number of base-fee samples currently cached.
func (t *Tracker) CachedBlockCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.baseFeeCache)
}

// SetCacheForTest seeds the base-fee cache directly, bypassing Refresh.
// Exported for use by other packages' tests that need a Tracker with known
// acceptability behavior without wiring a fake FeeHistorySource.
func (t *Tracker) SetCacheForTest(baseFees []*uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseFeeCache = baseFees
}
