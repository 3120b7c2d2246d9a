// Package contracts is the only package in this module that imports
// go-ethereum directly: every ABI encode/decode, RPC call and signing
// operation for the execution layer funnels through here, so the rest of
// the daemon sees typed Go values, not *types.Transaction or *big.Int.
package contracts

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"

	"github.com/exitproof/verifier/errs"
	"github.com/exitproof/verifier/log"
)

var clientLog = log.Default().Module("txexec")

// endpointHealth mirrors the beacon package's failover bookkeeping: an
// endpoint failing MaxRetries times in a row is tried last in the next
// rotation.
type endpointHealth struct {
	consecutiveFailures int
	skipRotation        bool
}

// ClientConfig configures execution-layer transport discipline.
type ClientConfig struct {
	RPCUrls        []string
	RetryDelay     time.Duration
	ResponseTimeout time.Duration
	MaxRetries     int
}

// Client wraps per-endpoint *ethclient.Client connections with the same
// rotation-and-failover discipline as the beacon package's Client, plus
// singleflight deduplication for identical concurrent reads.
type Client struct {
	cfg ClientConfig

	mu      sync.Mutex
	clients []*ethclient.Client
	health  []endpointHealth
	sf      singleflight.Group
}

// Dial lazily connects to every configured RPC URL. A connection failure at
// dial time is recorded as an initial failure for that endpoint rather than
// aborting startup, since a single unreachable failover endpoint shouldn't
// prevent the daemon from starting against the others.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := &Client{cfg: cfg, clients: make([]*ethclient.Client, len(cfg.RPCUrls)), health: make([]endpointHealth, len(cfg.RPCUrls))}
	anyUp := false
	for i, url := range cfg.RPCUrls {
		ec, err := ethclient.DialContext(ctx, url)
		if err != nil {
			clientLog.Warn("execution endpoint unreachable at startup", "url", url, "error", err)
			c.health[i].consecutiveFailures = cfg.MaxRetries
			c.health[i].skipRotation = true
			continue
		}
		c.clients[i] = ec
		anyUp = true
	}
	if !anyUp {
		return nil, fmt.Errorf("contracts: no execution endpoint reachable among %d configured", len(cfg.RPCUrls))
	}
	return c, nil
}

// withClient runs fn against each endpoint in rotation order until one
// succeeds, recording failures for rotation/skip bookkeeping.
func (c *Client) withClient(ctx context.Context, fn func(*ethclient.Client) error) error {
	order := c.rotationOrder()
	var lastErr error
	for _, idx := range order {
		ec := c.clients[idx]
		if ec == nil {
			lastErr = fmt.Errorf("contracts: endpoint %d not connected", idx)
			c.recordFailure(idx)
			continue
		}
		for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
			err := fn(ec)
			cancel()
			if err == nil {
				c.recordSuccess(idx)
				return nil
			}
			lastErr = err
			c.recordFailure(idx)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
			_ = callCtx
		}
	}
	return errs.New(errs.KindTransportRetryable, lastErr)
}

func (c *Client) rotationOrder() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var order, skipped []int
	for i, h := range c.health {
		if h.skipRotation {
			skipped = append(skipped, i)
			c.health[i].skipRotation = false
		} else {
			order = append(order, i)
		}
	}
	return append(order, skipped...)
}

func (c *Client) recordFailure(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health[idx].consecutiveFailures++
	if c.health[idx].consecutiveFailures >= c.cfg.MaxRetries {
		c.health[idx].skipRotation = true
	}
}

func (c *Client) recordSuccess(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health[idx].consecutiveFailures = 0
}

// LatestBlockNumber returns the chain head's block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	v, err, _ := c.sf.Do("latestBlockNumber", func() (any, error) {
		var n uint64
		err := c.withClient(ctx, func(ec *ethclient.Client) error {
			h, err := ec.BlockNumber(ctx)
			if err != nil {
				return err
			}
			n = h
			return nil
		})
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// BlockNumberForHash returns the number of the execution block with the
// given hash, used to resolve a beacon execution-payload block hash to an EL
// block number.
func (c *Client) BlockNumberForHash(ctx context.Context, hash [32]byte) (uint64, error) {
	key := fmt.Sprintf("blockByHash:%x", hash)
	v, err, _ := c.sf.Do(key, func() (any, error) {
		var n uint64
		err := c.withClient(ctx, func(ec *ethclient.Client) error {
			h, err := ec.HeaderByHash(ctx, hash)
			if err != nil {
				return err
			}
			n = h.Number.Uint64()
			return nil
		})
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// TransactionSucceeded returns true iff the transaction at hash was
// mined with a success status.
func (c *Client) TransactionSucceeded(ctx context.Context, hash [32]byte) (bool, error) {
	var ok bool
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		r, err := ec.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		ok = r.Status == types.ReceiptStatusSuccessful
		return nil
	})
	return ok, err
}

// TransactionInput returns the calldata of the transaction at hash.
func (c *Client) TransactionInput(ctx context.Context, hash [32]byte) ([]byte, error) {
	var data []byte
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		tx, _, err := ec.TransactionByHash(ctx, hash)
		if err != nil {
			return err
		}
		data = tx.Data()
		return nil
	})
	return data, err
}

// TransactionBlockTime returns the unix timestamp of the block that mined
// hash, the "delivered" timestamp C4's deadline formula anchors on.
func (c *Client) TransactionBlockTime(ctx context.Context, hash [32]byte) (uint64, error) {
	var ts uint64
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		r, err := ec.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		h, err := ec.HeaderByNumber(ctx, r.BlockNumber)
		if err != nil {
			return err
		}
		ts = h.Time
		return nil
	})
	return ts, err
}

// CurrentBaseFee returns the latest head block's base fee per gas.
func (c *Client) CurrentBaseFee(ctx context.Context) (*uint256.Int, error) {
	var fee *uint256.Int
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		h, err := ec.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if h.BaseFee == nil {
			return fmt.Errorf("contracts: head block has no base fee (pre-London)")
		}
		v, overflow := uint256.FromBig(h.BaseFee)
		if overflow {
			return fmt.Errorf("contracts: base fee overflows u256")
		}
		fee = v
		return nil
	})
	return fee, err
}

// FeeHistory fetches blockCount base fees and the rewardPercentile reward
// per block ending at newestBlock.
func (c *Client) FeeHistory(ctx context.Context, blockCount uint64, newestBlock uint64, rewardPercentile float64) ([]*uint256.Int, []*uint256.Int, error) {
	var baseFees, rewards []*uint256.Int
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		res, err := ec.FeeHistory(ctx, blockCount, new(big.Int).SetUint64(newestBlock), []float64{rewardPercentile})
		if err != nil {
			return err
		}
		baseFees = make([]*uint256.Int, len(res.BaseFee))
		for i, bf := range res.BaseFee {
			v, overflow := uint256.FromBig(bf)
			if overflow {
				return fmt.Errorf("contracts: fee history base fee overflows u256 at index %d", i)
			}
			baseFees[i] = v
		}
		rewards = make([]*uint256.Int, len(res.Reward))
		for i, rs := range res.Reward {
			if len(rs) == 0 {
				continue
			}
			v, overflow := uint256.FromBig(rs[0])
			if overflow {
				return fmt.Errorf("contracts: fee history reward overflows u256 at index %d", i)
			}
			rewards[i] = v
		}
		return nil
	})
	return baseFees, rewards, err
}

// EstimateGas estimates gas for msg.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var gas uint64
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		g, err := ec.EstimateGas(ctx, msg.toEthereum())
		if err != nil {
			return err
		}
		gas = g
		return nil
	})
	return gas, err
}

// CallContract performs a read-only call against msg, used both for
// emulation and for penalty-applicability / registry reads.
func (c *Client) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	var out []byte
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		r, err := ec.CallContract(ctx, msg.toEthereum(), nil)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// SendTransaction submits a signed transaction and waits for confirmations
// confirmations, polling the receipt until it has confirmations worth of
// chain depth or timeout elapses.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction, confirmations int, timeout time.Duration) error {
	if err := c.withClient(ctx, func(ec *ethclient.Client) error { return ec.SendTransaction(ctx, tx) }); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var receiptBlock, head uint64
		err := c.withClient(ctx, func(ec *ethclient.Client) error {
			r, err := ec.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				return err
			}
			receiptBlock = r.BlockNumber.Uint64()
			h, err := ec.BlockNumber(ctx)
			if err != nil {
				return err
			}
			head = h
			return nil
		})
		if err == nil && head-receiptBlock+1 >= uint64(confirmations) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("contracts: confirmation wait timed out after %s", timeout)
}

// CallMsg is the subset of ethereum.CallMsg this package exposes outside
// the go-ethereum boundary.
type CallMsg struct {
	From  [20]byte
	To    *[20]byte
	Data  []byte
	Value *uint256.Int
	Gas   uint64
}
