package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/exitproof/verifier/log"
)

// maxConcurrentRanges bounds the fan-out of FetchExitDataEvents'
// range-split FilterLogs calls, so a wide block span doesn't open one
// goroutine per 10,000-block chunk against a rate-limited RPC endpoint.
const maxConcurrentRanges = 8

var oracleLog = log.Default().Module("prover")

// OracleEvent is one decoded ExitDataProcessing log plus the transaction it
// came from, ready for C3 decoding once its payload is extracted.
type OracleEvent struct {
	TxHash  [32]byte
	Payload ExitReportPayload
}

// blockRangeSize is the maximum span of one FilterLogs call, matching the
// accumulation pass's range-splitting rule.
const blockRangeSize = 10_000

// FetchExitDataEvents pulls ExitDataProcessing events from the oracle
// contract across [fromBlock, toBlock], split into blockRangeSize-sized
// ranges fanned out (bounded by maxConcurrentRanges) via errgroup, decoding
// each event's issuing transaction under the submitReportData/
// submitExitRequestsData fallback. Results are merged in ascending range
// order once every range has resolved, so a caller never observes a
// partial fan-out.
func (c *Client) FetchExitDataEvents(ctx context.Context, oracleAddress [20]byte, fromBlock, toBlock uint64) ([]OracleEvent, error) {
	var starts []uint64
	for start := fromBlock; start <= toBlock; start += blockRangeSize {
		starts = append(starts, start)
	}
	results := make([][]OracleEvent, len(starts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRanges)
	for i, start := range starts {
		i, start := i, start
		end := start + blockRangeSize - 1
		if end > toBlock {
			end = toBlock
		}
		g.Go(func() error {
			rangeEvents, err := c.fetchRange(gctx, oracleAddress, start, end)
			if err != nil {
				return err
			}
			results[i] = rangeEvents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var events []OracleEvent
	for _, r := range results {
		events = append(events, r...)
	}
	return events, nil
}

func (c *Client) fetchRange(ctx context.Context, oracleAddress [20]byte, from, to uint64) ([]OracleEvent, error) {
	var rawLogs []types.Log
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		found, err := ec.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{common.Address(oracleAddress)},
			Topics:    [][]common.Hash{{exitDataProcessingEvent.ID}},
		})
		if err != nil {
			return err
		}
		rawLogs = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("contracts: filter ExitDataProcessing logs [%d,%d]: %w", from, to, err)
	}

	var events []OracleEvent
	for _, l := range rawLogs {
		txHash := [32]byte(l.TxHash)
		ok, err := c.TransactionSucceeded(ctx, txHash)
		if err != nil || !ok {
			continue
		}
		input, err := c.TransactionInput(ctx, txHash)
		if err != nil {
			oracleLog.Warn("could not fetch transaction input for logged event", "tx", fmt.Sprintf("%x", txHash), "error", err)
			continue
		}
		payload, err := DecodeCalldata(input)
		if err != nil {
			oracleLog.Warn("unrecognized selector, skipping event", "tx", fmt.Sprintf("%x", txHash))
			continue
		}
		events = append(events, OracleEvent{TxHash: txHash, Payload: payload})
	}
	return events, nil
}
