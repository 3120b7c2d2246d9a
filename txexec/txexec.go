// Package txexec drives the submit-one-transaction sequence (C7): populate,
// emulate, estimate, gas-check, sign, submit, confirm, with the execute
// loop's NoSigner/HighGasFee retry policy.
package txexec

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/exitproof/verifier/errs"
	"github.com/exitproof/verifier/gas"
	"github.com/exitproof/verifier/log"
)

var execLog = log.Default().Module("txexec")

// Tx is the opaque populated-and-possibly-signed transaction this package
// threads through its sequence; the contracts package supplies the
// concrete type via PopulateFunc/SignAndSendFunc.
type Tx any

// PopulateFunc builds the transaction to submit.
type PopulateFunc func(ctx context.Context) (Tx, error)

// EmulateFunc performs a read-only call with the same arguments the
// populated transaction carries, surfacing any revert.
type EmulateFunc func(ctx context.Context, tx Tx) error

// EstimateGasFunc estimates gas for tx, returning the execution client's
// estimate.
type EstimateGasFunc func(ctx context.Context, tx Tx) (uint64, error)

// CurrentBaseFeeFunc returns the chain's current base fee.
type CurrentBaseFeeFunc func(ctx context.Context) (*uint256.Int, error)

// SignAndSendFunc signs and submits tx with the given gas limit and
// EIP-1559 parameters, then blocks until confirmations confirmations have
// elapsed or timeout fires.
type SignAndSendFunc func(ctx context.Context, tx Tx, gasLimit uint64, fees gas.EIP1559Params, confirmations int, timeout time.Duration) error

// Config bounds one Executor's policy.
type Config struct {
	DryRun             bool
	HasSigner          bool
	HardGasLimit       uint64
	GasBufferNumerator uint64 // 12 for a 1.2x buffer (numerator/10)
	Confirmations      int
	ConfirmTimeout     time.Duration
	RetryDelay         time.Duration
	MaxHighGasRetries  int
}

// Executor runs the eight-step submission sequence against a Tracker for
// gas acceptability.
type Executor struct {
	cfg     Config
	gasTrkr *gas.Tracker

	populate  PopulateFunc
	emulate   EmulateFunc
	estimate  EstimateGasFunc
	baseFee   CurrentBaseFeeFunc
	signSend  SignAndSendFunc
}

// NewExecutor constructs an Executor wired to its collaborator callbacks.
func NewExecutor(cfg Config, gasTrkr *gas.Tracker, populate PopulateFunc, emulate EmulateFunc, estimate EstimateGasFunc, baseFee CurrentBaseFeeFunc, signSend SignAndSendFunc) *Executor {
	if cfg.GasBufferNumerator == 0 {
		cfg.GasBufferNumerator = 12
	}
	return &Executor{cfg: cfg, gasTrkr: gasTrkr, populate: populate, emulate: emulate, estimate: estimate, baseFee: baseFee, signSend: signSend}
}

// Execute runs the submission sequence with the HighGasFee retry loop.
// NoSigner breaks immediately without retry; any other error kind surfaces
// unchanged.
func (e *Executor) Execute(ctx context.Context) error {
	highGasRetries := 0
	for {
		err := e.attempt(ctx)
		if err == nil {
			return nil
		}

		kind := errs.KindOf(err)
		switch kind {
		case errs.KindNoSigner:
			return err
		case errs.KindHighGasFee:
			highGasRetries++
			if e.cfg.MaxHighGasRetries > 0 && highGasRetries >= e.cfg.MaxHighGasRetries {
				return err
			}
			execLog.Warn("gas fee too high, retrying", "attempt", highGasRetries, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.RetryDelay):
			}
			continue
		default:
			return err
		}
	}
}

func (e *Executor) attempt(ctx context.Context) error {
	tx, err := e.populate(ctx)
	if err != nil {
		return fmt.Errorf("txexec: populate: %w", err)
	}

	if err := e.emulate(ctx, tx); err != nil {
		return errs.New(errs.KindEmulationFailed, err)
	}

	if e.cfg.DryRun {
		execLog.Info("dry run: resolved transaction not sent", "tx", fmt.Sprintf("%+v", tx))
		return nil
	}

	if !e.cfg.HasSigner {
		return errs.Withf(errs.KindNoSigner, "txexec: no signer configured")
	}

	estimated, err := e.estimate(ctx, tx)
	if err != nil {
		execLog.Warn("gas estimation failed, falling back to hard limit", "error", err)
		estimated = e.cfg.HardGasLimit
	}
	estimatedWithBuffer := estimated * e.cfg.GasBufferNumerator / 10

	if estimatedWithBuffer > e.cfg.HardGasLimit {
		return errs.Withf(errs.KindGasLimitExceeded, "txexec: estimated gas with buffer %d exceeds hard limit %d", estimatedWithBuffer, e.cfg.HardGasLimit).
			WithField("estimatedWithBuffer", estimatedWithBuffer).
			WithField("hardLimit", e.cfg.HardGasLimit)
	}

	currentBaseFee, err := e.baseFee(ctx)
	if err != nil {
		return fmt.Errorf("txexec: current base fee: %w", err)
	}
	if e.gasTrkr != nil && !e.gasTrkr.Acceptable(currentBaseFee) {
		return errs.Withf(errs.KindHighGasFee, "txexec: base fee %s above acceptable threshold", currentBaseFee)
	}

	fees, err := e.gasTrkr.SuggestFees(ctx)
	if err != nil {
		return fmt.Errorf("txexec: suggest fees: %w", err)
	}

	if err := e.signSend(ctx, tx, estimatedWithBuffer, fees, e.cfg.Confirmations, e.cfg.ConfirmTimeout); err != nil {
		return errs.New(errs.KindSendFailed, err)
	}
	return nil
}
