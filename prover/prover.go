// Package prover implements the Prover Core (C8): one accumulation pass
// that turns oracle events into deadline-indexed validator entries, and
// one verification pass that checks eligible entries against live chain
// state and submits exit-delay-penalty proofs.
package prover

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/exitproof/verifier/beacon"
	"github.com/exitproof/verifier/contracts"
	"github.com/exitproof/verifier/deadline"
	"github.com/exitproof/verifier/errs"
	"github.com/exitproof/verifier/exitdata"
	"github.com/exitproof/verifier/gas"
	"github.com/exitproof/verifier/log"
	"github.com/exitproof/verifier/store"
	"github.com/exitproof/verifier/txexec"
)

var proverLog = log.Default().Module("prover")

// Config bounds submission policy; transport/retry configuration lives on
// the collaborators (beacon.Client, contracts.Client) passed to New.
type Config struct {
	VerifierAddress    [20]byte
	OracleAddress      [20]byte
	ValidatorBatchSize int
	Confirmations      int
	ConfirmTimeout     time.Duration
	RetryDelay         time.Duration
	MaxHighGasRetries  int
	HardGasLimit       uint64
	GasBufferNumerator uint64
	DryRun             bool
	ChainID            uint64
}

// Prover holds every collaborator the accumulation and verification passes
// need: C1 (beaconClient), the execution-layer transport and contract
// bindings (elClient, router), C4 (resolver), C5 (validatorStore,
// reportedSet), C6 (gasTracker) and, when a signer is configured, the key
// that lets C7 actually submit instead of only emulating.
type Prover struct {
	beaconClient *beacon.Client
	elClient     *contracts.Client
	router       *contracts.Router
	resolver     *deadline.Resolver
	validators   *store.Store
	reportedSet  *store.ReportedSet
	gasTracker   *gas.Tracker
	signer       *contracts.Signer
	beaconCfg    beacon.Config
	cfg          Config
}

// New constructs a Prover. signer may be nil: txexec.Executor then runs in
// emulation-only mode, surfacing errs.KindNoSigner on any attempted
// submission rather than failing to construct.
func New(beaconClient *beacon.Client, elClient *contracts.Client, router *contracts.Router, resolver *deadline.Resolver, validators *store.Store, reportedSet *store.ReportedSet, gasTracker *gas.Tracker, signer *contracts.Signer, beaconCfg beacon.Config, cfg Config) *Prover {
	return &Prover{
		beaconClient: beaconClient,
		elClient:     elClient,
		router:       router,
		resolver:     resolver,
		validators:   validators,
		reportedSet:  reportedSet,
		gasTracker:   gasTracker,
		signer:       signer,
		beaconCfg:    beaconCfg,
		cfg:          cfg,
	}
}

// RunCycle drives one accumulation pass over [fromBlock, toBlock] followed
// by one verification pass, per distilled spec §4.8 and the ordering
// guarantee that accumulation fully completes (mutating C5) before
// eligibility processing begins (reading it).
func (p *Prover) RunCycle(ctx context.Context, fromBlock, toBlock uint64) error {
	p.resolver.ResetCache()

	if err := p.accumulate(ctx, fromBlock, toBlock); err != nil {
		return fmt.Errorf("prover: accumulation pass: %w", err)
	}
	if err := p.verify(ctx); err != nil {
		return fmt.Errorf("prover: verification pass: %w", err)
	}
	return nil
}

// accumulate implements §4.8.1: fetch oracle events over the EL range
// (range-splitting and transaction validation are already handled by
// contracts.Client.FetchExitDataEvents), decode each payload via C3,
// resolve each validator's deadline via C4, and insert the results into
// C5 grouped by exitDeadlineSlot.
func (p *Prover) accumulate(ctx context.Context, fromBlock, toBlock uint64) error {
	events, err := p.elClient.FetchExitDataEvents(ctx, p.cfg.OracleAddress, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("fetch exit data events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	headState, err := p.beaconClient.GetState(ctx, "head")
	if err != nil {
		return fmt.Errorf("fetch head state for activation epochs: %w", err)
	}

	byDeadlineSlot := make(map[beacon.Slot][]store.DeadlineGroup)
	for _, ev := range events {
		requests, err := exitdata.Decode(hex.EncodeToString(ev.Payload.Data))
		if err != nil {
			proverLog.Warn("malformed exit request payload, skipping event", "tx", fmt.Sprintf("%x", ev.TxHash), "error", err)
			continue
		}
		deliveredTimestamp, err := p.elClient.TransactionBlockTime(ctx, ev.TxHash)
		if err != nil {
			proverLog.Warn("could not resolve delivered timestamp, skipping event", "tx", fmt.Sprintf("%x", ev.TxHash), "error", err)
			continue
		}

		exitReq := store.ExitRequest{DataFormat: ev.Payload.DataFormat, Payload: ev.Payload.Data}
		groupsBySlot := make(map[beacon.Slot]*store.DeadlineGroup)

		for _, req := range requests {
			if int(req.ValidatorIndex) >= headState.ValidatorCount() {
				proverLog.Warn("exit request names validator index beyond registry size, skipping", "validatorIndex", req.ValidatorIndex)
				continue
			}
			v := headState.ValidatorAt(int(req.ValidatorIndex))

			result, err := p.resolver.Resolve(ctx, req.ModuleID, req.NodeOpID, beacon.Timestamp(deliveredTimestamp), v.ActivationEpoch)
			if err != nil {
				proverLog.Warn("deadline resolution failed, skipping validator", "validatorIndex", req.ValidatorIndex, "error", err)
				continue
			}

			g, ok := groupsBySlot[result.ExitDeadlineSlot]
			if !ok {
				g = &store.DeadlineGroup{ExitRequest: exitReq}
				groupsBySlot[result.ExitDeadlineSlot] = g
			}
			g.Entries = append(g.Entries, store.Entry{
				ValidatorIndex:        req.ValidatorIndex,
				Pubkey:                req.Pubkey,
				ModuleID:              req.ModuleID,
				NodeOpID:              req.NodeOpID,
				ExitDataIndex:         req.ExitDataIndex,
				ActivationEpoch:       v.ActivationEpoch,
				ExitDeadlineEpoch:     result.ExitDeadlineEpoch,
				EligibleExitTimestamp: result.EligibleExitTimestamp,
			})
		}

		for slot, g := range groupsBySlot {
			byDeadlineSlot[slot] = append(byDeadlineSlot[slot], *g)
		}
	}

	p.validators.Add(byDeadlineSlot)
	return nil
}

// verify implements §4.8.2.
func (p *Prover) verify(ctx context.Context) error {
	finalizedState, err := p.beaconClient.GetState(ctx, "finalized")
	if err != nil {
		if errs.KindOf(err) == errs.KindStateDeserialization {
			proverLog.Warn("finalized state deserialization failed, ending cycle gracefully", "error", err)
			return nil
		}
		return fmt.Errorf("fetch finalized state: %w", err)
	}
	finalizedHeader, err := p.beaconClient.GetHeader(ctx, "finalized")
	if err != nil {
		return fmt.Errorf("fetch finalized header: %w", err)
	}
	provableFinalizedHeader := beacon.NewProvableBeaconBlockHeader(p.beaconCfg, finalizedHeader)

	headSlot := finalizedState.Slot()
	for _, slotEntries := range p.validators.EligibleEntries(headSlot) {
		if err := p.processSlot(ctx, slotEntries, finalizedState, provableFinalizedHeader); err != nil {
			proverLog.Warn("processing deadline slot failed, continuing with remaining slots", "slot", uint64(slotEntries.Slot), "error", err)
		}
	}

	p.validators.Cleanup(headSlot, p.reportedSet)
	return nil
}

func (p *Prover) processSlot(ctx context.Context, slotEntries store.SlotEntries, finalizedState *beacon.State, provableFinalizedHeader beacon.ProvableBeaconBlockHeader) error {
	penalizableSlot := slotEntries.Slot + 1
	proofSlot, deadlineHeader, err := p.beaconClient.FindNextAvailableSlot(ctx, penalizableSlot, 32)
	if err != nil {
		return fmt.Errorf("locate proof slot at/after %d: %w", penalizableSlot, err)
	}

	deadlineState, err := p.beaconClient.GetState(ctx, strconv.FormatUint(uint64(proofSlot), 10))
	if err != nil {
		if errs.KindOf(err) == errs.KindStateDeserialization {
			proverLog.Warn("deadline-slot state deserialization failed, skipping group", "slot", uint64(proofSlot), "error", err)
			return nil
		}
		return fmt.Errorf("fetch deadline state at slot %d: %w", proofSlot, err)
	}

	proofSlotTimestamp := p.beaconCfg.SlotToTimestamp(proofSlot)

	for _, group := range slotEntries.Groups {
		witnesses, err := p.buildWitnesses(ctx, group, deadlineState, proofSlotTimestamp)
		if err != nil {
			return err
		}
		if len(witnesses) == 0 {
			continue
		}
		if err := p.submitBatches(ctx, slotEntries.Slot, group.ExitRequest, witnesses, deadlineHeader, finalizedState, provableFinalizedHeader); err != nil {
			return err
		}
	}
	return nil
}

// buildWitnesses applies the per-validator eligibility checks of §4.8.2
// step 3 and returns one ValidatorWitness per validator still requiring a
// submission.
func (p *Prover) buildWitnesses(ctx context.Context, group store.DeadlineGroup, deadlineState *beacon.State, proofSlotTimestamp beacon.Timestamp) ([]contracts.ValidatorWitness, error) {
	var out []contracts.ValidatorWitness
	for _, e := range group.Entries {
		if int(e.ValidatorIndex) >= deadlineState.ValidatorCount() {
			continue
		}
		v := deadlineState.ValidatorAt(int(e.ValidatorIndex))

		if v.ExitEpoch < e.ExitDeadlineEpoch {
			continue
		}

		registry, ok := p.router.ByModuleID(e.ModuleID)
		if !ok {
			proverLog.Warn("no registry configured for module, skipping validator", "moduleId", e.ModuleID, "validatorIndex", e.ValidatorIndex)
			continue
		}
		if proofSlotTimestamp < e.EligibleExitTimestamp {
			continue
		}
		secondsSinceEligible := uint64(proofSlotTimestamp) - uint64(e.EligibleExitTimestamp)

		applicable, err := registry.IsExitDelayPenaltyApplicable(ctx, e.NodeOpID, proofSlotTimestamp, e.Pubkey, secondsSinceEligible)
		if err != nil {
			return nil, fmt.Errorf("penalty applicability for validator %d: %w", e.ValidatorIndex, err)
		}
		if !applicable {
			if p.reportedSet.Contains(e.Pubkey) {
				p.reportedSet.Remove(e.Pubkey)
			}
			continue
		}

		withdrawableEpoch := v.WithdrawableEpoch
		_, proof, err := deadlineState.ProveValidator(int(e.ValidatorIndex))
		if err != nil {
			return nil, fmt.Errorf("prove validator %d: %w", e.ValidatorIndex, err)
		}

		out = append(out, contracts.ValidatorWitness{
			ExitRequestIndex:           uint64(e.ExitDataIndex),
			WithdrawalCredentials:      v.WithdrawalCredentials,
			EffectiveBalance:           v.EffectiveBalance,
			Slashed:                    v.Slashed,
			ActivationEligibilityEpoch: uint64(v.ActivationEligibilityEpoch),
			ActivationEpoch:            uint64(v.ActivationEpoch),
			WithdrawableEpoch:          uint64(withdrawableEpoch),
			ValidatorProof:             proof.Witnesses,
			ModuleID:                   e.ModuleID,
			NodeOpID:                   e.NodeOpID,
			Pubkey:                     e.Pubkey,
		})
	}
	return out, nil
}

// submitBatches partitions witnesses into validatorBatchSize-sized slices
// and submits each, choosing current vs. historical mode at the deadline
// slot level per §4.8.3.
func (p *Prover) submitBatches(ctx context.Context, deadlineSlot beacon.Slot, exitReq store.ExitRequest, witnesses []contracts.ValidatorWitness, deadlineHeader beacon.BeaconBlockHeader, finalizedState *beacon.State, provableFinalizedHeader beacon.ProvableBeaconBlockHeader) error {
	requests := contracts.ExitRequestsData{Data: exitReq.Payload, DataFormat: exitReq.DataFormat}
	headSlot := finalizedState.Slot()
	old := p.beaconCfg.IsSlotOld(headSlot, deadlineSlot)

	var historical *beacon.HistoricalHeaderWitness
	if old {
		w, err := p.buildHistoricalWitness(ctx, finalizedState, deadlineHeader)
		if err != nil {
			return fmt.Errorf("build historical header witness: %w", err)
		}
		historical = w
	}

	batchSize := p.cfg.ValidatorBatchSize
	if batchSize <= 0 {
		batchSize = len(witnesses)
	}
	for start := 0; start < len(witnesses); start += batchSize {
		end := start + batchSize
		if end > len(witnesses) {
			end = len(witnesses)
		}
		batch := witnesses[start:end]

		var err error
		if old {
			err = p.submitHistorical(ctx, provableFinalizedHeader, *historical, batch, requests)
		} else {
			err = p.submitCurrent(ctx, beacon.NewProvableBeaconBlockHeader(p.beaconCfg, deadlineHeader), batch, requests)
		}
		if err != nil {
			return fmt.Errorf("submit batch [%d,%d): %w", start, end, err)
		}
		for _, w := range batch {
			p.reportedSet.Add(w.Pubkey)
		}
	}
	return nil
}

// buildHistoricalWitness locates deadlineHeader's slot within its
// HistoricalSummary batch, fetches the summary state it rolled into, and
// builds the combined proof via beacon.State.ProveHistoricalBlockRoot.
func (p *Prover) buildHistoricalWitness(ctx context.Context, finalizedState *beacon.State, deadlineHeader beacon.BeaconBlockHeader) (*beacon.HistoricalHeaderWitness, error) {
	summaryIndex := p.beaconCfg.SummaryIndex(deadlineHeader.Slot)
	rootIndex := p.beaconCfg.RootIndexInSummary(deadlineHeader.Slot)
	summaryStateSlot := p.beaconCfg.SlotOfSummary(summaryIndex)

	summaryState, err := p.beaconClient.GetState(ctx, strconv.FormatUint(uint64(summaryStateSlot), 10))
	if err != nil {
		return nil, fmt.Errorf("fetch historical summary state at slot %d: %w", summaryStateSlot, err)
	}

	_, proof, err := finalizedState.ProveHistoricalBlockRoot(summaryIndex, summaryState, rootIndex)
	if err != nil {
		return nil, err
	}

	return &beacon.HistoricalHeaderWitness{
		Header:        deadlineHeader,
		Proof:         proof.Witnesses,
		RootGIndex:    proof.Gindex,
		HasRootGIndex: true,
	}, nil
}

func (p *Prover) submitCurrent(ctx context.Context, header beacon.ProvableBeaconBlockHeader, batch []contracts.ValidatorWitness, requests contracts.ExitRequestsData) error {
	executor := p.newExecutor(func(ctx context.Context) (txexec.Tx, error) {
		data, err := p.elClient.SubmitVerifyValidatorExitDelay(ctx, p.cfg.VerifierAddress, header, batch, requests)
		if err != nil {
			return nil, err
		}
		return p.unsignedTx(ctx, data)
	}, func(ctx context.Context, tx txexec.Tx) error {
		return p.emulate(ctx, tx)
	})
	return executor.Execute(ctx)
}

func (p *Prover) submitHistorical(ctx context.Context, header beacon.ProvableBeaconBlockHeader, old beacon.HistoricalHeaderWitness, batch []contracts.ValidatorWitness, requests contracts.ExitRequestsData) error {
	executor := p.newExecutor(func(ctx context.Context) (txexec.Tx, error) {
		data, err := p.elClient.SubmitVerifyHistoricalValidatorExitDelay(ctx, p.cfg.VerifierAddress, header, old, batch, requests)
		if err != nil {
			return nil, err
		}
		return p.unsignedTx(ctx, data)
	}, func(ctx context.Context, tx txexec.Tx) error {
		return p.emulate(ctx, tx)
	})
	return executor.Execute(ctx)
}

func (p *Prover) unsignedTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	return contracts.NewDynamicFeeTx(p.cfg.ChainID, p.cfg.VerifierAddress, 0, p.cfg.HardGasLimit, uint256.NewInt(0), uint256.NewInt(0), data), nil
}

func (p *Prover) emulate(ctx context.Context, tx txexec.Tx) error {
	dtx := tx.(*types.Transaction)
	from := [20]byte{}
	if p.signer != nil {
		from = p.signer.Address()
	}
	to := p.cfg.VerifierAddress
	_, err := p.elClient.CallContract(ctx, contracts.CallMsg{From: from, To: &to, Data: dtx.Data()})
	return err
}

func (p *Prover) newExecutor(populate txexec.PopulateFunc, emulate txexec.EmulateFunc) *txexec.Executor {
	cfg := txexec.Config{
		DryRun:             p.cfg.DryRun,
		HasSigner:          p.signer != nil,
		HardGasLimit:       p.cfg.HardGasLimit,
		GasBufferNumerator: p.cfg.GasBufferNumerator,
		Confirmations:      p.cfg.Confirmations,
		ConfirmTimeout:     p.cfg.ConfirmTimeout,
		RetryDelay:         p.cfg.RetryDelay,
		MaxHighGasRetries:  p.cfg.MaxHighGasRetries,
	}
	return txexec.NewExecutor(
		cfg,
		p.gasTracker,
		populate,
		emulate,
		func(ctx context.Context, tx txexec.Tx) (uint64, error) {
			dtx := tx.(*types.Transaction)
			to := p.cfg.VerifierAddress
			return p.elClient.EstimateGas(ctx, contracts.CallMsg{From: p.fromAddress(), To: &to, Data: dtx.Data()})
		},
		func(ctx context.Context) (*uint256.Int, error) {
			return p.elClient.CurrentBaseFee(ctx)
		},
		func(ctx context.Context, tx txexec.Tx, gasLimit uint64, fees gas.EIP1559Params, confirmations int, timeout time.Duration) error {
			if p.signer == nil {
				return errs.Withf(errs.KindNoSigner, "prover: no signer configured")
			}
			dtx := tx.(*types.Transaction)
			return p.signer.SignAndSend(ctx, p.elClient, dtx, gasLimit, fees, confirmations, timeout)
		},
	)
}

func (p *Prover) fromAddress() [20]byte {
	if p.signer == nil {
		return [20]byte{}
	}
	return p.signer.Address()
}

