// Package rootprovider implements the Root Provider (C10): it resolves the
// (prev, latest) pair of finalized beacon roots the Cycle Driver advances
// across, falling back from a persisted cursor to a configured bootstrap to
// a lookback window when no prior progress exists.
package rootprovider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/exitproof/verifier/beacon"
	"github.com/exitproof/verifier/log"
	"github.com/exitproof/verifier/persistence"
)

var providerLog = log.Default().Module("rootprovider")

// Bootstrap configures the fallback sources for prev when no persisted
// cursor exists, per distilled spec §4.10.
type Bootstrap struct {
	StartRoot         string
	StartSlot         uint64
	StartEpoch        uint64
	StartLookbackDays uint64
}

// Roots is one cycle's (prev, latest) pair.
type Roots struct {
	Prev   beacon.BeaconBlockHeader
	Latest beacon.BeaconBlockHeader
}

// Provider resolves Roots for the Cycle Driver.
type Provider struct {
	beaconClient *beacon.Client
	persistence  *persistence.Store
	bootstrap    Bootstrap
	beaconCfg    beacon.Config
}

// New constructs a Provider.
func New(beaconClient *beacon.Client, store *persistence.Store, bootstrap Bootstrap, beaconCfg beacon.Config) *Provider {
	return &Provider{beaconClient: beaconClient, persistence: store, bootstrap: bootstrap, beaconCfg: beaconCfg}
}

// NextRoots implements §4.10. A nil return (with no error) signals "none":
// the driver should sleep and retry next cycle without treating this as a
// cycle failure.
func (p *Provider) NextRoots(ctx context.Context) (*Roots, error) {
	latestHeader, err := p.beaconClient.GetHeader(ctx, "finalized")
	if err != nil {
		providerLog.Warn("could not fetch finalized header, yielding no roots this cycle", "error", err)
		return nil, nil
	}

	prevHeader, err := p.resolvePrev(ctx)
	if err != nil {
		providerLog.Warn("could not resolve prev root, yielding no roots this cycle", "error", err)
		return nil, nil
	}

	return &Roots{Prev: prevHeader, Latest: latestHeader}, nil
}

// resolvePrev implements the three-tier fallback: persisted cursor,
// configured bootstrap, lookback window.
func (p *Provider) resolvePrev(ctx context.Context) (beacon.BeaconBlockHeader, error) {
	if val, ok, err := p.persistence.Load(); err != nil {
		return beacon.BeaconBlockHeader{}, fmt.Errorf("load persisted root: %w", err)
	} else if ok {
		header, err := p.beaconClient.GetHeader(ctx, val.Root.String())
		if err == nil {
			return header, nil
		}
		providerLog.Warn("persisted root no longer resolves, falling back to bootstrap", "root", val.Root.String(), "error", err)
	}

	if id, ok := p.bootstrapID(); ok {
		header, err := p.beaconClient.GetHeader(ctx, id)
		if err == nil {
			return header, nil
		}
		providerLog.Warn("configured bootstrap root/slot/epoch did not resolve, falling back to lookback window", "id", id, "error", err)
	}

	return p.lookbackHeader(ctx)
}

func (p *Provider) bootstrapID() (string, bool) {
	switch {
	case p.bootstrap.StartRoot != "":
		return p.bootstrap.StartRoot, true
	case p.bootstrap.StartSlot != 0:
		return strconv.FormatUint(p.bootstrap.StartSlot, 10), true
	case p.bootstrap.StartEpoch != 0:
		return strconv.FormatUint(uint64(p.beaconCfg.EpochToSlot(beacon.Epoch(p.bootstrap.StartEpoch))), 10), true
	default:
		return "", false
	}
}

// lookbackHeader resolves the header at now - startLookbackDays, rounded
// down to the nearest slot, falling on the next non-skipped slot at or
// after it when that exact slot was skipped.
func (p *Provider) lookbackHeader(ctx context.Context) (beacon.BeaconBlockHeader, error) {
	genesis, err := p.beaconClient.GetGenesis(ctx)
	if err != nil {
		return beacon.BeaconBlockHeader{}, fmt.Errorf("fetch genesis for lookback window: %w", err)
	}

	lookbackSeconds := p.bootstrap.StartLookbackDays * 24 * 60 * 60
	targetTimestamp := uint64(time.Now().Unix()) - lookbackSeconds
	genesisTimestamp := uint64(genesis.GenesisTime)
	if targetTimestamp < genesisTimestamp {
		targetTimestamp = genesisTimestamp
	}
	targetSlot := beacon.Slot((targetTimestamp - genesisTimestamp) / p.beaconCfg.SecondsPerSlot)

	_, header, err := p.beaconClient.FindNextAvailableSlot(ctx, targetSlot, 32)
	if err != nil {
		return beacon.BeaconBlockHeader{}, fmt.Errorf("locate available slot at/after lookback target %d: %w", targetSlot, err)
	}
	return header, nil
}
