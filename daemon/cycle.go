// Cycle Driver (C9): the daemon's single-threaded cooperative loop. It asks
// the Root Provider for the next (prev, latest) pair of finalized beacon
// roots, resolves both to an EL block range, hands that range to the Prover
// Core, and persists progress only once the cycle completes successfully.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exitproof/verifier/beacon"
	"github.com/exitproof/verifier/contracts"
	"github.com/exitproof/verifier/errs"
	"github.com/exitproof/verifier/log"
	"github.com/exitproof/verifier/metrics"
	"github.com/exitproof/verifier/persistence"
	"github.com/exitproof/verifier/prover"
	"github.com/exitproof/verifier/rootprovider"
)

var cycleLog = log.Default().Module("daemon")

// Prover is the subset of prover.Prover the Cycle Driver depends on,
// narrowed so tests can substitute a stub.
type Prover interface {
	RunCycle(ctx context.Context, fromBlock, toBlock uint64) error
}

var _ Prover = (*prover.Prover)(nil)

// CycleDriverConfig configures C9's outer loop.
type CycleDriverConfig struct {
	SleepInterval time.Duration
	DryRun        bool
}

// CycleDriver implements daemon.Service, running the cycle loop on its own
// goroutine between Start and Stop, in the teacher's stopCh/doneCh idiom.
type CycleDriver struct {
	roots        *rootprovider.Provider
	beaconClient *beacon.Client
	elClient     *contracts.Client
	prover       Prover
	persistence  *persistence.Store
	recovery     *RecoveryPolicy
	cfg          CycleDriverConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCycleDriver constructs a CycleDriver.
func NewCycleDriver(roots *rootprovider.Provider, beaconClient *beacon.Client, elClient *contracts.Client, p Prover, persistenceStore *persistence.Store, cfg CycleDriverConfig) *CycleDriver {
	return &CycleDriver{
		roots:        roots,
		beaconClient: beaconClient,
		elClient:     elClient,
		prover:       p,
		persistence:  persistenceStore,
		recovery:     NewRecoveryPolicy(),
		cfg:          cfg,
	}
}

// Name implements Service.
func (d *CycleDriver) Name() string { return "cycle-driver" }

// Start implements Service: it launches the cycle loop in a background
// goroutine and returns immediately. Calling Start on an already-running
// driver is a no-op.
func (d *CycleDriver) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	if err := d.recovery.Register(d.Name(), DefaultRecoveryConfig()); err != nil {
		return fmt.Errorf("daemon: register recovery policy: %w", err)
	}

	go d.loop()
	return nil
}

// Stop implements Service: it signals the loop to exit and blocks until it
// does. Calling Stop on an already-stopped driver is a no-op.
func (d *CycleDriver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	<-d.doneCh
	return nil
}

// loop runs cycles back-to-back until Stop closes stopCh, sleeping between
// cycles for the reason the previous cycle completed with.
func (d *CycleDriver) loop() {
	defer close(d.doneCh)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		reason := d.runCycleGuarded()
		if !d.sleep(reason) {
			return
		}
	}
}

// sleepReason identifies why the driver is about to sleep, for both the
// sleep-count metric and the log line, per distilled spec §4.9.
type sleepReason string

const (
	reasonNormal        sleepReason = "normal"
	reasonNoProgress    sleepReason = "no_progress"
	reasonErrorRecovery sleepReason = "error_recovery"
)

// runCycleGuarded runs exactly one cycle, recovering from an unexpected
// panic so a single bad cycle cannot take down the whole daemon process.
// A panic is treated as a last-resort bug guard, distinct from the
// in-band error_recovery path ordinary cycle errors already take.
func (d *CycleDriver) runCycleGuarded() (reason sleepReason) {
	reason = reasonErrorRecovery
	defer func() {
		if r := recover(); r != nil {
			backoff, err := d.recovery.RecordFailure(d.Name(), fmt.Errorf("panic: %v", r))
			if err != nil {
				cycleLog.Error("cycle driver exhausted panic recovery retries, continuing on normal schedule", "panic", r, "error", err)
				return
			}
			cycleLog.Error("recovered from panic in cycle goroutine, backing off", "panic", r, "backoff", backoff)
			time.Sleep(backoff)
		}
	}()

	ctx := context.Background()
	ok, err := d.runCycle(ctx)
	if err != nil {
		logged, _ := errs.Of(err)
		if logged == nil || !logged.Logged {
			cycleLog.Warn("cycle failed, progress not persisted", "error", err)
			if logged != nil {
				logged.MarkLogged()
			}
		}
		return reasonErrorRecovery
	}
	_ = d.recovery.RecordSuccess(d.Name())
	if !ok {
		return reasonNoProgress
	}
	return reasonNormal
}

// runCycle executes the five-step loop from distilled spec §4.9. The bool
// return is true only when a block range was actually processed (false
// when C10 yielded no roots, or prev == latest).
func (d *CycleDriver) runCycle(ctx context.Context) (bool, error) {
	roots, err := d.roots.NextRoots(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve next roots: %w", err)
	}
	if roots == nil {
		return false, nil
	}
	if roots.Prev.Root == roots.Latest.Root {
		return false, nil
	}

	fromHash, err := d.beaconClient.ExecutionBlockHash(ctx, roots.Prev.Root.String())
	if err != nil {
		return false, fmt.Errorf("resolve execution block hash for prev root: %w", err)
	}
	toHash, err := d.beaconClient.ExecutionBlockHash(ctx, roots.Latest.Root.String())
	if err != nil {
		return false, fmt.Errorf("resolve execution block hash for latest root: %w", err)
	}
	fromBlock, err := d.elClient.BlockNumberForHash(ctx, fromHash)
	if err != nil {
		return false, fmt.Errorf("resolve EL block number for prev: %w", err)
	}
	toBlock, err := d.elClient.BlockNumberForHash(ctx, toHash)
	if err != nil {
		return false, fmt.Errorf("resolve EL block number for latest: %w", err)
	}

	if err := d.prover.RunCycle(ctx, fromBlock, toBlock); err != nil {
		return false, fmt.Errorf("run cycle [%d,%d]: %w", fromBlock, toBlock, err)
	}

	if d.cfg.DryRun {
		cycleLog.Info("dry run cycle complete, not persisting progress", "fromBlock", fromBlock, "toBlock", toBlock)
		return true, nil
	}

	if err := d.persistence.Save(persistence.LastProcessedRoot{Root: roots.Latest.Root, Slot: roots.Latest.Slot}); err != nil {
		return false, fmt.Errorf("persist last processed root: %w", err)
	}
	return true, nil
}

// sleep waits out the configured interval (or the panic-recovery backoff
// already applied by runCycleGuarded) and records the sleep reason, exiting
// early and returning false if Stop is called mid-sleep.
func (d *CycleDriver) sleep(reason sleepReason) bool {
	metrics.DefaultRegistry.Counter("cycle_sleep_" + string(reason)).Inc()

	timer := time.NewTimer(d.cfg.SleepInterval)
	defer timer.Stop()
	select {
	case <-d.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
