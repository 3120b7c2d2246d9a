// Command exitdelay-verifier runs the exit-delay-penalty verifier daemon:
// it watches finalized beacon state for validators whose voluntary exit
// deadline has passed, and submits penalty proofs against the verifier
// contract. Configuration layers a YAML file, EXITDELAY_*-prefixed
// environment variables, and CLI flags, each overriding the last.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/exitproof/verifier/beacon"
	"github.com/exitproof/verifier/config"
	"github.com/exitproof/verifier/contracts"
	"github.com/exitproof/verifier/daemon"
	"github.com/exitproof/verifier/deadline"
	"github.com/exitproof/verifier/gas"
	"github.com/exitproof/verifier/log"
	"github.com/exitproof/verifier/persistence"
	"github.com/exitproof/verifier/prover"
	"github.com/exitproof/verifier/rootprovider"
	"github.com/exitproof/verifier/store"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "exitdelay-verifier",
		Usage:   "watch finalized beacon state and submit exit-delay-penalty proofs",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.BoolFlag{Name: "dry-run", Usage: "run cycles without persisting progress or submitting transactions"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "json, text or color"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "exitdelay-verifier:", err)
		os.Exit(1)
	}
}

// run parses and validates configuration, wires the daemon's full
// dependency graph, starts it under the lifecycle manager, and blocks until
// SIGINT or SIGTERM triggers a graceful shutdown.
func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return err
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return err
	}
	if c.Bool("dry-run") {
		cfg.DryRun = true
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if format := c.String("log-format"); format != "" {
		cfg.LogFormat = format
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.SetDefault(log.NewWithFormat(parseLogLevel(cfg.LogLevel), log.Format(cfg.LogFormat)))
	mainLog := log.Default().Module("main")
	mainLog.Info("starting exitdelay-verifier", "version", version, "config", cfg.Redact())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	beaconClient := beacon.NewClient(beacon.ClientConfig{
		Endpoints:       cfg.CLAPIUrls,
		RetryDelay:      time.Duration(cfg.CL.RetryDelayMs) * time.Millisecond,
		ResponseTimeout: time.Duration(cfg.CL.ResponseTimeoutMs) * time.Millisecond,
		MaxRetries:      cfg.CL.MaxRetries,
		DefaultFork:     cfg.ForkName,
	})

	elClient, err := contracts.Dial(ctx, contracts.ClientConfig{
		RPCUrls:         cfg.ELRPCUrls,
		RetryDelay:      time.Duration(cfg.EL.RetryDelayMs) * time.Millisecond,
		ResponseTimeout: time.Duration(cfg.EL.ResponseTimeoutMs) * time.Millisecond,
		MaxRetries:      cfg.EL.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("dial execution layer: %w", err)
	}

	verifierAddress := contracts.AddressFromHex(cfg.VerifierAddress)
	oracleAddress := contracts.AddressFromHex(cfg.OracleAddress)

	beaconCfg, err := loadBeaconConfig(ctx, beaconClient, elClient, verifierAddress)
	if err != nil {
		return fmt.Errorf("load beacon config: %w", err)
	}

	router := contracts.NewRouter(elClient)
	for moduleID, addressHex := range cfg.ModuleRegistries {
		router.Register(moduleID, contracts.AddressFromHex(addressHex))
	}
	resolver := deadline.NewResolver(router, beaconCfg)

	gasTracker := gas.NewTracker(gas.Config{
		BlocksPerHour:         uint64(time.Hour / (time.Duration(beaconCfg.SecondsPerSlot) * time.Second)),
		MaxBlockCount:         1024,
		HistoryDays:           cfg.TxGasFeeHistoryDays,
		HistoryPercentile:     cfg.TxGasFeeHistoryPercentile,
		PriorityFeePercentile: cfg.TxGasPriorityFeePercentile,
		MinPriorityFee:        new(uint256.Int).SetUint64(cfg.TxMinGasPriorityFee),
		MaxPriorityFee:        new(uint256.Int).SetUint64(cfg.TxMaxGasPriorityFee),
	}, elClient)

	validators := store.New()
	reportedSet := store.NewReportedSet()

	var signer *contracts.Signer
	if cfg.HasSigner() {
		signer, err = contracts.NewSigner(cfg.TxSignerPrivateKey, cfg.ChainID)
		if err != nil {
			return fmt.Errorf("construct tx signer: %w", err)
		}
		mainLog.Info("tx signer configured", "address", signer.Address())
	} else {
		mainLog.Warn("no tx signer configured, running in emulation-only mode")
	}

	p := prover.New(beaconClient, elClient, router, resolver, validators, reportedSet, gasTracker, signer, beaconCfg, prover.Config{
		VerifierAddress:    verifierAddress,
		OracleAddress:      oracleAddress,
		ValidatorBatchSize: cfg.ValidatorBatchSize,
		Confirmations:      cfg.TxConfirmations,
		ConfirmTimeout:     time.Duration(cfg.TxMiningWaitingTimeoutMs) * time.Millisecond,
		RetryDelay:         time.Duration(cfg.EL.RetryDelayMs) * time.Millisecond,
		MaxHighGasRetries:  cfg.EL.MaxRetries,
		HardGasLimit:       cfg.TxGasLimit,
		GasBufferNumerator: 12,
		DryRun:             cfg.DryRun,
		ChainID:            cfg.ChainID,
	})

	persistenceStore := persistence.NewStore(cfg.StateFilePath)

	roots := rootprovider.New(beaconClient, persistenceStore, rootprovider.Bootstrap{
		StartRoot:         cfg.StartRoot,
		StartSlot:         cfg.StartSlot,
		StartEpoch:        cfg.StartEpoch,
		StartLookbackDays: cfg.StartLookbackDays,
	}, beaconCfg)

	cycleDriver := daemon.NewCycleDriver(roots, beaconClient, elClient, p, persistenceStore, daemon.CycleDriverConfig{
		SleepInterval: time.Duration(cfg.DaemonSleepIntervalMs) * time.Millisecond,
		DryRun:        cfg.DryRun,
	})

	lifecycle := daemon.NewLifecycleManager(daemon.DefaultLifecycleConfig())
	if err := lifecycle.Register(cycleDriver, 0); err != nil {
		return fmt.Errorf("register cycle driver: %w", err)
	}
	if startErrs := lifecycle.StartAll(); len(startErrs) > 0 {
		return fmt.Errorf("start services: %v", startErrs)
	}

	health := daemon.NewHealthChecker()
	health.RegisterSubsystem("beacon", daemon.CheckerFunc(func() *daemon.SubsystemHealth {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		headState, err := beaconClient.GetState(checkCtx, "head")
		if err != nil {
			return &daemon.SubsystemHealth{Status: daemon.StatusUnhealthy, Message: err.Error()}
		}
		if bits, err := headState.JustificationBits(); err == nil && bits.IsZero() {
			return &daemon.SubsystemHealth{Status: daemon.StatusDegraded, Message: "chain has not justified in the last 4 epochs"}
		}
		return &daemon.SubsystemHealth{Status: daemon.StatusHealthy}
	}))
	health.RegisterSubsystem("execution", daemon.CheckerFunc(func() *daemon.SubsystemHealth {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := elClient.LatestBlockNumber(checkCtx); err != nil {
			return &daemon.SubsystemHealth{Status: daemon.StatusUnhealthy, Message: err.Error()}
		}
		return &daemon.SubsystemHealth{Status: daemon.StatusHealthy}
	}))
	health.RegisterSubsystem("cycle-driver", daemon.CheckerFunc(func() *daemon.SubsystemHealth {
		state := lifecycle.GetState(cycleDriver.Name())
		if state != daemon.StateRunning {
			return &daemon.SubsystemHealth{Status: daemon.StatusUnhealthy, Message: "lifecycle state: " + state.String()}
		}
		return &daemon.SubsystemHealth{Status: daemon.StatusHealthy}
	}))
	report := health.CheckAll()
	mainLog.Info("startup health check", "overall", report.OverallStatus)
	for _, sub := range report.Subsystems {
		mainLog.Info("subsystem health", "name", sub.Name, "status", sub.Status, "message", sub.Message)
	}

	<-ctx.Done()
	mainLog.Info("shutdown signal received, stopping services")
	if stopErrs := lifecycle.StopAll(); len(stopErrs) > 0 {
		return fmt.Errorf("stop services: %v", stopErrs)
	}
	return nil
}

// loadBeaconConfig assembles beacon.Config from the beacon node's own spec
// endpoint, except for ShardCommitteePeriodInSeconds, which the verifier
// contract defines rather than the beacon chain itself.
func loadBeaconConfig(ctx context.Context, beaconClient *beacon.Client, elClient *contracts.Client, verifierAddress [20]byte) (beacon.Config, error) {
	beaconCfg, err := beaconClient.GetConfig(ctx)
	if err != nil {
		return beacon.Config{}, fmt.Errorf("fetch beacon spec: %w", err)
	}
	period, err := elClient.ShardCommitteePeriodInSeconds(ctx, verifierAddress)
	if err != nil {
		return beacon.Config{}, fmt.Errorf("fetch shard committee period: %w", err)
	}
	beaconCfg.ShardCommitteePeriodInSeconds = period
	return beaconCfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
