// Command exitdelay-estimate is a read-only operator tool: it dials the
// configured execution-layer RPC endpoints, refreshes the same base-fee
// history window the daemon's Gas Manager would, and prints the current
// gas acceptability decision and suggested EIP-1559 parameters. It never
// submits a transaction.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/exitproof/verifier/config"
	"github.com/exitproof/verifier/contracts"
	"github.com/exitproof/verifier/gas"
)

func main() {
	app := &cli.App{
		Name:  "exitdelay-estimate",
		Usage: "print the current gas acceptability decision and EIP-1559 parameters",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "exitdelay-estimate:", err)
		os.Exit(1)
	}
}

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
	if len(cfg.ELRPCUrls) == 0 {
		return fmt.Errorf("elRpcUrls must be configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	elClient, err := contracts.Dial(ctx, contracts.ClientConfig{
		RPCUrls:         cfg.ELRPCUrls,
		RetryDelay:      time.Duration(cfg.EL.RetryDelayMs) * time.Millisecond,
		ResponseTimeout: time.Duration(cfg.EL.ResponseTimeoutMs) * time.Millisecond,
		MaxRetries:      cfg.EL.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("dial execution layer: %w", err)
	}

	tracker := gas.NewTracker(gas.Config{
		BlocksPerHour:         300, // refresh cadence is irrelevant for a one-shot run; Refresh always fetches on first call
		MaxBlockCount:         1024,
		HistoryDays:           cfg.TxGasFeeHistoryDays,
		HistoryPercentile:     cfg.TxGasFeeHistoryPercentile,
		PriorityFeePercentile: cfg.TxGasPriorityFeePercentile,
		MinPriorityFee:        new(uint256.Int).SetUint64(cfg.TxMinGasPriorityFee),
		MaxPriorityFee:        new(uint256.Int).SetUint64(cfg.TxMaxGasPriorityFee),
	}, elClient)

	if err := tracker.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh base fee history: %w", err)
	}

	currentBaseFee, err := elClient.CurrentBaseFee(ctx)
	if err != nil {
		return fmt.Errorf("fetch current base fee: %w", err)
	}
	fees, err := tracker.SuggestFees(ctx)
	if err != nil {
		return fmt.Errorf("suggest EIP-1559 params: %w", err)
	}

	fmt.Printf("current base fee:       %s wei\n", currentBaseFee)
	fmt.Printf("%dth percentile base fee: %s wei\n", int(cfg.TxGasFeeHistoryPercentile), tracker.Percentile(cfg.TxGasFeeHistoryPercentile))
	fmt.Printf("acceptable to submit:   %v\n", tracker.Acceptable(currentBaseFee))
	fmt.Printf("suggested max priority fee: %s wei\n", fees.MaxPriorityFeePerGas)
	fmt.Printf("suggested max fee:          %s wei\n", fees.MaxFeePerGas)
	return nil
}
