package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luca-patrignani/byzantine-generals/cluster"
	"github.com/luca-patrignani/byzantine-generals/config"
	"github.com/luca-patrignani/byzantine-generals/ledger"
	"github.com/luca-patrignani/byzantine-generals/status"
)

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	set        *pflag.FlagSet
}

func newRootCmd(in io.Reader) *cobra.Command {
	var f flags
	rootCmd := &cobra.Command{
		Use:   "generals <count>",
		Short: "generals - Byzantine Generals simulation over TCP",
		Long: `generals starts <count> fully connected generals on the local host,
elects a primary and reads operator directives from standard input.`,
		Args:          validateCount,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := strconv.Atoi(args[0])
			f.set = cmd.Flags()
			return run(cmd.Context(), f, n, in)
		},
	}
	rootCmd.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String(config.FlagLogLevel, "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String(config.FlagStatusAddr, "", "Serve the HTTP status view on this address")
	return rootCmd
}

func validateCount(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", cmd.Use)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("expecting an integer as count, got %s", args[0])
	}
	if n <= 0 {
		return fmt.Errorf("the number of generals must be positive, got %d", n)
	}
	return nil
}

func run(ctx context.Context, f flags, n int, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg, err := config.Load(f.configPath, f.set)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging.SlogLevel())

	printBanner()
	coord := cluster.New(cluster.Config{
		Host:      cfg.Cluster.Host,
		StartPort: cfg.Cluster.StartPort,
		Options:   cfg.Protocol.Options(),
		Logger:    logger,
		Reporter:  consoleReporter{},
		Ledger:    ledger.New(),
	})

	spinner, _ := pterm.DefaultSpinner.Start("Starting generals ...")
	if err := coord.Start(ctx, n); err != nil {
		spinner.Fail()
		return err
	}
	spinner.Success()
	printCluster(coord.Snapshots())

	var srv *status.Server
	if cfg.Status.Enabled {
		srv = status.New(cfg.Status.Addr, coord, logger)
		if err := srv.Start(); err != nil {
			logger.Error("status server unavailable", "address", cfg.Status.Addr, "error", err)
			srv = nil
		}
	}

	c := &console{coord: coord, logger: logger}
	runErr := c.run(ctx, in)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
	if err := coord.Shutdown(); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return runErr
}
