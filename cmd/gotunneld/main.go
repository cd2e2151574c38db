// Package main provides a minimal CLI entry point that exercises the
// tunnel engine against stub collaborators, since a real transport/netdb/
// destination are out of scope for this module (spec.md §1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/gotunnel/lib/config"
	"github.com/go-i2p/gotunnel/lib/tunnel"
	gotunnellog "github.com/go-i2p/gotunnel/lib/util/logger"
	"github.com/spf13/cobra"
)

var log = gotunnellog.Log()

func main() {
	rootCmd := &cobra.Command{
		Use:   "gotunneld",
		Short: "gotunneld runs the tunnel engine standalone",
		Long: `gotunneld starts the tunnel build/registry/dispatch/lifecycle engine
against stub transport, netdb, and destination collaborators. It's useful
for exercising the engine's timing and pool behavior without a full router.`,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitConfig(); err != nil {
				return err
			}
			cfg := config.FromViper()
			if err := cfg.Validate(); err != nil {
				return err
			}

			var selfIdentity data.Hash
			engine := tunnel.NewTunnels(
				tunnel.Config{
					ExploratoryInboundLength:    cfg.Exploratory.InboundLength,
					ExploratoryOutboundLength:   cfg.Exploratory.OutboundLength,
					ExploratoryInboundQuantity:  cfg.Exploratory.InboundQuantity,
					ExploratoryOutboundQuantity: cfg.Exploratory.OutboundQuantity,
				},
				selfIdentity,
				stubTransport{},
				stubNetDB{},
				stubDestination{},
				nil,
			)

			ctx, cancel := signalContext()
			defer cancel()

			log.Debug("starting tunnel engine")
			engine.Start(context.Background())

			<-ctx.Done()
			log.Debug("shutting down tunnel engine")
			engine.Stop()
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a note that there is no daemon to query; use 'run' instead",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("gotunneld has no persistent daemon mode yet; use 'run' to start the engine in this process.")
			return nil
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
