package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheSmallBoat/carlo-echo/config"
	"github.com/TheSmallBoat/carlo-echo/echo"
)

var (
	cfgFile string
	addr    string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "echod",
	Short: "Single-client TCP echo endpoint with separate receive and transmit workers",
	Long: `echod accepts one TCP client at a time. Every chunk it reads is counted and
handed to a transmitter goroutine, which answers with "Hello, World <count>".
When the client goes away the connection is shut down and the next client is
accepted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cmd.Flags().Changed("addr") {
			cfg.Addr = addr
		}
		if debug {
			cfg.Debug = true
		}

		logger, err := newLogger(cfg.Debug)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, logger.Sugar())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "echod.yaml", "path to the YAML config file")
	rootCmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address, overrides the config file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every chunk and reply")
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run serves until ctx is cancelled or accepting a client fails.
func run(ctx context.Context, cfg *config.Config, logger echo.Logger) error {
	srv := cfg.Server()
	srv.Logger = logger

	if err := srv.Start(); err != nil {
		return err
	}
	logger.Infow("echo server started", "addr", cfg.Addr, "queue_length", cfg.QueueLength)

	errc := make(chan error, 1)
	go func() { errc <- srv.Wait() }()

	select {
	case <-ctx.Done():
		logger.Infow("shutting down")
		srv.Shutdown()
		return <-errc
	case err := <-errc:
		srv.Shutdown()
		return err
	}
}
