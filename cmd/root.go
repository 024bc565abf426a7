package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evproxy/app"
	"github.com/kilianp07/evproxy/config"
	"github.com/kilianp07/evproxy/infra/logger"
)

var (
	cfgPath    string
	listenAddr string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:          "evproxy",
	Short:        "Vehicle telemetry dispatch proxy",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "TCP listen address, overrides server.listen")
	rootCmd.Flags().StringVar(&socketPath, "socket", "", "unix socket path, overrides server.socket_path")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
		cfg.Server.SocketPath = ""
	}
	if socketPath != "" {
		cfg.Server.SocketPath = socketPath
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
