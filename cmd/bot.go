package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/support-bot/internal/application"
	"github.com/psds-microservice/support-bot/internal/config"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Connect to Discord and serve the read-only HTTP API (default)",
	RunE:  runBot,
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve only the read-only HTTP API over the ticket store",
	RunE:  runAPI,
}

func runBot(cmd *cobra.Command, args []string) error {
	return run(application.NewBot)
}

func runAPI(cmd *cobra.Command, args []string) error {
	return run(application.NewAPI)
}

func run(build func(*config.Config) (*application.App, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	app, err := build(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
