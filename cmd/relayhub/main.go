// Command relayhub runs the session broker that pairs TV hosts with phone
// controllers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relayhub/internal/app"
	"relayhub/internal/config"
	"relayhub/internal/logger"
)

const (
	releaseVersion  = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cobra.CheckErr(newCmd(config.DefaultConfig()).Execute())
}

func newCmd(cfg *config.Config) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:     "relayhub",
		Short:   "Session broker pairing TV hosts with phone controllers.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile == "" {
				configFile = os.Getenv(config.EnvPrefix + "_CONFIG_FILE")
			}
			return config.Load(cmd.Flags(), configFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&configFile, "config-file", "c", "", "optional config file, any format viper reads (env: RELAYHUB_CONFIG_FILE)")
	config.RegisterFlags(fs, cfg)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("relayhub v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

// run serves until SIGINT/SIGTERM or a fatal server error, then shuts down
// with a bounded grace period.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Setup(cfg.Log.Level, cfg.Log.Pretty)

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err, ok := <-application.Done():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil && serveErr == nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}
