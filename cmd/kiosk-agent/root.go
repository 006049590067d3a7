package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/heimdex/faceswap-kiosk/internal/config"
	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
	"github.com/heimdex/faceswap-kiosk/internal/session"
	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

// commandContext carries what every subcommand shares: flags and the
// lazily loaded configuration.
type commandContext struct {
	configPath string
	logLevel   string
	cfg        *config.EnvConfig
}

func (c *commandContext) config() (*config.EnvConfig, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if c.configPath != "" {
		if err := os.Setenv(config.EnvConfigFile, c.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

// logger writes to stderr so command output on stdout stays clean.
func (c *commandContext) logger(cfg config.Config) *slog.Logger {
	level := cfg.LogLevel()
	if c.logLevel != "" {
		level = c.logLevel
	}
	return logging.New(os.Stderr, level, cfg.LogFormat())
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "kiosk-agent",
		Short:         "Face-swap kiosk agent",
		Long:          "Submits face-swap jobs, tracks them to completion and serves the finished video to the kiosk page.",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.config()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, false)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}

// newSession builds a session against the configured service.
func newSession(cfg config.Config, logger *slog.Logger) (*session.Session, *faceswap.HTTPClient) {
	client := faceswap.NewHTTPClient(cfg.BaseURL(), logger)
	fetcher := download.New(download.Config{
		Chunks: cfg.Chunks(),
		Logger: logger,
	})
	sess := session.New(client, fetcher, session.Options{
		Tracker: tracker.Config{
			InitialPollDelay:  cfg.InitialPollDelay(),
			MaxPollDuration:   cfg.MaxPollDuration(),
			DemoFallback:      cfg.DemoFallback(),
			DemoDelay:         cfg.DemoDelay(),
			DemoMediaPath:     cfg.DemoMediaPath(),
			RetrievalAttempts: cfg.RetrievalAttempts(),
			StreamFallback:    cfg.StreamFallback(),
			DirectFallback:    cfg.DirectFallback(),
		},
		CleanupOnReset: cfg.CleanupOnReset(),
	}, logger)
	return sess, client
}
