package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/heimdex/faceswap-kiosk/internal/api"
	"github.com/heimdex/faceswap-kiosk/internal/config"
	"github.com/heimdex/faceswap-kiosk/internal/db"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/history"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
	"github.com/heimdex/faceswap-kiosk/internal/playback"
	"github.com/heimdex/faceswap-kiosk/internal/ui"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent API for the kiosk page",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Run without the system tray")
	return cmd
}

func runServe(parent context.Context, cc *commandContext, headless bool) error {
	startTime := time.Now()

	cfg, err := cc.config()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another kiosk agent is already running (lock %s)", cfg.LockPath())
	}
	defer lock.Unlock()

	logger := cc.logger(cfg)
	logger.Info("starting kiosk agent",
		"version", config.Version,
		"data_dir", cfg.DataDir(),
		"config_file", cfg.Source(),
		"service", logging.SanitizeURL(cfg.BaseURL()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := history.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(parent, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  KIOSK AGENT v%-44s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-28d║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s║\n", authToken)
	fmt.Printf("║  Service:    %-45s║\n", truncate(cfg.BaseURL(), 45))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	sess, client := newSession(cfg, logger)

	health := faceswap.NewCachedHealth(client, faceswap.DefaultHealthTTL, logger)
	probeCtx, probeCancel := context.WithTimeout(parent, faceswap.DefaultHealthTimeout)
	if h, err := health.Refresh(probeCtx); err != nil {
		logger.Warn("face-swap service not reachable yet", "error", err)
	} else {
		logger.Info("face-swap service detected",
			"status", h.Status,
			"facefusion", h.FaceFusionReady,
			"gpu", h.GPUAvailable,
		)
	}
	probeCancel()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	journal := history.NewJournal(repo, sess.ID, logger)
	unobserve := sess.Tracker().Observe(journal.Observe)
	go journal.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Session:        sess,
		Repository:     repo,
		PlaybackServer: playback.NewServer(logger),
		Health:         health,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	quitCh := make(chan struct{})
	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var tray *ui.Tray
	if headless || cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Session: sess,
			Health:  health,
			Logger:  logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-quitCh:
	case <-parent.Done():
	case runErr = <-serverErr:
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	sess.Dispose(shutdownCtx)
	unobserve()

	cancel()
	select {
	case <-journal.Stopped():
	case <-shutdownCtx.Done():
		logger.Warn("journal did not drain before shutdown deadline")
	}

	if tray != nil {
		select {
		case <-quitCh:
		default:
			tray.Quit()
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

func ensureAuthToken(ctx context.Context, repo history.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, history.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, history.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}
	return token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
