package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/history"
	"github.com/heimdex/faceswap-kiosk/internal/playback"
	"github.com/heimdex/faceswap-kiosk/internal/session"
)

const (
	DefaultSubmitWait    = 35 * time.Second
	DefaultMaxImageBytes = 10 << 20
	DefaultKeepAlive     = 15 * time.Second
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Session        *session.Session
	Repository     history.Repository
	PlaybackServer *playback.Server
	Health         *faceswap.CachedHealth
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
	// AllowedOrigins are non-loopback origins the kiosk page may be served from.
	AllowedOrigins []string
	SubmitWait     time.Duration
	MaxImageBytes  int64
	KeepAlive      time.Duration
}

func (cfg *ServerConfig) defaults() {
	if cfg.SubmitWait <= 0 {
		cfg.SubmitWait = DefaultSubmitWait
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.PlaybackServer == nil {
		cfg.PlaybackServer = playback.NewServer(cfg.Logger)
	}
	if cfg.Health == nil {
		cfg.Health = faceswap.NewCachedHealth(cfg.Session.Client(), faceswap.DefaultHealthTTL, cfg.Logger)
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
