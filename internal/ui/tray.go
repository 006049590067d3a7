package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
	"github.com/heimdex/faceswap-kiosk/internal/session"
	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

const refreshInterval = 2 * time.Second

type Tray struct {
	session *session.Session
	health  *faceswap.CachedHealth
	logger  *slog.Logger

	statusItem  *systray.MenuItem
	jobsItem    *systray.MenuItem
	serviceItem *systray.MenuItem

	mu      sync.Mutex
	stopped chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Session *session.Session
	Health  *faceswap.CachedHealth
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		session: cfg.Session,
		health:  cfg.Health,
		logger:  logging.WithComponent(cfg.Logger, "tray"),
		stopped: make(chan struct{}),
		onQuit:  cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Kiosk")
	systray.SetTooltip("Face-swap kiosk agent")

	t.statusItem = systray.AddMenuItem(StatusLine(session.Status{}), "Current session state")
	t.statusItem.Disable()

	t.jobsItem = systray.AddMenuItem(JobsLine(session.Status{}), "Finished and cached results")
	t.jobsItem.Disable()

	t.serviceItem = systray.AddMenuItem(ServiceLine(nil), "Face-swap service")
	t.serviceItem.Disable()

	systray.AddSeparator()

	resetItem := systray.AddMenuItem("Reset Session", "Cancel running jobs and clear cached results")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit the kiosk agent")

	// Observers run on job goroutines; hand off to the menu loop.
	poke := make(chan struct{}, 1)
	unobserve := t.session.Tracker().Observe(func(ev tracker.Event) {
		if ev.Kind != tracker.EventTransition {
			return
		}
		select {
		case poke <- struct{}{}:
		default:
		}
	})

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		defer unobserve()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-poke:
				t.refresh()
			case <-resetItem.ClickedCh:
				t.handleReset()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.stopped:
				return
			}
		}
	}()

	t.refresh()
	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleReset() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary, err := t.session.Reset(ctx)
	if err != nil {
		t.logger.Error("session reset failed", "error", err)
		return
	}
	t.logger.Info("session reset from tray",
		"session_id", summary.SessionID,
		"canceled", summary.Canceled,
		"evicted", summary.Evicted,
	)
	t.refresh()
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil {
		return
	}
	st := t.session.Status()
	t.statusItem.SetTitle(StatusLine(st))
	t.jobsItem.SetTitle(JobsLine(st))
	if t.health != nil {
		t.serviceItem.SetTitle(ServiceLine(t.health.Peek()))
	}
}

// Quit closes the tray from outside the menu, e.g. on a signal.
func (t *Tray) Quit() {
	t.mu.Lock()
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
	t.mu.Unlock()
	systray.Quit()
}

func StatusLine(st session.Status) string {
	switch {
	case st.ActiveJobID != "":
		return "Status: Processing " + shortID(st.ActiveJobID)
	case st.LiveJobs > 0:
		return fmt.Sprintf("Status: Busy (%d)", st.LiveJobs)
	default:
		return "Status: Idle"
	}
}

func JobsLine(st session.Status) string {
	return fmt.Sprintf("Results: %d done, %d cached (%s)", st.Processed, st.Cached, logging.Bytes(st.CachedBytes))
}

func ServiceLine(h *faceswap.Health) string {
	switch {
	case h == nil:
		return "Service: unknown"
	case h.Healthy() && h.GPUAvailable:
		return "Service: ready"
	case h.Healthy():
		return "Service: ready (no GPU)"
	default:
		return "Service: " + h.Status
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
