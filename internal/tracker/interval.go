package tracker

import (
	"time"

	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
)

// AdaptiveInterval polls quickly while a job is young and backs off as it ages.
func AdaptiveInterval(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < 10*time.Second:
		return 500 * time.Millisecond
	case elapsed < 20*time.Second:
		return time.Second
	case elapsed < 40*time.Second:
		return 2 * time.Second
	default:
		return 3 * time.Second
	}
}

// PollInterval returns the wait before the next status check, or false when
// polling must stop because the job reached a terminal status.
func PollInterval(elapsed time.Duration, status faceswap.Status) (time.Duration, bool) {
	if status.IsTerminal() {
		return 0, false
	}
	return AdaptiveInterval(elapsed), true
}
