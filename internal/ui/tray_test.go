package ui

import (
	"testing"

	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/session"
)

func TestStatusLine(t *testing.T) {
	tests := []struct {
		st   session.Status
		want string
	}{
		{session.Status{}, "Status: Idle"},
		{session.Status{ActiveJobID: "job-42"}, "Status: Processing job-42"},
		{session.Status{ActiveJobID: "pending-0123456789abcdef"}, "Status: Processing pending-0123"},
		{session.Status{LiveJobs: 2}, "Status: Busy (2)"},
	}
	for _, tt := range tests {
		if got := StatusLine(tt.st); got != tt.want {
			t.Errorf("StatusLine(%+v) = %q, want %q", tt.st, got, tt.want)
		}
	}
}

func TestJobsLine(t *testing.T) {
	got := JobsLine(session.Status{Processed: 3, Cached: 2, CachedBytes: 21_000_000})
	if want := "Results: 3 done, 2 cached (21 MB)"; got != want {
		t.Errorf("JobsLine = %q, want %q", got, want)
	}
}

func TestServiceLine(t *testing.T) {
	tests := []struct {
		h    *faceswap.Health
		want string
	}{
		{nil, "Service: unknown"},
		{&faceswap.Health{Status: "healthy", GPUAvailable: true}, "Service: ready"},
		{&faceswap.Health{Status: "healthy"}, "Service: ready (no GPU)"},
		{&faceswap.Health{Status: "degraded"}, "Service: degraded"},
	}
	for _, tt := range tests {
		if got := ServiceLine(tt.h); got != tt.want {
			t.Errorf("ServiceLine(%+v) = %q, want %q", tt.h, got, tt.want)
		}
	}
}
