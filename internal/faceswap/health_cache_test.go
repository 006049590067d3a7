package faceswap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCachedHealth(t *testing.T) {
	var hits atomic.Int32
	var down atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"healthy","facefusion_available":true,"gpu_available":true}`))
	}))
	defer server.Close()

	ctx := context.Background()
	hc := NewCachedHealth(NewHTTPClient(server.URL, testLogger()), time.Hour, testLogger())

	if hc.Peek() != nil {
		t.Fatal("peek before any probe should be nil")
	}

	h, err := hc.Get(ctx)
	if err != nil || !h.Healthy() {
		t.Fatalf("first probe = %+v, %v", h, err)
	}
	if _, err := hc.Get(ctx); err != nil {
		t.Fatal(err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("fresh result re-probed: %d hits", n)
	}

	down.Store(true)
	h, err = hc.Refresh(ctx)
	if err == nil {
		t.Fatal("expected probe error")
	}
	if h == nil || !h.Healthy() {
		t.Errorf("last good probe not returned alongside the error: %+v", h)
	}

	down.Store(false)
	hc.Invalidate()
	if _, err := hc.Get(ctx); err != nil {
		t.Fatalf("probe after invalidate: %v", err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("hits = %d, want 3", n)
	}
}
