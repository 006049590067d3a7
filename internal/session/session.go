// Package session scopes one visitor's worth of state: the result cache, the
// processing registry and the tracker that drives jobs. Reset returns the
// kiosk to its home screen; Dispose tears everything down for shutdown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/faceswap-kiosk/internal/cache"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

// Options tune a Session. Client, Fetcher, Cache, Registry and Logger in
// Tracker are filled in by New.
type Options struct {
	Tracker        tracker.Config
	MediaPrefix    string
	CleanupOnReset bool
}

// Status summarises the session for operators and the adapter.
type Status struct {
	ID          string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	ActiveJobID string    `json:"active_job_id,omitempty"`
	LiveJobs    int       `json:"live_jobs"`
	Processed   int       `json:"processed_jobs"`
	Cached      int       `json:"cached_results"`
	CachedBytes int64     `json:"cached_bytes"`
}

// ResetSummary reports what a Reset discarded.
type ResetSummary struct {
	PreviousID string `json:"previous_session_id"`
	SessionID  string `json:"session_id"`
	Canceled   int    `json:"canceled_jobs"`
	Evicted    int    `json:"evicted_results"`
	CleanedUp  int    `json:"remote_cleanups"`
}

type Session struct {
	client  faceswap.Client
	cache   *cache.Cache
	tracker *tracker.Tracker
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	id        string
	startedAt time.Time
	disposed  bool
}

func New(client faceswap.Client, fetcher tracker.Fetcher, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	c := cache.New(opts.MediaPrefix, logger)

	tc := opts.Tracker
	tc.Client = client
	tc.Fetcher = fetcher
	tc.Cache = c
	tc.Registry = tracker.NewRegistry()
	tc.Logger = logger

	s := &Session{
		client:    client,
		cache:     c,
		tracker:   tracker.New(tc),
		opts:      opts,
		logger:    logging.WithComponent(logger, "session"),
		id:        uuid.NewString(),
		startedAt: time.Now(),
	}
	s.logger.Info("session started", "session_id", s.id)
	return s
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Tracker() *tracker.Tracker { return s.tracker }
func (s *Session) Cache() *cache.Cache       { return s.cache }
func (s *Session) Client() faceswap.Client   { return s.client }

func (s *Session) Status() Status {
	s.mu.Lock()
	id, started := s.id, s.startedAt
	s.mu.Unlock()

	reg := s.tracker.Registry()
	return Status{
		ID:          id,
		StartedAt:   started,
		ActiveJobID: reg.Active(),
		LiveJobs:    len(s.tracker.Live()),
		Processed:   len(reg.Processed()),
		Cached:      s.cache.Len(),
		CachedBytes: s.cache.Bytes(),
	}
}

// Reset cancels every job, empties the registry and the cache, and starts a
// new session id. Remote cleanup of this session's jobs is best effort.
func (s *Session) Reset(ctx context.Context) (ResetSummary, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ResetSummary{}, tracker.ErrClosed
	}
	prev := s.id
	s.mu.Unlock()

	jobs := s.jobIDs()
	canceled := len(s.tracker.Live())

	var evicted int
	if err := s.tracker.ResetWith(ctx, func() { evicted = s.cache.Clear() }); err != nil {
		return ResetSummary{}, fmt.Errorf("reset tracker: %w", err)
	}

	cleaned := 0
	if s.opts.CleanupOnReset {
		cleaned = s.cleanup(ctx, jobs)
	}

	s.mu.Lock()
	s.id = uuid.NewString()
	s.startedAt = time.Now()
	next := s.id
	s.mu.Unlock()

	s.logger.Info("session reset",
		"previous_session_id", prev,
		"session_id", next,
		"canceled", canceled,
		"evicted", evicted,
		"cleaned_up", cleaned,
	)
	return ResetSummary{
		PreviousID: prev,
		SessionID:  next,
		Canceled:   canceled,
		Evicted:    evicted,
		CleanedUp:  cleaned,
	}, nil
}

// Forget drops one job so the visitor can pick another scenario: tracking
// stops, its cache entry goes, and the service is asked to delete its files.
func (s *Session) Forget(ctx context.Context, jobID string) error {
	if err := s.tracker.Forget(ctx, jobID); err != nil {
		return fmt.Errorf("forget %s: %w", jobID, err)
	}
	removed := s.cache.Remove(jobID)
	if !tracker.IsLocalJobID(jobID) {
		s.client.Cleanup(ctx, jobID)
	}
	s.logger.Info("job forgotten", "job_id", jobID, "evicted", removed)
	return nil
}

// Dispose stops all work and releases every cached result. The session is
// unusable afterwards.
func (s *Session) Dispose(ctx context.Context) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	jobs := s.jobIDs()
	s.tracker.Close()
	evicted := s.cache.Clear()
	if s.opts.CleanupOnReset {
		s.cleanup(ctx, jobs)
	}
	s.logger.Info("session disposed", "session_id", s.ID(), "evicted", evicted)
}

// jobIDs lists the remote jobs this session knows about.
func (s *Session) jobIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" || tracker.IsLocalJobID(id) {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range s.tracker.Registry().Processed() {
		add(id)
	}
	for _, id := range s.cache.JobIDs() {
		add(id)
	}
	for _, snap := range s.tracker.Live() {
		add(snap.JobID)
	}
	return ids
}

func (s *Session) cleanup(ctx context.Context, ids []string) int {
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		s.client.Cleanup(ctx, id)
		n++
	}
	return n
}
