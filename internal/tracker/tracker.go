// Package tracker drives a face-swap job from submission to playable media:
// submit, poll with an adaptive interval, fetch the result into the cache.
// A registry guarantees a finished job is never polled or downloaded twice.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/heimdex/faceswap-kiosk/internal/cache"
	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
)

const (
	DefaultInitialPollDelay  = 5 * time.Second
	DefaultMaxPollDuration   = 10 * time.Minute
	DefaultDemoDelay         = 3 * time.Second
	DefaultRetrievalAttempts = 3
	DefaultRetrievalBackoff  = 2 * time.Second

	// LocalJobPrefix marks ids generated here when the service was unreachable.
	LocalJobPrefix = "local-"
	pendingPrefix  = "pending-"
)

var (
	ErrNotRetryable = errors.New("job cannot be retried")
	ErrClosed       = errors.New("tracker closed")
	ErrResetting    = errors.New("session reset in progress")
)

// IsLocalJobID reports whether id is a placeholder for a degraded demo run.
func IsLocalJobID(id string) bool {
	return strings.HasPrefix(id, LocalJobPrefix)
}

// Fetcher retrieves finished media.
type Fetcher interface {
	Download(ctx context.Context, url string, opts download.Options) (*download.Media, error)
	Stream(ctx context.Context, url string, opts download.Options) (*download.Media, error)
}

// Config wires a Tracker. Zero durations take the defaults above.
type Config struct {
	Client   faceswap.Client
	Fetcher  Fetcher
	Cache    *cache.Cache
	Registry *Registry
	Logger   *slog.Logger

	InitialPollDelay time.Duration
	// Interval overrides PollInterval for the wait before the next poll.
	Interval        func(elapsed time.Duration) time.Duration
	MaxPollDuration time.Duration

	// DemoFallback turns a failed submission into a degraded demo run.
	DemoFallback  bool
	DemoDelay     time.Duration
	DemoMediaPath string

	RetrievalAttempts int
	RetrievalBackoff  time.Duration
	// StreamFallback retries a failed download against the streaming endpoint.
	StreamFallback bool
	// DirectFallback settles for playing straight from the service.
	DirectFallback bool
}

// StartRequest is what the visitor hands over.
type StartRequest struct {
	FaceImage []byte
	Scenario  string
}

// Tracker owns every job tracked within one session.
type Tracker struct {
	cfg      Config
	client   faceswap.Client
	fetcher  Fetcher
	cache    *cache.Cache
	registry *Registry
	logger   *slog.Logger

	base context.Context
	stop context.CancelFunc

	flight singleflight.Group

	mu        sync.Mutex
	closed    bool
	resetting bool
	handles   map[string]*Handle // by key
	byJob     map[string]*Handle // by job id
	finished  map[string]Snapshot
	observers map[int]func(Event)
	nextObs   int
	wg        sync.WaitGroup
}

func New(cfg Config) *Tracker {
	if cfg.InitialPollDelay <= 0 {
		cfg.InitialPollDelay = DefaultInitialPollDelay
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = DefaultMaxPollDuration
	}
	if cfg.DemoDelay <= 0 {
		cfg.DemoDelay = DefaultDemoDelay
	}
	if cfg.RetrievalAttempts < 1 {
		cfg.RetrievalAttempts = DefaultRetrievalAttempts
	}
	if cfg.RetrievalBackoff <= 0 {
		cfg.RetrievalBackoff = DefaultRetrievalBackoff
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New("", cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	base, stop := context.WithCancel(context.Background())
	return &Tracker{
		cfg:       cfg,
		client:    cfg.Client,
		fetcher:   cfg.Fetcher,
		cache:     cfg.Cache,
		registry:  cfg.Registry,
		logger:    logging.WithComponent(cfg.Logger, "tracker"),
		base:      base,
		stop:      stop,
		handles:   make(map[string]*Handle),
		byJob:     make(map[string]*Handle),
		finished:  make(map[string]Snapshot),
		observers: make(map[int]func(Event)),
	}
}

// Registry exposes the processing registry.
func (t *Tracker) Registry() *Registry { return t.registry }

// Observe registers fn for every event of every job. fn runs on the job's
// goroutine and must not block for long.
func (t *Tracker) Observe(fn func(Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) notify(ev Event) {
	t.mu.Lock()
	fns := make([]func(Event), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Start submits a new job and tracks it. Only one job may be active at a
// time; a second Start fails with a *BusyError.
func (t *Tracker) Start(req StartRequest) (*Handle, error) {
	sr := faceswap.SubmitRequest{FaceImage: req.FaceImage, Scenario: req.Scenario}
	if err := sr.Validate(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.acceptingLocked(); err != nil {
		return nil, err
	}

	key := pendingPrefix + uuid.NewString()
	if err := t.registry.Acquire(key); err != nil {
		return nil, err
	}

	h := newHandle(t.base, Snapshot{
		Key:      key,
		Scenario: strings.TrimSpace(req.Scenario),
		Phase:    PhaseIdle,
	}, t.notify)
	t.handles[key] = h

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.finish(h)
		t.runSubmit(h, sr)
	}()
	return h, nil
}

// Track resumes tracking of a known job id. A processed job is served from
// the cache without any network call, or fetched again if it was never
// cached; it is never polled again. An already tracked job returns the
// existing handle.
func (t *Tracker) Track(jobID string) (*Handle, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, &faceswap.ValidationError{Field: "job_id", Message: "job id is required"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.acceptingLocked(); err != nil {
		return nil, err
	}

	if h, ok := t.byJob[jobID]; ok {
		return h, nil
	}

	prev, hadPrev := t.finished[jobID]
	snap := Snapshot{
		Key:          jobID,
		JobID:        jobID,
		Scenario:     prev.Scenario,
		SubmittedAt:  time.Now(),
		RemoteStatus: faceswap.StatusSubmitted,
		Degraded:     IsLocalJobID(jobID),
	}
	if hadPrev {
		snap.SubmittedAt = prev.SubmittedAt
		snap.RemoteStatus = prev.RemoteStatus
		snap.DegradedReason = prev.DegradedReason
	}

	if t.registry.IsProcessed(jobID) {
		snap.RemoteStatus = faceswap.StatusCompleted
		if entry, ok := t.cache.Get(jobID); ok {
			snap.Phase = PhaseReady
			snap.Result = resultFrom(entry)
			h := newHandle(t.base, snap, nil)
			h.close()
			t.logger.Debug("served from cache", "job_id", jobID)
			return h, nil
		}
		if IsLocalJobID(jobID) {
			snap.Phase = PhaseReady
			h := newHandle(t.base, snap, nil)
			h.close()
			return h, nil
		}

		snap.Phase = PhaseRetrieving
		h := t.spawnLocked(snap, func(h *Handle) { t.retrieve(h, 0) })
		return h, nil
	}

	if err := t.registry.Acquire(jobID); err != nil {
		return nil, err
	}
	if IsLocalJobID(jobID) {
		snap.Phase = PhasePolling
		return t.spawnLocked(snap, func(h *Handle) { t.runDemo(h) }), nil
	}
	snap.Phase = PhasePolling
	return t.spawnLocked(snap, t.poll), nil
}

// Retry fetches the result of a processed job again, or resumes polling of
// a job that timed out or was cancelled. Jobs the service failed cannot be
// retried.
func (t *Tracker) Retry(jobID string) (*Handle, error) {
	t.mu.Lock()
	prev, ok := t.finished[jobID]
	if ok && prev.Failure == FailureJob {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotRetryable, prev.Error)
	}
	t.mu.Unlock()
	return t.Track(jobID)
}

// Lookup returns the latest known snapshot for a job in this session.
func (t *Tracker) Lookup(jobID string) (Snapshot, bool) {
	t.mu.Lock()
	h, live := t.byJob[jobID]
	prev, done := t.finished[jobID]
	t.mu.Unlock()

	switch {
	case live:
		return h.Snapshot(), true
	case done:
		if prev.Phase == PhaseReady {
			if entry, ok := t.cache.Get(jobID); ok {
				prev.Result = resultFrom(entry)
			}
		}
		return prev, true
	}

	if entry, ok := t.cache.Get(jobID); ok {
		return Snapshot{
			Key:          jobID,
			JobID:        jobID,
			Phase:        PhaseReady,
			RemoteStatus: faceswap.StatusCompleted,
			Result:       resultFrom(entry),
		}, true
	}
	return Snapshot{}, false
}

// Current returns the live handle tracking jobID, if any.
func (t *Tracker) Current(jobID string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byJob[jobID]
	return h, ok
}

// Live returns snapshots of jobs currently being tracked.
func (t *Tracker) Live() []Snapshot {
	t.mu.Lock()
	hs := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		hs = append(hs, h)
	}
	t.mu.Unlock()

	out := make([]Snapshot, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Snapshot())
	}
	return out
}

// Forget cancels tracking of one job and drops what the registry knew about
// it, so the visitor can pick another scenario.
func (t *Tracker) Forget(ctx context.Context, jobID string) error {
	t.mu.Lock()
	h := t.byJob[jobID]
	t.mu.Unlock()

	if h != nil {
		h.Cancel()
		if _, err := h.Wait(ctx); err != nil {
			return err
		}
	}
	t.registry.Forget(jobID)

	t.mu.Lock()
	delete(t.finished, jobID)
	t.mu.Unlock()
	return nil
}

// Reset cancels every job, waits for their goroutines to let go, and
// empties the registry.
func (t *Tracker) Reset(ctx context.Context) error {
	return t.ResetWith(ctx, nil)
}

// ResetWith is Reset with fn run after the registry was emptied. Start and
// Track fail with ErrResetting until it returns.
func (t *Tracker) ResetWith(ctx context.Context, fn func()) error {
	t.mu.Lock()
	if t.resetting {
		t.mu.Unlock()
		return ErrResetting
	}
	t.resetting = true
	hs := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		hs = append(hs, h)
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.resetting = false
		t.mu.Unlock()
	}()

	for _, h := range hs {
		h.Cancel()
	}
	for _, h := range hs {
		if _, err := h.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for job %s: %w", h.Key(), err)
		}
	}

	t.registry.Reset()
	t.mu.Lock()
	t.finished = make(map[string]Snapshot)
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// Close stops all jobs and refuses new ones.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.stop()
	t.wg.Wait()
}

func (t *Tracker) acceptingLocked() error {
	switch {
	case t.closed:
		return ErrClosed
	case t.resetting:
		return ErrResetting
	}
	return nil
}

func (t *Tracker) spawnLocked(snap Snapshot, run func(*Handle)) *Handle {
	h := newHandle(t.base, snap, t.notify)
	h.markSubmitted()
	t.handles[h.key] = h
	t.byJob[snap.JobID] = h

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.finish(h)
		h.update(EventTransition, func(*Snapshot) {})
		run(h)
	}()
	return h
}

// bind records the job id assigned to a handle started here.
func (t *Tracker) bind(h *Handle, jobID string, submittedAt time.Time, degraded bool, reason string) {
	t.registry.Rebind(h.key, jobID)

	t.mu.Lock()
	t.byJob[jobID] = h
	t.mu.Unlock()

	h.update(EventTransition, func(s *Snapshot) {
		s.JobID = jobID
		s.SubmittedAt = submittedAt
		s.RemoteStatus = faceswap.StatusSubmitted
		s.Degraded = degraded
		s.DegradedReason = reason
	})
	h.markSubmitted()
}

func (t *Tracker) finish(h *Handle) {
	snap := h.Snapshot()
	if !snap.Phase.Terminal() {
		h.fail(FailureCanceled, context.Canceled, true)
		snap = h.Snapshot()
	}

	t.registry.Release(h.key)
	if snap.JobID != "" {
		t.registry.Release(snap.JobID)
	}

	t.mu.Lock()
	delete(t.handles, h.key)
	if snap.JobID != "" {
		if t.byJob[snap.JobID] == h {
			delete(t.byJob, snap.JobID)
		}
		t.finished[snap.JobID] = snap
	}
	t.mu.Unlock()

	h.close()
}

func resultFrom(e cache.Entry) *Result {
	return &Result{
		ReferenceURL: e.ReferenceURL,
		SizeBytes:    e.SizeBytes,
		Strategy:     e.Strategy,
		RetrievedAt:  e.RetrievedAt,
	}
}
