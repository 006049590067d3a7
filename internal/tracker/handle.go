package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
)

// Phase is the local lifecycle of a tracked job.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseRetrieving Phase = "retrieving"
	PhaseReady      Phase = "ready"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase ends tracking.
func (p Phase) Terminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

// FailureKind separates a job the service rejected from problems on our side.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureSubmission FailureKind = "submission"
	FailureJob        FailureKind = "job"
	FailureRetrieval  FailureKind = "retrieval"
	FailureTimeout    FailureKind = "timeout"
	FailureCanceled   FailureKind = "canceled"
)

// Result describes where the ready media can be played from.
type Result struct {
	ReferenceURL string
	SizeBytes    int64
	Strategy     download.Strategy
	RetrievedAt  time.Time
}

// Snapshot is a read-only copy of a job's state.
type Snapshot struct {
	Key            string
	JobID          string
	Scenario       string
	Phase          Phase
	RemoteStatus   faceswap.Status
	Degraded       bool
	DegradedReason string
	SubmittedAt    time.Time
	UpdatedAt      time.Time
	Polls          int
	Progress       *download.Progress
	Result         *Result
	Failure        FailureKind
	Error          string
	Retryable      bool
}

type EventKind string

const (
	EventSnapshot   EventKind = "snapshot"
	EventTransition EventKind = "transition"
	EventProgress   EventKind = "progress"
)

// Event carries a snapshot taken right after a change.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

const subscriberBuffer = 64

// Handle is the owner's grip on one tracked job. Cancelling it stops every
// timer and request belonging to the job.
type Handle struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc
	notify func(Event)

	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Event
	nextSub int
	closed  bool

	submittedOnce sync.Once
	submitted     chan struct{}
	done          chan struct{}
}

func newHandle(parent context.Context, snap Snapshot, notify func(Event)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	snap.UpdatedAt = time.Now()
	return &Handle{
		key:       snap.Key,
		ctx:       ctx,
		cancel:    cancel,
		notify:    notify,
		snap:      snap,
		subs:      make(map[int]chan Event),
		submitted: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Key is the local tracking key. It equals the job id once one is known,
// except for jobs started here, which keep their provisional key.
func (h *Handle) Key() string { return h.key }

func (h *Handle) JobID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.JobID
}

func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Submitted is closed once the job has an id or failed before getting one.
func (h *Handle) Submitted() <-chan struct{} { return h.submitted }

// Done is closed when tracking ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel aborts the job's polling and retrieval. No cache entry is written
// after Cancel returns control to the job goroutine.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until tracking ended or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// WaitSubmitted blocks until the job id is known or ctx is done.
func (h *Handle) WaitSubmitted(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.submitted:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// Subscribe returns a channel that first receives the current snapshot and
// then every change. It is closed when tracking ends or stop is called.
// Progress events may be dropped for slow readers; the latest state is
// always available from Snapshot.
func (h *Handle) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	ch <- Event{Kind: EventSnapshot, Snapshot: h.snap}
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *Handle) update(kind EventKind, fn func(*Snapshot)) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	fn(&h.snap)
	h.snap.UpdatedAt = time.Now()
	ev := Event{Kind: kind, Snapshot: h.snap}
	for _, ch := range h.subs {
		offer(ch, ev)
	}
	h.mu.Unlock()

	if h.notify != nil {
		h.notify(ev)
	}
}

func (h *Handle) markSubmitted() {
	h.submittedOnce.Do(func() { close(h.submitted) })
}

func (h *Handle) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	h.markSubmitted()
	close(h.done)
	h.cancel()
}

func (h *Handle) setPhase(p Phase) {
	h.update(EventTransition, func(s *Snapshot) {
		s.Phase = p
		s.Failure = FailureNone
		s.Error = ""
		s.Retryable = false
		if p != PhaseRetrieving {
			s.Progress = nil
		}
	})
}

func (h *Handle) fail(kind FailureKind, err error, retryable bool) {
	h.update(EventTransition, func(s *Snapshot) {
		s.Phase = PhaseFailed
		s.Failure = kind
		s.Retryable = retryable
		if err != nil {
			s.Error = err.Error()
		}
	})
}

func (h *Handle) ready(res *Result) {
	h.update(EventTransition, func(s *Snapshot) {
		s.Phase = PhaseReady
		s.Result = res
		s.Failure = FailureNone
		s.Error = ""
		s.Retryable = false
	})
}

// advance records a newer remote status; older ones are ignored.
func (h *Handle) advance(st faceswap.Status) {
	h.update(EventProgress, func(s *Snapshot) {
		s.Polls++
		if st.Rank() > s.RemoteStatus.Rank() {
			s.RemoteStatus = st
		}
	})
}

func (h *Handle) progress(p download.Progress) {
	h.update(EventProgress, func(s *Snapshot) {
		s.Progress = &p
	})
}

// offer delivers ev, dropping the oldest queued event when the reader lags.
func offer(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}
