package history

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

const journalQueue = 256

// Journal persists tracker transitions in the background. Observe never
// blocks the job goroutine; when the queue is full the event is dropped and
// the next transition of the job brings the row up to date.
type Journal struct {
	repo      Repository
	sessionID func() string
	logger    *slog.Logger

	queue   chan tracker.Event
	running atomic.Bool
	dropped atomic.Int64
	stopped chan struct{}
}

func NewJournal(repo Repository, sessionID func() string, logger *slog.Logger) *Journal {
	return &Journal{
		repo:      repo,
		sessionID: sessionID,
		logger:    logger,
		queue:     make(chan tracker.Event, journalQueue),
		stopped:   make(chan struct{}),
	}
}

// Observe is meant to be registered with tracker.Observe.
func (j *Journal) Observe(ev tracker.Event) {
	if ev.Kind != tracker.EventTransition {
		return
	}
	select {
	case j.queue <- ev:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logger.Warn("journal queue full, dropping events", "dropped", n)
		}
	}
}

// Start writes queued events until ctx is cancelled, then drains the queue.
func (j *Journal) Start(ctx context.Context) {
	if j.running.Swap(true) {
		return
	}
	defer close(j.stopped)

	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case ev := <-j.queue:
			j.write(context.WithoutCancel(ctx), ev)
		}
	}
}

// Stopped is closed once Start has drained the queue and returned.
func (j *Journal) Stopped() <-chan struct{} { return j.stopped }

func (j *Journal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-j.queue:
			j.write(ctx, ev)
		default:
			return
		}
	}
}

// Record writes one event synchronously.
func (j *Journal) Record(ctx context.Context, ev tracker.Event) error {
	if ev.Snapshot.JobID == "" && ev.Snapshot.Phase != tracker.PhaseFailed {
		// Not submitted yet; only a failed submission is worth a row.
		return nil
	}
	job := jobFromSnapshot(ev.Snapshot)
	if j.sessionID != nil {
		job.SessionID = j.sessionID()
	}
	if err := j.repo.UpsertJob(ctx, job); err != nil {
		return err
	}
	return j.repo.AppendEvent(ctx, &Event{
		JobID:        job.ID,
		Phase:        job.Phase,
		RemoteStatus: job.RemoteStatus,
		Message:      job.Error,
	})
}

func (j *Journal) write(ctx context.Context, ev tracker.Event) {
	if err := j.Record(ctx, ev); err != nil {
		j.logger.Error("failed to journal job event", "job_id", ev.Snapshot.JobID, "error", err)
	}
}

func jobFromSnapshot(s tracker.Snapshot) *Job {
	id := s.JobID
	if id == "" {
		id = s.Key
	}
	job := &Job{
		ID:           id,
		Scenario:     s.Scenario,
		Phase:        string(s.Phase),
		RemoteStatus: string(s.RemoteStatus),
		Degraded:     s.Degraded,
		Failure:      string(s.Failure),
		Error:        s.Error,
		Polls:        s.Polls,
	}
	if !s.SubmittedAt.IsZero() {
		t := s.SubmittedAt
		job.SubmittedAt = &t
	}
	if s.Result != nil {
		job.Strategy = string(s.Result.Strategy)
		job.SizeBytes = s.Result.SizeBytes
	}
	return job
}
