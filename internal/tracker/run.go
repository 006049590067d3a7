package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/faceswap-kiosk/internal/cache"
	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
)

func (t *Tracker) runSubmit(h *Handle, req faceswap.SubmitRequest) {
	h.setPhase(PhaseSubmitting)

	sub, err := t.client.Submit(h.ctx, req)
	if h.ctx.Err() != nil {
		return
	}
	if err != nil {
		if t.cfg.DemoFallback {
			t.logger.Warn("submission failed, continuing in demo mode", "error", err)
			t.bind(h, LocalJobPrefix+uuid.NewString(), time.Now(), true, err.Error())
			h.setPhase(PhasePolling)
			t.runDemo(h)
			return
		}
		t.logger.Error("submission failed", "error", err)
		h.fail(FailureSubmission, err, faceswap.IsTransient(err))
		return
	}

	t.bind(h, sub.JobID, sub.SubmittedAt, false, "")
	h.setPhase(PhasePolling)
	t.poll(h)
}

// runDemo finishes a degraded job after a fixed delay without contacting
// the service. A configured demo clip is cached as its result.
func (t *Tracker) runDemo(h *Handle) {
	jobID := h.JobID()
	logger := logging.WithJobID(t.logger, jobID)

	if err := sleepCtx(h.ctx, t.cfg.DemoDelay); err != nil {
		return
	}

	var res *Result
	if path := t.cfg.DemoMediaPath; path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err != nil:
			logger.Warn("demo media unavailable", "path", path, "error", err)
		case len(data) == 0:
			logger.Warn("demo media is empty", "path", path)
		default:
			entry := t.cache.NewEntry(jobID, &download.Media{
				Data:        data,
				ContentType: "video/mp4",
				Strategy:    download.StrategyLocal,
			})
			if h.ctx.Err() != nil {
				return
			}
			t.cache.Put(jobID, entry)
			res = resultFrom(entry)
		}
	}

	t.registry.MarkProcessed(jobID)
	t.registry.Release(jobID)
	h.update(EventProgress, func(s *Snapshot) { s.RemoteStatus = faceswap.StatusCompleted })
	h.ready(res)
	logger.Info("demo job ready", "has_media", res != nil)
}

func (t *Tracker) poll(h *Handle) {
	jobID := h.JobID()
	logger := logging.WithJobID(t.logger, jobID)
	// The interval follows the job's age. The polling budget restarts with
	// every run.
	start := h.Snapshot().SubmittedAt
	if start.IsZero() {
		start = time.Now()
	}
	deadline := time.Now().Add(t.cfg.MaxPollDuration)

	delay := t.cfg.InitialPollDelay
	for {
		if err := sleepCtx(h.ctx, delay); err != nil {
			return
		}

		if t.registry.IsProcessed(jobID) {
			// Completion was already acted upon elsewhere.
			t.registry.Release(jobID)
			t.retrieve(h, 0)
			return
		}

		elapsed := time.Since(start)
		if time.Now().After(deadline) {
			logger.Warn("gave up polling", "elapsed", elapsed.Round(time.Second))
			h.fail(FailureTimeout, &faceswap.TimeoutError{Op: "poll", Timeout: t.cfg.MaxPollDuration}, true)
			return
		}

		state, err := t.client.GetStatus(h.ctx, jobID)
		if h.ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("status check failed", "error", err, "elapsed", elapsed.Round(time.Millisecond))
			h.advance("")
			delay = t.nextDelay(elapsed, h.Snapshot().RemoteStatus)
			continue
		}

		h.advance(state.RemoteStatus())

		switch s := state.(type) {
		case faceswap.Completed:
			t.registry.MarkProcessed(jobID)
			t.registry.Release(jobID)
			logger.Info("job completed",
				"elapsed", elapsed.Round(time.Millisecond),
				"size", logging.Bytes(s.FileSizeBytes),
			)
			t.retrieve(h, s.FileSizeBytes)
			return
		case faceswap.Failed:
			logger.Warn("job failed remotely", "reason", s.Reason)
			h.fail(FailureJob, errors.New(s.Reason), false)
			return
		}

		delay = t.nextDelay(elapsed, state.RemoteStatus())
	}
}

func (t *Tracker) nextDelay(elapsed time.Duration, st faceswap.Status) time.Duration {
	if t.cfg.Interval != nil {
		return t.cfg.Interval(elapsed)
	}
	d, _ := PollInterval(elapsed, st)
	return d
}

func (t *Tracker) retrieve(h *Handle, sizeHint int64) {
	jobID := h.JobID()
	h.setPhase(PhaseRetrieving)

	v, err, shared := t.flight.Do(jobID, func() (any, error) {
		return t.fetch(h, sizeHint)
	})
	if h.ctx.Err() != nil {
		return
	}
	if err != nil {
		t.logger.Error("retrieval failed", "job_id", jobID, "error", err)
		h.fail(FailureRetrieval, err, true)
		return
	}

	entry := v.(cache.Entry)
	if shared {
		t.logger.Debug("retrieval shared with a concurrent request", "job_id", jobID)
	}
	h.ready(resultFrom(entry))
}

// fetch obtains the result for h's job and stores it in the cache. It never
// stores anything once h was cancelled.
func (t *Tracker) fetch(h *Handle, sizeHint int64) (cache.Entry, error) {
	ctx := h.ctx
	jobID := h.JobID()
	logger := logging.WithJobID(t.logger, jobID)

	if entry, ok := t.cache.Get(jobID); ok {
		return entry, nil
	}

	loc, err := t.locate(ctx, jobID)
	if err != nil {
		if ctx.Err() == nil && t.cfg.DirectFallback && !faceswap.IsNotReady(err) {
			return t.storeDirect(ctx, jobID, sizeHint, err)
		}
		return cache.Entry{}, err
	}
	if loc.FileSizeBytes > 0 {
		sizeHint = loc.FileSizeBytes
	}

	// One reporter across the download and its stream fallback.
	opts := download.Options{ExpectedSize: sizeHint, OnProgress: download.Monotonic(h.progress)}
	media, err := t.fetcher.Download(ctx, loc.MediaURL, opts)
	if err != nil && ctx.Err() == nil && t.cfg.StreamFallback {
		logger.Warn("media download failed, trying stream endpoint", "error", err)
		media, err = t.fetcher.Stream(ctx, t.client.StreamURL(jobID), opts)
	}
	if ctx.Err() != nil {
		return cache.Entry{}, ctx.Err()
	}
	if err != nil {
		if t.cfg.DirectFallback {
			return t.storeDirect(ctx, jobID, sizeHint, err)
		}
		return cache.Entry{}, err
	}

	entry := t.cache.NewEntry(jobID, media)
	if ctx.Err() != nil {
		return cache.Entry{}, ctx.Err()
	}
	t.cache.Put(jobID, entry)
	logger.Info("result retrieved",
		"strategy", media.Strategy,
		"size", logging.Bytes(media.Size()),
		"elapsed_ms", media.Elapsed.Milliseconds(),
	)
	return entry, nil
}

func (t *Tracker) storeDirect(ctx context.Context, jobID string, size int64, cause error) (cache.Entry, error) {
	if ctx.Err() != nil {
		return cache.Entry{}, ctx.Err()
	}
	t.logger.Warn("falling back to direct playback", "job_id", jobID, "cause", cause)
	entry := t.cache.NewRemoteEntry(jobID, t.client.VideoURL(jobID), size)
	t.cache.Put(jobID, entry)
	return entry, nil
}

// locate asks for the result URL, retrying while the service catches up.
func (t *Tracker) locate(ctx context.Context, jobID string) (*faceswap.ResultLocation, error) {
	for attempt := 1; ; attempt++ {
		loc, err := t.client.GetResultURL(ctx, jobID)
		if err == nil {
			return loc, nil
		}
		if attempt >= t.cfg.RetrievalAttempts || !faceswap.IsTransient(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("locate result after %d attempt(s): %w", attempt, err)
		}
		t.logger.Info("result not available yet", "job_id", jobID, "attempt", attempt, "error", err)
		if err := sleepCtx(ctx, t.cfg.RetrievalBackoff*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
