package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/faceswap-kiosk/internal/cache"
	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
)

// fakeClient answers from a script and counts calls.
type fakeClient struct {
	mu sync.Mutex

	jobID     string
	submitErr error
	// states are returned in order; the last one repeats.
	states    []faceswap.JobState
	resultErr error
	resultErrs int // number of leading GetResultURL calls that fail with resultErr

	submits  int
	statuses int
	results  int
	cleanups []string
}

func (f *fakeClient) Submit(ctx context.Context, req faceswap.SubmitRequest) (*faceswap.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &faceswap.Submission{JobID: f.jobID, SubmittedAt: time.Now()}, nil
}

func (f *fakeClient) GetStatus(ctx context.Context, jobID string) (faceswap.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statuses
	f.statuses++
	if len(f.states) == 0 {
		return faceswap.Processing{Status: faceswap.StatusProcessing}, nil
	}
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	return f.states[i], nil
}

func (f *fakeClient) GetResultURL(ctx context.Context, jobID string) (*faceswap.ResultLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results++
	if f.resultErr != nil && f.results <= f.resultErrs {
		return nil, f.resultErr
	}
	return &faceswap.ResultLocation{JobID: jobID, MediaURL: "http://svc/result/" + jobID, Format: "mp4"}, nil
}

func (f *fakeClient) Cleanup(ctx context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, jobID)
}

func (f *fakeClient) StreamURL(jobID string) string { return "http://svc/result/" + jobID + "/stream" }
func (f *fakeClient) VideoURL(jobID string) string  { return "http://svc/video/" + jobID }

func (f *fakeClient) ListScenarios(ctx context.Context) ([]faceswap.Scenario, error) {
	return nil, nil
}

func (f *fakeClient) Health(ctx context.Context) (*faceswap.Health, error) {
	return &faceswap.Health{Status: "healthy"}, nil
}

func (f *fakeClient) counts() (submits, statuses, results int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.statuses, f.results
}

// fakeFetcher returns fixed media, optionally blocking until the context ends.
type fakeFetcher struct {
	mu        sync.Mutex
	data      []byte
	err       error
	block     bool
	// partial is reported as loaded before a Download fails with err.
	partial   int64
	started   chan struct{}
	downloads int
	streams   int
	urls      []string
}

func (f *fakeFetcher) Download(ctx context.Context, url string, opts download.Options) (*download.Media, error) {
	f.mu.Lock()
	f.downloads++
	f.urls = append(f.urls, url)
	block, err := f.block, f.err
	f.mu.Unlock()
	return f.serve(ctx, download.StrategyParallel, block, err, opts)
}

func (f *fakeFetcher) Stream(ctx context.Context, url string, opts download.Options) (*download.Media, error) {
	f.mu.Lock()
	f.streams++
	f.urls = append(f.urls, url)
	block := f.block
	f.mu.Unlock()
	return f.serve(ctx, download.StrategyStreamed, block, nil, opts)
}

func (f *fakeFetcher) serve(ctx context.Context, strategy download.Strategy, block bool, err error, opts download.Options) (*download.Media, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if block {
		<-ctx.Done()
		return nil, &download.DownloadError{Strategy: strategy, Err: ctx.Err()}
	}
	n := int64(len(f.data))
	if err != nil {
		if opts.OnProgress != nil && f.partial > 0 {
			opts.OnProgress(download.Progress{Strategy: strategy, BytesLoaded: f.partial, BytesTotal: n})
		}
		return nil, err
	}
	if opts.OnProgress != nil {
		opts.OnProgress(download.Progress{Strategy: strategy, Percent: 50, BytesLoaded: n / 2, BytesTotal: n})
		opts.OnProgress(download.Progress{Strategy: strategy, Percent: 100, BytesLoaded: n, BytesTotal: n})
	}
	return &download.Media{Data: f.data, ContentType: "video/mp4", Strategy: strategy, Elapsed: time.Millisecond}, nil
}

func (f *fakeFetcher) calls() (downloads, streams int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads, f.streams
}

func fastConfig(client faceswap.Client, fetcher Fetcher) Config {
	return Config{
		Client:            client,
		Fetcher:           fetcher,
		InitialPollDelay:  time.Millisecond,
		Interval:          func(time.Duration) time.Duration { return time.Millisecond },
		DemoDelay:         time.Millisecond,
		RetrievalBackoff:  time.Millisecond,
		RetrievalAttempts: 3,
	}
}

func processing() faceswap.JobState {
	return faceswap.Processing{Status: faceswap.StatusProcessing}
}

func wait(t *testing.T, h *Handle) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := h.Wait(ctx)
	require.NoError(t, err, "job did not finish, last phase %s", snap.Phase)
	return snap
}

var face = []byte("jpeg-bytes")

func TestTracker_HappyPathThenServedFromCache(t *testing.T) {
	client := &fakeClient{
		jobID:  "job-1",
		states: []faceswap.JobState{processing(), processing(), faceswap.Completed{FileReady: true, FileSizeBytes: 4}},
	}
	fetcher := &fakeFetcher{data: []byte("mp4!")}
	tr := New(fastConfig(client, fetcher))
	defer tr.Close()

	var (
		mu     sync.Mutex
		phases []Phase
	)
	tr.Observe(func(ev Event) {
		if ev.Kind == EventTransition {
			mu.Lock()
			phases = append(phases, ev.Snapshot.Phase)
			mu.Unlock()
		}
	})

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "2"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, faceswap.StatusCompleted, snap.RemoteStatus)
	assert.Equal(t, 3, snap.Polls)
	assert.False(t, snap.Degraded)
	require.NotNil(t, snap.Result)
	assert.True(t, strings.HasPrefix(snap.Result.ReferenceURL, cache.DefaultURLPrefix))
	assert.Equal(t, int64(4), snap.Result.SizeBytes)
	assert.Equal(t, download.StrategyParallel, snap.Result.Strategy)
	require.NotNil(t, snap.Progress)
	assert.Equal(t, 100.0, snap.Progress.Percent)

	mu.Lock()
	assert.Equal(t, PhaseSubmitting, phases[0])
	assert.Contains(t, phases, PhasePolling)
	assert.Contains(t, phases, PhaseRetrieving)
	assert.Equal(t, PhaseReady, phases[len(phases)-1])
	mu.Unlock()

	assert.Equal(t, 1, tr.cache.Len())
	assert.True(t, tr.Registry().IsProcessed("job-1"))
	assert.Empty(t, tr.Registry().Active())

	_, statuses, results := client.counts()
	downloads, _ := fetcher.calls()

	// Asking again is answered from the cache without any request.
	again, err := tr.Track("job-1")
	require.NoError(t, err)
	select {
	case <-again.Done():
	default:
		t.Fatal("cached job should be ready immediately")
	}
	snap2 := again.Snapshot()
	assert.Equal(t, PhaseReady, snap2.Phase)
	assert.Equal(t, snap.Result.ReferenceURL, snap2.Result.ReferenceURL)

	_, statuses2, results2 := client.counts()
	downloads2, _ := fetcher.calls()
	assert.Equal(t, statuses, statuses2)
	assert.Equal(t, results, results2)
	assert.Equal(t, downloads, downloads2)
	assert.Equal(t, 1, tr.cache.Len())
}

func TestTracker_DegradedDemoPath(t *testing.T) {
	client := &fakeClient{submitErr: &faceswap.NetworkError{Op: "submit", Err: errors.New("connection refused")}}
	fetcher := &fakeFetcher{}

	clip := filepath.Join(t.TempDir(), "demo.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("demo-clip"), 0o644))

	cfg := fastConfig(client, fetcher)
	cfg.DemoFallback = true
	cfg.DemoMediaPath = clip
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.True(t, IsLocalJobID(snap.JobID))
	assert.True(t, snap.Degraded)
	assert.Contains(t, snap.DegradedReason, "connection refused")
	require.NotNil(t, snap.Result)
	assert.Equal(t, download.StrategyLocal, snap.Result.Strategy)

	_, statuses, results := client.counts()
	assert.Zero(t, statuses, "demo jobs are never polled")
	assert.Zero(t, results)
	downloads, streams := fetcher.calls()
	assert.Zero(t, downloads+streams)
	assert.True(t, tr.Registry().IsProcessed(snap.JobID))
}

func TestTracker_DemoWithoutMedia(t *testing.T) {
	client := &fakeClient{submitErr: &faceswap.ServiceError{Op: "submit", StatusCode: 503}}
	cfg := fastConfig(client, &fakeFetcher{})
	cfg.DemoFallback = true
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.True(t, snap.Degraded)
	assert.Nil(t, snap.Result)
	assert.Zero(t, tr.cache.Len())
}

func TestTracker_SubmissionFailureWithoutDemo(t *testing.T) {
	client := &fakeClient{submitErr: &faceswap.NetworkError{Op: "submit", Err: errors.New("no route")}}
	tr := New(fastConfig(client, &fakeFetcher{}))
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, FailureSubmission, snap.Failure)
	assert.True(t, snap.Retryable)
	assert.Empty(t, snap.JobID)
	assert.Empty(t, tr.Registry().Active(), "a failed start frees the slot")

	_, err = tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)
}

func TestTracker_StartValidates(t *testing.T) {
	client := &fakeClient{jobID: "job-1"}
	tr := New(fastConfig(client, &fakeFetcher{}))
	defer tr.Close()

	_, err := tr.Start(StartRequest{Scenario: "1"})
	var ve *faceswap.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = tr.Start(StartRequest{FaceImage: face, Scenario: "0"})
	require.ErrorAs(t, err, &ve)

	submits, _, _ := client.counts()
	assert.Zero(t, submits)
}

func TestTracker_ProcessedJobIsNeverPolled(t *testing.T) {
	client := &fakeClient{}
	fetcher := &fakeFetcher{data: []byte("video")}
	tr := New(fastConfig(client, fetcher))
	defer tr.Close()

	tr.Registry().MarkProcessed("job-9")

	h, err := tr.Track("job-9")
	require.NoError(t, err)
	snap := wait(t, h)

	assert.Equal(t, PhaseReady, snap.Phase)
	_, statuses, results := client.counts()
	assert.Zero(t, statuses)
	assert.Equal(t, 1, results)
	assert.True(t, tr.cache.Has("job-9"))
}

func TestTracker_SecondStartIsBusy(t *testing.T) {
	client := &fakeClient{jobID: "job-1"}
	tr := New(fastConfig(client, &fakeFetcher{}))
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = h.WaitSubmitted(ctx)
	require.NoError(t, err)

	_, err = tr.Start(StartRequest{FaceImage: face, Scenario: "2"})
	require.ErrorIs(t, err, ErrBusy)
	var busy *BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "job-1", busy.ActiveJobID)

	_, err = tr.Track("job-other")
	require.ErrorIs(t, err, ErrBusy)

	same, err := tr.Track("job-1")
	require.NoError(t, err)
	assert.Same(t, h, same)

	h.Cancel()
	snap := wait(t, h)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, FailureCanceled, snap.Failure)
	assert.Empty(t, tr.Registry().Active())
}

func TestTracker_CancelDuringDownloadLeavesNoEntry(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{faceswap.Completed{FileReady: true}}}
	fetcher := &fakeFetcher{data: []byte("x"), block: true, started: make(chan struct{}, 1)}
	cfg := fastConfig(client, fetcher)
	cfg.StreamFallback = true
	cfg.DirectFallback = true
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	select {
	case <-fetcher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}
	h.Cancel()

	snap := wait(t, h)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, FailureCanceled, snap.Failure)
	assert.Zero(t, tr.cache.Len())
	_, streams := fetcher.calls()
	assert.Zero(t, streams, "no fallback after cancellation")
}

func TestTracker_RemoteFailureIsNotRetryable(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{processing(), faceswap.Failed{Reason: "no face detected"}}}
	tr := New(fastConfig(client, &fakeFetcher{}))
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, FailureJob, snap.Failure)
	assert.Equal(t, "no face detected", snap.Error)
	assert.False(t, snap.Retryable)
	assert.False(t, tr.Registry().IsProcessed("job-1"))

	_, err = tr.Retry("job-1")
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestTracker_RetryAfterRetrievalFailure(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{faceswap.Completed{FileReady: true}}}
	fetcher := &fakeFetcher{data: []byte("clip"), err: errors.New("boom")}
	tr := New(fastConfig(client, fetcher))
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, FailureRetrieval, snap.Failure)
	assert.True(t, snap.Retryable)
	assert.True(t, tr.Registry().IsProcessed("job-1"))

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()

	_, statusesBefore, _ := client.counts()
	retried, err := tr.Retry("job-1")
	require.NoError(t, err)
	snap = wait(t, retried)
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.True(t, tr.cache.Has("job-1"))

	_, statusesAfter, _ := client.counts()
	assert.Equal(t, statusesBefore, statusesAfter, "retry of a processed job does not poll")
}

func TestTracker_StreamFallback(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{faceswap.Completed{FileReady: true}}}
	fetcher := &fakeFetcher{data: []byte("clip"), err: errors.New("chunks failed")}
	cfg := fastConfig(client, fetcher)
	cfg.StreamFallback = true
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, download.StrategyStreamed, snap.Result.Strategy)
	fetcher.mu.Lock()
	assert.Equal(t, "http://svc/result/job-1/stream", fetcher.urls[len(fetcher.urls)-1])
	fetcher.mu.Unlock()
}

func TestTracker_StreamFallbackKeepsProgressMonotonic(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{faceswap.Completed{FileReady: true}}}
	fetcher := &fakeFetcher{data: make([]byte, 1000), partial: 600, err: errors.New("chunk 7 failed")}
	cfg := fastConfig(client, fetcher)
	cfg.StreamFallback = true
	tr := New(cfg)
	defer tr.Close()

	var (
		mu     sync.Mutex
		loaded []int64
	)
	tr.Observe(func(ev Event) {
		if ev.Kind == EventProgress && ev.Snapshot.Progress != nil {
			mu.Lock()
			loaded = append(loaded, ev.Snapshot.Progress.BytesLoaded)
			mu.Unlock()
		}
	})

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)
	require.Equal(t, PhaseReady, wait(t, h).Phase)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{600, 1000}, loaded)
}

func TestTracker_DirectFallback(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{faceswap.Completed{FileReady: true, FileSizeBytes: 10}}}
	fetcher := &fakeFetcher{err: errors.New("down")}
	cfg := fastConfig(client, fetcher)
	cfg.DirectFallback = true
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, download.StrategyDirect, snap.Result.Strategy)
	assert.Equal(t, "http://svc/video/job-1", snap.Result.ReferenceURL)

	entry, ok := tr.cache.Get("job-1")
	require.True(t, ok)
	assert.Nil(t, entry.Handle)
}

func TestTracker_LocateRetriesTransientErrors(t *testing.T) {
	client := &fakeClient{
		jobID:      "job-1",
		states:     []faceswap.JobState{faceswap.Completed{FileReady: true}},
		resultErr:  &faceswap.NotReadyError{JobID: "job-1", Status: "processing"},
		resultErrs: 2,
	}
	tr := New(fastConfig(client, &fakeFetcher{data: []byte("ok")}))
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseReady, snap.Phase)
	_, _, results := client.counts()
	assert.Equal(t, 3, results)
}

func TestTracker_PollTimeout(t *testing.T) {
	client := &fakeClient{jobID: "job-1"}
	cfg := fastConfig(client, &fakeFetcher{})
	cfg.MaxPollDuration = 20 * time.Millisecond
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	snap := wait(t, h)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, FailureTimeout, snap.Failure)
	assert.True(t, snap.Retryable)
}

func TestTracker_RetryAfterPollTimeoutPollsAgain(t *testing.T) {
	client := &fakeClient{jobID: "job-1"}
	cfg := fastConfig(client, &fakeFetcher{data: []byte("clip")})
	cfg.MaxPollDuration = 50 * time.Millisecond
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)
	snap := wait(t, h)
	require.Equal(t, FailureTimeout, snap.Failure)

	client.mu.Lock()
	client.states = []faceswap.JobState{faceswap.Completed{FileReady: true, FileSizeBytes: 4}}
	client.mu.Unlock()
	_, before, _ := client.counts()

	h, err = tr.Retry("job-1")
	require.NoError(t, err)
	snap = wait(t, h)
	assert.Equal(t, PhaseReady, snap.Phase, "retry ended with %s: %s", snap.Failure, snap.Error)

	_, after, _ := client.counts()
	assert.Greater(t, after, before, "retry must poll the service again")
}

func TestTracker_SubscribeSeesProgressAndCloses(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{processing(), faceswap.Completed{FileReady: true}}}
	cfg := fastConfig(client, &fakeFetcher{data: []byte("clip")})
	cfg.InitialPollDelay = 50 * time.Millisecond
	tr := New(cfg)
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)

	events, stop := h.Subscribe()
	defer stop()

	first := <-events
	assert.Equal(t, EventSnapshot, first.Kind)

	var last Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			last = ev
		case <-timeout:
			t.Fatal("subscription never closed")
		}
	}
	assert.Equal(t, PhaseReady, last.Snapshot.Phase)

	late, stopLate := h.Subscribe()
	defer stopLate()
	ev, ok := <-late
	require.True(t, ok)
	assert.Equal(t, PhaseReady, ev.Snapshot.Phase)
	_, ok = <-late
	assert.False(t, ok)
}

func TestTracker_ForgetAllowsAnotherJob(t *testing.T) {
	client := &fakeClient{jobID: "job-1"}
	tr := New(fastConfig(client, &fakeFetcher{}))
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = h.WaitSubmitted(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Forget(ctx, "job-1"))
	_, ok := tr.Lookup("job-1")
	assert.False(t, ok)
	assert.Empty(t, tr.Registry().Active())

	client.mu.Lock()
	client.jobID = "job-2"
	client.mu.Unlock()
	h2, err := tr.Start(StartRequest{FaceImage: face, Scenario: "2"})
	require.NoError(t, err)
	h2.Cancel()
	wait(t, h2)
}

func TestTracker_ResetCancelsEverything(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{faceswap.Completed{FileReady: true}}}
	fetcher := &fakeFetcher{data: []byte("x"), block: true, started: make(chan struct{}, 1)}
	tr := New(fastConfig(client, fetcher))
	defer tr.Close()

	tr.Registry().MarkProcessed("old-job")

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)
	<-fetcher.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Reset(ctx))

	select {
	case <-h.Done():
	default:
		t.Fatal("reset must wait for jobs to end")
	}
	assert.Empty(t, tr.Live())
	assert.Empty(t, tr.Registry().Processed())
	assert.Empty(t, tr.Registry().Active())
	assert.Zero(t, tr.cache.Len())
	_, ok := tr.Lookup("job-1")
	assert.False(t, ok)
}

func TestTracker_NewJobsRefusedWhileResetting(t *testing.T) {
	client := &fakeClient{jobID: "job-1", states: []faceswap.JobState{faceswap.Completed{FileReady: true}}}
	fetcher := &fakeFetcher{data: []byte("x"), block: true, started: make(chan struct{}, 1)}
	tr := New(fastConfig(client, fetcher))
	defer tr.Close()

	h, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.NoError(t, err)
	<-fetcher.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var startErr, trackErr, nestedErr error
	require.NoError(t, tr.ResetWith(ctx, func() {
		_, startErr = tr.Start(StartRequest{FaceImage: face, Scenario: "2"})
		_, trackErr = tr.Track("job-2")
		nestedErr = tr.Reset(ctx)
	}))
	assert.ErrorIs(t, startErr, ErrResetting)
	assert.ErrorIs(t, trackErr, ErrResetting)
	assert.ErrorIs(t, nestedErr, ErrResetting)
	assert.Equal(t, PhaseFailed, wait(t, h).Phase)
	assert.Empty(t, tr.Registry().Active())

	fetcher.mu.Lock()
	fetcher.block = false
	fetcher.mu.Unlock()

	h, err = tr.Start(StartRequest{FaceImage: face, Scenario: "2"})
	require.NoError(t, err, "jobs are accepted again once the reset finished")
	assert.Equal(t, PhaseReady, wait(t, h).Phase)
}

func TestTracker_ClosedRefusesWork(t *testing.T) {
	tr := New(fastConfig(&fakeClient{jobID: "j"}, &fakeFetcher{}))
	tr.Close()

	_, err := tr.Start(StartRequest{FaceImage: face, Scenario: "1"})
	require.ErrorIs(t, err, ErrClosed)
	_, err = tr.Track("j")
	require.ErrorIs(t, err, ErrClosed)
}
