package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

type stubClient struct {
	mu       sync.Mutex
	next     int
	status   faceswap.JobState
	cleanups []string
}

func (c *stubClient) Submit(ctx context.Context, req faceswap.SubmitRequest) (*faceswap.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return &faceswap.Submission{JobID: "job-" + string(rune('0'+c.next)), SubmittedAt: time.Now()}, nil
}

func (c *stubClient) GetStatus(ctx context.Context, jobID string) (faceswap.JobState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		return faceswap.Completed{FileReady: true}, nil
	}
	return c.status, nil
}

func (c *stubClient) GetResultURL(ctx context.Context, jobID string) (*faceswap.ResultLocation, error) {
	return &faceswap.ResultLocation{JobID: jobID, MediaURL: "http://svc/" + jobID}, nil
}

func (c *stubClient) Cleanup(ctx context.Context, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, jobID)
}

func (c *stubClient) StreamURL(jobID string) string { return "http://svc/" + jobID + "/stream" }
func (c *stubClient) VideoURL(jobID string) string  { return "http://svc/video/" + jobID }
func (c *stubClient) ListScenarios(ctx context.Context) ([]faceswap.Scenario, error) {
	return nil, nil
}
func (c *stubClient) Health(ctx context.Context) (*faceswap.Health, error) {
	return &faceswap.Health{Status: "healthy"}, nil
}

func (c *stubClient) cleaned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cleanups...)
}

type stubFetcher struct{}

func (stubFetcher) Download(ctx context.Context, url string, opts download.Options) (*download.Media, error) {
	return &download.Media{Data: []byte("video"), ContentType: "video/mp4", Strategy: download.StrategyParallel}, nil
}

func (stubFetcher) Stream(ctx context.Context, url string, opts download.Options) (*download.Media, error) {
	return &download.Media{Data: []byte("video"), ContentType: "video/mp4", Strategy: download.StrategyStreamed}, nil
}

func newTestSession(client *stubClient, cleanup bool) *Session {
	return New(client, stubFetcher{}, Options{
		Tracker: tracker.Config{
			InitialPollDelay: time.Millisecond,
			Interval:         func(time.Duration) time.Duration { return time.Millisecond },
			DemoDelay:        time.Millisecond,
		},
		CleanupOnReset: cleanup,
	}, nil)
}

func runToReady(t *testing.T, s *Session) tracker.Snapshot {
	t.Helper()
	h, err := s.Tracker().Start(tracker.StartRequest{FaceImage: []byte("img"), Scenario: "1"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, tracker.PhaseReady, snap.Phase)
	return snap
}

func TestSession_ResetClearsEverything(t *testing.T) {
	client := &stubClient{}
	s := newTestSession(client, true)
	defer s.Dispose(context.Background())

	snap := runToReady(t, s)
	before := s.Status()
	assert.Equal(t, 1, before.Processed)
	assert.Equal(t, 1, before.Cached)
	assert.Equal(t, int64(5), before.CachedBytes)

	entry, ok := s.Cache().Get(snap.JobID)
	require.True(t, ok)

	summary, err := s.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before.ID, summary.PreviousID)
	assert.NotEqual(t, summary.PreviousID, summary.SessionID)
	assert.Equal(t, 1, summary.Evicted)
	assert.Equal(t, 1, summary.CleanedUp)
	assert.Equal(t, []string{snap.JobID}, client.cleaned())

	after := s.Status()
	assert.Equal(t, summary.SessionID, after.ID)
	assert.Zero(t, after.Processed)
	assert.Zero(t, after.Cached)
	assert.Empty(t, after.ActiveJobID)
	assert.True(t, entry.Handle.Released())

	// The next visitor can start right away.
	runToReady(t, s)
}

func TestSession_ResetCancelsLiveJob(t *testing.T) {
	client := &stubClient{status: faceswap.Processing{Status: faceswap.StatusProcessing}}
	s := newTestSession(client, false)
	defer s.Dispose(context.Background())

	h, err := s.Tracker().Start(tracker.StartRequest{FaceImage: []byte("img"), Scenario: "1"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = h.WaitSubmitted(ctx)
	require.NoError(t, err)

	summary, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Canceled)
	assert.Zero(t, summary.CleanedUp)
	assert.Empty(t, client.cleaned())

	snap := h.Snapshot()
	assert.Equal(t, tracker.PhaseFailed, snap.Phase)
	assert.Equal(t, tracker.FailureCanceled, snap.Failure)
	assert.Empty(t, s.Status().ActiveJobID)
}

func TestSession_ForgetOneJob(t *testing.T) {
	client := &stubClient{}
	s := newTestSession(client, false)
	defer s.Dispose(context.Background())

	snap := runToReady(t, s)
	require.NoError(t, s.Forget(context.Background(), snap.JobID))

	assert.False(t, s.Cache().Has(snap.JobID))
	assert.False(t, s.Tracker().Registry().IsProcessed(snap.JobID))
	assert.Equal(t, []string{snap.JobID}, client.cleaned())
}

func TestSession_DisposeRefusesWork(t *testing.T) {
	client := &stubClient{}
	s := newTestSession(client, false)
	runToReady(t, s)

	s.Dispose(context.Background())
	s.Dispose(context.Background())

	assert.Zero(t, s.Cache().Len())
	_, err := s.Tracker().Start(tracker.StartRequest{FaceImage: []byte("img"), Scenario: "1"})
	require.ErrorIs(t, err, tracker.ErrClosed)
	_, err = s.Reset(context.Background())
	require.ErrorIs(t, err, tracker.ErrClosed)
}
