package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
)

func TestRegistry_AcquireIsExclusive(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Acquire("a"))
	require.NoError(t, r.Acquire("a"), "holder may re-acquire")

	err := r.Acquire("b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	var busy *BusyError
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, "a", busy.ActiveJobID)

	r.Release("b")
	assert.Equal(t, "a", r.Active(), "release by a non-holder is ignored")

	r.Release("a")
	assert.Empty(t, r.Active())
	require.NoError(t, r.Acquire("b"))
}

func TestRegistry_Rebind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Acquire("pending-1"))

	r.Rebind("other", "job-x")
	assert.Equal(t, "pending-1", r.Active())

	r.Rebind("pending-1", "job-1")
	assert.Equal(t, "job-1", r.Active())
}

func TestRegistry_Processed(t *testing.T) {
	r := NewRegistry()
	r.MarkProcessed("b")
	r.MarkProcessed("a")
	r.MarkProcessed("a")

	assert.True(t, r.IsProcessed("a"))
	assert.False(t, r.IsProcessed("c"))
	assert.Equal(t, []string{"a", "b"}, r.Processed())

	require.NoError(t, r.Acquire("a"))
	r.Forget("a")
	assert.False(t, r.IsProcessed("a"))
	assert.Empty(t, r.Active())

	r.Reset()
	assert.Empty(t, r.Processed())
}

func TestAdaptiveInterval(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{9999 * time.Millisecond, 500 * time.Millisecond},
		{10 * time.Second, time.Second},
		{19 * time.Second, time.Second},
		{20 * time.Second, 2 * time.Second},
		{39 * time.Second, 2 * time.Second},
		{40 * time.Second, 3 * time.Second},
		{5 * time.Minute, 3 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AdaptiveInterval(tt.elapsed), "elapsed %s", tt.elapsed)
	}
}

func TestPollInterval_StopsOnTerminalStatus(t *testing.T) {
	d, more := PollInterval(time.Second, faceswap.StatusProcessing)
	assert.True(t, more)
	assert.Equal(t, 500*time.Millisecond, d)

	_, more = PollInterval(time.Second, faceswap.StatusCompleted)
	assert.False(t, more)

	_, more = PollInterval(time.Minute, faceswap.StatusFailed)
	assert.False(t, more)
}
