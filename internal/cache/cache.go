// Package cache keeps retrieved media in memory for the lifetime of a kiosk
// session, keyed by job id. Entries hold a Handle that owns the bytes; the
// handle is released when its entry is replaced, removed or cleared.
package cache

import (
	"bytes"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
	"github.com/heimdex/faceswap-kiosk/internal/playback"
)

// DefaultURLPrefix is where the agent API serves cached media.
const DefaultURLPrefix = "/media/"

// ErrReleased is returned when reading a handle whose entry is gone.
var ErrReleased = playback.ErrGone

// Handle owns the bytes of one cached artifact. Readers obtained from Open
// stay valid after release; new Opens fail.
type Handle struct {
	token       string
	contentType string
	size        int64

	mu       sync.RWMutex
	data     []byte
	released bool
}

func newHandle(data []byte, contentType string) *Handle {
	if contentType == "" {
		contentType = "video/mp4"
	}
	return &Handle{
		token:       uuid.NewString(),
		contentType: contentType,
		size:        int64(len(data)),
		data:        data,
	}
}

// Open returns a fresh reader over the media.
func (h *Handle) Open() (io.ReadSeeker, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, ErrReleased
	}
	return bytes.NewReader(h.data), nil
}

// WriteTo copies the media to w.
func (h *Handle) WriteTo(w io.Writer) (int64, error) {
	r, err := h.Open()
	if err != nil {
		return 0, err
	}
	return io.Copy(w, r)
}

func (h *Handle) Size() int64         { return h.size }
func (h *Handle) ContentType() string { return h.contentType }
func (h *Handle) Token() string       { return h.token }

// Released reports whether the handle no longer serves reads.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

func (h *Handle) release() {
	h.mu.Lock()
	h.data = nil
	h.released = true
	h.mu.Unlock()
}

// Entry is one cached result.
type Entry struct {
	JobID        string
	Handle       *Handle // nil for direct-url entries
	SizeBytes    int64
	RetrievedAt  time.Time
	Strategy     download.Strategy
	ReferenceURL string
}

// Cache maps job ids to entries. At most one entry exists per job.
type Cache struct {
	prefix string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	tokens  map[string]*Handle
}

// New creates an empty cache whose reference URLs start with prefix.
func New(prefix string, logger *slog.Logger) *Cache {
	if prefix == "" {
		prefix = DefaultURLPrefix
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache{
		prefix:  prefix,
		logger:  logging.WithComponent(logger, "cache"),
		entries: make(map[string]Entry),
		tokens:  make(map[string]*Handle),
	}
}

// NewEntry wraps downloaded media in a handle with its own reference URL.
// The entry is not stored until Put.
func (c *Cache) NewEntry(jobID string, media *download.Media) Entry {
	h := newHandle(media.Data, media.ContentType)
	return Entry{
		JobID:        jobID,
		Handle:       h,
		SizeBytes:    h.size,
		RetrievedAt:  time.Now(),
		Strategy:     media.Strategy,
		ReferenceURL: c.prefix + h.token,
	}
}

// NewRemoteEntry records a result that is played straight from the service.
func (c *Cache) NewRemoteEntry(jobID, remoteURL string, size int64) Entry {
	return Entry{
		JobID:        jobID,
		SizeBytes:    size,
		RetrievedAt:  time.Now(),
		Strategy:     download.StrategyDirect,
		ReferenceURL: remoteURL,
	}
}

func (c *Cache) Has(jobID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[jobID]
	return ok
}

func (c *Cache) Get(jobID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[jobID]
	return e, ok
}

// Put stores entry under jobID, releasing any handle it replaces.
func (c *Cache) Put(jobID string, entry Entry) {
	entry.JobID = jobID

	c.mu.Lock()
	old, replaced := c.entries[jobID]
	if replaced && old.Handle != nil && old.Handle != entry.Handle {
		delete(c.tokens, old.Handle.token)
		old.Handle.release()
	}
	c.entries[jobID] = entry
	if entry.Handle != nil {
		c.tokens[entry.Handle.token] = entry.Handle
	}
	c.mu.Unlock()

	c.logger.Info("cached result",
		"job_id", jobID,
		"size", logging.Bytes(entry.SizeBytes),
		"strategy", entry.Strategy,
		"replaced", replaced,
	)
}

// Remove drops one job's entry. It reports whether anything was removed.
func (c *Cache) Remove(jobID string) bool {
	c.mu.Lock()
	e, ok := c.entries[jobID]
	if ok {
		delete(c.entries, jobID)
		if e.Handle != nil {
			delete(c.tokens, e.Handle.token)
			e.Handle.release()
		}
	}
	c.mu.Unlock()

	if ok {
		c.logger.Info("evicted result", "job_id", jobID)
	}
	return ok
}

// Clear releases every entry and returns how many there were.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.entries)
	for _, e := range c.entries {
		if e.Handle != nil {
			e.Handle.release()
		}
	}
	c.entries = make(map[string]Entry)
	c.tokens = make(map[string]*Handle)
	c.mu.Unlock()

	if n > 0 {
		c.logger.Info("cache cleared", "entries", n)
	}
	return n
}

// Resolve maps a reference URL token back to its live handle.
func (c *Cache) Resolve(token string) (*Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.tokens[token]
	return h, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Bytes returns the total size held in memory.
func (c *Cache) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, e := range c.entries {
		if e.Handle != nil {
			n += e.SizeBytes
		}
	}
	return n
}

// JobIDs lists cached jobs in sorted order.
func (c *Cache) JobIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
