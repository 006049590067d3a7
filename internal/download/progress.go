package download

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Progress is an advisory snapshot of a running download.
type Progress struct {
	Strategy    Strategy `json:"strategy"`
	Percent     float64  `json:"percent"`
	BytesLoaded int64    `json:"bytes_loaded"`
	BytesTotal  int64    `json:"bytes_total"`
	// Speed is in bytes per second.
	Speed float64 `json:"speed"`
}

// ProgressFunc receives progress updates. It is always called from a single
// goroutine, so updates arrive in order and BytesLoaded never decreases.
type ProgressFunc func(Progress)

// progressTracker counts bytes from any number of goroutines and reports them
// from one emitter goroutine at most once per interval. A slow callback only
// delays the next report, never the transfer.
type progressTracker struct {
	strategy Strategy
	total    int64
	fn       ProgressFunc
	interval time.Duration
	started  time.Time

	loaded atomic.Int64
	last   int64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func startProgress(strategy Strategy, total int64, fn ProgressFunc, interval time.Duration) *progressTracker {
	p := &progressTracker{
		strategy: strategy,
		total:    total,
		fn:       fn,
		interval: interval,
		started:  time.Now(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if fn == nil {
		close(p.done)
		return p
	}
	go p.run()
	return p
}

func (p *progressTracker) add(n int) {
	p.loaded.Add(int64(n))
}

func (p *progressTracker) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.emit()
		}
	}
}

func (p *progressTracker) emit() {
	loaded := p.loaded.Load()
	if loaded == p.last {
		return
	}
	p.last = loaded
	p.fn(p.snapshot(loaded))
}

func (p *progressTracker) snapshot(loaded int64) Progress {
	pr := Progress{Strategy: p.strategy, BytesLoaded: loaded, BytesTotal: p.total}
	if p.total > 0 {
		pr.Percent = min(float64(loaded)/float64(p.total)*100, 100)
	}
	if secs := time.Since(p.started).Seconds(); secs > 0 {
		pr.Speed = float64(loaded) / secs
	}
	return pr
}

// stop ends the emitter and waits for it, so nothing is reported afterwards.
func (p *progressTracker) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

// finish stops the emitter and reports the final count once. A total learnt
// only at the end is reported even if the byte count did not move.
func (p *progressTracker) finish(total int64) {
	p.stop()
	if p.fn == nil {
		return
	}
	resized := p.total <= 0 && total > 0
	if resized {
		p.total = total
	}
	loaded := p.loaded.Load()
	if loaded == p.last && !resized {
		return
	}
	p.last = loaded
	p.fn(p.snapshot(loaded))
}

// Monotonic wraps fn so that a caller switching strategies mid-download, each
// counting from zero, never reports fewer bytes than before. Updates below
// the high-water mark are held back until the new attempt passes it.
func Monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nil
	}
	var mu sync.Mutex
	var high int64
	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.BytesLoaded < high {
			return
		}
		high = p.BytesLoaded
		fn(p)
	}
}

type countingReader struct {
	r io.Reader
	p *progressTracker
}

func (c countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.p.add(n)
	}
	return n, err
}
