// Package download fetches finished media. When the server supports byte
// ranges the file is pulled as N concurrent chunks and reassembled in order;
// otherwise, or when any chunk fails, it falls back to one streamed request.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/heimdex/faceswap-kiosk/internal/logging"
)

// Strategy records how a media object was obtained.
type Strategy string

const (
	StrategyParallel Strategy = "parallel-chunked"
	StrategyStreamed Strategy = "streamed"
	StrategyDirect   Strategy = "direct-url"
	StrategyLocal    Strategy = "local-file"
)

const (
	DefaultChunks           = 8
	DefaultProgressInterval = time.Second
	DefaultTimeoutFloor     = 60 * time.Second
	DefaultTimeoutPerMB     = 3 * time.Second
	DefaultProbeTimeout     = 10 * time.Second

	acceptMedia = "video/mp4,video/*,*/*"
	megabyte    = 1 << 20
)

// Config tunes a Downloader. Zero values take the defaults above.
type Config struct {
	Chunks           int
	ProgressInterval time.Duration
	TimeoutFloor     time.Duration
	TimeoutPerMB     time.Duration
	ProbeTimeout     time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Options apply to one download.
type Options struct {
	// ExpectedSize is used for the time budget when the size cannot be probed.
	ExpectedSize int64
	OnProgress   ProgressFunc
}

// Media is a complete, verified artifact held in memory.
type Media struct {
	Data        []byte
	ContentType string
	Strategy    Strategy
	Chunks      int
	Elapsed     time.Duration
}

// Size returns the number of bytes held.
func (m *Media) Size() int64 {
	return int64(len(m.Data))
}

// ProbeResult is what a HEAD request revealed about the media.
type ProbeResult struct {
	Size         int64
	AcceptRanges bool
	ContentType  string
}

// Ranged reports why the media cannot be split into byte ranges, or nil.
func (p *ProbeResult) Ranged() error {
	switch {
	case !p.AcceptRanges:
		return ErrRangeUnsupported
	case p.Size <= 0:
		return fmt.Errorf("%w: unknown size", ErrRangeUnsupported)
	}
	return nil
}

// Downloader retrieves media over HTTP.
type Downloader struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Downloader {
	if cfg.Chunks < 1 {
		cfg.Chunks = DefaultChunks
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.TimeoutFloor <= 0 {
		cfg.TimeoutFloor = DefaultTimeoutFloor
	}
	if cfg.TimeoutPerMB <= 0 {
		cfg.TimeoutPerMB = DefaultTimeoutPerMB
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Downloader{
		cfg:    cfg,
		client: client,
		logger: logging.WithComponent(logger, "download"),
	}
}

// Chunks returns the configured parallelism.
func (d *Downloader) Chunks() int {
	return d.cfg.Chunks
}

// TimeoutFor returns max(floor, perMB * size in MB).
func TimeoutFor(size int64, floor, perMB time.Duration) time.Duration {
	if size <= 0 {
		return floor
	}
	scaled := time.Duration(float64(perMB) * float64(size) / megabyte)
	return max(floor, scaled)
}

func (d *Downloader) timeoutFor(size int64) time.Duration {
	return TimeoutFor(size, d.cfg.TimeoutFloor, d.cfg.TimeoutPerMB)
}

// Probe issues a HEAD request to learn the size and range support.
func (d *Downloader) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Accept", acceptMedia)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("probe: unexpected status %d", resp.StatusCode)
	}

	return &ProbeResult{
		Size:         resp.ContentLength,
		AcceptRanges: strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes"),
		ContentType:  resp.Header.Get("Content-Type"),
	}, nil
}

// Download fetches url, preferring concurrent range requests. Any failure of
// the parallel path falls back to a single streamed request unless ctx was
// cancelled, in which case nothing more is attempted.
func (d *Downloader) Download(ctx context.Context, url string, opts Options) (*Media, error) {
	logURL := logging.SanitizeURL(url)
	opts.OnProgress = Monotonic(opts.OnProgress)

	probe, err := d.Probe(ctx, url)
	switch {
	case ctx.Err() != nil:
		return nil, &DownloadError{Strategy: StrategyParallel, URL: url, Err: ctx.Err()}
	case err != nil:
		d.logger.Info("probe failed, streaming instead", "url", logURL, "error", err)
		return d.Stream(ctx, url, opts)
	case probe.Ranged() != nil:
		d.logger.Info("streaming instead", "url", logURL, "reason", probe.Ranged())
		if probe.Size > 0 {
			opts.ExpectedSize = probe.Size
		}
		return d.Stream(ctx, url, opts)
	}

	media, err := d.parallel(ctx, url, probe, opts)
	if err == nil {
		return media, nil
	}
	if ctx.Err() != nil {
		return nil, &DownloadError{Strategy: StrategyParallel, URL: url, Err: ctx.Err()}
	}

	d.logger.Warn("parallel download failed, streaming instead", "url", logURL, "error", err)
	opts.ExpectedSize = probe.Size
	return d.Stream(ctx, url, opts)
}
