package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/faceswap-kiosk/internal/logging"
	"github.com/heimdex/faceswap-kiosk/internal/playback"
)

// parallel fetches every range of the media concurrently. Each chunk lands in
// its own buffer indexed by position; the media is assembled only after all
// chunks arrived, so completion order never affects the result.
func (d *Downloader) parallel(ctx context.Context, url string, probe *ProbeResult, opts Options) (*Media, error) {
	start := time.Now()
	ranges := playback.Split(probe.Size, d.cfg.Chunks)

	prog := startProgress(StrategyParallel, probe.Size, opts.OnProgress, d.cfg.ProgressInterval)
	defer prog.stop()

	dlCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(probe.Size))
	defer cancel()

	d.logger.Info("parallel download starting",
		"url", logging.SanitizeURL(url),
		"size", logging.Bytes(probe.Size),
		"chunks", len(ranges),
	)

	parts := make([][]byte, len(ranges))
	g, gctx := errgroup.WithContext(dlCtx)
	for i, r := range ranges {
		g.Go(func() error {
			buf, err := d.fetchChunk(gctx, url, r, probe.Size, prog)
			if err != nil {
				return fmt.Errorf("chunk %d (%s): %w", i, r.Header(), err)
			}
			parts[i] = buf
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		clear(parts)
		return nil, &DownloadError{Strategy: StrategyParallel, URL: url, Err: err}
	}

	data := Assemble(parts)
	if int64(len(data)) != probe.Size {
		return nil, &DownloadError{Strategy: StrategyParallel, URL: url, Err: ErrTruncated}
	}
	prog.finish(probe.Size)

	elapsed := time.Since(start)
	d.logger.Info("parallel download complete",
		"size", logging.Bytes(probe.Size),
		"chunks", len(ranges),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return &Media{
		Data:        data,
		ContentType: probe.ContentType,
		Strategy:    StrategyParallel,
		Chunks:      len(ranges),
		Elapsed:     elapsed,
	}, nil
}

func (d *Downloader) fetchChunk(ctx context.Context, url string, r playback.Range, total int64, prog *progressTracker) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", r.Header())
	req.Header.Set("Accept", acceptMedia)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return nil, ErrRangeIgnored
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	got, gotTotal, err := playback.ParseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return nil, err
	}
	if got != r || (gotTotal >= 0 && gotTotal != total) {
		return nil, fmt.Errorf("%w: asked %s, got %s", ErrRangeMismatch, r.Header(), got.ContentRange(gotTotal))
	}

	buf := make([]byte, r.ContentLength())
	if _, err := io.ReadFull(countingReader{r: resp.Body, p: prog}, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return buf, nil
}

// Assemble concatenates chunk buffers in index order.
func Assemble(parts [][]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
