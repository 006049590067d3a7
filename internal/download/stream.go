package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heimdex/faceswap-kiosk/internal/logging"
)

// Stream fetches url with a single GET and no Range header.
func (d *Downloader) Stream(ctx context.Context, url string, opts Options) (*Media, error) {
	start := time.Now()
	fail := func(err error) (*Media, error) {
		return nil, &DownloadError{Strategy: StrategyStreamed, URL: url, Err: err}
	}

	streamCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(opts.ExpectedSize))
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", acceptMedia)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	total := resp.ContentLength
	progressTotal := total
	if progressTotal <= 0 {
		progressTotal = opts.ExpectedSize
	}

	d.logger.Info("streamed download starting",
		"url", logging.SanitizeURL(url),
		"size", logging.Bytes(total),
	)

	prog := startProgress(StrategyStreamed, progressTotal, opts.OnProgress, d.cfg.ProgressInterval)
	defer prog.stop()

	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	n, err := io.Copy(&buf, countingReader{r: resp.Body, p: prog})
	if err != nil {
		return fail(err)
	}
	if total >= 0 && n != total {
		return fail(fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, total))
	}
	if n == 0 {
		return fail(ErrEmpty)
	}
	prog.finish(n)

	elapsed := time.Since(start)
	d.logger.Info("streamed download complete",
		"size", logging.Bytes(n),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return &Media{
		Data:        buf.Bytes(),
		ContentType: resp.Header.Get("Content-Type"),
		Strategy:    StrategyStreamed,
		Chunks:      1,
		Elapsed:     elapsed,
	}, nil
}
