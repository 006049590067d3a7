package download

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrRangeUnsupported = errors.New("server does not support byte ranges")
	ErrRangeIgnored     = errors.New("server ignored range request")
	ErrRangeMismatch    = errors.New("content-range does not match request")
	ErrTruncated        = errors.New("response body truncated")
	ErrEmpty            = errors.New("empty response body")
)

// DownloadError reports a failed retrieval attempt. No partial media is ever
// returned alongside it.
type DownloadError struct {
	Strategy Strategy
	URL      string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s download failed: %v", e.Strategy, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Timeout reports whether the size-derived time budget ran out.
func (e *DownloadError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Canceled reports whether the caller abandoned the download.
func (e *DownloadError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}
