package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// ErrGone is returned by a Source whose bytes were released.
var ErrGone = errors.New("media released")

// Source is an in-memory media object that can be read from the start any
// number of times.
type Source interface {
	Open() (io.ReadSeeker, error)
	Size() int64
	ContentType() string
}

// Server serves cached media with byte-range support so a video element can seek.
type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeMedia writes src to w, honouring a single Range request.
func (s *Server) ServeMedia(w http.ResponseWriter, r *http.Request, src Source) error {
	content, err := src.Open()
	if errors.Is(err, ErrGone) {
		http.Error(w, "media no longer available", http.StatusGone)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}

	size := src.Size()
	contentType := src.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")

	parsed, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// Malformed ranges are ignored and the whole body is sent.
	if parsed == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		if _, err := io.Copy(w, content); err != nil {
			s.logger.Debug("media copy interrupted", "error", err)
		}
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(parsed.ContentLength(), 10))
	w.Header().Set("Content-Range", parsed.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := content.Seek(parsed.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek media: %w", err)
	}
	if _, err := io.CopyN(w, content, parsed.ContentLength()); err != nil {
		s.logger.Debug("media copy interrupted", "error", err)
	}
	return nil
}
