// Package playback handles HTTP byte ranges in both directions: parsing the
// Range header of incoming media requests and building/validating the ranges
// the downloader asks for.
package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange        = errors.New("invalid range format")
	ErrUnsatisfiable       = errors.New("range not satisfiable")
	ErrInvalidContentRange = errors.New("invalid content-range")
)

// Range is an inclusive byte interval.
type Range struct {
	Start int64
	End   int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the response header value for a total size.
func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// Header renders the request header value, e.g. "bytes=0-1023".
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ParseRange parses a request Range header against a resource of size bytes.
// It returns nil, nil when the header is empty. Only the first range of a
// multi-range request is honoured.
func ParseRange(header string, size int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}

	set, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(set, ","); multi {
		set = strings.TrimSpace(first)
	}

	startStr, endStr, ok := strings.Cut(set, "-")
	if !ok || strings.Contains(endStr, "-") {
		return nil, ErrInvalidRange
	}

	var start, end int64
	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, ErrInvalidRange
		}
		start = max(size-suffix, 0)
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}
		if endStr == "" {
			end = size - 1
		} else if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
			return nil, ErrInvalidRange
		}
	}

	if start > end || start >= size {
		return nil, ErrUnsatisfiable
	}
	return &Range{Start: start, End: min(end, size-1)}, nil
}

// ParseContentRange parses a response Content-Range header such as
// "bytes 0-99/1000". total is -1 when the server sent "*".
func ParseContentRange(header string) (Range, int64, error) {
	set, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return Range{}, 0, ErrInvalidContentRange
	}
	interval, totalStr, ok := strings.Cut(set, "/")
	if !ok {
		return Range{}, 0, ErrInvalidContentRange
	}
	startStr, endStr, ok := strings.Cut(interval, "-")
	if !ok {
		return Range{}, 0, ErrInvalidContentRange
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Range{}, 0, ErrInvalidContentRange
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return Range{}, 0, ErrInvalidContentRange
	}

	total := int64(-1)
	if totalStr != "*" {
		total, err = strconv.ParseInt(totalStr, 10, 64)
		if err != nil || total <= end {
			return Range{}, 0, ErrInvalidContentRange
		}
	}
	return Range{Start: start, End: end}, total, nil
}

// Split partitions [0,total) into n contiguous ranges of equal size; the last
// range absorbs the remainder. n is clamped to [1,total]. It returns nil when
// total is not positive.
func Split(total int64, n int) []Range {
	if total <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if int64(n) > total {
		n = int(total)
	}

	size := total / int64(n)
	ranges := make([]Range, n)
	for i := range n {
		start := int64(i) * size
		end := start + size - 1
		if i == n-1 {
			end = total - 1
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges
}
