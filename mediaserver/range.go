package mediaserver

import (
	"strconv"
	"strings"

	"github.com/moyoez/eventmedia/types"
)

type byteRange struct {
	start, end int64 // inclusive
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRange reads the first range of a "bytes=" header against an object of size bytes.
// An open ended range is cut to lookahead bytes. Anything unsatisfiable is an InvalidRangeError.
func parseRange(header string, size, lookahead int64) (byteRange, error) {
	invalid := types.InvalidRangeError(header)
	unit, spec, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") || size <= 0 {
		return byteRange{}, invalid
	}
	// multipart ranges are not served, the first window wins
	spec, _, _ = strings.Cut(spec, ",")
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return byteRange{}, invalid
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// bytes=-N, the last N bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, invalid
		}
		n = min(n, size)
		return byteRange{start: size - n, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, invalid
	}
	if last == "" {
		return byteRange{start: start, end: min(start+lookahead-1, size-1)}, nil
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return byteRange{}, invalid
	}
	return byteRange{start: start, end: min(end, size-1)}, nil
}

// etagMatches implements the weak comparison If-None-Match asks for.
func etagMatches(header string, etags ...string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		for _, etag := range etags {
			if candidate == strings.TrimPrefix(etag, "W/") {
				return true
			}
		}
	}
	return false
}
