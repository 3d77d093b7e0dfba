package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned by WriteFileAtomic when src exceeds the limit.
var ErrTooLarge = errors.New("payload exceeds size limit")

// CopyWithContext copies from src to dst while respecting context cancellation.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 2*1024*1024) // 2MB buffer
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[0:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if writeErr == nil {
					writeErr = fmt.Errorf("invalid write result")
				}
			}
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// WriteFileAtomic streams src into dir/name through a temp file and a rename,
// so readers see either the old file or the complete new one. limit <= 0 means unlimited.
func WriteFileAtomic(ctx context.Context, dir, name string, src io.Reader, limit int64) (int64, error) {
	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	reader := src
	if limit > 0 {
		reader = io.LimitReader(src, limit+1)
	}
	written, err := CopyWithContext(ctx, tmp, reader)
	if err != nil {
		cleanup()
		return written, err
	}
	if limit > 0 && written > limit {
		cleanup()
		return written, ErrTooLarge
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return written, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return written, err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return written, err
	}
	return written, nil
}
