package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// chunkFileName is zero padded so a directory listing sorts in upload order.
func chunkFileName(index int) string {
	return fmt.Sprintf("chunk_%05d", index)
}

// validID guards every path built from a client supplied id.
func validID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (m *Manager) stagingDir(id string) string {
	return filepath.Join(m.stagingRoot, id)
}

// purge removes a staging directory. Failure is logged only, a missing dir is fine.
func (m *Manager) purge(id string) {
	if err := os.RemoveAll(m.stagingDir(id)); err != nil {
		m.logger.Warnf("[Staging] failed to purge %s: %v", id, err)
	}
}

// sourceError marks a read failure on the input side of a copy, so it is not
// mistaken for a failure of the destination.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

type sourceReader struct {
	r io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &sourceError{err: err}
	}
	return n, err
}
