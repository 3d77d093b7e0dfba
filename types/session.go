package types

import (
	"maps"
	"slices"
	"time"
)

// SessionStatus is the lifecycle state of a chunked upload.
type SessionStatus string

const (
	SessionInitialized SessionStatus = "initialized"
	SessionReceiving   SessionStatus = "receiving"
	SessionCompleting  SessionStatus = "completing"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionCancelled   SessionStatus = "cancelled"
	SessionExpired     SessionStatus = "expired"
)

// IsTerminal reports whether the session can no longer accept work.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionExpired:
		return true
	}
	return false
}

// UploadSession tracks one in-flight chunked upload.
type UploadSession struct {
	ID             string
	ContextKey     string
	FileName       string // generated storage name, never the client's
	OriginalName   string
	MimeType       string
	DeclaredSize   int64
	DeclaredChunks int
	Received       map[int]struct{}
	StagingDir     string
	Status         SessionStatus
	CreatedAt      time.Time
	LastActivity   time.Time
}

func (s *UploadSession) ReceivedCount() int {
	return len(s.Received)
}

// MissingIndexes lists the chunk indexes not received yet, ascending.
func (s *UploadSession) MissingIndexes() []int {
	missing := make([]int, 0, s.DeclaredChunks-len(s.Received))
	for i := 0; i < s.DeclaredChunks; i++ {
		if _, ok := s.Received[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// ReceivedIndexes lists received chunk indexes, ascending.
func (s *UploadSession) ReceivedIndexes() []int {
	out := slices.Collect(maps.Keys(s.Received))
	slices.Sort(out)
	return out
}

// Clone returns a deep copy, safe to hand out of a store.
func (s *UploadSession) Clone() *UploadSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Received = make(map[int]struct{}, len(s.Received))
	maps.Copy(cp.Received, s.Received)
	return &cp
}

// InitRequest carries the client-declared upload parameters.
type InitRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks"`
	EventID     string `json:"eventId"`
	GalleryID   string `json:"galleryId,omitempty"`
}

// InitResponse is returned to the client after a session is created.
type InitResponse struct {
	UploadID    string `json:"uploadId"`
	FileName    string `json:"fileName"`
	TotalChunks int    `json:"totalChunks"`
}

// ChunkReceipt acknowledges one stored chunk.
type ChunkReceipt struct {
	Index          int `json:"index"`
	ReceivedChunks int `json:"receivedChunks"`
	TotalChunks    int `json:"totalChunks"`
}

// SessionProgress is the resumable view of a session.
type SessionProgress struct {
	UploadID       string        `json:"uploadId"`
	Status         SessionStatus `json:"status"`
	ReceivedChunks int           `json:"receivedChunks"`
	TotalChunks    int           `json:"totalChunks"`
	Missing        []int         `json:"missingChunks"`
	LastActivity   time.Time     `json:"lastActivity"`
}
