package types

import (
	"fmt"
	"strings"
	"time"
)

// StorageKind tells the media server which read path serves an object.
type StorageKind string

const (
	StorageBlob   StorageKind = "blob"
	StorageInline StorageKind = "inline"
)

// MediaObject is the descriptor persisted in the metadata store.
// BlobRef is set iff StorageKind is blob, InlineData iff it is inline.
type MediaObject struct {
	FileName     string      `json:"fileName" bson:"fileName"`
	StorageKind  StorageKind `json:"storageKind" bson:"storageKind"`
	BlobRef      string      `json:"blobRef,omitempty" bson:"blobRef,omitempty"`
	InlineData   string      `json:"-" bson:"inlineData,omitempty"` // base64, legacy path
	ByteSize     int64       `json:"byteSize" bson:"byteSize"`
	MimeType     string      `json:"mimeType" bson:"mimeType"`
	ContextKey   string      `json:"contextKey,omitempty" bson:"contextKey,omitempty"`
	OriginalName string      `json:"originalName,omitempty" bson:"originalName,omitempty"`
	CreatedAt    time.Time   `json:"createdAt" bson:"createdAt"`
}

// Validate checks the storage discriminator against the populated payload fields.
func (m *MediaObject) Validate() error {
	if m.FileName == "" {
		return fmt.Errorf("media object without fileName")
	}
	switch m.StorageKind {
	case StorageBlob:
		if m.BlobRef == "" || m.InlineData != "" {
			return fmt.Errorf("blob media %s must carry a blobRef and no inline payload", m.FileName)
		}
	case StorageInline:
		if m.InlineData == "" || m.BlobRef != "" {
			return fmt.Errorf("inline media %s must carry an inline payload and no blobRef", m.FileName)
		}
	default:
		return fmt.Errorf("unknown storage kind %q", m.StorageKind)
	}
	return nil
}

// IsVideo reports whether a mime type is a video type.
func IsVideo(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "video/")
}

// ContextKeyFor builds the cache/listing key of an event or gallery.
func ContextKeyFor(eventID, galleryID string) string {
	if eventID == "" {
		return ""
	}
	if galleryID == "" {
		return "event:" + eventID
	}
	return "event:" + eventID + ":gallery:" + galleryID
}
