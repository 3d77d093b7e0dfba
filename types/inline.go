package types

// InlineUploadRequest is the legacy ingest path for small media sent as one
// base64 payload instead of a chunked session.
type InlineUploadRequest struct {
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	Data      string `json:"data"`
	EventID   string `json:"eventId"`
	GalleryID string `json:"galleryId,omitempty"`
}
