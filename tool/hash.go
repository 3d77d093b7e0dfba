package tool

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

func GenerateRandomUUID() string {
	return uuid.New().String()
}

// GenerateSessionID returns an unguessable upload id (uuid v4, no dashes).
func GenerateSessionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GenerateShortID returns a short hex id, used for instance origins in logs and events.
func GenerateShortID() string {
	b := make([]byte, 4) // 4 bytes = 8 hex chars
	if _, err := rand.Read(b); err != nil {
		return GenerateRandomUUID()[:8] // fallback
	}
	return hex.EncodeToString(b)
}

// GenerateStorageName builds the stored file name. The user-supplied name only
// contributes its extension, falling back to one derived from the mime type.
func GenerateStorageName(originalName, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !isSafeExt(ext) {
		ext = ""
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return uuid.New().String() + ext
}

func isSafeExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// HashETag returns a quoted strong ETag over the given parts.
func HashETag(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}
