package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures so callers can tell "retry" from "restart" from "fix input".
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindNotFound           ErrorKind = "not_found"
	KindIncompleteUpload   ErrorKind = "incomplete_upload"
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	KindDisk               ErrorKind = "disk_error"
	KindInvalidRange       ErrorKind = "invalid_range"
	KindConflict           ErrorKind = "conflict"
	KindAssembly           ErrorKind = "assembly_failed"
)

// MediaError is the typed error surfaced by the session manager and media server.
type MediaError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Received  int // set for incomplete uploads
	Total     int
	Err       error
}

func (e *MediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// Is matches any MediaError of the same kind, so errors.Is(err, &MediaError{Kind: KindNotFound}) works.
func (e *MediaError) Is(target error) bool {
	t, ok := target.(*MediaError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus maps the kind to a response status.
func (e *MediaError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindIncompleteUpload:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	case KindInvalidRange:
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

func ValidationError(format string, args ...any) *MediaError {
	return &MediaError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *MediaError {
	return &MediaError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func IncompleteUploadError(received, total int) *MediaError {
	return &MediaError{
		Kind:      KindIncompleteUpload,
		Message:   fmt.Sprintf("received %d of %d chunks", received, total),
		Retryable: true,
		Received:  received,
		Total:     total,
	}
}

func StorageUnavailableError(msg string, err error) *MediaError {
	return &MediaError{Kind: KindStorageUnavailable, Message: msg, Retryable: true, Err: err}
}

// DiskError is fatal for the session. Retryable means the client may restart the whole upload.
func DiskError(msg string, err error) *MediaError {
	return &MediaError{Kind: KindDisk, Message: msg, Retryable: true, Err: err}
}

// AssemblyError reports a store failure after all chunks arrived. The staged
// chunks are gone by then, so the client restarts the upload.
func AssemblyError(msg string, err error) *MediaError {
	return &MediaError{Kind: KindAssembly, Message: msg, Retryable: true, Err: err}
}

func InvalidRangeError(header string) *MediaError {
	return &MediaError{Kind: KindInvalidRange, Message: fmt.Sprintf("unsatisfiable range %q", header)}
}

func ConflictError(format string, args ...any) *MediaError {
	return &MediaError{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// AsMediaError unwraps err into a *MediaError if it carries one.
func AsMediaError(err error) (*MediaError, bool) {
	var me *MediaError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

func IsKind(err error, kind ErrorKind) bool {
	me, ok := AsMediaError(err)
	return ok && me.Kind == kind
}

func IsRetryable(err error) bool {
	me, ok := AsMediaError(err)
	return ok && me.Retryable
}
