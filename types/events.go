package types

import "time"

// MutationKind names the write-side operation behind an invalidation.
type MutationKind string

const (
	MutationUpload  MutationKind = "upload"
	MutationDelete  MutationKind = "delete"
	MutationReorder MutationKind = "reorder"
	MutationPublish MutationKind = "publish"
)

// InvalidationEvent is published after every successful mutation so other
// processes and browser tabs can drop stale cached state.
type InvalidationEvent struct {
	Kind       MutationKind `json:"kind"`
	FileName   string       `json:"fileName,omitempty"`
	ContextKey string       `json:"contextKey,omitempty"`
	Keys       []string     `json:"keys,omitempty"`
	Patterns   []string     `json:"patterns,omitempty"`
	Origin     string       `json:"origin,omitempty"`
	At         time.Time    `json:"at"`
}
