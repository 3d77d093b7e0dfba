// Package metastore persists media descriptors. The core only needs a handful
// of fields, so the store is a narrow document interface.
package metastore

import (
	"context"

	"github.com/moyoez/eventmedia/types"
)

type Store interface {
	// Get returns a NotFoundError when fileName has no descriptor.
	Get(ctx context.Context, fileName string) (*types.MediaObject, error)
	Put(ctx context.Context, obj *types.MediaObject) error
	// Delete is a no-op for unknown names.
	Delete(ctx context.Context, fileName string) error
	// ListByContext returns descriptors of one context, oldest first.
	ListByContext(ctx context.Context, contextKey string) ([]types.MediaObject, error)
	Ping(ctx context.Context) error
}
