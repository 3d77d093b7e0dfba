package invalidate

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/bytecache"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

type Deps struct {
	Cache     *bytecache.Cache
	Responses ResponseCache
	Bus       Bus
	Blobs     blobstore.Store
	Meta      metastore.Store
	Logger    *log.Logger
}

// Coordinator drops every cached view of a media object or context after a
// mutation and tells the other instances to do the same.
type Coordinator struct {
	cache     *bytecache.Cache
	responses ResponseCache
	bus       Bus
	blobs     blobstore.Store
	meta      metastore.Store
	origin    string
	logger    *log.Logger
	now       func() time.Time
}

func New(d Deps) *Coordinator {
	logger := d.Logger
	if logger == nil {
		logger = tool.DefaultLogger
	}
	if d.Bus == nil {
		d.Bus = NewLocalBus()
	}
	return &Coordinator{
		cache:     d.Cache,
		responses: d.Responses,
		bus:       d.Bus,
		blobs:     d.Blobs,
		meta:      d.Meta,
		origin:    tool.GenerateShortID(),
		logger:    logger,
		now:       time.Now,
	}
}

// Origin identifies this instance on the bus.
func (c *Coordinator) Origin() string {
	return c.origin
}

// OnMediaMutated runs after a new object became visible.
func (c *Coordinator) OnMediaMutated(ctx context.Context, fileName, contextKey string) error {
	return c.Invalidate(ctx, types.InvalidationEvent{
		Kind:       types.MutationUpload,
		FileName:   fileName,
		ContextKey: contextKey,
	})
}

// Invalidate clears local caches for the event and publishes it. Local state is
// always cleared first, so a publish failure only affects other instances.
func (c *Coordinator) Invalidate(ctx context.Context, ev types.InvalidationEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	ev.Origin = c.origin
	if ev.At.IsZero() {
		ev.At = c.now().UTC()
	}

	err := c.apply(ctx, ev)
	if pubErr := c.bus.Publish(ctx, ev); pubErr != nil {
		c.logger.Errorf("[Invalidate] publish %s for %s failed: %v", ev.Kind, ev.ContextKey, pubErr)
		err = errors.Join(err, pubErr)
	}
	return err
}

// Apply handles an event received from the bus. Events this instance published are skipped.
func (c *Coordinator) Apply(ctx context.Context, ev types.InvalidationEvent) error {
	if ev.Origin != "" && ev.Origin == c.origin {
		return nil
	}
	return c.apply(ctx, ev)
}

func (c *Coordinator) apply(ctx context.Context, ev types.InvalidationEvent) error {
	if ev.FileName != "" && c.cache != nil {
		c.cache.Delete(ev.FileName)
	}
	if c.responses == nil {
		return nil
	}

	keys, patterns := eventKeys(ev)
	var errs []error
	if err := c.responses.Delete(ctx, keys...); err != nil {
		errs = append(errs, err)
	}
	removed := 0
	for _, p := range patterns {
		n, err := c.responses.DeletePattern(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed += n
	}
	c.logger.Debugf("[Invalidate] %s %s: %d keys, %d pattern matches", ev.Kind, ev.ContextKey, len(keys), removed)
	return errors.Join(errs...)
}

// Run applies remote events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	events, cancel, err := c.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.Apply(ctx, ev); err != nil {
				c.logger.Warnf("[Invalidate] applying remote %s for %s: %v", ev.Kind, ev.ContextKey, err)
			}
		}
	}
}

// DeleteMedia removes a descriptor and its blob, then invalidates. The descriptor
// goes first since a blob without a descriptor is unreachable.
func (c *Coordinator) DeleteMedia(ctx context.Context, fileName string) error {
	obj, err := c.meta.Get(ctx, fileName)
	if err != nil {
		return err
	}
	if err := c.meta.Delete(ctx, fileName); err != nil {
		return err
	}
	if obj.StorageKind == types.StorageBlob && c.blobs != nil {
		if err := c.blobs.Delete(ctx, fileName); err != nil && !types.IsKind(err, types.KindNotFound) {
			c.logger.Errorf("[Invalidate] blob %s left behind after descriptor delete: %v", fileName, err)
		}
	}
	err = c.Invalidate(ctx, types.InvalidationEvent{
		Kind:       types.MutationDelete,
		FileName:   fileName,
		ContextKey: obj.ContextKey,
	})
	if err != nil {
		// the delete itself went through
		c.logger.Errorf("[Invalidate] %s deleted but invalidation was incomplete: %v", fileName, err)
	}
	return nil
}

func validateEvent(ev types.InvalidationEvent) error {
	switch ev.Kind {
	case types.MutationUpload, types.MutationDelete, types.MutationReorder, types.MutationPublish:
	default:
		return types.ValidationError("unknown mutation kind %q", ev.Kind)
	}
	if ev.FileName == "" && ev.ContextKey == "" && len(ev.Keys) == 0 && len(ev.Patterns) == 0 {
		return types.ValidationError("%s event names nothing to invalidate", ev.Kind)
	}
	return nil
}

func eventKeys(ev types.InvalidationEvent) (keys, patterns []string) {
	keys = append(keys, ev.Keys...)
	patterns = append(patterns, ev.Patterns...)
	if ev.ContextKey != "" {
		keys = append(keys, ListKey(ev.ContextKey))
		patterns = append(patterns, ListPattern(ev.ContextKey))
	}
	return keys, patterns
}
