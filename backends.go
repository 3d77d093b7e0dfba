package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/invalidate"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

const connectTimeout = 10 * time.Second

// backends holds the configured stores and the clients behind them.
type backends struct {
	blobs     blobstore.Store
	meta      metastore.Store
	responses invalidate.ResponseCache
	bus       invalidate.Bus

	mongo *mongo.Client
	redis *redis.Client
}

func openBackends(ctx context.Context, cfg types.AppConfig) (*backends, error) {
	b := &backends{}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if cfg.BlobStore.Kind == "gridfs" || cfg.MetaStore.Kind == "mongo" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo %s: %w", cfg.Mongo.URI, err)
		}
		b.mongo = client
		tool.DefaultLogger.Infof("[Backend] MongoDB client for %s/%s", cfg.Mongo.URI, cfg.Mongo.Database)
	}
	if cfg.ResponseCache.Kind == "redis" || cfg.Events.Kind == "redis" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		tool.DefaultLogger.Infof("[Backend] Redis at %s", cfg.Redis.Addr)
	}

	var err error
	if b.blobs, err = b.openBlobStore(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	if b.meta, err = b.openMetaStore(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}

	switch cfg.ResponseCache.Kind {
	case "redis":
		b.responses = invalidate.NewRedisResponseCache(b.redis, cfg.ResponseCache.TTL)
	default:
		b.responses = invalidate.NewMemoryResponseCache(cfg.ResponseCache.TTL)
	}
	switch cfg.Events.Kind {
	case "redis":
		b.bus = invalidate.NewRedisBus(b.redis, cfg.Events.Channel)
	default:
		b.bus = invalidate.NewLocalBus()
	}
	tool.DefaultLogger.Infof("[Backend] blobs=%s meta=%s responses=%s events=%s",
		cfg.BlobStore.Kind, cfg.MetaStore.Kind, cfg.ResponseCache.Kind, cfg.Events.Kind)
	return b, nil
}

func (b *backends) openBlobStore(ctx context.Context, cfg types.AppConfig) (blobstore.Store, error) {
	switch cfg.BlobStore.Kind {
	case "gridfs":
		return blobstore.NewGridFSStore(b.mongo, b.mongo.Database(cfg.Mongo.Database), cfg.BlobStore.GridFSName, cfg.BlobStore.ChunkSizeKB)
	case "minio":
		return blobstore.NewMinioStore(ctx, cfg.BlobStore.Minio)
	case "memory":
		tool.DefaultLogger.Warn("[Backend] in-memory blob store, media is lost on restart")
		return blobstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown blob store %q", cfg.BlobStore.Kind)
}

func (b *backends) openMetaStore(ctx context.Context, cfg types.AppConfig) (metastore.Store, error) {
	switch cfg.MetaStore.Kind {
	case "mongo":
		return metastore.NewMongoStore(ctx, b.mongo, b.mongo.Database(cfg.Mongo.Database), cfg.MetaStore.Collection)
	case "memory":
		return metastore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown metadata store %q", cfg.MetaStore.Kind)
}

func (b *backends) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if b.mongo != nil {
		if err := b.mongo.Disconnect(ctx); err != nil {
			tool.DefaultLogger.Warnf("[Backend] mongo disconnect: %v", err)
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			tool.DefaultLogger.Warnf("[Backend] redis close: %v", err)
		}
	}
}
