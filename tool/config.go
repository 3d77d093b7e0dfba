package tool

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/eventmedia/types"
)

const (
	MiB = 1 << 20

	DefaultLookaheadBytes    = 2 * MiB
	DefaultRangeCacheControl = "public, max-age=31536000, immutable"
	DefaultFullCacheControl  = "public, max-age=3600"
)

var (
	ConfigPath    = "config.yaml" // be aware that it can be changed, default to ./config.yaml
	CurrentConfig types.AppConfig
)

func DefaultConfig() types.AppConfig {
	return types.AppConfig{
		Port:       8080,
		StagingDir: "staging",
		Session: types.SessionConfig{
			IdleTimeout:   time.Hour,
			ReapInterval:  5 * time.Minute,
			MaxChunks:     10000,
			MaxChunkBytes: 16 * MiB,
			MaxFileBytes:  2048 * MiB,
		},
		BlobStore: types.BlobStoreConfig{
			Kind:        "gridfs",
			GridFSName:  "media",
			ChunkSizeKB: 255,
			Minio: types.MinioConfig{
				Endpoint: "localhost:9000",
				Bucket:   "media",
				PartSize: 16 * MiB,
			},
		},
		MetaStore: types.MetaStoreConfig{
			Kind:       "mongo",
			Collection: "media_objects",
		},
		Mongo: types.MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "eventmedia",
		},
		Redis: types.RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: types.CacheConfig{
			BudgetBytes:       256 * MiB,
			HotObjectMaxBytes: 1 * MiB,
			InlineMaxBytes:    2 * MiB,
		},
		ResponseCache: types.ResponseCacheConfig{
			Kind: "memory",
			TTL:  5 * time.Minute,
		},
		Events: types.EventsConfig{
			Kind:    "local",
			Channel: "media:invalidate",
		},
		Serving: types.ServingConfig{
			LookaheadBytes:    DefaultLookaheadBytes,
			RangeCacheControl: DefaultRangeCacheControl,
			FullCacheControl:  DefaultFullCacheControl,
		},
		RateLimit: types.RateLimitConfig{
			ChunksPerSecond: 20,
			Burst:           40,
		},
	}
}

// fillDefaults restores zero values a partial config file left out.
func fillDefaults(cfg *types.AppConfig) {
	def := DefaultConfig()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = def.StagingDir
	}
	if cfg.Session.IdleTimeout <= 0 {
		cfg.Session.IdleTimeout = def.Session.IdleTimeout
	}
	if cfg.Session.ReapInterval <= 0 {
		cfg.Session.ReapInterval = def.Session.ReapInterval
	}
	if cfg.Session.MaxChunks <= 0 {
		cfg.Session.MaxChunks = def.Session.MaxChunks
	}
	if cfg.Session.MaxChunkBytes <= 0 {
		cfg.Session.MaxChunkBytes = def.Session.MaxChunkBytes
	}
	if cfg.Session.MaxFileBytes <= 0 {
		cfg.Session.MaxFileBytes = def.Session.MaxFileBytes
	}
	if cfg.BlobStore.Kind == "" {
		cfg.BlobStore.Kind = def.BlobStore.Kind
	}
	if cfg.BlobStore.GridFSName == "" {
		cfg.BlobStore.GridFSName = def.BlobStore.GridFSName
	}
	if cfg.BlobStore.ChunkSizeKB <= 0 {
		cfg.BlobStore.ChunkSizeKB = def.BlobStore.ChunkSizeKB
	}
	if cfg.BlobStore.Minio.Bucket == "" {
		cfg.BlobStore.Minio.Bucket = def.BlobStore.Minio.Bucket
	}
	if cfg.BlobStore.Minio.PartSize == 0 {
		cfg.BlobStore.Minio.PartSize = def.BlobStore.Minio.PartSize
	}
	if cfg.MetaStore.Kind == "" {
		cfg.MetaStore.Kind = def.MetaStore.Kind
	}
	if cfg.MetaStore.Collection == "" {
		cfg.MetaStore.Collection = def.MetaStore.Collection
	}
	if cfg.BlobStore.Minio.Endpoint == "" {
		cfg.BlobStore.Minio.Endpoint = def.BlobStore.Minio.Endpoint
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = def.Mongo.URI
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = def.Mongo.Database
	}
	if cfg.Cache.BudgetBytes <= 0 {
		cfg.Cache.BudgetBytes = def.Cache.BudgetBytes
	}
	if cfg.ResponseCache.Kind == "" {
		cfg.ResponseCache.Kind = def.ResponseCache.Kind
	}
	if cfg.ResponseCache.TTL <= 0 {
		cfg.ResponseCache.TTL = def.ResponseCache.TTL
	}
	if cfg.Events.Kind == "" {
		cfg.Events.Kind = def.Events.Kind
	}
	if cfg.Events.Channel == "" {
		cfg.Events.Channel = def.Events.Channel
	}
	if cfg.Serving.LookaheadBytes <= 0 {
		cfg.Serving.LookaheadBytes = def.Serving.LookaheadBytes
	}
	if cfg.Serving.RangeCacheControl == "" {
		cfg.Serving.RangeCacheControl = def.Serving.RangeCacheControl
	}
	if cfg.Serving.FullCacheControl == "" {
		cfg.Serving.FullCacheControl = def.Serving.FullCacheControl
	}
	if cfg.RateLimit.ChunksPerSecond <= 0 {
		cfg.RateLimit.ChunksPerSecond = def.RateLimit.ChunksPerSecond
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
}

func LoadConfig(path string) (types.AppConfig, error) {
	if path == "" {
		path = ConfigPath
	}
	ConfigPath = path

	cfg := DefaultConfig()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := writeDefaultConfig(path, cfg); writeErr != nil {
				return cfg, fmt.Errorf("config file not found, and failed to generate default config: %v", writeErr)
			}
			DefaultLogger.Infof("Created new config file at %s", path)
			CurrentConfig = cfg
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if info.IsDir() {
		return cfg, fmt.Errorf("config file path is a directory: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}
	fillDefaults(&cfg)

	CurrentConfig = cfg
	return cfg, nil
}

func writeDefaultConfig(path string, cfg types.AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func GetCurrentConfig() *types.AppConfig {
	return &CurrentConfig
}
