package types

import "time"

// AppConfig represents the application configuration loaded from config file
type AppConfig struct {
	Port          int                 `yaml:"port"`
	StagingDir    string              `yaml:"stagingDir"`
	Session       SessionConfig       `yaml:"session"`
	BlobStore     BlobStoreConfig     `yaml:"blobStore"`
	MetaStore     MetaStoreConfig     `yaml:"metaStore"`
	Cache         CacheConfig         `yaml:"cache"`
	ResponseCache ResponseCacheConfig `yaml:"responseCache"`
	Events        EventsConfig        `yaml:"events"`
	Serving       ServingConfig       `yaml:"serving"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Redis         RedisConfig         `yaml:"redis"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	ReapInterval  time.Duration `yaml:"reapInterval"`
	MaxChunks     int           `yaml:"maxChunks"`
	MaxChunkBytes int64         `yaml:"maxChunkBytes"`
	MaxFileBytes  int64         `yaml:"maxFileBytes"`
}

// BlobStoreConfig selects the blob backend: gridfs, minio or memory.
type BlobStoreConfig struct {
	Kind        string      `yaml:"kind"`
	GridFSName  string      `yaml:"gridfsBucket"`
	ChunkSizeKB int32       `yaml:"gridfsChunkSizeKB"`
	Minio       MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
	PartSize  uint64 `yaml:"partSize"`
}

// MetaStoreConfig selects the descriptor backend: mongo or memory.
type MetaStoreConfig struct {
	Kind       string `yaml:"kind"`
	Collection string `yaml:"collection"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	BudgetBytes       int64 `yaml:"budgetBytes"`
	HotObjectMaxBytes int64 `yaml:"hotObjectMaxBytes"`
	InlineMaxBytes    int64 `yaml:"inlineMaxBytes"`
}

// ResponseCacheConfig selects memory or redis for listing caches.
type ResponseCacheConfig struct {
	Kind string        `yaml:"kind"`
	TTL  time.Duration `yaml:"ttl"`
}

// EventsConfig selects the invalidation bus: local or redis.
type EventsConfig struct {
	Kind    string `yaml:"kind"`
	Channel string `yaml:"channel"`
}

type ServingConfig struct {
	LookaheadBytes    int64  `yaml:"lookaheadBytes"`
	RangeCacheControl string `yaml:"rangeCacheControl"`
	FullCacheControl  string `yaml:"fullCacheControl"`
}

type RateLimitConfig struct {
	ChunksPerSecond float64 `yaml:"chunksPerSecond"`
	Burst           int     `yaml:"burst"`
}

// Config holds runtime overrides from CLI flags
type Config struct {
	Log           string
	UseConfigPath string
	UsePort       int
	UseStagingDir string
	UseBlobStore  string // gridfs | minio | memory
	UseMetaStore  string // mongo | memory
	UseRedisAddr  string // switches response cache and events to redis when set
}
