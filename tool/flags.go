package tool

import (
	"flag"

	"github.com/moyoez/eventmedia/types"
)

// SetFlags parses CLI flags and returns the override config.
func SetFlags() types.Config {
	var cfg types.Config
	flag.StringVar(&cfg.Log, "log", "", "log mode: dev|prod|none")
	flag.StringVar(&cfg.UseConfigPath, "useConfigPath", "", "override config file path")
	flag.IntVar(&cfg.UsePort, "usePort", 0, "override listen port")
	flag.StringVar(&cfg.UseStagingDir, "useStagingDir", "", "override chunk staging directory")
	flag.StringVar(&cfg.UseBlobStore, "useBlobStore", "", "blob backend: gridfs|minio|memory")
	flag.StringVar(&cfg.UseMetaStore, "useMetaStore", "", "descriptor backend: mongo|memory")
	flag.StringVar(&cfg.UseRedisAddr, "useRedisAddr", "", "redis address, switches response cache and events to redis")
	flag.Parse()
	return cfg
}

// ApplyFlagOverrides merges non-empty flag values into the loaded config.
func ApplyFlagOverrides(appCfg *types.AppConfig, cfg types.Config) {
	if cfg.UsePort > 0 {
		appCfg.Port = cfg.UsePort
	}
	if cfg.UseStagingDir != "" {
		appCfg.StagingDir = cfg.UseStagingDir
	}
	if cfg.UseBlobStore != "" {
		appCfg.BlobStore.Kind = cfg.UseBlobStore
	}
	if cfg.UseMetaStore != "" {
		appCfg.MetaStore.Kind = cfg.UseMetaStore
	}
	if cfg.UseRedisAddr != "" {
		appCfg.Redis.Addr = cfg.UseRedisAddr
		appCfg.ResponseCache.Kind = "redis"
		appCfg.Events.Kind = "redis"
	}
}
