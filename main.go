package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/moyoez/eventmedia/api"
	"github.com/moyoez/eventmedia/api/notifyhub"
	"github.com/moyoez/eventmedia/bytecache"
	"github.com/moyoez/eventmedia/invalidate"
	"github.com/moyoez/eventmedia/mediaserver"
	"github.com/moyoez/eventmedia/session"
	"github.com/moyoez/eventmedia/tool"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := tool.SetFlags()
	appCfg, err := tool.LoadConfig(cfg.UseConfigPath)
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
	tool.ApplyFlagOverrides(&appCfg, cfg)

	// initialize logger
	tool.InitLogger()
	if cfg.Log == "" {
		tool.DefaultLogger.SetLevel(log.DebugLevel)
	} else {
		switch strings.ToLower(cfg.Log) {
		case "dev":
			tool.DefaultLogger.SetLevel(log.DebugLevel)
		case "prod":
			tool.DefaultLogger.SetLevel(log.InfoLevel)
		case "none":
			tool.DefaultLogger.SetLevel(log.FatalLevel)
		default:
			tool.DefaultLogger.Warnf("Unknown log mode %q, using debug level", cfg.Log)
			tool.DefaultLogger.SetLevel(log.DebugLevel)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, appCfg)
	if err != nil {
		tool.DefaultLogger.Fatalf("Backend startup failed: %v", err)
	}
	defer b.Close()

	cache := bytecache.New(appCfg.Cache.BudgetBytes)
	coordinator := invalidate.New(invalidate.Deps{
		Cache:     cache,
		Responses: b.responses,
		Bus:       b.bus,
		Blobs:     b.blobs,
		Meta:      b.meta,
		Logger:    tool.DefaultLogger.WithPrefix("invalidate"),
	})
	manager, err := session.NewManager(session.Deps{
		Store:       session.NewMemoryStore(),
		Blobs:       b.blobs,
		Meta:        b.meta,
		Notifier:    coordinator,
		StagingRoot: appCfg.StagingDir,
		Config:      appCfg.Session,
		Logger:      tool.DefaultLogger.WithPrefix("session"),
	})
	if err != nil {
		tool.DefaultLogger.Fatalf("Session manager startup failed: %v", err)
	}
	if n, err := manager.SweepOrphans(ctx); err != nil {
		tool.DefaultLogger.Warnf("Staging sweep failed: %v", err)
	} else if n > 0 {
		tool.DefaultLogger.Infof("Removed %d orphaned staging directories", n)
	}
	reaper := manager.StartReaper(appCfg.Session.ReapInterval, appCfg.Session.IdleTimeout)
	defer reaper.Stop()

	hub := notifyhub.New()
	go func() {
		if err := coordinator.Run(ctx); err != nil {
			tool.DefaultLogger.Errorf("Invalidation listener stopped: %v", err)
		}
	}()
	go func() {
		if err := hub.Run(ctx, b.bus); err != nil {
			tool.DefaultLogger.Errorf("Event stream stopped: %v", err)
		}
	}()

	media := mediaserver.New(b.meta, b.blobs, cache, appCfg.Serving, appCfg.Cache.HotObjectMaxBytes)
	apiServer := api.NewServer(appCfg.Port, appCfg, api.Services{
		Sessions:    manager,
		Media:       media,
		Coordinator: coordinator,
		Responses:   b.responses,
		Meta:        b.meta,
		Blobs:       b.blobs,
		Cache:       cache,
		Hub:         hub,
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			tool.DefaultLogger.Fatalf("API server startup failed: %v", err)
		}
	}()

	<-ctx.Done()
	tool.DefaultLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		tool.DefaultLogger.Errorf("API server shutdown: %v", err)
	}
}
