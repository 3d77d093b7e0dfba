package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/eventmedia/api/controllers"
	"github.com/moyoez/eventmedia/api/middlewares"
	"github.com/moyoez/eventmedia/api/notifyhub"
	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/bytecache"
	"github.com/moyoez/eventmedia/invalidate"
	"github.com/moyoez/eventmedia/mediaserver"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/session"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

// Services are the components the HTTP surface is built on.
type Services struct {
	Sessions    *session.Manager
	Media       *mediaserver.Server
	Coordinator *invalidate.Coordinator
	Responses   invalidate.ResponseCache
	Meta        metastore.Store
	Blobs       blobstore.Store
	Cache       *bytecache.Cache
	Hub         *notifyhub.Hub
}

// Server represents the HTTP API server for media uploads and delivery
type Server struct {
	port     int
	cfg      types.AppConfig
	services Services
	engine   *gin.Engine
	server   *http.Server
	mu       sync.RWMutex
}

func NewServer(port int, cfg types.AppConfig, services Services) *Server {
	return &Server{
		port:     port,
		cfg:      cfg,
		services: services,
	}
}

func (s *Server) setupRoutes() *gin.Engine {
	if tool.DefaultLogger.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middlewares.AllowAllCORS())

	sessionCtrl := controllers.NewSessionController(s.services.Sessions)
	mediaCtrl := controllers.NewMediaController(s.services.Media, s.services.Meta, s.services.Coordinator, s.services.Responses, s.cfg.Cache.InlineMaxBytes)
	invalidateCtrl := controllers.NewInvalidateController(s.services.Coordinator)
	statusCtrl := controllers.NewStatusController(s.services.Cache, s.services.Blobs, s.services.Meta)

	engine.GET("/healthz", statusCtrl.HandleHealthz)
	engine.GET("/readyz", statusCtrl.HandleReadyz)

	media := engine.Group("/media")
	{
		media.POST("/sessions", sessionCtrl.HandleInit)
		media.GET("/sessions/:uploadId", sessionCtrl.HandleProgress)
		media.PUT("/sessions/:uploadId/chunks/:index", middlewares.ChunkRateLimit(s.cfg.RateLimit), sessionCtrl.HandlePutChunk)
		media.POST("/sessions/:uploadId/complete", sessionCtrl.HandleComplete)
		media.DELETE("/sessions/:uploadId", sessionCtrl.HandleCancel)

		media.GET("/files/:fileName", mediaCtrl.HandleServe)
		media.HEAD("/files/:fileName", mediaCtrl.HandleServe)
		media.DELETE("/files/:fileName", mediaCtrl.HandleDelete)
		media.POST("/inline", mediaCtrl.HandleInlineUpload)
		media.GET("/contexts/:contextKey", mediaCtrl.HandleListContext)

		media.POST("/invalidate", invalidateCtrl.HandleInvalidate)
		media.GET("/cache/stats", middlewares.OnlyAllowLocal, statusCtrl.HandleCacheStats)
		if s.services.Hub != nil {
			media.GET("/events", notifyhub.HandleNotifyWS(s.services.Hub))
		}
	}
	return engine
}

// Handler builds the routes without listening, for tests and embedding.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = s.setupRoutes()
	}
	return s.engine
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: handler,
	}
	srv := s.server
	s.mu.Unlock()

	tool.DefaultLogger.Infof("Starting API server on http://0.0.0.0:%d", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
