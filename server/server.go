// Package server assembles the bridge and exposes it over MCP, either on
// stdio for a single local client or as a streamable HTTP endpoint behind a
// small gin router with health and queue introspection routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/thingsmcp/thingsmcp/engine/applescript"
	"github.com/thingsmcp/thingsmcp/engine/cache"
	"github.com/thingsmcp/thingsmcp/engine/queue"
	"github.com/thingsmcp/thingsmcp/engine/router"
	"github.com/thingsmcp/thingsmcp/engine/scheduler"
	"github.com/thingsmcp/thingsmcp/engine/shaper"
	"github.com/thingsmcp/thingsmcp/engine/tagpolicy"
	"github.com/thingsmcp/thingsmcp/engine/thingsdb"
	"github.com/thingsmcp/thingsmcp/engine/tools"
	"github.com/thingsmcp/thingsmcp/engine/urlscheme"
	"github.com/thingsmcp/thingsmcp/pkg/config"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
	"github.com/thingsmcp/thingsmcp/pkg/version"
)

// Server owns the assembled bridge: the router with its backends, the write
// queue, and the MCP surface.
type Server struct {
	cfg    *config.Config
	cache  *cache.Cache
	db     *thingsdb.Reader
	queue  *queue.Queue
	router *router.Router
	mcp    *mcpserver.MCPServer

	httpServer *http.Server
}

// New wires every component from configuration. The database is optional:
// when it cannot be opened the router runs automation-only.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logger.FromContext(ctx)

	readCache, err := cache.New(cache.Config{
		DefaultTTL: cfg.Cache.TTLDuration(),
		MaxEntries: cfg.Cache.MaxEntries,
		PerOpTTL:   cfg.Cache.PerOpTTLDurations(),
	})
	if err != nil {
		return nil, err
	}

	db, err := thingsdb.Open(ctx, cfg.Things.DBPath)
	if err != nil {
		log.Warn("things database unavailable, reads will use automation", "error", err)
		db = nil
	}

	writeQueue, err := queue.New(queue.Config{
		MaxDepth:    cfg.Queue.MaxDepth,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Timeout:     cfg.Queue.TimeoutDuration(),
		MaxWait:     cfg.Queue.MaxWaitDuration(),
		HistorySize: cfg.Queue.HistorySize,
	})
	if err != nil {
		return nil, err
	}

	tagEngine, err := tagpolicy.New(tagpolicy.Policy(cfg.Tags.Policy))
	if err != nil {
		return nil, err
	}

	exec := applescript.NewExecutor(cfg.Things.OsascriptBin)
	formatter := applescript.NewFormatter()
	invoker := urlscheme.NewInvoker(cfg.Things.AuthToken, cfg.Things.OpenBin)
	sched := scheduler.New(invoker, exec, formatter, cfg.Queue.TimeoutDuration())

	rt := router.New(
		router.Config{
			ReadPool:      int(cfg.Reads.PoolSize),
			BulkInflight:  int(cfg.Bulk.MaxInFlight),
			ScriptTimeout: cfg.Queue.TimeoutDuration(),
		},
		readCache, db, exec, formatter, invoker, writeQueue, sched, tagEngine,
		shaper.New(cfg.Shaper.MaxResponseBytes),
	)

	mcp := mcpserver.NewMCPServer(
		"things-mcp",
		version.Get().Version,
		mcpserver.WithToolCapabilities(false),
	)
	mcp.AddTools(tools.New(rt).All()...)

	return &Server{
		cfg:    cfg,
		cache:  readCache,
		db:     db,
		queue:  writeQueue,
		router: rt,
		mcp:    mcp,
	}, nil
}

// Run starts the queue dispatcher and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	s.queue.Start(ctx)

	var err error
	switch s.cfg.Server.Transport {
	case "http":
		err = s.runHTTP(ctx)
	default:
		log.Info("serving MCP on stdio")
		err = mcpserver.ServeStdio(s.mcp)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	s.shutdown(stopCtx)
	return err
}

// runHTTP serves the MCP endpoint under gin alongside health and queue
// introspection routes.
func (s *Server) runHTTP(ctx context.Context) error {
	log := logger.FromContext(ctx)
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"version":   version.Get().Version,
		})
	})
	engine.GET("/queue", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.queue.Status())
	})

	stream := mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithStateLess(true),
	)
	engine.Any("/mcp", gin.WrapH(stream))
	engine.Any("/mcp/*path", gin.WrapH(stream))

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info("serving MCP over http", "addr", addr)
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeoutDuration())
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
		return <-errChan
	}
}

// requestID echoes the caller's X-Request-ID or assigns a fresh one so
// responses can be correlated with server logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// shutdown drains the queue and releases backend handles.
func (s *Server) shutdown(ctx context.Context) {
	log := logger.FromContext(ctx)
	if err := s.queue.Stop(ctx); err != nil {
		log.Error("queue drain failed", "error", err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Error("database close failed", "error", err)
		}
	}
	s.cache.Close()
}
