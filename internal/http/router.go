package http

import (
	"io/fs"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parlo-ai/voice-gateway/internal/api"
	appconfig "github.com/parlo-ai/voice-gateway/internal/config"
	"github.com/parlo-ai/voice-gateway/internal/ws"
	"github.com/parlo-ai/voice-gateway/webassets"
)

// NewRouter executes the newRouter function.
func NewRouter(cfg appconfig.Config, wsHandler *ws.Handler, apiClient *api.Client, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/client-ws", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	handlers := newAPIHandlers(cfg, apiClient, logger)
	limiter := newRateLimiter(logger, 5, 10)
	apiGroup := router.Group("/api", limiter.middleware())
	apiGroup.GET("/characters", handlers.characters)
	apiGroup.POST("/check-block", handlers.checkBlock)
	apiGroup.GET("/feedback/:session_id", handlers.feedback)
	apiGroup.GET("/transcripts/:character_id", handlers.transcripts)
	apiGroup.GET("/transcripts/:character_id/:uid", handlers.transcript)
	apiGroup.DELETE("/transcripts/:character_id/:uid", handlers.deleteTranscript)
	apiGroup.POST("/pre-registration", handlers.preRegister)

	if !mountEmbeddedFrontend(router, logger) {
		router.Static("/app", cfg.FrontendDir)
		router.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.FrontendDir, "index.html"))
		})
	}

	return router
}

func mountEmbeddedFrontend(router *gin.Engine, logger *zap.Logger) bool {
	embeddedRoot, err := webassets.Subdir("app")
	if err != nil {
		if logger != nil {
			logger.Warn("failed to load embedded frontend assets; falling back to disk", zap.Error(err))
		}
		return false
	}

	indexHTML, err := fs.ReadFile(embeddedRoot, "index.html")
	if err != nil {
		if logger != nil {
			logger.Warn("missing embedded index.html; falling back to disk", zap.Error(err))
		}
		return false
	}

	if logger != nil {
		logger.Info("serving embedded frontend assets", zap.String("source", "webassets/app"))
	}

	router.StaticFS("/app", http.FS(embeddedRoot))
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	return true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
