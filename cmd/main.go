package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/parlo-ai/voice-gateway/internal/api"
	appconfig "github.com/parlo-ai/voice-gateway/internal/config"
	apphttp "github.com/parlo-ai/voice-gateway/internal/http"
	applogger "github.com/parlo-ai/voice-gateway/internal/logger"
	"github.com/parlo-ai/voice-gateway/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	apiClient := api.NewClient(cfg.Backend.APIBaseURL, cfg.Backend.AccessToken, logger)
	wsHandler := ws.NewHandler(logger, cfg, apiClient)
	router := apphttp.NewRouter(cfg, wsHandler, apiClient, logger)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
