// Package main runs the loyalty HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dogdollars/loyalty/config"
	"github.com/dogdollars/loyalty/internal/auth"
	"github.com/dogdollars/loyalty/internal/bootstrap"
	"github.com/dogdollars/loyalty/internal/loyalty"
	"github.com/dogdollars/loyalty/internal/middleware"
	"github.com/dogdollars/loyalty/internal/worker"
	"github.com/dogdollars/loyalty/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{RequireQueue: cfg.Server.RunWorker}, logger)
	if err != nil {
		logger.Fatal("bootstrap", zap.Error(err))
	}
	defer app.Close()

	loyaltyHandler := loyalty.NewHandler(app.Service, logger)

	var authn gin.HandlerFunc
	if cfg.JWT.Disabled {
		logger.Warn("AUTH_DISABLED set; event routes accept unauthenticated requests")
		authn = middleware.Anonymous()
	} else {
		authn = middleware.JWT(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenTTL))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "queue": app.Queue != nil})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("")
	api.Use(authn)
	{
		producers := middleware.RequireRole(auth.RoleService, auth.RoleAdmin)
		api.POST("/events/earn", producers, loyaltyHandler.Earn)
		api.POST("/events/redeem", producers, loyaltyHandler.Redeem)
		api.POST("/generate-code", producers, loyaltyHandler.GenerateCode)

		if app.Queue != nil {
			webhooks := loyalty.NewWebhookHandler(app.Queue, logger)
			api.POST("/webhooks/earn", producers, webhooks.Earn)
			api.POST("/webhooks/redeem", producers, webhooks.Redeem)
		}

		api.GET("/customers/:id/codes", middleware.RequireRole(auth.RoleAdmin), loyaltyHandler.CustomerCodes)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if cfg.Server.RunWorker && app.Queue != nil {
		processor := worker.NewEventProcessor(app.Service, app.Queue, logger)
		go func() {
			defer close(workerDone)
			processor.Run(workerCtx)
		}()
		logger.Info("event worker started")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	workerCancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("event worker did not stop before shutdown timeout")
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
