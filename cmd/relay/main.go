package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ColinNebula/quibish-signaling/internal/config"
	"github.com/ColinNebula/quibish-signaling/internal/handler"
	"github.com/ColinNebula/quibish-signaling/internal/middleware"
	"github.com/ColinNebula/quibish-signaling/internal/relay"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("signaling relay starting",
		zap.String("listen", cfg.ListenAddr),
		zap.Duration("heartbeat", cfg.HeartbeatInterval),
	)

	rly := relay.New(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go rly.Run(ctx)

	h := handler.New(cfg, rly, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Get("/ws", h.WebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/users", h.Users)
	})

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		// No WriteTimeout: the websocket upgrade clears per-connection
		// deadlines, and the relay enforces its own write deadlines.
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	rly.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
