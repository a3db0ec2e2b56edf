package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/attendance"
	"checkin/internal/auditor"
	"checkin/internal/config"
	"checkin/internal/logger"
	"checkin/internal/queue"
	"checkin/internal/store"
)

// Worker audits the shared record collection and consumes audit events.
func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Close()
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("shutdown signal received")
		cancel()
	}()

	backends, err := store.Open(ctx, cfg, 1)
	if err != nil {
		logger.Errorf("backends: %v", err)
		return
	}
	defer backends.Close()
	if cfg.RecordBackend == "memory" {
		logger.Warningf("memory record backend: the worker only sees its own, empty collection")
	}

	// a memory queue cannot carry events from another process
	var events queue.Queue
	if cfg.EventsBackend == "redis" {
		events = backends.Events
	}

	aud := auditor.New(backends.Records, attendance.Options{
		Location:   cfg.Location(),
		DateLayout: cfg.DateLayout,
		TimeLayout: cfg.TimeLayout,
	}, events)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		rep := aud.Report()
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"pushes":     aud.Ledger().Pushes(),
			"records":    rep.Total,
			"today":      rep.Today,
			"duplicates": len(rep.Duplicates),
		})
	})
	srv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: r, ReadTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	logger.Infof("auditor started, watching collection %s", cfg.Collection)
	if err := aud.Run(ctx); err != nil {
		logger.Errorf("auditor: %v", err)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	logger.Infof("worker stopped")
}
