package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"checkin/internal/attendance"
	"checkin/internal/auditor"
	"checkin/internal/capture"
	"checkin/internal/cloudinary"
	"checkin/internal/config"
	"checkin/internal/credentials"
	"checkin/internal/httpapi"
	"checkin/internal/logger"
	"checkin/internal/objectstore"
	"checkin/internal/session"
	"checkin/internal/speech"
	"checkin/internal/store"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Close()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logger.Errorf("http server failed: %v", err)
		logger.Close()
		os.Exit(1)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	users, err := credentials.Open(cfg.CredentialsPath)
	if err != nil {
		return err
	}
	defer users.Close()
	logger.Infof("loaded %d users from %s", users.Count(), cfg.CredentialsPath)

	backends, err := store.Open(ctx, cfg, 64)
	if err != nil {
		return err
	}
	defer backends.Close()

	var pipeline *capture.Pipeline
	if cfg.CaptureEnabled {
		objects, err := objectStorage(ctx, cfg)
		if err != nil {
			return err
		}
		pipeline = capture.NewPipeline(objects, cfg.ObjectPrefix, cfg.JPEGQuality)
	} else {
		logger.Warningf("capture disabled: check-ins are recorded without a photo")
	}

	var transcriber speech.Transcriber
	if cfg.SpeechServiceURL != "" || cfg.SpeechSkip {
		client := speech.New(cfg.SpeechServiceURL, cfg.SpeechLanguage, cfg.SpeechSkip)
		if !cfg.SpeechSkip {
			if err := client.Health(ctx); err != nil {
				logger.Warningf("speech service not available: %v", err)
			}
		}
		transcriber = client
	} else {
		logger.Infof("speech service not configured; voice routes disabled")
	}

	ledgerOpts := attendance.Options{
		Location:   cfg.Location(),
		DateLayout: cfg.DateLayout,
		TimeLayout: cfg.TimeLayout,
	}
	sessions := session.NewRegistry(session.Deps{
		Users:       users,
		Records:     backends.Records,
		Pipeline:    pipeline,
		Ledger:      ledgerOpts,
		FrameMaxAge: cfg.FrameMaxAge,
		Events:      backends.Events,
		SessionTTL:  cfg.TokenTTL,
	})
	defer sessions.Close()
	go sessions.RunJanitor(ctx, time.Minute)

	// in-memory backends are only visible to this process
	if cfg.RecordBackend == "memory" || cfg.EventsBackend == "memory" {
		aud := auditor.New(backends.Records, ledgerOpts, backends.Events)
		go func() {
			if err := aud.Run(ctx); err != nil {
				logger.Errorf("auditor stopped: %v", err)
			}
		}()
	}

	api := httpapi.New(httpapi.Config{
		Issuer:       cfg.JWTIssuer,
		SigningKey:   cfg.JWTSigningKey,
		TokenTTL:     cfg.TokenTTL,
		SecureCookie: cfg.Production(),
		RatePerMin:   cfg.RateLimitPerMin,
	}, sessions, transcriber, backends.Checks())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	logger.Infof("shutting down server...")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("server forced shutdown: %v", err)
	}
	logger.Infof("server exited, logging out %d sessions", sessions.Len())
	return nil
}

func objectStorage(ctx context.Context, cfg config.App) (capture.ObjectStorage, error) {
	switch cfg.ObjectBackend {
	case "memory":
		logger.Warningf("photos are kept in memory and lost on restart")
		return objectstore.NewMemory(), nil
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
			return nil, errors.New("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
		}
		logger.Infof("cloudinary configured: %s", cfg.CloudinaryCloudName)
		return cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("S3_BUCKET not set")
		}
		s3, err := objectstore.NewS3(ctx, cfg.S3Bucket, cfg.S3PublicURL)
		if err != nil {
			return nil, err
		}
		logger.Infof("s3 bucket configured: %s", cfg.S3Bucket)
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown object backend %q", cfg.ObjectBackend)
	}
}
