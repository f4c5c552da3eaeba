package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qrfare/backend/internal/config"
	"qrfare/backend/internal/db"
	"qrfare/backend/internal/integrations"
	"qrfare/backend/internal/integrations/oppwa"
	"qrfare/backend/internal/integrations/saptco"
	"qrfare/backend/internal/integrations/upstream"
	"qrfare/backend/internal/logging"
	"qrfare/backend/internal/models"
	"qrfare/backend/internal/payment"
	"qrfare/backend/internal/repository"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("env file error: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.DBDisabled {
		log.Fatalf("config error: the worker needs DATABASE_URL")
	}

	logger, cleanup, err := logging.New(cfg.Logging, "worker")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("schema error", "error", err)
		os.Exit(1)
	}
	repo := repository.New(pool)

	backend, err := saptco.NewClient(saptco.Config{
		BaseURL:  cfg.Backend.BaseURL,
		Username: cfg.Backend.Username,
		Password: cfg.Backend.Password,
		QRFormat: cfg.Backend.QRFormat,
		Timeout:  cfg.Backend.RequestTimeout,
	}, nil, upstream.NewLimiter(cfg.Backend.RateLimitRPS, cfg.Backend.RateBurst), logger)
	if err != nil {
		logger.Error("backend client error", "error", err)
		os.Exit(1)
	}
	gateway := oppwa.NewClient(oppwa.Config{
		Host:        cfg.Gateway.Host,
		EntityID:    cfg.Gateway.EntityID,
		AccessToken: cfg.Gateway.AccessToken,
		Timeout:     cfg.Gateway.RequestTimeout,
	}, nil, upstream.NewLimiter(cfg.Gateway.RateLimitRPS, cfg.Gateway.RateBurst), logger)

	var archive payment.QRArchive
	if cfg.S3.Bucket != "" {
		s3Client, err := integrations.NewS3(ctx, cfg.S3)
		if err != nil {
			logger.Error("s3 error", "error", err)
			os.Exit(1)
		}
		archive = s3Client
	}
	service := payment.NewService(backend, gateway, repo, archive, payment.OptionsFromConfig(cfg), logger)
	service.WithBackendSessions(func() (payment.Backend, error) {
		return backend.NewSession()
	})

	r := &reconciler{
		sessions: repo,
		flow:     service,
		after:    cfg.Worker.ReconcileAfter,
		batch:    cfg.Worker.BatchSize,
		logger:   logger,
	}

	interval := cfg.Worker.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	logger.Info("worker_started", "interval", interval.String(), "reconcile_after", r.after.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.runOnce(ctx); err != nil {
			logger.Error("reconcile_error", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("shutdown", "service", "worker")
			return
		case <-ticker.C:
		}
	}
}

type staleSessions interface {
	ListStalePaymentSessions(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentSession, error)
	ExpirePaymentSession(ctx context.Context, id string) error
}

type callbackFlow interface {
	HandleCallback(ctx context.Context, cb payment.Callback) payment.Result
}

// reconciler settles sessions whose browser never came back from the hosted
// page. Sessions with a checkout id are verified like a callback; the rest
// are expired.
type reconciler struct {
	sessions staleSessions
	flow     callbackFlow
	after    time.Duration
	batch    int
	logger   *slog.Logger
}

type reconcileStats struct {
	Verified int
	Expired  int
	Failed   int
}

func (r *reconciler) runOnce(ctx context.Context) (reconcileStats, error) {
	var stats reconcileStats
	sessions, err := r.sessions.ListStalePaymentSessions(ctx, r.after, r.batch)
	if err != nil {
		return stats, err
	}
	for _, session := range sessions {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		checkoutID := ""
		if session.CheckoutID != nil {
			checkoutID = strings.TrimSpace(*session.CheckoutID)
		}
		if checkoutID == "" {
			if err := r.sessions.ExpirePaymentSession(ctx, session.ID); err != nil {
				stats.Failed++
				r.logger.Warn("reconcile_session", "session_id", session.ID, "status", "expire_failed", "error", err)
				continue
			}
			stats.Expired++
			r.logger.Info("reconcile_session", "session_id", session.ID, "status", "expired")
			continue
		}

		result := r.flow.HandleCallback(ctx, payment.Callback{
			CheckoutID:   checkoutID,
			ResourcePath: checkoutResourcePath(checkoutID),
		})
		stats.Verified++
		r.logger.Info("reconcile_session",
			"session_id", session.ID,
			"status", "verified",
			"state", result.State,
			"label", result.Outcome.StatusLabel,
		)
	}
	return stats, nil
}

func checkoutResourcePath(checkoutID string) string {
	return "/v1/checkouts/" + url.PathEscape(checkoutID) + "/payment"
}
