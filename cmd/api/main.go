package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrfare/backend/internal/config"
	"qrfare/backend/internal/db"
	"qrfare/backend/internal/http/handlers"
	"qrfare/backend/internal/http/middleware"
	"qrfare/backend/internal/integrations"
	"qrfare/backend/internal/integrations/oppwa"
	"qrfare/backend/internal/integrations/saptco"
	"qrfare/backend/internal/integrations/upstream"
	"qrfare/backend/internal/logging"
	"qrfare/backend/internal/payment"
	"qrfare/backend/internal/rate"
	"qrfare/backend/internal/repository"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
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

	logger, cleanup, err := logging.New(cfg.Logging, "api")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	ctx := context.Background()

	var (
		users handlers.UserStore
		store payment.SessionStore
	)
	if !cfg.DBDisabled {
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
		users = repo
		store = repo
	} else {
		logger.Warn("db_disabled", "status", "running without user or session storage")
	}

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

	service := payment.NewService(backend, gateway, store, archive, payment.OptionsFromConfig(cfg), logger)
	service.WithBackendSessions(func() (payment.Backend, error) {
		return backend.NewSession()
	})

	h := handlers.New(users, service, cfg, logger)
	purchaseLimiter := rate.NewKeyedLimiter(10, time.Minute)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(handlers.FlowTimeout(cfg) + 5*time.Second))
	r.Use(middleware.OptionalSession(cfg.SessionSecret))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/users", h.RegisterUser)
	r.Get("/me", h.Me)

	r.Route("/qr-payment", func(r chi.Router) {
		r.With(middleware.RateLimitByIP(purchaseLimiter)).Post("/purchase", h.StartQRPurchase)
		r.Get("/result", h.QRPaymentResult)
		r.Get("/success", h.QRPaymentSuccess)
		r.Get("/fail", h.QRPaymentFail)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		logger.Info("api_listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown", "service", "api")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
}
