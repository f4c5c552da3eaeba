package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"qrfare/backend/internal/config"
	authmw "qrfare/backend/internal/http/middleware"
	"qrfare/backend/internal/models"
	"qrfare/backend/internal/payment"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// UserStore is the part of the repository the user endpoints need.
type UserStore interface {
	RegisterUser(ctx context.Context, params models.RegisterUserParams) (models.User, bool, error)
	GetUserByPhone(ctx context.Context, phone string) (models.User, error)
}

// PaymentFlow is implemented by *payment.Service.
type PaymentFlow interface {
	StartPurchase(ctx context.Context, req payment.PurchaseRequest) payment.PurchaseResult
	HandleCallback(ctx context.Context, cb payment.Callback) payment.Result
}

type Handler struct {
	users     UserStore
	payments  PaymentFlow
	cfg       *config.Config
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// New builds the handler set. users may be nil when the database is disabled;
// a nil cfg is treated as an empty production config.
func New(users UserStore, payments PaymentFlow, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		users:     users,
		payments:  payments,
		cfg:       cfg,
		logger:    logger,
		validator: validator.New(),
		now:       time.Now,
	}
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

// withFlowTimeout bounds a full purchase or callback run: every upstream call
// plus the settle delay and confirm poll backoff.
func (h *Handler) withFlowTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, FlowTimeout(h.cfg))
}

// FlowTimeout is the longest a purchase or callback may take end to end.
func FlowTimeout(cfg *config.Config) time.Duration {
	if cfg == nil {
		return 30 * time.Second
	}
	attempts := cfg.Payment.ConfirmPollAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(0)
	for i := 1; i < attempts; i++ {
		backoff += cfg.Payment.ConfirmPollBackoff << (i - 1)
	}
	total := cfg.Gateway.RequestTimeout +
		cfg.Backend.RequestTimeout*time.Duration(2+attempts) +
		cfg.Payment.SettleDelay +
		backoff +
		5*time.Second
	return total
}

func (h *Handler) loggerForRequest(r *http.Request) *slog.Logger {
	logger := h.logger
	if logger == nil {
		return slog.Default()
	}
	if reqID := chimw.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if userID, ok := authmw.UserIDFromContext(r.Context()); ok {
		logger = logger.With("user_id", userID)
	}
	return logger
}
