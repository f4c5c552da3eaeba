package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"qrfare/backend/internal/integrations/saptco"
	"qrfare/backend/internal/integrations/upstream"
	"qrfare/backend/internal/models"
	"qrfare/backend/internal/ticketing"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// State is a step of the purchase and verification flow.
type State string

const (
	StateStart            State = "START"
	StateLoginOK          State = "LOGIN_OK"
	StateInitiated        State = "INITIATED"
	StateAwaitingCallback State = "AWAITING_CALLBACK"
	StateVerified         State = "VERIFIED"
	StateConfirmPending   State = "CONFIRM_PENDING"
	StateConfirmed        State = "CONFIRMED"
	StateRejected         State = "REJECTED"
	StateError            State = "ERROR"
	StateUnknown          State = "UNKNOWN"
)

// Backend is the ticketing backend: session login, 3DS initiation and sale confirmation.
type Backend interface {
	Login(ctx context.Context) error
	Initiate3DS(ctx context.Context, in saptco.ThreeDSRequest) (string, []byte, error)
	Confirm(ctx context.Context, orderNumber string) ([]byte, error)
}

// Gateway verifies hosted payment page callbacks.
type Gateway interface {
	VerifyHostedPayment(ctx context.Context, resourcePath string) ([]byte, error)
}

// SessionStore persists payment sessions. Optional.
type SessionStore interface {
	CreatePaymentSession(ctx context.Context, session models.PaymentSession) (models.PaymentSession, error)
	RecordPaymentSessionOutcome(ctx context.Context, outcome models.PaymentSessionOutcome) error
}

// QRArchive stores rendered fare images. Optional.
type QRArchive interface {
	UploadQRImage(ctx context.Context, name string, png []byte) (string, error)
}

type Options struct {
	SuccessURL          string
	FailURL             string
	DefaultFareID       string
	SuccessCodes        []string
	SettleDelay         time.Duration
	ConfirmPollAttempts int
	ConfirmPollBackoff  time.Duration
	QRSize              int
	QRLevel             qrcode.RecoveryLevel
}

type PurchaseRequest struct {
	Phone  string
	FareID string
}

type PurchaseResult struct {
	State     State   `json:"state"`
	SessionID string  `json:"sessionId,omitempty"`
	ScriptURL string  `json:"scriptUrl,omitempty"`
	Outcome   Outcome `json:"outcome"`
}

// Callback carries the query parameters the hosted page redirects back with.
type Callback struct {
	CheckoutID   string
	ResourcePath string
	OrderNumber  string
}

// Result is the terminal view of one callback. Handlers render it as is.
type Result struct {
	State           State                 `json:"state"`
	Outcome         Outcome               `json:"outcome"`
	Fare            *models.ConfirmedFare `json:"fare,omitempty"`
	QRImage         []byte                `json:"-"`
	QRImageURL      string                `json:"qrImageUrl,omitempty"`
	Warning         string                `json:"warning,omitempty"`
	ConfirmAttempts int                   `json:"confirmAttempts"`
}

// QRDataURI returns the fare QR as an embeddable data URI, or "".
func (r Result) QRDataURI() string {
	return ticketing.QRDataURI(r.QRImage)
}

type Service struct {
	backend Backend
	gateway Gateway
	store   SessionStore
	archive QRArchive
	opts    Options
	codes   CodeSet
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string

	sessions func() (Backend, error)
}

// NewService wires the flow. store and archive may be nil.
func NewService(backend Backend, gateway Gateway, store SessionStore, archive QRArchive, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConfirmPollAttempts <= 0 {
		opts.ConfirmPollAttempts = 1
	}
	if opts.ConfirmPollBackoff <= 0 {
		opts.ConfirmPollBackoff = time.Second
	}
	if opts.QRSize <= 0 {
		opts.QRSize = ticketing.DefaultQRSize
	}
	return &Service{
		backend: backend,
		gateway: gateway,
		store:   store,
		archive: archive,
		opts:    opts,
		codes:   NewCodeSet(opts.SuccessCodes),
		logger:  logger,
		sleep:   sleepContext,
		newID:   func() string { return uuid.NewString() },
	}
}

// WithBackendSessions makes every purchase and callback run against its own
// backend session from newSession, so concurrent flows never share login
// state. Without it all flows use the backend passed to NewService.
func (s *Service) WithBackendSessions(newSession func() (Backend, error)) *Service {
	s.sessions = newSession
	return s
}

// forFlow returns the service bound to a fresh backend session when one is
// configured.
func (s *Service) forFlow(logger *slog.Logger) *Service {
	if s.sessions == nil {
		return s
	}
	backend, err := s.sessions()
	if err != nil {
		logger.Warn("backend_session", "status", "create_failed", "error", err)
		return s
	}
	flow := *s
	flow.backend = backend
	return &flow
}

// StartPurchase logs into the backend and opens a 3DS session for one fare.
// A login failure stops the flow before any payment call.
func (s *Service) StartPurchase(ctx context.Context, req PurchaseRequest) PurchaseResult {
	logger := s.logger.With("action", "start_purchase")
	s = s.forFlow(logger)
	fareID := strings.TrimSpace(req.FareID)
	if fareID == "" {
		fareID = strings.TrimSpace(s.opts.DefaultFareID)
	}
	if fareID == "" {
		return PurchaseResult{State: StateError, Outcome: Outcome{
			StatusLabel: StatusError,
			ErrorKind:   ErrorKindMissingParameters,
			Message:     "fare id is required",
		}}
	}

	if err := s.backend.Login(ctx); err != nil {
		logger.Error("start_purchase", "status", "login_failed", "error", err)
		return PurchaseResult{State: StateError, Outcome: errorOutcome("Login failed", err, nil)}
	}

	scriptURL, raw, err := s.backend.Initiate3DS(ctx, saptco.ThreeDSRequest{
		FareID:     fareID,
		SuccessURL: s.opts.SuccessURL,
		FailURL:    s.opts.FailURL,
	})
	if err != nil {
		logger.Error("start_purchase", "status", "payment_check_failed", "fare_id", fareID, "error", err)
		return PurchaseResult{State: StateError, Outcome: errorOutcome("Payment check failed", err, raw)}
	}

	result := PurchaseResult{
		State:     StateAwaitingCallback,
		SessionID: s.newID(),
		ScriptURL: scriptURL,
		Outcome: Outcome{
			StatusLabel: StatusUnknown,
			CheckoutID:  checkoutIDFromScriptURL(scriptURL),
			Message:     "Awaiting payment on the hosted page.",
		},
	}
	result.Outcome.MerchantTransactionID = orderRefFromCheck(raw)
	if s.store != nil {
		session := models.PaymentSession{
			ID:         result.SessionID,
			Phone:      strings.TrimSpace(req.Phone),
			FareID:     fareID,
			SuccessURL: s.opts.SuccessURL,
			FailURL:    s.opts.FailURL,
			State:      string(result.State),
		}
		if result.Outcome.CheckoutID != "" {
			checkoutID := result.Outcome.CheckoutID
			session.CheckoutID = &checkoutID
		}
		if result.Outcome.MerchantTransactionID != "" {
			merchantTxID := result.Outcome.MerchantTransactionID
			session.MerchantTransactionID = &merchantTxID
		}
		if _, err := s.store.CreatePaymentSession(ctx, session); err != nil {
			logger.Warn("start_purchase", "status", "session_store_failed", "session_id", result.SessionID, "error", err)
		}
	}
	logger.Info("start_purchase", "status", "awaiting_callback", "session_id", result.SessionID, "fare_id", fareID)
	return result
}

// HandleCallback verifies and confirms a payment from the hosted page
// redirect. It always returns a Result; failures become StateError.
// resourcePath wins when both resourcePath and ordernumber are present.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (res Result) {
	cb.CheckoutID = strings.TrimSpace(cb.CheckoutID)
	cb.ResourcePath = strings.TrimSpace(cb.ResourcePath)
	cb.OrderNumber = strings.TrimSpace(cb.OrderNumber)
	logger := s.logger.With("checkout_id", cb.CheckoutID, "ordernumber", cb.OrderNumber)
	s = s.forFlow(logger)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("payment_callback", "status", "panic", "panic", rec)
			res = Result{State: StateError, Outcome: Outcome{
				StatusLabel: StatusError,
				ErrorKind:   ErrorKindInternal,
				Message:     fmt.Sprint(rec),
			}}
		}
		s.record(ctx, logger, cb, res)
	}()

	switch {
	case cb.ResourcePath != "":
		return s.verifyAndConfirm(ctx, logger, cb)
	case cb.OrderNumber != "":
		return s.confirmOrder(ctx, logger, cb.OrderNumber)
	default:
		logger.Warn("payment_callback", "status", "missing_parameters")
		return Result{State: StateUnknown, Outcome: Outcome{
			StatusLabel: StatusUnknown,
			ErrorKind:   ErrorKindMissingParameters,
			Message:     "No resourcePath or ordernumber provided to verify the payment.",
		}}
	}
}

func (s *Service) verifyAndConfirm(ctx context.Context, logger *slog.Logger, cb Callback) Result {
	body, err := s.gateway.VerifyHostedPayment(ctx, cb.ResourcePath)
	if err != nil {
		logger.Error("payment_callback", "status", "verify_failed", "error", err)
		return Result{State: StateError, Outcome: errorOutcome("Verification failed", err, body)}
	}

	verified := Interpret(body)
	if verified.ErrorKind == ErrorKindParse {
		logger.Error("payment_callback", "status", "verify_parse_failed")
		return Result{State: StateError, Outcome: verified}
	}
	if verified.CheckoutID == "" {
		verified.CheckoutID = cb.CheckoutID
	}
	logger = logger.With("result_code", verified.ResultCode, "merchant_transaction_id", verified.MerchantTransactionID)

	if !s.codes.Contains(verified.ResultCode) {
		logger.Info("payment_callback", "status", "rejected", "label", verified.StatusLabel)
		return Result{State: StateRejected, Outcome: verified}
	}
	if verified.MerchantTransactionID == "" {
		logger.Warn("payment_callback", "status", "missing_merchant_transaction_id")
		verified.Message = "Payment verified but the gateway returned no merchantTransactionId to confirm."
		return Result{State: StateRejected, Outcome: verified}
	}

	if err := s.backend.Login(ctx); err != nil {
		logger.Warn("payment_callback", "status", "relogin_failed", "error", err)
	}
	if err := s.sleep(ctx, s.opts.SettleDelay); err != nil {
		logger.Error("payment_callback", "status", "settle_interrupted", "error", err)
		return Result{State: StateError, Outcome: errorOutcome("Confirmation interrupted", err, nil)}
	}

	res := s.confirmWithPoll(ctx, logger, verified.MerchantTransactionID)
	if res.State == StateConfirmed {
		res.Outcome.ResultCode = verified.ResultCode
		res.Outcome.PaymentStatus = verified.PaymentStatus
		res.Outcome.MerchantTransactionID = verified.MerchantTransactionID
		res.Outcome.CheckoutID = verified.CheckoutID
	}
	return res
}

// confirmWithPoll confirms the sale and, while the backend reports success
// without a fare token yet, asks again with exponential backoff up to
// ConfirmPollAttempts calls. A failed call is terminal.
func (s *Service) confirmWithPoll(ctx context.Context, logger *slog.Logger, orderNumber string) Result {
	var confirmed Outcome
	attempts := 0
	for attempts < s.opts.ConfirmPollAttempts {
		if attempts > 0 {
			if err := s.sleep(ctx, s.opts.ConfirmPollBackoff<<(attempts-1)); err != nil {
				break
			}
		}
		attempts++
		body, err := s.backend.Confirm(ctx, orderNumber)
		if err != nil {
			logger.Error("payment_callback", "status", "confirm_failed", "attempt", attempts, "error", err)
			return Result{State: StateRejected, Outcome: errorOutcome("Confirm endpoint failed", err, body), ConfirmAttempts: attempts}
		}
		confirmed = InterpretConfirm(body)
		if confirmed.ErrorKind == ErrorKindParse {
			return Result{State: StateRejected, Outcome: confirmed, ConfirmAttempts: attempts}
		}
		if !confirmed.Confirmed() {
			logger.Info("payment_callback", "status", "not_confirmed", "attempt", attempts)
			return Result{State: StateRejected, Outcome: confirmed, ConfirmAttempts: attempts}
		}
		if confirmed.QRPayload != "" {
			break
		}
		logger.Info("payment_callback", "status", "qr_pending", "attempt", attempts)
	}
	if confirmed.OrderNumber == "" {
		confirmed.OrderNumber = orderNumber
	}
	res := s.deliver(ctx, logger, confirmed)
	res.ConfirmAttempts = attempts
	return res
}

func (s *Service) confirmOrder(ctx context.Context, logger *slog.Logger, orderNumber string) Result {
	body, err := s.backend.Confirm(ctx, orderNumber)
	if err != nil {
		logger.Error("payment_callback", "status", "confirm_failed", "error", err)
		return Result{State: StateError, Outcome: errorOutcome("Confirm endpoint failed", err, body), ConfirmAttempts: 1}
	}
	confirmed := InterpretConfirm(body)
	if confirmed.OrderNumber == "" {
		confirmed.OrderNumber = orderNumber
	}
	switch {
	case confirmed.ErrorKind == ErrorKindParse:
		return Result{State: StateError, Outcome: confirmed, ConfirmAttempts: 1}
	case !confirmed.Confirmed():
		logger.Info("payment_callback", "status", "not_confirmed")
		return Result{State: StateRejected, Outcome: confirmed, ConfirmAttempts: 1}
	}
	res := s.deliver(ctx, logger, confirmed)
	res.ConfirmAttempts = 1
	return res
}

// deliver turns a successful confirm into a CONFIRMED result. QR problems are
// reported as warnings; the sale stays confirmed.
func (s *Service) deliver(ctx context.Context, logger *slog.Logger, confirmed Outcome) Result {
	res := Result{State: StateConfirmed, Outcome: confirmed}
	if confirmed.QRPayload == "" {
		res.Warning = "Fare confirmed but the backend returned no QR payload."
		logger.Warn("payment_callback", "status", "confirmed_without_qr")
		return res
	}
	res.Fare = &models.ConfirmedFare{QRPayload: confirmed.QRPayload}

	png, err := ticketing.RenderQRImagePNG(confirmed.QRPayload, s.opts.QRLevel, s.opts.QRSize)
	if err != nil {
		res.Warning = "Fare confirmed but the QR code could not be rendered."
		logger.Warn("payment_callback", "status", "qr_render_failed", "error", err)
		return res
	}
	res.QRImage = png

	if s.archive != nil {
		name := fmt.Sprintf("%s.png", sanitizeObjectName(confirmed.OrderNumber))
		if imageURL, err := s.archive.UploadQRImage(ctx, name, png); err != nil {
			res.Warning = "Fare confirmed but the QR image could not be archived."
			logger.Warn("payment_callback", "status", "qr_archive_failed", "error", err)
		} else {
			res.QRImageURL = imageURL
		}
	}
	logger.Info("payment_callback", "status", "confirmed")
	return res
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, cb Callback, res Result) {
	if s.store == nil || res.State == StateUnknown {
		return
	}
	checkoutID := res.Outcome.CheckoutID
	if checkoutID == "" {
		checkoutID = cb.CheckoutID
	}
	merchantTxID := res.Outcome.MerchantTransactionID
	if merchantTxID == "" {
		merchantTxID = cb.OrderNumber
	}
	if checkoutID == "" && merchantTxID == "" {
		return
	}
	outcome := models.PaymentSessionOutcome{
		CheckoutID:            checkoutID,
		MerchantTransactionID: merchantTxID,
		State:                 string(res.State),
		StatusLabel:           res.Outcome.StatusLabel,
		ResultCode:            res.Outcome.ResultCode,
		RawResponseJSON:       []byte(res.Outcome.RawResponse),
	}
	if res.Fare != nil {
		outcome.QRPayload = res.Fare.QRPayload
	}
	if err := s.store.RecordPaymentSessionOutcome(ctx, outcome); err != nil {
		logger.Warn("payment_callback", "status", "session_update_failed", "error", err)
	}
}

func errorOutcome(prefix string, err error, body []byte) Outcome {
	out := Outcome{
		StatusLabel: StatusError,
		RawResponse: string(body),
	}
	var apiErr *upstream.APIError
	switch {
	case errors.As(err, &apiErr):
		out.ErrorKind = ErrorKindUpstreamHTTP
		out.UpstreamStatus = apiErr.StatusCode
		out.Message = fmt.Sprintf("%s (%d)", prefix, apiErr.StatusCode)
		if out.RawResponse == "" {
			out.RawResponse = apiErr.Body
		}
	case upstream.IsTransport(err):
		out.ErrorKind = ErrorKindTransport
		out.Message = fmt.Sprintf("%s: %v", prefix, err)
	default:
		out.ErrorKind = ErrorKindInternal
		if len(body) > 0 {
			out.ErrorKind = ErrorKindParse
		}
		out.Message = fmt.Sprintf("%s: %v", prefix, err)
	}
	return out
}

// orderRefFromCheck reads the order reference a 3DS check response may carry.
// Branch B callbacks are matched to their session by it.
func orderRefFromCheck(raw []byte) string {
	check := Interpret(raw)
	if check.ErrorKind != ErrorKindNone {
		return ""
	}
	if check.MerchantTransactionID != "" {
		return check.MerchantTransactionID
	}
	return check.OrderNumber
}

func checkoutIDFromScriptURL(scriptURL string) string {
	parsed, err := url.Parse(scriptURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Query().Get("checkoutId"))
}

func sanitizeObjectName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "fare"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
