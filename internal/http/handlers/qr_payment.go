package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"qrfare/backend/internal/http/middleware"
	"qrfare/backend/internal/models"
	"qrfare/backend/internal/payment"
)

type purchaseRequest struct {
	Phone  string `json:"phone" validate:"omitempty,max=20"`
	FareID string `json:"fareId" validate:"omitempty,max=64"`
}

type purchaseResponse struct {
	ScriptURL string        `json:"scriptUrl"`
	SessionID string        `json:"sessionId"`
	State     payment.State `json:"state"`
}

type paymentResultResponse struct {
	Status                string            `json:"status"`
	Message               string            `json:"message"`
	State                 payment.State     `json:"state"`
	ResultCode            string            `json:"resultCode,omitempty"`
	MerchantTransactionID string            `json:"merchantTransactionId,omitempty"`
	OrderNumber           string            `json:"ordernumber,omitempty"`
	ErrorKind             payment.ErrorKind `json:"errorKind,omitempty"`
	QRImage               string            `json:"qrImage,omitempty"`
	QRImageURL            string            `json:"qrImageUrl,omitempty"`
	Warning               string            `json:"warning,omitempty"`
	RawResponse           string            `json:"rawResponse,omitempty"`
	SafeMode              bool              `json:"safeMode"`
}

type redirectLandingResponse struct {
	Page        string `json:"page"`
	Result      string `json:"result,omitempty"`
	OrderNumber string `json:"ordernumber,omitempty"`
	ResultURL   string `json:"resultUrl,omitempty"`
}

// StartQRPurchase opens a hosted payment session for one fare. The phone comes
// from the body, or from the session cookie when the body has none.
func (h *Handler) StartQRPurchase(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("action", "action", "qr_purchase", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.FareID = strings.TrimSpace(req.FareID)
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("action", "action", "qr_purchase", "status", "invalid_payload")
		writeError(w, http.StatusBadRequest, "phone or fareId too long")
		return
	}

	session, hasSession := middleware.SessionFromContext(r.Context())
	phone := req.Phone
	if phone == "" && hasSession {
		phone = session.Phone
	}
	if phone == "" {
		logger.Warn("action", "action", "qr_purchase", "status", "missing_phone")
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	if h.users != nil && (!hasSession || session.Phone != phone) {
		ctx, cancel := h.withTimeout(r.Context())
		user, _, err := h.users.RegisterUser(ctx, models.RegisterUserParams{Phone: phone})
		cancel()
		if err != nil {
			logger.Error("action", "action", "qr_purchase", "status", "db_error", "error", err)
			writeError(w, http.StatusInternalServerError, "db error")
			return
		}
		if err := h.setSessionCookie(w, user); err != nil {
			logger.Warn("action", "action", "qr_purchase", "status", "token_error", "error", err)
		}
	}

	ctx, cancel := h.withFlowTimeout(r.Context())
	defer cancel()
	result := h.payments.StartPurchase(ctx, payment.PurchaseRequest{Phone: phone, FareID: req.FareID})
	if result.State != payment.StateAwaitingCallback {
		status := purchaseErrorStatus(result.Outcome)
		logger.Warn("action", "action", "qr_purchase", "status", "failed", "error_kind", result.Outcome.ErrorKind)
		writeJSON(w, status, h.resultView(payment.Result{State: result.State, Outcome: result.Outcome}))
		return
	}

	logger.Info("action", "action", "qr_purchase", "status", "awaiting_callback", "session_id", result.SessionID)
	writeJSON(w, http.StatusOK, purchaseResponse{
		ScriptURL: result.ScriptURL,
		SessionID: result.SessionID,
		State:     result.State,
	})
}

// QRPaymentResult verifies the hosted page callback and, when paid, returns
// the fare QR.
func (h *Handler) QRPaymentResult(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	query := r.URL.Query()
	cb := payment.Callback{
		CheckoutID:   query.Get("id"),
		ResourcePath: query.Get("resourcePath"),
		OrderNumber:  query.Get("ordernumber"),
	}

	ctx, cancel := h.withFlowTimeout(r.Context())
	defer cancel()
	result := h.payments.HandleCallback(ctx, cb)

	logger.Info("action", "action", "qr_payment_result", "status", result.Outcome.StatusLabel, "state", result.State)
	writeJSON(w, http.StatusOK, h.resultView(result))
}

// QRPaymentSuccess is the backend's success redirect target.
func (h *Handler) QRPaymentSuccess(w http.ResponseWriter, r *http.Request) {
	h.redirectLanding(w, r, "success")
}

// QRPaymentFail is the backend's failure redirect target.
func (h *Handler) QRPaymentFail(w http.ResponseWriter, r *http.Request) {
	h.redirectLanding(w, r, "fail")
}

func (h *Handler) redirectLanding(w http.ResponseWriter, r *http.Request, page string) {
	query := r.URL.Query()
	resp := redirectLandingResponse{
		Page:        page,
		Result:      query.Get("result"),
		OrderNumber: strings.TrimSpace(query.Get("ordernumber")),
	}
	if resp.OrderNumber != "" {
		resp.ResultURL = "/qr-payment/result?ordernumber=" + url.QueryEscape(resp.OrderNumber)
	}
	h.loggerForRequest(r).Info("action", "action", "qr_payment_"+page, "status", "landing", "result", resp.Result)
	writeJSON(w, http.StatusOK, resp)
}

// resultView hides raw upstream bodies outside development.
func (h *Handler) resultView(result payment.Result) paymentResultResponse {
	out := result.Outcome
	view := paymentResultResponse{
		Status:                out.StatusLabel,
		Message:               out.Message,
		State:                 result.State,
		ResultCode:            out.ResultCode,
		MerchantTransactionID: out.MerchantTransactionID,
		OrderNumber:           out.OrderNumber,
		ErrorKind:             out.ErrorKind,
		QRImageURL:            result.QRImageURL,
		Warning:               result.Warning,
	}
	if result.State == payment.StateConfirmed {
		view.QRImage = result.QRDataURI()
	}
	if h.cfg != nil && h.cfg.IsDevelopment() {
		view.RawResponse = out.RawResponse
	} else {
		view.SafeMode = true
	}
	return view
}

func purchaseErrorStatus(out payment.Outcome) int {
	switch out.ErrorKind {
	case payment.ErrorKindMissingParameters:
		return http.StatusBadRequest
	case payment.ErrorKindUpstreamHTTP, payment.ErrorKindTransport, payment.ErrorKindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
