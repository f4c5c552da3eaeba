package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"qrfare/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrPaymentSessionNotFound = errors.New("payment session not found")

const paymentSessionColumns = `id::text, phone, fare_id, success_url, fail_url, checkout_id, merchant_transaction_id,
	state, status_label, result_code, qr_payload, raw_response_json, created_at, updated_at`

// CreatePaymentSession stores a session opened by a 3DS initiation.
func (r *Repository) CreatePaymentSession(ctx context.Context, session models.PaymentSession) (models.PaymentSession, error) {
	var checkoutID, merchantTxID string
	if session.CheckoutID != nil {
		checkoutID = strings.TrimSpace(*session.CheckoutID)
	}
	if session.MerchantTransactionID != nil {
		merchantTxID = strings.TrimSpace(*session.MerchantTransactionID)
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO payment_sessions (id, phone, fare_id, success_url, fail_url, checkout_id, merchant_transaction_id, state)
VALUES ($1::uuid, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
RETURNING `+paymentSessionColumns+`;`,
		strings.TrimSpace(session.ID),
		nullString(strings.TrimSpace(session.Phone)),
		strings.TrimSpace(session.FareID),
		strings.TrimSpace(session.SuccessURL),
		strings.TrimSpace(session.FailURL),
		checkoutID,
		merchantTxID,
		strings.TrimSpace(session.State),
	)
	return scanPaymentSession(row)
}

// GetPaymentSession returns a session by id.
func (r *Repository) GetPaymentSession(ctx context.Context, id string) (models.PaymentSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentSessionColumns+` FROM payment_sessions WHERE id = $1::uuid;`, strings.TrimSpace(id))
	out, err := scanPaymentSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PaymentSession{}, ErrPaymentSessionNotFound
		}
		return models.PaymentSession{}, err
	}
	return out, nil
}

// RecordPaymentSessionOutcome updates the newest session matching the
// checkout id, or failing that the merchant transaction id.
func (r *Repository) RecordPaymentSessionOutcome(ctx context.Context, outcome models.PaymentSessionOutcome) error {
	checkoutID := strings.TrimSpace(outcome.CheckoutID)
	merchantTxID := strings.TrimSpace(outcome.MerchantTransactionID)
	if checkoutID == "" && merchantTxID == "" {
		return ErrPaymentSessionNotFound
	}
	cmd, err := r.pool.Exec(ctx, `
WITH target AS (
	SELECT id
	FROM payment_sessions
	WHERE checkout_id = NULLIF($1, '') OR merchant_transaction_id = NULLIF($2, '')
	ORDER BY (checkout_id IS NOT DISTINCT FROM NULLIF($1, '')) DESC, created_at DESC
	LIMIT 1
)
UPDATE payment_sessions s
SET merchant_transaction_id = COALESCE(NULLIF($2, ''), s.merchant_transaction_id),
	state = $3,
	status_label = NULLIF($4, ''),
	result_code = COALESCE(NULLIF($5, ''), s.result_code),
	qr_payload = COALESCE(NULLIF($6, ''), s.qr_payload),
	raw_response_json = $7::jsonb,
	updated_at = now()
FROM target
WHERE s.id = target.id;`,
		checkoutID,
		merchantTxID,
		strings.TrimSpace(outcome.State),
		strings.TrimSpace(outcome.StatusLabel),
		strings.TrimSpace(outcome.ResultCode),
		strings.TrimSpace(outcome.QRPayload),
		jsonbValue(outcome.RawResponseJSON),
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentSessionNotFound
	}
	return nil
}

func scanPaymentSession(row pgx.Row) (models.PaymentSession, error) {
	var out models.PaymentSession
	var phone, checkoutID, merchantTxID, statusLabel, resultCode, qrPayload sql.NullString
	var raw []byte
	if err := row.Scan(
		&out.ID,
		&phone,
		&out.FareID,
		&out.SuccessURL,
		&out.FailURL,
		&checkoutID,
		&merchantTxID,
		&out.State,
		&statusLabel,
		&resultCode,
		&qrPayload,
		&raw,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return out, err
	}
	out.Phone = phone.String
	if checkoutID.Valid {
		out.CheckoutID = &checkoutID.String
	}
	if merchantTxID.Valid {
		out.MerchantTransactionID = &merchantTxID.String
	}
	out.StatusLabel = statusLabel.String
	out.ResultCode = resultCode.String
	out.QRPayload = qrPayload.String
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.RawResponseJSON); err != nil {
			out.RawResponseJSON = decodeJSONMap(raw)
		}
	}
	return out, nil
}

// ListStalePaymentSessions returns sessions still waiting for a callback whose
// last update is older than olderThan, oldest first.
func (r *Repository) ListStalePaymentSessions(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+paymentSessionColumns+`
FROM payment_sessions
WHERE state = 'AWAITING_CALLBACK' AND updated_at < now() - make_interval(secs => $1)
ORDER BY updated_at ASC
LIMIT $2;`, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.PaymentSession, 0)
	for rows.Next() {
		session, err := scanPaymentSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// ExpirePaymentSession closes a session that can no longer be verified.
func (r *Repository) ExpirePaymentSession(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE payment_sessions
SET state = 'ERROR', status_label = 'expired', updated_at = now()
WHERE id = $1::uuid AND state = 'AWAITING_CALLBACK';`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPaymentSessionNotFound
	}
	return nil
}
