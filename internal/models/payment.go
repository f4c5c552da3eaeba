package models

import "time"

// PaymentSession tracks one fare purchase from 3DS initiation until the
// backend confirms or rejects it.
type PaymentSession struct {
	ID                    string                 `json:"id"`
	Phone                 string                 `json:"phone,omitempty"`
	FareID                string                 `json:"fareId"`
	SuccessURL            string                 `json:"successUrl"`
	FailURL               string                 `json:"failUrl"`
	CheckoutID            *string                `json:"checkoutId,omitempty"`
	MerchantTransactionID *string                `json:"merchantTransactionId,omitempty"`
	State                 string                 `json:"state"`
	StatusLabel           string                 `json:"statusLabel,omitempty"`
	ResultCode            string                 `json:"resultCode,omitempty"`
	QRPayload             string                 `json:"qrPayload,omitempty"`
	RawResponseJSON       map[string]interface{} `json:"rawResponseJson,omitempty"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
}

// PaymentSessionOutcome records what a callback did to a session. Sessions
// are matched by checkout id first, then by merchant transaction id.
type PaymentSessionOutcome struct {
	CheckoutID            string
	MerchantTransactionID string
	State                 string
	StatusLabel           string
	ResultCode            string
	QRPayload             string
	RawResponseJSON       []byte
}

// ConfirmedFare is the fare token returned by a successful confirm call.
type ConfirmedFare struct {
	QRPayload string `json:"qrPayload"`
}
