package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	StatusPaid    = "paid"
	StatusNotPaid = "notpaid"
	StatusUnknown = "unknown"
	StatusError   = "error"
)

// ErrorKind classifies why an outcome carries StatusError.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindTransport         ErrorKind = "transport"
	ErrorKindUpstreamHTTP      ErrorKind = "upstream_http"
	ErrorKindParse             ErrorKind = "parse"
	ErrorKindMissingParameters ErrorKind = "missing_parameters"
	ErrorKindInternal          ErrorKind = "internal"
)

// Outcome is what a single verify or confirm response body says. It is built
// once and never mutated afterwards.
type Outcome struct {
	StatusLabel           string    `json:"status"`
	ResultCode            string    `json:"resultCode,omitempty"`
	ResultDescription     string    `json:"resultDescription,omitempty"`
	PaymentStatus         string    `json:"paymentStatus,omitempty"`
	MerchantTransactionID string    `json:"merchantTransactionId,omitempty"`
	CheckoutID            string    `json:"checkoutId,omitempty"`
	OrderNumber           string    `json:"ordernumber,omitempty"`
	Success               *bool     `json:"success,omitempty"`
	QRPayload             string    `json:"-"`
	UpstreamStatus        int       `json:"upstreamStatus,omitempty"`
	ErrorKind             ErrorKind `json:"errorKind,omitempty"`
	RawResponse           string    `json:"rawResponse,omitempty"`
	Message               string    `json:"message"`
}

// Interpret reads a hosted gateway verify response. Absent fields stay empty;
// only an unparsable body yields StatusError.
func Interpret(body []byte) Outcome {
	doc, err := decodeObject(body)
	if err != nil {
		return Outcome{
			StatusLabel: StatusError,
			ErrorKind:   ErrorKindParse,
			RawResponse: string(body),
			Message:     "Failed to parse verification response.",
		}
	}

	out := Outcome{
		ResultCode:            firstString(doc, "result.code", "resultCode"),
		ResultDescription:     firstString(doc, "result.description"),
		PaymentStatus:         firstString(doc, "payment.status", "status"),
		MerchantTransactionID: firstString(doc, "merchantTransactionId"),
		CheckoutID:            firstString(doc, "id", "checkoutId"),
		OrderNumber:           firstString(doc, "ordernumber"),
		Success:               lookupBool(doc, "success"),
		QRPayload:             firstString(doc, "event.parameters.qr"),
		RawResponse:           string(body),
	}
	switch {
	case out.PaymentStatus != "":
		out.StatusLabel = out.PaymentStatus
	case out.ResultCode != "":
		out.StatusLabel = out.ResultCode
	default:
		out.StatusLabel = StatusUnknown
	}
	out.Message = fmt.Sprintf("Verified via hosted gateway. Status=%s (resultCode=%s)", out.StatusLabel, out.ResultCode)
	return out
}

// InterpretConfirm reads a ticketing backend confirm response. The label is
// paid only when the backend reports success=true.
func InterpretConfirm(body []byte) Outcome {
	out := Interpret(body)
	if out.ErrorKind == ErrorKindParse {
		out.Message = "Failed to parse confirm response."
		return out
	}
	if out.Success != nil && *out.Success {
		out.StatusLabel = StatusPaid
	} else {
		out.StatusLabel = StatusNotPaid
	}
	out.Message = fmt.Sprintf("Backend confirm returned success=%s", formatSuccess(out.Success))
	return out
}

// Confirmed reports whether a confirm outcome settled the sale.
func (o Outcome) Confirmed() bool {
	return o.Success != nil && *o.Success
}

// CodeSet is the vendor-defined list of result codes that must be confirmed.
type CodeSet map[string]struct{}

func NewCodeSet(codes []string) CodeSet {
	set := make(CodeSet, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}

func (s CodeSet) Contains(code string) bool {
	_, ok := s[strings.TrimSpace(code)]
	return ok
}

var errTrailingData = errors.New("trailing data after json object")

// decodeObject accepts exactly one JSON object; anything after it fails.
func decodeObject(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return doc, nil
}

func firstString(doc map[string]interface{}, paths ...string) string {
	for _, p := range paths {
		if v := lookupString(doc, p); v != "" {
			return v
		}
	}
	return ""
}

func lookupString(doc map[string]interface{}, dotted string) string {
	switch v := lookup(doc, dotted).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func lookupBool(doc map[string]interface{}, dotted string) *bool {
	var out bool
	switch v := lookup(doc, dotted).(type) {
	case bool:
		out = v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		out = parsed
	default:
		return nil
	}
	return &out
}

func lookup(doc map[string]interface{}, dotted string) interface{} {
	var cur interface{} = doc
	for _, key := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func formatSuccess(v *bool) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatBool(*v)
}
