package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/plans"
)

// Response is the JSON envelope of every endpoint.
type Response struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Error codes.
const (
	CodeBadRequest        = "bad_request"
	CodeUnauthenticated   = "unauthenticated"
	CodeNotFound          = "not_found"
	CodeInsufficientQuota = "insufficient_quota"
	CodePaymentPastDue    = "payment_past_due"
	CodeInvalidSignature  = "invalid_signature"
	CodePayloadTooLarge   = "payload_too_large"
	CodeInternal          = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Response{Error: &ErrorDetail{Code: code, Message: message}})
}

// writeErr maps domain errors to status codes. Internal failures never leak
// their message.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entitlement.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
	case errors.Is(err, entitlement.ErrUserNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "no entitlement record for user")
	case errors.Is(err, plans.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, entitlement.ErrInvalidResource),
		errors.Is(err, plans.ErrInvalidPlan),
		errors.Is(err, plans.ErrInvalidCycle),
		errors.Is(err, plans.ErrInvalidCurrency):
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, http.StatusText(http.StatusInternalServerError))
	}
}

// writeDenied writes a non-granted consume result.
func writeDenied(w http.ResponseWriter, res entitlement.Result) {
	code := CodeInsufficientQuota
	if res.Reason == entitlement.ReasonPaymentPastDue {
		code = CodePaymentPastDue
	}
	writeJSON(w, http.StatusPaymentRequired, Response{
		Data:  res,
		Error: &ErrorDetail{Code: code, Message: "quota exhausted for the current period"},
	})
}
