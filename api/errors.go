package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xraph/credit"
	"github.com/xraph/credit/label"
	"github.com/xraph/credit/types"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Field     string       `json:"field,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Balance   *types.Money `json:"balance,omitempty"`
	Requested *types.Money `json:"requested,omitempty"`
	Shortfall *types.Money `json:"shortfall,omitempty"`
	Refunded  *bool        `json:"refunded,omitempty"`
}

// classify maps an error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	var carrierErr *label.CarrierError
	switch {
	case errors.Is(err, credit.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, credit.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case credit.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, credit.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, credit.ErrRefundMismatch):
		return http.StatusConflict, "refund_mismatch"
	case errors.Is(err, credit.ErrNothingToRefund):
		return http.StatusConflict, "nothing_to_refund"
	case errors.Is(err, credit.ErrEmissionClosed):
		return http.StatusConflict, "emission_closed"
	case errors.Is(err, credit.ErrCarrierDisabled):
		return http.StatusUnprocessableEntity, "carrier_disabled"
	case errors.Is(err, credit.ErrStorageConflict):
		return http.StatusServiceUnavailable, "storage_conflict"
	case errors.As(err, &carrierErr):
		return http.StatusBadGateway, "carrier_failed"
	case errors.Is(err, credit.ErrInvalidInput),
		errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, credit.ErrCurrencyMismatch),
		errors.Is(err, credit.ErrMissingEmissionID):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError is the single place errors become responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	detail := errorDetail{
		Code:      code,
		Message:   err.Error(),
		RequestID: RequestIDFrom(r.Context()),
	}

	var (
		ife        *credit.InsufficientFundsError
		ve         credit.ValidationError
		carrierErr *label.CarrierError
	)
	if errors.As(err, &ife) {
		shortfall := ife.Shortfall()
		detail.Balance = &ife.Balance
		detail.Requested = &ife.Requested
		detail.Shortfall = &shortfall
	}
	if errors.As(err, &ve) {
		detail.Field = ve.Field
	}
	if errors.As(err, &carrierErr) && carrierErr.Charged {
		detail.Refunded = &carrierErr.Refunded
	}

	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", detail.RequestID,
			"error", err,
		)
		detail.Message = "internal error"
	}

	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
