package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/payment"
	"github.com/ariefcatur/ramro-storefront/internal/reviews"
	"github.com/rs/zerolog/log"
)

const maxBody = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorBody{Error: err.Error(), Code: code}
	var se *domain.StockError
	if errors.As(err, &se) {
		body.Details = map[string]any{
			"productId": se.ProductID,
			"requested": se.Requested,
			"available": se.Available,
		}
	}
	if status >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "invalid_input"})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusPaymentRequired, "payment_failed"
	case errors.Is(err, domain.ErrPaymentCancelled):
		return http.StatusConflict, "payment_cancelled"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict, "checkout_in_progress"
	case errors.Is(err, domain.ErrCheckoutTokenTaken):
		return http.StatusConflict, "token_conflict"
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, reviews.ErrAlreadyReviewed):
		return http.StatusConflict, "already_reviewed"
	case errors.Is(err, payment.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, payment.ErrIntentCancelled):
		return http.StatusConflict, "intent_cancelled"
	case errors.Is(err, reviews.ErrNotOwner):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, payment.ErrBadSignature):
		return http.StatusUnauthorized, "bad_signature"
	case errors.Is(err, domain.ErrMissingTrackingNumber):
		return http.StatusBadRequest, "missing_tracking_number"
	case errors.Is(err, domain.ErrInvalidRating):
		return http.StatusBadRequest, "invalid_rating"
	case errors.Is(err, domain.ErrInvalidLineItem):
		return http.StatusBadRequest, "invalid_line_item"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
