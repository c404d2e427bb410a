package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/orders"
	"github.com/safar/go-bookstore/internal/payment"
	"github.com/safar/go-bookstore/internal/pricing"
	"go.uber.org/zap"
)

type ctxKey int

const userIDKey ctxKey = iota

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			respondError(w, http.StatusUnauthorized, "missing user authentication")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP statuses. Unknown errors are 500 and
// their text is not shown to the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, database.ErrInsufficientStock):
		return http.StatusConflict, err.Error()
	case errors.Is(err, orders.ErrOrderNotPayable),
		errors.Is(err, orders.ErrOrderNotCancellable),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, database.ErrOptimisticLockFailed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, orders.ErrGatewaySession), errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway, "payment provider unavailable, please retry"
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrBookNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrAddressNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, orders.ErrInvalidRequest),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, models.ErrInvalidOrderStatus),
		errors.Is(err, pricing.ErrInvalidDiscount),
		errors.Is(err, pricing.ErrNegativePrice),
		errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, pricing.ErrNoLines):
		return http.StatusBadRequest, err.Error()
	case database.IsUniqueViolation(err):
		return http.StatusConflict, "resource already exists"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	respondError(w, status, message)
}
