package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/safar/go-bookstore/internal/database"
	"github.com/safar/go-bookstore/internal/payment"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// stripeWebhook acknowledges every verified event it can't act on so the
// provider stops redelivering it. Only storage failures ask for a retry.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	event, err := h.webhooks.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			respondError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		respondError(w, http.StatusBadRequest, "malformed event")
		return
	}

	log := h.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	settles := event.Type == payment.EventCheckoutCompleted || event.Type == payment.EventAsyncPaymentSucceeded
	if !settles || !event.Session.Paid() {
		log.Debug("Ignoring webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}

	err = h.orders.ConfirmPayment(r.Context(), event.Session.ID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, database.ErrOrderNotFound):
		log.Warn("Webhook for unknown checkout session", zap.String("session_id", event.Session.ID))
		w.WriteHeader(http.StatusOK)
	default:
		log.Error("Failed to confirm payment", zap.String("session_id", event.Session.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to confirm payment")
	}
}
