package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})

	return NewStripeGateway("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestCreateCheckoutSessionLineItems(t *testing.T) {
	var form url.Values
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://pay.example/cs_test_1","status":"open","payment_status":"unpaid"}`)
	})

	session, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Currency: "usd",
		LineItems: []LineItem{
			{PriceID: "price_1", Quantity: 2},
			{Name: "Tax", UnitAmount: 320, Quantity: 1},
		},
		SuccessURL: "https://shop.example/success",
		CancelURL:  "https://shop.example/cancel",
		Metadata:   map[string]string{"order_id": "42"},
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://pay.example/cs_test_1", session.URL)
	assert.Equal(t, SessionOpen, session.Status)
	assert.False(t, session.Paid())

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "price_1", form.Get("line_items[0][price]"))
	assert.Equal(t, "2", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "320", form.Get("line_items[1][price_data][unit_amount]"))
	assert.Equal(t, "usd", form.Get("line_items[1][price_data][currency]"))
	assert.Equal(t, "Tax", form.Get("line_items[1][price_data][product_data][name]"))
	assert.Equal(t, "42", form.Get("metadata[order_id]"))
}

func TestGatewayErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"card declined", http.StatusPaymentRequired, false},
		{"invalid request", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"nope"}}`)
			})

			_, err := gw.CreatePrice(context.Background(), PriceRequest{ProductID: "prod_1", UnitAmount: 100, Currency: "usd"})
			require.Error(t, err)

			assert.True(t, errors.Is(err, ErrGateway))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestDeactivatePrice(t *testing.T) {
	var form url.Values
	var path string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		path, form = r.URL.Path, r.PostForm

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"price_old","object":"price","active":false}`)
	})

	require.NoError(t, gw.DeactivatePrice(context.Background(), "price_old"))
	assert.Equal(t, "/v1/prices/price_old", path)
	assert.Equal(t, "false", form.Get("active"))
}
