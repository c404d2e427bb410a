package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"
)

const testSecret = "whsec_test"

func signed(t *testing.T, payload string) string {
	t.Helper()
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	}).Header
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	payload := `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_9", "object": "checkout.session", "status": "complete", "payment_status": "paid"}}
	}`

	event, err := NewWebhookVerifier(testSecret).Parse([]byte(payload), signed(t, payload))
	require.NoError(t, err)

	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "cs_test_9", event.Session.ID)
	assert.True(t, event.Session.Paid())
}

func TestWebhookOtherEventType(t *testing.T) {
	payload := `{"id": "evt_2", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`

	event, err := NewWebhookVerifier(testSecret).Parse([]byte(payload), signed(t, payload))
	require.NoError(t, err)

	assert.Equal(t, "customer.created", event.Type)
	assert.Empty(t, event.Session.ID)
}

func TestWebhookBadSignature(t *testing.T) {
	payload := `{"id": "evt_3", "object": "event", "type": "checkout.session.completed"}`

	_, err := NewWebhookVerifier(testSecret).Parse([]byte(payload), "t=1,v1=deadbeef")
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}
