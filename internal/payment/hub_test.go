package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

func signedRequest(t *testing.T, ev WebhookEvent, key string) (*bytes.Reader, string) {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return bytes.NewReader(body), Sign(key, body)
}

func TestHub_WebhookSettlesWaitingCheckout(t *testing.T) {
	h := NewHub(secret, nil)
	ctx := context.Background()
	in, err := h.CreatePaymentIntent(ctx, 64800, "INR", map[string]string{"checkout": "chk-1"})
	require.NoError(t, err)

	got := make(chan Confirmation, 1)
	go func() {
		c, err := h.AwaitConfirmation(ctx, in)
		assert.NoError(t, err)
		got <- c
	}()

	body, sig := signedRequest(t, WebhookEvent{IntentID: in.ID, Status: "succeeded", TransactionID: "txn_1"}, secret)
	req := httptest.NewRequest("POST", "/payments/webhook", body)
	req.Header.Set(SignatureHeader, sig)
	require.NoError(t, h.HandleWebhook(req))

	select {
	case c := <-got:
		assert.True(t, c.Success)
		assert.Equal(t, "txn_1", c.TransactionID)
	case <-time.After(time.Second):
		t.Fatal("confirmation not delivered")
	}
}

func TestHub_SettledBeforeAwait(t *testing.T) {
	h := NewHub(secret, nil)
	ctx := context.Background()
	in, err := h.CreatePaymentIntent(ctx, 100, "INR", nil)
	require.NoError(t, err)
	require.NoError(t, h.Settle(Confirmation{IntentID: in.ID, Reason: "card declined"}))

	c, err := h.AwaitConfirmation(ctx, in)
	require.NoError(t, err)
	assert.False(t, c.Success)
	assert.Equal(t, "card declined", c.Reason)

	err = h.Settle(Confirmation{IntentID: in.ID, Success: true})
	assert.ErrorIs(t, err, ErrAlreadySettled)
}

func TestHub_AwaitHonoursContext(t *testing.T) {
	h := NewHub(secret, nil)
	in, err := h.CreatePaymentIntent(context.Background(), 100, "INR", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.AwaitConfirmation(ctx, in)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_SettlementBeatsExpiredContext(t *testing.T) {
	h := NewHub(secret, nil)
	in, err := h.CreatePaymentIntent(context.Background(), 100, "INR", nil)
	require.NoError(t, err)
	require.NoError(t, h.Settle(Confirmation{IntentID: in.ID, Success: true, TransactionID: "txn_1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 20 {
		c, err := h.AwaitConfirmation(ctx, in)
		require.NoError(t, err)
		assert.True(t, c.Success)
	}
}

func TestHub_CancelledIntentRefundsLateSuccess(t *testing.T) {
	h := NewHub(secret, nil)
	ctx := context.Background()
	in, err := h.CreatePaymentIntent(ctx, 100, "INR", nil)
	require.NoError(t, err)

	require.NoError(t, h.Cancel(ctx, in.ID))
	c, err := h.AwaitConfirmation(ctx, in)
	require.NoError(t, err)
	assert.False(t, c.Success)

	err = h.Settle(Confirmation{IntentID: in.ID, Success: true, TransactionID: "txn_late"})
	assert.ErrorIs(t, err, ErrIntentCancelled)
	assert.True(t, h.Refunded(in.ID))

	assert.ErrorIs(t, h.Cancel(ctx, "pi_missing"), domain.ErrNotFound)
}

func TestHub_CancelAfterSettlement(t *testing.T) {
	h := NewHub(secret, nil)
	ctx := context.Background()

	paid, err := h.CreatePaymentIntent(ctx, 100, "INR", nil)
	require.NoError(t, err)
	require.NoError(t, h.Settle(Confirmation{IntentID: paid.ID, Success: true}))
	require.NoError(t, h.Cancel(ctx, paid.ID))
	assert.True(t, h.Refunded(paid.ID))

	declined, err := h.CreatePaymentIntent(ctx, 100, "INR", nil)
	require.NoError(t, err)
	require.NoError(t, h.Settle(Confirmation{IntentID: declined.ID, Reason: "card declined"}))
	require.NoError(t, h.Cancel(ctx, declined.ID))
	assert.False(t, h.Refunded(declined.ID))
}

func TestHub_WithoutSecretRejectsEveryWebhook(t *testing.T) {
	h := NewHub("", nil)
	in, err := h.CreatePaymentIntent(context.Background(), 100, "INR", nil)
	require.NoError(t, err)

	// An empty key is exactly what an attacker would sign with.
	body, sig := signedRequest(t, WebhookEvent{IntentID: in.ID, Status: "succeeded"}, "")
	req := httptest.NewRequest("POST", "/payments/webhook", body)
	req.Header.Set(SignatureHeader, sig)
	err = h.HandleWebhook(req)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.ErrorIs(t, err, ErrNoSecret)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.AwaitConfirmation(ctx, in)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_RejectsBadSignature(t *testing.T) {
	h := NewHub(secret, nil)
	in, err := h.CreatePaymentIntent(context.Background(), 100, "INR", nil)
	require.NoError(t, err)

	body, sig := signedRequest(t, WebhookEvent{IntentID: in.ID, Status: "succeeded"}, "wrong-secret")
	req := httptest.NewRequest("POST", "/payments/webhook", body)
	req.Header.Set(SignatureHeader, sig)
	assert.ErrorIs(t, h.HandleWebhook(req), ErrBadSignature)

	req = httptest.NewRequest("POST", "/payments/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(SignatureHeader, "not-hex")
	assert.ErrorIs(t, h.HandleWebhook(req), ErrBadSignature)
}

func TestHub_WebhookValidation(t *testing.T) {
	h := NewHub(secret, nil)

	body, sig := signedRequest(t, WebhookEvent{IntentID: "pi_missing", Status: "succeeded"}, secret)
	req := httptest.NewRequest("POST", "/payments/webhook", body)
	req.Header.Set(SignatureHeader, sig)
	assert.ErrorIs(t, h.HandleWebhook(req), domain.ErrNotFound)

	body, sig = signedRequest(t, WebhookEvent{IntentID: "pi_missing", Status: "pending"}, secret)
	req = httptest.NewRequest("POST", "/payments/webhook", body)
	req.Header.Set(SignatureHeader, sig)
	assert.ErrorIs(t, h.HandleWebhook(req), domain.ErrInvalidInput)
}

func TestHub_Refund(t *testing.T) {
	h := NewHub(secret, nil)
	ctx := context.Background()
	in, err := h.CreatePaymentIntent(ctx, 100, "INR", nil)
	require.NoError(t, err)

	require.NoError(t, h.Refund(ctx, in.ID))
	assert.True(t, h.Refunded(in.ID))
	assert.ErrorIs(t, h.Refund(ctx, "pi_missing"), domain.ErrNotFound)
}

func TestHub_RejectsNonPositiveAmount(t *testing.T) {
	h := NewHub(secret, nil)
	_, err := h.CreatePaymentIntent(context.Background(), 0, "INR", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHub_PrunesOldIntents(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	h := NewHub(secret, clk)
	ctx := context.Background()
	old, err := h.CreatePaymentIntent(ctx, 100, "INR", nil)
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	_, err = h.CreatePaymentIntent(ctx, 100, "INR", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, h.Refund(ctx, old.ID), domain.ErrNotFound)
}
