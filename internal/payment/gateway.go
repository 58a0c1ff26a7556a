// Package payment adapts the card gateway. Intents are created here and
// settled when the gateway calls back through the signed webhook.
package payment

import (
	"context"
	"time"
)

type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"clientSecret"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type Confirmation struct {
	IntentID      string `json:"intentId"`
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Gateway is the card payment capability used by checkout.
// AwaitConfirmation blocks until the intent settles or ctx ends, in which
// case it returns ctx.Err(). Cancel voids an intent nobody waits for any
// more, so a late success is refunded instead of kept.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (Intent, error)
	AwaitConfirmation(ctx context.Context, intent Intent) (Confirmation, error)
	Cancel(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string) error
}
