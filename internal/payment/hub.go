package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	SignatureHeader = "X-Signature"
	retainIntents   = 24 * time.Hour
)

var (
	ErrBadSignature    = errors.New("bad webhook signature")
	ErrAlreadySettled  = errors.New("intent already settled")
	ErrIntentCancelled = errors.New("intent cancelled")
	ErrNoSecret        = errors.New("webhook secret not configured")
)

type intentState struct {
	intent    Intent
	done      chan struct{}
	result    Confirmation
	cancelled bool
	refunded  bool
}

// Hub keeps open intents in memory and settles them from webhook calls.
// Without a secret every webhook is rejected.
type Hub struct {
	secret []byte
	clock  clock.Clock

	mu      sync.Mutex
	intents map[string]*intentState
}

func NewHub(secret string, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Hub{secret: []byte(secret), clock: clk, intents: map[string]*intentState{}}
}

func (h *Hub) CreatePaymentIntent(_ context.Context, amount int64, currency string, metadata map[string]string) (Intent, error) {
	if amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	in := Intent{
		ID:           "pi_" + uuid.NewString(),
		ClientSecret: "secret_" + uuid.NewString(),
		Amount:       amount,
		Currency:     currency,
		Metadata:     metadata,
		CreatedAt:    h.clock.Now(),
	}
	h.mu.Lock()
	h.prune()
	h.intents[in.ID] = &intentState{intent: in, done: make(chan struct{})}
	h.mu.Unlock()
	log.Info().Str("intent_id", in.ID).Int64("amount", amount).Msg("payment intent created")
	return in, nil
}

func (h *Hub) AwaitConfirmation(ctx context.Context, in Intent) (Confirmation, error) {
	st, err := h.state(in.ID)
	if err != nil {
		return Confirmation{}, err
	}
	select {
	case <-st.done:
	case <-ctx.Done():
		// A settlement racing the deadline still wins.
		select {
		case <-st.done:
		default:
			return Confirmation{}, ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return st.result, nil
}

// Cancel voids an intent its checkout gave up on. A success that already
// landed is refunded, and so is one that lands later.
func (h *Hub) Cancel(_ context.Context, intentID string) error {
	st, err := h.state(intentID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-st.done:
		if st.result.Success && !st.refunded {
			st.refunded = true
			log.Warn().Str("intent_id", intentID).Msg("payment settled after checkout gave up, refunded")
		}
		return nil
	default:
	}
	st.cancelled = true
	st.result = Confirmation{IntentID: intentID, Reason: "cancelled"}
	close(st.done)
	log.Info().Str("intent_id", intentID).Msg("payment intent cancelled")
	return nil
}

func (h *Hub) Refund(_ context.Context, intentID string) error {
	st, err := h.state(intentID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st.refunded = true
	log.Info().Str("intent_id", intentID).Msg("payment refunded")
	return nil
}

// Refunded reports whether the intent has been refunded.
func (h *Hub) Refunded(intentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.intents[intentID]
	return ok && st.refunded
}

// Settle records the gateway outcome and wakes the waiting checkout.
func (h *Hub) Settle(c Confirmation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.intents[c.IntentID]
	if !ok {
		return fmt.Errorf("intent %s: %w", c.IntentID, domain.ErrNotFound)
	}
	if st.cancelled {
		if c.Success && !st.refunded {
			st.refunded = true
			log.Warn().Str("intent_id", c.IntentID).Str("transaction_id", c.TransactionID).
				Msg("payment for cancelled intent refunded")
		}
		return fmt.Errorf("intent %s: %w", c.IntentID, ErrIntentCancelled)
	}
	select {
	case <-st.done:
		return fmt.Errorf("intent %s: %w", c.IntentID, ErrAlreadySettled)
	default:
	}
	st.result = c
	close(st.done)
	return nil
}

// prune drops intents created more than retainIntents ago. Caller holds mu.
func (h *Hub) prune() {
	cutoff := h.clock.Now().Add(-retainIntents)
	for id, st := range h.intents {
		if st.intent.CreatedAt.Before(cutoff) {
			delete(h.intents, id)
		}
	}
}

func (h *Hub) state(id string) (*intentState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.intents[id]
	if !ok {
		return nil, fmt.Errorf("intent %s: %w", id, domain.ErrNotFound)
	}
	return st, nil
}

// WebhookEvent is the body the gateway posts when an intent settles.
type WebhookEvent struct {
	IntentID      string `json:"intentId"`
	Status        string `json:"status"` // succeeded | failed
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

// Sign returns the hex HMAC-SHA256 of body, as sent in SignatureHeader.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Hub) Verify(body []byte, signature string) error {
	if len(h.secret) == 0 {
		return fmt.Errorf("%w: %w", ErrBadSignature, ErrNoSecret)
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

// HandleWebhook verifies and applies one webhook call.
func (h *Hub) HandleWebhook(r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body", domain.ErrInvalidInput)
	}
	if err := h.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
		return err
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	var c Confirmation
	switch ev.Status {
	case "succeeded":
		c = Confirmation{IntentID: ev.IntentID, Success: true, TransactionID: ev.TransactionID}
	case "failed":
		reason := ev.Reason
		if reason == "" {
			reason = "payment declined"
		}
		c = Confirmation{IntentID: ev.IntentID, Reason: reason}
	default:
		return fmt.Errorf("%w: status %q", domain.ErrInvalidInput, ev.Status)
	}
	log.Info().Str("intent_id", ev.IntentID).Str("status", ev.Status).Msg("payment webhook")
	return h.Settle(c)
}
