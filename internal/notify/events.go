package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	kafkax "github.com/ariefcatur/ramro-storefront/internal/kafka"
	"github.com/google/uuid"
)

type Kind string

const (
	KindOrderPlaced    Kind = "OrderPlaced"
	KindOrderShipped   Kind = "OrderShipped"
	KindOrderDelivered Kind = "OrderDelivered"
	KindOrderCancelled Kind = "OrderCancelled"
	KindLowStock       Kind = "LowStock"
)

// Event is one of the fixed notification variants below.
type Event interface {
	Kind() Kind
	// Key groups events that must stay ordered (order id or product id).
	Key() string
}

// Sender delivers events. Callers treat it as fire-and-forget: errors are
// logged, never surfaced to the shopper.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

type OrderPlaced struct {
	OrderID       string              `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	UserID        string              `json:"user_id"`
	Email         string              `json:"email"`
	Items         []domain.LineItem   `json:"items"`
	Subtotal      int64               `json:"subtotal"`
	Tax           int64               `json:"tax"`
	Shipping      int64               `json:"shipping"`
	Total         int64               `json:"total"`
	PaymentMethod string              `json:"payment_method"`
	ShippingInfo  domain.ShippingInfo `json:"shipping_info"`
	PlacedAt      time.Time           `json:"placed_at"`
}

type OrderShipped struct {
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	TrackingNumber string    `json:"tracking_number"`
	ShippedAt      time.Time `json:"shipped_at"`
}

type OrderDelivered struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Total       int64     `json:"total"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type LowStock struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Available int       `json:"available"`
	Threshold int       `json:"threshold"`
	At        time.Time `json:"at"`
}

func (OrderPlaced) Kind() Kind    { return KindOrderPlaced }
func (OrderShipped) Kind() Kind   { return KindOrderShipped }
func (OrderDelivered) Kind() Kind { return KindOrderDelivered }
func (OrderCancelled) Kind() Kind { return KindOrderCancelled }
func (LowStock) Kind() Kind       { return KindLowStock }

func (e OrderPlaced) Key() string    { return e.OrderID }
func (e OrderShipped) Key() string   { return e.OrderID }
func (e OrderDelivered) Key() string { return e.OrderID }
func (e OrderCancelled) Key() string { return e.OrderID }
func (e LowStock) Key() string       { return e.ProductID }

// Envelope is the wire form shared by every transport.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     Kind            `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func Wrap(producer string, ev Event, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Kind(),
		EventVersion:  1,
		OccurredAt:    now.UTC(),
		Producer:      producer,
		CorrelationID: ev.Key(),
		Payload:       payload,
	}, nil
}

// Unwrap decodes the payload back into its variant.
func Unwrap(env Envelope) (Event, error) {
	switch env.EventType {
	case KindOrderPlaced:
		return decodePayload[OrderPlaced](env.Payload)
	case KindOrderShipped:
		return decodePayload[OrderShipped](env.Payload)
	case KindOrderDelivered:
		return decodePayload[OrderDelivered](env.Payload)
	case KindOrderCancelled:
		return decodePayload[OrderCancelled](env.Payload)
	case KindLowStock:
		return decodePayload[LowStock](env.Payload)
	}
	return nil, fmt.Errorf("unknown event type %q", env.EventType)
}

func decodePayload[T Event](payload json.RawMessage) (Event, error) {
	t, err := kafkax.UnwrapPayload[T](payload)
	if err != nil {
		return nil, err
	}
	return t, nil
}
