package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/ariefcatur/ramro-storefront/internal/pricing"
	"github.com/google/uuid"
)

// Order line items and totals are fixed at creation; only Status,
// PaymentStatus, TrackingNumber and UpdatedAt change afterwards.
type Order struct {
	ID             string              `json:"id"`
	OrderNumber    string              `json:"orderNumber"`
	UserID         string              `json:"userId"`
	UserEmail      string              `json:"userEmail"`
	CheckoutKey    string              `json:"checkoutKey"`
	Items          []domain.LineItem   `json:"items"`
	ShippingInfo   domain.ShippingInfo `json:"shippingInfo"`
	PaymentMethod  PaymentMethod       `json:"paymentMethod"`
	PaymentRef     string              `json:"paymentRef,omitempty"`
	Subtotal       int64               `json:"subtotal"`
	Tax            int64               `json:"tax"`
	Shipping       int64               `json:"shipping"`
	Total          int64               `json:"total"`
	Status         Status              `json:"status"`
	PaymentStatus  PaymentStatus       `json:"paymentStatus"`
	TrackingNumber string              `json:"trackingNumber,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	CreatedAtMs    int64               `json:"createdAtMs"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

type NewOrder struct {
	CheckoutKey   string
	UserID        string
	UserEmail     string
	Items         []domain.LineItem
	ShippingInfo  domain.ShippingInfo
	PaymentMethod PaymentMethod
	PaymentRef    string
}

type Extra struct {
	TrackingNumber string `json:"trackingNumber"`
}

var orderNamespace = uuid.MustParse("6f1c2d1e-7a43-4b7e-9a52-3c0e8f3b9d21")

// IDForCheckout derives the order id from the checkout key, so a retried
// create for the same checkout lands on the same document.
func IDForCheckout(key string) string {
	return uuid.NewSHA1(orderNamespace, []byte(key)).String()
}

// New snapshots the line items and their totals into a processing order.
func New(in NewOrder, now time.Time) (Order, error) {
	if len(in.Items) == 0 {
		return Order{}, domain.ErrEmptyCart
	}
	if strings.TrimSpace(in.CheckoutKey) == "" {
		return Order{}, fmt.Errorf("%w: checkout key required", domain.ErrInvalidInput)
	}
	if !in.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: payment method %q", domain.ErrInvalidInput, in.PaymentMethod)
	}
	totals, err := pricing.ComputeTotals(in.Items)
	if err != nil {
		return Order{}, err
	}
	ps := PaymentCompleted
	if in.PaymentMethod == MethodCOD {
		ps = PaymentPending
	}
	items := make([]domain.LineItem, len(in.Items))
	copy(items, in.Items)
	now = now.UTC()
	return Order{
		ID:            IDForCheckout(in.CheckoutKey),
		OrderNumber:   fmt.Sprintf("ORD-%d", now.UnixMilli()),
		UserID:        in.UserID,
		UserEmail:     in.UserEmail,
		CheckoutKey:   in.CheckoutKey,
		Items:         items,
		ShippingInfo:  in.ShippingInfo,
		PaymentMethod: in.PaymentMethod,
		PaymentRef:    in.PaymentRef,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		Shipping:      totals.Shipping,
		Total:         totals.Total,
		Status:        StatusProcessing,
		PaymentStatus: ps,
		CreatedAt:     now,
		CreatedAtMs:   now.UnixMilli(),
		UpdatedAt:     now,
	}, nil
}

// Transition moves the order along the status table. On error the order is
// left untouched.
func (o *Order) Transition(to Status, extra Extra, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, o.Status, to)
	}
	tracking := strings.TrimSpace(extra.TrackingNumber)
	if to == StatusShipped && tracking == "" {
		return domain.ErrMissingTrackingNumber
	}
	o.Status = to
	if tracking != "" {
		o.TrackingNumber = tracking
	}
	o.UpdatedAt = now.UTC()
	return nil
}

func (o *Order) SetPaymentStatus(to PaymentStatus, now time.Time) error {
	if !CanSetPayment(o.PaymentStatus, to) {
		return fmt.Errorf("%w: payment %s -> %s", domain.ErrInvalidTransition, o.PaymentStatus, to)
	}
	o.PaymentStatus = to
	o.UpdatedAt = now.UTC()
	return nil
}

func (o Order) customerName() string {
	if n := strings.TrimSpace(o.ShippingInfo.FirstName); n != "" {
		return n
	}
	return "Customer"
}

func (o Order) email() string {
	if o.UserEmail != "" {
		return o.UserEmail
	}
	return o.ShippingInfo.Email
}

// PlacedEvent is the confirmation notification for a new order.
func (o Order) PlacedEvent() notify.OrderPlaced {
	return notify.OrderPlaced{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Email:         o.email(),
		Items:         o.Items,
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		Shipping:      o.Shipping,
		Total:         o.Total,
		PaymentMethod: string(o.PaymentMethod),
		ShippingInfo:  o.ShippingInfo,
		PlacedAt:      o.CreatedAt,
	}
}

// StatusEvent is the notification for the order's current status, if any.
func (o Order) StatusEvent() (notify.Event, bool) {
	switch o.Status {
	case StatusShipped:
		return notify.OrderShipped{OrderID: o.ID, OrderNumber: o.OrderNumber, Email: o.email(),
			Name: o.customerName(), TrackingNumber: o.TrackingNumber, ShippedAt: o.UpdatedAt}, true
	case StatusDelivered:
		return notify.OrderDelivered{OrderID: o.ID, OrderNumber: o.OrderNumber, Email: o.email(),
			Name: o.customerName(), DeliveredAt: o.UpdatedAt}, true
	case StatusCancelled:
		return notify.OrderCancelled{OrderID: o.ID, OrderNumber: o.OrderNumber, Email: o.email(),
			Name: o.customerName(), Total: o.Total, CancelledAt: o.UpdatedAt}, true
	}
	return nil, false
}
