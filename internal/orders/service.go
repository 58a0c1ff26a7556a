package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/metrics"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

type Service struct {
	repo    *Repo
	sender  notify.Sender
	clock   clock.Clock
	metrics *metrics.Metrics

	newBackOff func() backoff.BackOff
}

func NewService(store docstore.Store, sender notify.Sender, clk clock.Clock, m *metrics.Metrics) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		repo:    &Repo{Store: store},
		sender:  sender,
		clock:   clk,
		metrics: m,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

// Create persists a new order for a checkout. Creating twice for the same
// checkout key returns the first order with existed=true.
func (s *Service) Create(ctx context.Context, in NewOrder) (Order, bool, error) {
	o, err := New(in, s.clock.Now())
	if err != nil {
		return Order{}, false, err
	}
	var (
		out     Order
		existed bool
	)
	err = backoff.Retry(func() error {
		var err error
		out, existed, err = s.repo.Insert(ctx, o)
		if err != nil && !errors.Is(err, domain.ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(s.newBackOff(), ctx))
	if err != nil {
		return Order{}, false, err
	}
	if !existed {
		log.Info().Str("order_id", out.ID).Str("order_number", out.OrderNumber).
			Int64("total", out.Total).Str("payment", string(out.PaymentMethod)).Msg("order created")
	}
	return out, existed, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	o, _, err := s.repo.Get(ctx, id)
	return o, err
}

// Finalized reports whether the checkout produced an order.
func (s *Service) Finalized(ctx context.Context, checkoutKey string) (bool, error) {
	_, _, err := s.repo.Get(ctx, IDForCheckout(checkoutKey))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Transition moves an order to the next status and notifies the customer.
func (s *Service) Transition(ctx context.Context, id string, to Status, extra Extra) (Order, error) {
	o, err := s.repo.Update(ctx, id, func(o *Order) error {
		return o.Transition(to, extra, s.clock.Now())
	})
	if err != nil {
		return Order{}, err
	}
	log.Info().Str("order_id", o.ID).Str("status", string(o.Status)).Msg("order status changed")
	if ev, ok := o.StatusEvent(); ok {
		s.publish(ctx, ev)
	}
	return o, nil
}

func (s *Service) SetPaymentStatus(ctx context.Context, id string, to PaymentStatus) (Order, error) {
	o, err := s.repo.Update(ctx, id, func(o *Order) error {
		return o.SetPaymentStatus(to, s.clock.Now())
	})
	if err != nil {
		return Order{}, err
	}
	log.Info().Str("order_id", o.ID).Str("payment_status", string(o.PaymentStatus)).Msg("payment status changed")
	return o, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *Service) ListAll(ctx context.Context, status Status, limit int) ([]Order, error) {
	return s.repo.ListAll(ctx, status, limit)
}

// Purchased reports whether the user has a non-cancelled order containing
// the product.
func (s *Service) Purchased(ctx context.Context, userID, productID string) (bool, error) {
	list, err := s.repo.ListByUser(ctx, userID, 0)
	if err != nil {
		return false, err
	}
	for _, o := range list {
		if o.Status == StatusCancelled {
			continue
		}
		for _, it := range o.Items {
			if it.ProductID == productID {
				return true, nil
			}
		}
	}
	return false, nil
}

type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"byStatus"`
	PendingPayments int            `json:"pendingPayments"`
	Revenue         int64          `json:"revenue"`
}

// Stats summarises every order. Cancelled orders do not count as revenue.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.repo.ListAll(ctx, "", 0)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByStatus: map[Status]int{
		StatusProcessing: 0, StatusShipped: 0, StatusDelivered: 0, StatusCancelled: 0,
	}}
	for _, o := range all {
		st.Total++
		st.ByStatus[o.Status]++
		if o.PaymentStatus == PaymentPending {
			st.PendingPayments++
		}
		if o.Status != StatusCancelled {
			st.Revenue += o.Total
		}
	}
	return st, nil
}

// publish is best-effort; failures are logged and counted only.
func (s *Service) publish(ctx context.Context, ev notify.Event) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(context.WithoutCancel(ctx), ev); err != nil {
		s.metrics.NotificationFailed(string(ev.Kind()))
		log.Warn().Err(err).Str("event", string(ev.Kind())).Str("key", ev.Key()).Msg("notification failed")
	}
}
