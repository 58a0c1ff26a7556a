// Package inventory is the only writer of product stock fields. Every
// mutation is a compare-and-swap on the product document, and holds live
// inside that document so a reservation and its stock change land together.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/metrics"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts       = 5
	DefaultLowStockThreshold = 5
	LowStockWindow           = 24 * time.Hour
)

// ErrHoldNotFound means the hold is no longer on the product: it was already
// settled, most likely by the sweeper.
var ErrHoldNotFound = errors.New("hold not found")

type Status string

const (
	StatusHeld      Status = "held"
	StatusCommitted Status = "committed"
	StatusReleased  Status = "released"
)

type Reservation struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
	Status    Status    `json:"status"`
}

// Finalizer reports whether the checkout behind a hold already produced an
// order. The sweeper commits such holds instead of releasing them.
type Finalizer interface {
	Finalized(ctx context.Context, checkoutKey string) (bool, error)
}

// LowStockGate lets at most one low-stock alert per product through per
// window.
type LowStockGate interface {
	Allow(ctx context.Context, productID string) (bool, error)
}

type Ledger struct {
	store       docstore.Store
	clock       clock.Clock
	gate        LowStockGate
	sender      notify.Sender
	finalizer   Finalizer
	metrics     *metrics.Metrics
	threshold   int
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

type Option func(*Ledger)

func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }
func WithGate(g LowStockGate) Option { return func(l *Ledger) { l.gate = g } }
func WithSender(s notify.Sender) Option { return func(l *Ledger) { l.sender = s } }
func WithFinalizer(f Finalizer) Option { return func(l *Ledger) { l.finalizer = f } }
func WithMetrics(m *metrics.Metrics) Option { return func(l *Ledger) { l.metrics = m } }
func WithBackOff(f func() backoff.BackOff) Option { return func(l *Ledger) { l.newBackOff = f } }

func WithThreshold(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.threshold = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func NewLedger(store docstore.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		clock:       clock.NewSystem(),
		threshold:   DefaultLowStockThreshold,
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.gate == nil {
		l.gate = NewMemoryGate(l.clock, LowStockWindow)
	}
	return l
}

// SetFinalizer wires the order lookup after construction; the order service
// is usually built after the ledger.
func (l *Ledger) SetFinalizer(f Finalizer) { l.finalizer = f }

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// ReservationID is derived from the checkout key so a retried reserve for the
// same checkout finds the hold it already placed.
func ReservationID(key, productID string) string {
	if key == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("hold:"+key+":"+productID)).String()
}

func (l *Ledger) Reserve(ctx context.Context, productID string, qty int, key string) (*Reservation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %d for %s", domain.ErrInvalidLineItem, qty, productID)
	}
	id := ReservationID(key, productID)
	var res *Reservation
	err := l.withRetry(ctx, func() error {
		p, changed, err := l.mutate(ctx, productID, func(p *domain.Product, now time.Time) (bool, error) {
			if h, ok := p.Holds[id]; ok {
				res = holdToReservation(id, productID, h)
				return false, nil
			}
			if p.QuantityAvailable < qty {
				return false, &domain.StockError{ProductID: productID, Requested: qty, Available: p.QuantityAvailable}
			}
			p.QuantityAvailable -= qty
			p.ReservedQuantity += qty
			if p.Holds == nil {
				p.Holds = map[string]domain.Hold{}
			}
			h := domain.Hold{Quantity: qty, Key: key, CreatedAt: now}
			p.Holds[id] = h
			res = holdToReservation(id, productID, h)
			return true, nil
		})
		if err != nil {
			return err
		}
		if changed {
			l.checkLowStock(ctx, p)
		}
		return nil
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: product %s still contended after %d attempts", domain.ErrInsufficientStock, productID, l.maxAttempts)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", productID, err)
	}
	return res, nil
}

// Commit consumes the held stock permanently. Committing twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, r *Reservation) error {
	switch r.Status {
	case StatusCommitted:
		return nil
	case StatusReleased:
		return fmt.Errorf("commit %s: %w: reservation already released", r.ID, domain.ErrInvalidTransition)
	}
	found := false
	err := l.withRetry(ctx, func() error {
		_, _, err := l.mutate(ctx, r.ProductID, func(p *domain.Product, _ time.Time) (bool, error) {
			h, ok := p.Holds[r.ID]
			found = ok
			if !ok {
				return false, nil
			}
			delete(p.Holds, r.ID)
			p.ReservedQuantity -= h.Quantity
			return true, nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", r.ID, err)
	}
	if !found {
		return fmt.Errorf("commit %s: %w", r.ID, ErrHoldNotFound)
	}
	r.Status = StatusCommitted
	return nil
}

// Release returns held stock to the available pool. Releasing a reservation
// that is already settled is a no-op.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	if r.Status != StatusHeld {
		return nil
	}
	found := false
	err := l.withRetry(ctx, func() error {
		p, changed, err := l.mutate(ctx, r.ProductID, func(p *domain.Product, _ time.Time) (bool, error) {
			h, ok := p.Holds[r.ID]
			found = ok
			if !ok {
				return false, nil
			}
			delete(p.Holds, r.ID)
			p.ReservedQuantity -= h.Quantity
			p.QuantityAvailable += h.Quantity
			return true, nil
		})
		if err == nil && changed {
			l.checkLowStock(ctx, p)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", r.ID, err)
	}
	if found {
		r.Status = StatusReleased
	}
	return nil
}

// ReleaseAll releases every reservation, carrying on past failures.
func (l *Ledger) ReleaseAll(ctx context.Context, rs []*Reservation) error {
	var errs []error
	for _, r := range rs {
		if err := l.Release(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Adjust restocks (delta > 0) or writes off (delta < 0) available stock.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int) (domain.Product, error) {
	var out domain.Product
	err := l.withRetry(ctx, func() error {
		p, changed, err := l.mutate(ctx, productID, func(p *domain.Product, _ time.Time) (bool, error) {
			if delta == 0 {
				return false, nil
			}
			if p.QuantityAvailable+delta < 0 {
				return false, &domain.StockError{ProductID: productID, Requested: -delta, Available: p.QuantityAvailable}
			}
			p.QuantityAvailable += delta
			return true, nil
		})
		if err != nil {
			return err
		}
		out = p
		if changed {
			l.checkLowStock(ctx, p)
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("adjust %s: %w", productID, err)
	}
	return out, nil
}

// LowStock lists products whose available quantity is at or below threshold.
func (l *Ledger) LowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	if threshold < 0 {
		threshold = l.threshold
	}
	docs, err := l.store.Query(ctx, docstore.KindProducts, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("quantityAvailable", docstore.OpLte, threshold)},
		OrderBy: "quantityAvailable",
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		var p domain.Product
		if err := doc.Decode(&p); err != nil {
			return nil, err
		}
		p.ID = doc.ID
		out = append(out, p)
	}
	return out, nil
}

func (l *Ledger) Threshold() int { return l.threshold }

// mutate runs one optimistic read-modify-write on a product. fn reports
// whether it changed anything; unchanged products are not written.
func (l *Ledger) mutate(ctx context.Context, productID string, fn func(p *domain.Product, now time.Time) (bool, error)) (domain.Product, bool, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		doc, err := l.store.Get(ctx, docstore.KindProducts, productID)
		if err != nil {
			return domain.Product{}, false, err
		}
		var p domain.Product
		if err := doc.Decode(&p); err != nil {
			return domain.Product{}, false, err
		}
		p.ID = doc.ID
		now := l.clock.Now()
		changed, err := fn(&p, now)
		if err != nil || !changed {
			return p, false, err
		}
		p.UpdatedAt = now
		if _, err := l.store.UpdateIf(ctx, docstore.KindProducts, productID, doc.Version, p); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				l.metrics.ReserveConflict()
				continue
			}
			return domain.Product{}, false, err
		}
		return p, true, nil
	}
	return domain.Product{}, false, domain.ErrVersionConflict
}

// withRetry retries op with backoff while the store is unavailable. Any other
// error ends the loop immediately.
func (l *Ledger) withRetry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(l.newBackOff(), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, domain.ErrStorageUnavailable) {
			if err != nil {
				log.Warn().Err(err).Msg("inventory store unavailable, retrying")
			}
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func (l *Ledger) checkLowStock(ctx context.Context, p domain.Product) {
	if p.QuantityAvailable > l.threshold {
		return
	}
	ok, err := l.gate.Allow(ctx, p.ID)
	if err != nil {
		log.Warn().Err(err).Str("product_id", p.ID).Msg("low-stock gate unavailable")
		return
	}
	if !ok {
		return
	}
	l.metrics.LowStock()
	log.Info().Str("product_id", p.ID).Int("available", p.QuantityAvailable).Msg("low stock")
	if l.sender == nil {
		return
	}
	ev := notify.LowStock{
		ProductID: p.ID,
		Name:      p.Name,
		Available: p.QuantityAvailable,
		Threshold: l.threshold,
		At:        l.clock.Now(),
	}
	if err := l.sender.Send(context.WithoutCancel(ctx), ev); err != nil {
		l.metrics.NotificationFailed(string(notify.KindLowStock))
		log.Warn().Err(err).Str("product_id", p.ID).Msg("low-stock notification failed")
	}
}

func holdToReservation(id, productID string, h domain.Hold) *Reservation {
	return &Reservation{
		ID:        id,
		ProductID: productID,
		Quantity:  h.Quantity,
		Key:       h.Key,
		CreatedAt: h.CreatedAt,
		Status:    StatusHeld,
	}
}
