package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/pricing"
	"github.com/rs/zerolog/log"
)

type ProductSource interface {
	Get(ctx context.Context, id string) (domain.Product, int64, error)
}

type View struct {
	UserID    string            `json:"userId"`
	Items     []domain.LineItem `json:"items"`
	ItemCount int               `json:"itemCount"`
	Totals    pricing.Totals    `json:"totals"`
}

type entry struct {
	mu         sync.Mutex
	cart       *Cart
	dirty      bool
	persisting bool
}

// Service keeps carts in memory and backs them up to the document store in
// the background. A failed backup is logged and never undoes the change.
type Service struct {
	store    docstore.Store
	products ProductSource
	clock    clock.Clock
	timeout  time.Duration

	mu    sync.Mutex
	carts map[string]*entry
	wg    sync.WaitGroup
}

func NewService(store docstore.Store, products ProductSource, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		store:    store,
		products: products,
		clock:    clk,
		timeout:  5 * time.Second,
		carts:    map[string]*entry{},
	}
}

func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	return s.apply(ctx, userID, false, func(*Cart) error { return nil })
}

func (s *Service) Add(ctx context.Context, userID, productID string, qty int) (View, error) {
	p, _, err := s.products.Get(ctx, productID)
	if err != nil {
		return View{}, err
	}
	if !p.Active {
		return View{}, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	return s.apply(ctx, userID, true, func(c *Cart) error { return c.Add(p, qty) })
}

func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, qty int) (View, error) {
	return s.apply(ctx, userID, true, func(c *Cart) error {
		c.UpdateQuantity(productID, qty)
		return nil
	})
}

func (s *Service) Remove(ctx context.Context, userID, productID string) (View, error) {
	return s.apply(ctx, userID, true, func(c *Cart) error {
		c.Remove(productID)
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	_, err := s.apply(ctx, userID, true, func(c *Cart) error {
		c.Clear()
		return nil
	})
	return err
}

// RemoveLines drops checked-out lines, keeping items added since.
func (s *Service) RemoveLines(ctx context.Context, userID string, lines []domain.LineItem) error {
	_, err := s.apply(ctx, userID, true, func(c *Cart) error {
		c.Subtract(lines)
		return nil
	})
	return err
}

// Lines returns a copy of the user's cart lines.
func (s *Service) Lines(ctx context.Context, userID string) ([]domain.LineItem, error) {
	v, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return v.Items, nil
}

// Flush waits for pending background writes.
func (s *Service) Flush() { s.wg.Wait() }

func (s *Service) apply(ctx context.Context, userID string, mutate bool, fn func(*Cart) error) (View, error) {
	if userID == "" {
		return View{}, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	e, err := s.entry(ctx, userID)
	if err != nil {
		return View{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.cart); err != nil {
		return View{}, err
	}
	if mutate {
		e.cart.touch(s.clock.Now())
		s.schedulePersist(userID, e)
	}
	totals, err := e.cart.Totals()
	if err != nil {
		return View{}, err
	}
	return View{UserID: userID, Items: e.cart.Lines(), ItemCount: e.cart.ItemCount(), Totals: totals}, nil
}

// entry returns the live cart, restoring it from storage on first access.
func (s *Service) entry(ctx context.Context, userID string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.carts[userID]
	s.mu.Unlock()
	if ok {
		return e, nil
	}

	c := New(userID)
	doc, err := s.store.Get(ctx, docstore.KindCarts, userID)
	switch {
	case err == nil:
		var snap Snapshot
		if err := doc.Decode(&snap); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("discarding unreadable cart")
		} else {
			snap.UserID = userID
			c = FromSnapshot(snap)
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("restore cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.carts[userID]; ok {
		return e, nil
	}
	e = &entry{cart: c}
	s.carts[userID] = e
	return e, nil
}

// schedulePersist marks the cart dirty and starts a writer if none is running.
// Writes for one user are serialised and coalesced. Caller holds e.mu.
func (s *Service) schedulePersist(userID string, e *entry) {
	e.dirty = true
	if e.persisting {
		return
	}
	e.persisting = true
	s.wg.Add(1)
	go s.persistLoop(userID, e)
}

func (s *Service) persistLoop(userID string, e *entry) {
	defer s.wg.Done()
	for {
		e.mu.Lock()
		if !e.dirty {
			e.persisting = false
			e.mu.Unlock()
			return
		}
		e.dirty = false
		snap := e.cart.Snapshot()
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		_, err := s.store.Set(ctx, docstore.KindCarts, userID, snap, false)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Int("items", len(snap.Items)).Msg("cart backup failed")
		}
	}
}
