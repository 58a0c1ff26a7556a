// Package wishlist keeps each user's saved products as an ordered set.
package wishlist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
)

const (
	maxItems    = 200
	maxAttempts = 5
)

type Wishlist struct {
	UserID     string    `json:"userId"`
	ProductIDs []string  `json:"productIds"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (w Wishlist) Contains(productID string) bool {
	return slices.Contains(w.ProductIDs, productID)
}

type Service struct {
	store docstore.Store
	clock clock.Clock
}

func NewService(store docstore.Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{store: store, clock: clk}
}

// Get returns an empty wishlist for users who never saved anything.
func (s *Service) Get(ctx context.Context, userID string) (Wishlist, error) {
	w, _, err := s.load(ctx, userID)
	return w, err
}

// Add appends the product unless it is already saved.
func (s *Service) Add(ctx context.Context, userID, productID string) (Wishlist, error) {
	if productID == "" {
		return Wishlist{}, fmt.Errorf("%w: product id required", domain.ErrInvalidInput)
	}
	if _, err := s.store.Get(ctx, docstore.KindProducts, productID); err != nil {
		return Wishlist{}, err
	}
	return s.update(ctx, userID, func(w *Wishlist) (bool, error) {
		if w.Contains(productID) {
			return false, nil
		}
		if len(w.ProductIDs) >= maxItems {
			return false, fmt.Errorf("%w: wishlist holds at most %d products", domain.ErrInvalidInput, maxItems)
		}
		w.ProductIDs = append(w.ProductIDs, productID)
		return true, nil
	})
}

func (s *Service) Remove(ctx context.Context, userID, productID string) (Wishlist, error) {
	return s.update(ctx, userID, func(w *Wishlist) (bool, error) {
		i := slices.Index(w.ProductIDs, productID)
		if i < 0 {
			return false, nil
		}
		w.ProductIDs = slices.Delete(w.ProductIDs, i, i+1)
		return true, nil
	})
}

// Toggle adds a missing product or removes a saved one, and reports whether
// the product is saved afterwards.
func (s *Service) Toggle(ctx context.Context, userID, productID string) (bool, error) {
	w, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if w.Contains(productID) {
		_, err = s.Remove(ctx, userID, productID)
		return false, err
	}
	_, err = s.Add(ctx, userID, productID)
	return err == nil, err
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	_, err := s.update(ctx, userID, func(w *Wishlist) (bool, error) {
		if len(w.ProductIDs) == 0 {
			return false, nil
		}
		w.ProductIDs = []string{}
		return true, nil
	})
	return err
}

func (s *Service) load(ctx context.Context, userID string) (Wishlist, int64, error) {
	if userID == "" {
		return Wishlist{}, 0, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	doc, err := s.store.Get(ctx, docstore.KindWishlists, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return Wishlist{UserID: userID, ProductIDs: []string{}}, 0, nil
	}
	if err != nil {
		return Wishlist{}, 0, err
	}
	var w Wishlist
	if err := doc.Decode(&w); err != nil {
		return Wishlist{}, 0, err
	}
	if w.ProductIDs == nil {
		w.ProductIDs = []string{}
	}
	return w, doc.Version, nil
}

// update is a CAS loop that also covers the first write for a user.
func (s *Service) update(ctx context.Context, userID string, fn func(*Wishlist) (bool, error)) (Wishlist, error) {
	for i := 0; i < maxAttempts; i++ {
		w, version, err := s.load(ctx, userID)
		if err != nil {
			return Wishlist{}, err
		}
		changed, err := fn(&w)
		if err != nil || !changed {
			return w, err
		}
		w.UpdatedAt = s.clock.Now()
		_, err = s.store.UpdateIf(ctx, docstore.KindWishlists, userID, version, w)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return Wishlist{}, err
		}
	}
	return Wishlist{}, fmt.Errorf("wishlist %s: %w", userID, domain.ErrVersionConflict)
}
