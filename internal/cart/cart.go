// Package cart holds the shopper's cart. Cart itself is a plain aggregate
// with no I/O; Service owns the carts of live sessions and persists them.
package cart

import (
	"fmt"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/pricing"
)

// Cart keeps at most one line per product, in insertion order. Not safe for
// concurrent use.
type Cart struct {
	userID    string
	items     []domain.LineItem
	updatedAt time.Time
}

func New(userID string) *Cart { return &Cart{userID: userID} }

// Add puts qty of p in the cart. The unit price is captured the first time
// the product is added and never changes afterwards.
func (c *Cart) Add(p domain.Product, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity %d for %s", domain.ErrInvalidLineItem, qty, p.ID)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: negative price for %s", domain.ErrInvalidLineItem, p.ID)
	}
	if i := c.index(p.ID); i >= 0 {
		c.items[i].Quantity += qty
		return nil
	}
	c.items = append(c.items, domain.LineItem{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  qty,
	})
	return nil
}

// UpdateQuantity sets the quantity of a line; qty <= 0 removes it.
func (c *Cart) UpdateQuantity(productID string, qty int) {
	if qty <= 0 {
		c.Remove(productID)
		return
	}
	if i := c.index(productID); i >= 0 {
		c.items[i].Quantity = qty
	}
}

func (c *Cart) Remove(productID string) {
	if i := c.index(productID); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

func (c *Cart) Clear() { c.items = nil }

// Subtract takes lines out of the cart by quantity. Anything added on top of
// them stays.
func (c *Cart) Subtract(lines []domain.LineItem) {
	for _, l := range lines {
		c.UpdateQuantity(l.ProductID, c.Quantity(l.ProductID)-l.Quantity)
	}
}

func (c *Cart) Totals() (pricing.Totals, error) { return pricing.ComputeTotals(c.items) }

// Lines returns a copy of the line items.
func (c *Cart) Lines() []domain.LineItem {
	out := make([]domain.LineItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

func (c *Cart) Quantity(productID string) int {
	if i := c.index(productID); i >= 0 {
		return c.items[i].Quantity
	}
	return 0
}

func (c *Cart) IsEmpty() bool { return len(c.items) == 0 }

func (c *Cart) index(productID string) int {
	for i, it := range c.items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// Snapshot is the stored form of a cart.
type Snapshot struct {
	UserID    string            `json:"userId"`
	Items     []domain.LineItem `json:"items"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (c *Cart) Snapshot() Snapshot {
	return Snapshot{UserID: c.userID, Items: c.Lines(), UpdatedAt: c.updatedAt}
}

// FromSnapshot rebuilds a cart, dropping malformed or duplicate lines.
func FromSnapshot(s Snapshot) *Cart {
	c := &Cart{userID: s.UserID, updatedAt: s.UpdatedAt}
	for _, it := range s.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 || c.index(it.ProductID) >= 0 {
			continue
		}
		c.items = append(c.items, it)
	}
	return c
}

func (c *Cart) touch(now time.Time) { c.updatedAt = now }
