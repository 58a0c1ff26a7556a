// Package docstore is a minimal document database: JSON documents grouped by
// kind, each carrying a version that every write increments. UpdateIf is the
// compare-and-swap primitive the inventory ledger relies on.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
)

const (
	KindProducts  = "products"
	KindCarts     = "carts"
	KindOrders    = "orders"
	KindReviews   = "reviews"
	KindWishlists = "wishlists"
)

type Document struct {
	Kind      string
	ID        string
	Version   int64
	Data      json.RawMessage
	UpdatedAt time.Time
}

func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Kind, d.ID, err)
	}
	return nil
}

type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is implemented by Memory and Postgres.
//
// Get returns domain.ErrNotFound for a missing document. UpdateIf writes only
// when the stored version equals version (0 means "must not exist yet") and
// returns domain.ErrVersionConflict otherwise. Transport failures surface as
// domain.ErrStorageUnavailable.
type Store interface {
	Get(ctx context.Context, kind, id string) (Document, error)
	Set(ctx context.Context, kind, id string, value any, merge bool) (Document, error)
	UpdateIf(ctx context.Context, kind, id string, version int64, value any) (Document, error)
	Query(ctx context.Context, kind string, q Query) ([]Document, error)
	Delete(ctx context.Context, kind, id string) error
}

// Update runs an optimistic read-modify-write on one document, retrying on
// version conflicts up to attempts times. fn receives the current document
// and returns the full replacement value.
func Update(ctx context.Context, s Store, kind, id string, attempts int, fn func(Document) (any, error)) (Document, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		doc, err := s.Get(ctx, kind, id)
		if err != nil {
			return Document{}, err
		}
		next, err := fn(doc)
		if err != nil {
			return Document{}, err
		}
		out, err := s.UpdateIf(ctx, kind, id, doc.Version, next)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return Document{}, err
		}
		lastErr = err
	}
	return Document{}, lastErr
}

func encode(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

func validOp(op Op) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}
