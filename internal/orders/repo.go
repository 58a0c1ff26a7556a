package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
)

type Repo struct{ Store docstore.Store }

// Insert writes the order only if no order with that id exists. When one does,
// the stored order is returned with existed=true.
func (r *Repo) Insert(ctx context.Context, o Order) (out Order, existed bool, err error) {
	if _, err = r.Store.UpdateIf(ctx, docstore.KindOrders, o.ID, 0, o); err == nil {
		return o, false, nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return Order{}, false, fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	out, _, err = r.Get(ctx, o.ID)
	if err != nil {
		return Order{}, false, err
	}
	return out, true, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Order, int64, error) {
	doc, err := r.Store.Get(ctx, docstore.KindOrders, id)
	if err != nil {
		return Order{}, 0, err
	}
	var o Order
	if err := doc.Decode(&o); err != nil {
		return Order{}, 0, err
	}
	return o, doc.Version, nil
}

// Update applies fn under the document version it read, retrying on conflict.
func (r *Repo) Update(ctx context.Context, id string, fn func(*Order) error) (Order, error) {
	var out Order
	_, err := docstore.Update(ctx, r.Store, docstore.KindOrders, id, 3, func(doc docstore.Document) (any, error) {
		var o Order
		if err := doc.Decode(&o); err != nil {
			return nil, err
		}
		if err := fn(&o); err != nil {
			return nil, err
		}
		out = o
		return o, nil
	})
	if err != nil {
		return Order{}, err
	}
	return out, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	return r.list(ctx, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("userId", docstore.OpEq, userID)},
		OrderBy: "createdAtMs",
		Desc:    true,
		Limit:   limit,
	})
}

func (r *Repo) ListAll(ctx context.Context, status Status, limit int) ([]Order, error) {
	q := docstore.Query{OrderBy: "createdAtMs", Desc: true, Limit: limit}
	if status != "" {
		q.Filters = append(q.Filters, docstore.Where("status", docstore.OpEq, string(status)))
	}
	return r.list(ctx, q)
}

func (r *Repo) list(ctx context.Context, q docstore.Query) ([]Order, error) {
	docs, err := r.Store.Query(ctx, docstore.KindOrders, q)
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(docs))
	for _, doc := range docs {
		var o Order
		if err := doc.Decode(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
