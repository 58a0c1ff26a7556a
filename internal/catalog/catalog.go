// Package catalog reads and writes product documents. Stock fields are
// initialised here on creation and afterwards belong to the inventory ledger.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/google/uuid"
)

type Repo struct {
	store docstore.Store
	clock clock.Clock
}

func NewRepo(store docstore.Store, clk clock.Clock) *Repo {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Repo{store: store, clock: clk}
}

// Get returns the product together with the document version it was read at.
func (r *Repo) Get(ctx context.Context, id string) (domain.Product, int64, error) {
	doc, err := r.store.Get(ctx, docstore.KindProducts, id)
	if err != nil {
		return domain.Product{}, 0, err
	}
	var p domain.Product
	if err := doc.Decode(&p); err != nil {
		return domain.Product{}, 0, err
	}
	p.ID = doc.ID
	return p, doc.Version, nil
}

type NewProduct struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	Featured    bool   `json:"featured"`
}

func (r *Repo) Create(ctx context.Context, in NewProduct) (domain.Product, error) {
	if strings.TrimSpace(in.Name) == "" || in.Price < 0 || in.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: product needs a name and non-negative price and stock", domain.ErrInvalidInput)
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.clock.Now()
	p := domain.Product{
		ID:                id,
		Name:              in.Name,
		Description:       in.Description,
		Category:          in.Category,
		ImageURL:          in.ImageURL,
		Price:             in.Price,
		QuantityAvailable: in.Stock,
		Featured:          in.Featured,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := r.store.UpdateIf(ctx, docstore.KindProducts, id, 0, p); err != nil {
		return domain.Product{}, fmt.Errorf("create product %s: %w", id, err)
	}
	return p, nil
}

// Patch carries the admin-editable fields. Nil fields are left alone.
type Patch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	ImageURL    *string `json:"imageUrl"`
	Price       *int64  `json:"price"`
	Featured    *bool   `json:"featured"`
	Active      *bool   `json:"active"`
}

// Update merges the patch into the product. Stock fields are not reachable
// from here.
func (r *Repo) Update(ctx context.Context, id string, p Patch) (domain.Product, error) {
	fields := map[string]any{"updatedAt": r.clock.Now()}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", domain.ErrInvalidInput)
		}
		fields["name"] = *p.Name
	}
	if p.Price != nil {
		if *p.Price < 0 {
			return domain.Product{}, fmt.Errorf("%w: negative price", domain.ErrInvalidInput)
		}
		fields["price"] = *p.Price
	}
	set := func(key string, v *string) {
		if v != nil {
			fields[key] = *v
		}
	}
	set("description", p.Description)
	set("category", p.Category)
	set("imageUrl", p.ImageURL)
	if p.Featured != nil {
		fields["featured"] = *p.Featured
	}
	if p.Active != nil {
		fields["active"] = *p.Active
	}
	if _, _, err := r.Get(ctx, id); err != nil {
		return domain.Product{}, err
	}
	if _, err := r.store.Set(ctx, docstore.KindProducts, id, fields, true); err != nil {
		return domain.Product{}, fmt.Errorf("update product %s: %w", id, err)
	}
	out, _, err := r.Get(ctx, id)
	return out, err
}

type Sort string

const (
	SortName      Sort = "name"
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortRating    Sort = "rating"
)

type ListFilter struct {
	Category     string
	FeaturedOnly bool
	InStockOnly  bool
	// Search matches name, description and category, ignoring case.
	Search string
	Sort   Sort
	Limit  int
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]domain.Product, error) {
	q := docstore.Query{
		Filters: []docstore.Filter{docstore.Where("active", docstore.OpEq, true)},
		OrderBy: "name",
	}
	switch f.Sort {
	case "", SortName:
	case SortPriceAsc:
		q.OrderBy = "price"
	case SortPriceDesc:
		q.OrderBy, q.Desc = "price", true
	case SortRating:
		q.OrderBy, q.Desc = "rating", true
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", domain.ErrInvalidInput, f.Sort)
	}
	if f.Category != "" {
		q.Filters = append(q.Filters, docstore.Where("category", docstore.OpEq, f.Category))
	}
	if f.FeaturedOnly {
		q.Filters = append(q.Filters, docstore.Where("featured", docstore.OpEq, true))
	}
	if f.InStockOnly {
		q.Filters = append(q.Filters, docstore.Where("quantityAvailable", docstore.OpGt, 0))
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		q.Limit = f.Limit
		return r.query(ctx, q)
	}

	// The store has no text index; match here and limit afterwards.
	ps, err := r.query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := ps[:0]
	for _, p := range ps {
		if matchesSearch(p, term) {
			out = append(out, p)
		}
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matchesSearch(p domain.Product, term string) bool {
	for _, s := range []string{p.Name, p.Description, p.Category} {
		if strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

// SetRating writes the derived review aggregate without touching stock fields.
func (r *Repo) SetRating(ctx context.Context, id string, rating float64, count int) error {
	_, err := r.store.Set(ctx, docstore.KindProducts, id, map[string]any{
		"rating":      rating,
		"reviewCount": count,
		"updatedAt":   r.clock.Now(),
	}, true)
	if err != nil {
		return fmt.Errorf("set rating for %s: %w", id, err)
	}
	return nil
}

func (r *Repo) query(ctx context.Context, q docstore.Query) ([]domain.Product, error) {
	docs, err := r.store.Query(ctx, docstore.KindProducts, q)
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
