// Package reviews stores product reviews and keeps the product's rating and
// reviewCount in step with them.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrAlreadyReviewed = errors.New("product already reviewed by this user")
	ErrNotOwner        = errors.New("review belongs to another user")
)

const maxComment = 2000

type Review struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	UserID      string    `json:"userId"`
	UserEmail   string    `json:"userEmail,omitempty"`
	UserName    string    `json:"userName"`
	Rating      int       `json:"rating"`
	Title       string    `json:"title,omitempty"`
	Comment     string    `json:"comment"`
	Helpful     int       `json:"helpful"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedAtMs int64     `json:"createdAtMs"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type NewReview struct {
	ProductID string `json:"productId"`
	UserID    string `json:"-"`
	UserEmail string `json:"-"`
	UserName  string `json:"-"`
	Rating    int    `json:"rating"`
	Title     string `json:"title"`
	Comment   string `json:"comment"`
}

type Stats struct {
	Average      float64     `json:"averageRating"`
	Total        int         `json:"totalReviews"`
	Distribution map[int]int `json:"ratingDistribution"`
}

// RatingWriter receives the recomputed aggregate for a product.
type RatingWriter interface {
	SetRating(ctx context.Context, productID string, rating float64, count int) error
}

// PurchaseChecker reports whether the user bought the product. Optional.
type PurchaseChecker interface {
	Purchased(ctx context.Context, userID, productID string) (bool, error)
}

type Service struct {
	store     docstore.Store
	ratings   RatingWriter
	purchases PurchaseChecker
	clock     clock.Clock
}

func NewService(store docstore.Store, ratings RatingWriter, purchases PurchaseChecker, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{store: store, ratings: ratings, purchases: purchases, clock: clk}
}

// ReviewID is stable per user and product, which limits each user to one
// review of a product.
func ReviewID(productID, userID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("review:"+productID+":"+userID)).String()
}

func validRating(r int) error {
	if r < 1 || r > 5 {
		return fmt.Errorf("%w: got %d", domain.ErrInvalidRating, r)
	}
	return nil
}

func (s *Service) Add(ctx context.Context, in NewReview) (Review, error) {
	if err := validRating(in.Rating); err != nil {
		return Review{}, err
	}
	if in.ProductID == "" || in.UserID == "" {
		return Review{}, fmt.Errorf("%w: product and user are required", domain.ErrInvalidInput)
	}
	comment := strings.TrimSpace(in.Comment)
	if len(comment) > maxComment {
		return Review{}, fmt.Errorf("%w: comment longer than %d characters", domain.ErrInvalidInput, maxComment)
	}
	if _, err := s.store.Get(ctx, docstore.KindProducts, in.ProductID); err != nil {
		return Review{}, err
	}
	name := strings.TrimSpace(in.UserName)
	if name == "" {
		name = "Anonymous"
	}
	now := s.clock.Now()
	r := Review{
		ID:          ReviewID(in.ProductID, in.UserID),
		ProductID:   in.ProductID,
		UserID:      in.UserID,
		UserEmail:   in.UserEmail,
		UserName:    name,
		Rating:      in.Rating,
		Title:       strings.TrimSpace(in.Title),
		Comment:     comment,
		CreatedAt:   now,
		CreatedAtMs: now.UnixMilli(),
		UpdatedAt:   now,
	}
	if s.purchases != nil {
		ok, err := s.purchases.Purchased(ctx, in.UserID, in.ProductID)
		if err != nil {
			log.Warn().Err(err).Str("product_id", in.ProductID).Msg("purchase lookup failed")
		}
		r.Verified = ok
	}
	if _, err := s.store.UpdateIf(ctx, docstore.KindReviews, r.ID, 0, r); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return Review{}, ErrAlreadyReviewed
		}
		return Review{}, fmt.Errorf("add review: %w", err)
	}
	s.refresh(ctx, in.ProductID)
	return r, nil
}

// Update changes the rating and text of the caller's own review.
func (s *Service) Update(ctx context.Context, id, userID string, rating int, title, comment string) (Review, error) {
	if err := validRating(rating); err != nil {
		return Review{}, err
	}
	var out Review
	_, err := docstore.Update(ctx, s.store, docstore.KindReviews, id, 3, func(doc docstore.Document) (any, error) {
		var r Review
		if err := doc.Decode(&r); err != nil {
			return nil, err
		}
		if r.UserID != userID {
			return nil, ErrNotOwner
		}
		r.Rating = rating
		r.Title = strings.TrimSpace(title)
		r.Comment = strings.TrimSpace(comment)
		r.UpdatedAt = s.clock.Now()
		out = r
		return r, nil
	})
	if err != nil {
		return Review{}, err
	}
	s.refresh(ctx, out.ProductID)
	return out, nil
}

// Delete removes the caller's review. Admins pass an empty userID.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if userID != "" && r.UserID != userID {
		return ErrNotOwner
	}
	if err := s.store.Delete(ctx, docstore.KindReviews, id); err != nil {
		return err
	}
	s.refresh(ctx, r.ProductID)
	return nil
}

func (s *Service) MarkHelpful(ctx context.Context, id string) (Review, error) {
	var out Review
	_, err := docstore.Update(ctx, s.store, docstore.KindReviews, id, 5, func(doc docstore.Document) (any, error) {
		var r Review
		if err := doc.Decode(&r); err != nil {
			return nil, err
		}
		r.Helpful++
		r.UpdatedAt = s.clock.Now()
		out = r
		return r, nil
	})
	return out, err
}

func (s *Service) Get(ctx context.Context, id string) (Review, error) {
	doc, err := s.store.Get(ctx, docstore.KindReviews, id)
	if err != nil {
		return Review{}, err
	}
	var r Review
	return r, doc.Decode(&r)
}

// ListByProduct returns the product's reviews, newest first.
func (s *Service) ListByProduct(ctx context.Context, productID string) ([]Review, error) {
	return s.list(ctx, docstore.Where("productId", docstore.OpEq, productID))
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]Review, error) {
	return s.list(ctx, docstore.Where("userId", docstore.OpEq, userID))
}

func (s *Service) Stats(ctx context.Context, productID string) (Stats, error) {
	rs, err := s.ListByProduct(ctx, productID)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(rs), nil
}

// Summarize averages the ratings, rounded to one decimal.
func Summarize(rs []Review) Stats {
	st := Stats{Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	if len(rs) == 0 {
		return st
	}
	var sum int64
	for _, r := range rs {
		sum += int64(r.Rating)
		st.Distribution[r.Rating]++
	}
	st.Total = len(rs)
	st.Average, _ = decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(st.Total))).Round(1).Float64()
	return st
}

// refresh recomputes the product aggregate. A failure leaves the previous
// aggregate in place until the next review change.
func (s *Service) refresh(ctx context.Context, productID string) {
	st, err := s.Stats(ctx, productID)
	if err == nil {
		err = s.ratings.SetRating(ctx, productID, st.Average, st.Total)
	}
	if err != nil {
		log.Warn().Err(err).Str("product_id", productID).Msg("refresh product rating")
	}
}

func (s *Service) list(ctx context.Context, f docstore.Filter) ([]Review, error) {
	docs, err := s.store.Query(ctx, docstore.KindReviews, docstore.Query{
		Filters: []docstore.Filter{f},
		OrderBy: "createdAtMs",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Review, 0, len(docs))
	for _, doc := range docs {
		var r Review
		if err := doc.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
