package reviews

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/catalog"
	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type buyers map[string]bool

func (b buyers) Purchased(_ context.Context, userID, productID string) (bool, error) {
	return b[userID+"/"+productID], nil
}

func setup(t *testing.T) (*Service, *catalog.Repo, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	store := docstore.NewMemory(clk)
	repo := catalog.NewRepo(store, clk)
	_, err := repo.Create(context.Background(), catalog.NewProduct{ID: "A", Name: "Masala Chai", Price: 29900, Stock: 5})
	require.NoError(t, err)
	return NewService(store, repo, buyers{"u-1/A": true}, clk), repo, clk
}

func add(t *testing.T, s *Service, user string, rating int) Review {
	t.Helper()
	r, err := s.Add(context.Background(), NewReview{ProductID: "A", UserID: user, UserName: user, Rating: rating, Comment: "  ok  "})
	require.NoError(t, err)
	return r
}

func TestAdd_UpdatesProductRating(t *testing.T) {
	s, repo, clk := setup(t)
	ctx := context.Background()

	first := add(t, s, "u-1", 5)
	clk.Advance(time.Minute)
	add(t, s, "u-2", 4)
	clk.Advance(time.Minute)
	add(t, s, "u-3", 4)

	assert.Equal(t, "ok", first.Comment)
	assert.True(t, first.Verified)

	p, _, err := repo.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 4.3, p.Rating)
	assert.Equal(t, 3, p.ReviewCount)
	assert.Equal(t, 5, p.QuantityAvailable, "stock untouched")

	list, err := s.ListByProduct(ctx, "A")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "u-3", list[0].UserID, "newest first")
	assert.False(t, list[0].Verified)
}

func TestAdd_Rejections(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()

	for _, rating := range []int{0, 6, -1} {
		_, err := s.Add(ctx, NewReview{ProductID: "A", UserID: "u-1", Rating: rating})
		assert.ErrorIs(t, err, domain.ErrInvalidRating)
	}
	_, err := s.Add(ctx, NewReview{ProductID: "missing", UserID: "u-1", Rating: 3})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	add(t, s, "u-1", 3)
	_, err = s.Add(ctx, NewReview{ProductID: "A", UserID: "u-1", Rating: 4})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
}

func TestAdd_DefaultsName(t *testing.T) {
	s, _, _ := setup(t)
	r, err := s.Add(context.Background(), NewReview{ProductID: "A", UserID: "u-9", Rating: 2})
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", r.UserName)
}

func TestDelete_RecomputesAndResetsRating(t *testing.T) {
	s, repo, _ := setup(t)
	ctx := context.Background()
	a := add(t, s, "u-1", 5)
	b := add(t, s, "u-2", 2)

	assert.ErrorIs(t, s.Delete(ctx, a.ID, "u-2"), ErrNotOwner)

	require.NoError(t, s.Delete(ctx, a.ID, "u-1"))
	p, _, err := repo.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Rating)
	assert.Equal(t, 1, p.ReviewCount)

	require.NoError(t, s.Delete(ctx, b.ID, ""))
	p, _, err = repo.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Rating)
	assert.Equal(t, 0, p.ReviewCount)
}

func TestUpdate_OwnerOnly(t *testing.T) {
	s, repo, _ := setup(t)
	ctx := context.Background()
	r := add(t, s, "u-1", 1)

	_, err := s.Update(ctx, r.ID, "u-2", 5, "", "")
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = s.Update(ctx, r.ID, "u-1", 9, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRating)

	got, err := s.Update(ctx, r.ID, "u-1", 4, "Better", "grew on me")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Rating)
	p, _, err := repo.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Rating)
}

func TestListByUser(t *testing.T) {
	s, repo, _ := setup(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, catalog.NewProduct{ID: "B", Name: "Pashmina", Price: 15000, Stock: 1})
	require.NoError(t, err)

	mine := add(t, s, "u-1", 5)
	add(t, s, "u-2", 3)
	other, err := s.Add(ctx, NewReview{ProductID: "B", UserID: "u-1", Rating: 4})
	require.NoError(t, err)

	list, err := s.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{mine.ID, other.ID}, []string{list[0].ID, list[1].ID})

	list, err = s.ListByUser(ctx, "u-9")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMarkHelpful(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	r := add(t, s, "u-1", 4)

	for i := 0; i < 3; i++ {
		_, err := s.MarkHelpful(ctx, r.ID)
		require.NoError(t, err)
	}
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Helpful)

	_, err = s.MarkHelpful(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSummarize(t *testing.T) {
	st := Summarize(nil)
	assert.Equal(t, 0, st.Total)
	assert.Equal(t, 0.0, st.Average)
	assert.Len(t, st.Distribution, 5)

	st = Summarize([]Review{{Rating: 5}, {Rating: 4}, {Rating: 4}, {Rating: 1}})
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3.5, st.Average)
	assert.Equal(t, map[int]int{1: 1, 2: 0, 3: 0, 4: 2, 5: 1}, st.Distribution)

	// 14/3 = 4.666... rounds up
	st = Summarize([]Review{{Rating: 5}, {Rating: 5}, {Rating: 4}})
	assert.Equal(t, 4.7, st.Average)
}
