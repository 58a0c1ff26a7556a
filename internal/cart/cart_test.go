package cart

import (
	"testing"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tea  = domain.Product{ID: "tea", Name: "Ilam Tea", Price: 29900}
	pash = domain.Product{ID: "pash", Name: "Pashmina", Price: 60000}
)

func TestAdd_MergesLinesAndKeepsFirstPrice(t *testing.T) {
	c := New("u-1")
	require.NoError(t, c.Add(tea, 1))

	repriced := tea
	repriced.Price = 35000
	require.NoError(t, c.Add(repriced, 2))

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, int64(29900), lines[0].UnitPrice)
}

func TestAdd_RejectsNonPositiveQuantity(t *testing.T) {
	c := New("u-1")
	assert.ErrorIs(t, c.Add(tea, 0), domain.ErrInvalidLineItem)
	assert.ErrorIs(t, c.Add(tea, -1), domain.ErrInvalidLineItem)
	assert.True(t, c.IsEmpty())
}

func TestUpdateQuantity(t *testing.T) {
	c := New("u-1")
	require.NoError(t, c.Add(tea, 1))
	require.NoError(t, c.Add(pash, 1))

	c.UpdateQuantity("tea", 5)
	assert.Equal(t, 5, c.Quantity("tea"), "sets, does not add")

	c.UpdateQuantity("tea", 0)
	assert.Equal(t, 0, c.Quantity("tea"))
	assert.Len(t, c.Lines(), 1)

	c.UpdateQuantity("missing", 3)
	assert.Len(t, c.Lines(), 1)
}

func TestRemoveAndClear(t *testing.T) {
	c := New("u-1")
	require.NoError(t, c.Add(tea, 1))
	require.NoError(t, c.Add(pash, 2))
	assert.Equal(t, 3, c.ItemCount())

	c.Remove("tea")
	assert.Equal(t, []string{"pash"}, ids(c.Lines()))

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.Zero(t, c.ItemCount())
}

func TestTotals(t *testing.T) {
	c := New("u-1")
	require.NoError(t, c.Add(pash, 1))
	totals, err := c.Totals()
	require.NoError(t, err)
	assert.Equal(t, int64(60000), totals.Subtotal)
	assert.Equal(t, int64(4800), totals.Tax)
	assert.Equal(t, int64(0), totals.Shipping)
	assert.Equal(t, int64(64800), totals.Total)
}

func TestLinesIsACopy(t *testing.T) {
	c := New("u-1")
	require.NoError(t, c.Add(tea, 1))
	lines := c.Lines()
	lines[0].Quantity = 40
	assert.Equal(t, 1, c.Quantity("tea"))
}

func TestFromSnapshot_DropsBadLines(t *testing.T) {
	c := FromSnapshot(Snapshot{UserID: "u-1", Items: []domain.LineItem{
		{ProductID: "tea", UnitPrice: 29900, Quantity: 2},
		{ProductID: "tea", UnitPrice: 29900, Quantity: 1},
		{ProductID: "bad", UnitPrice: 100, Quantity: 0},
		{ProductID: "pash", UnitPrice: 60000, Quantity: 1},
	}})
	assert.Equal(t, []string{"tea", "pash"}, ids(c.Lines()))
	assert.Equal(t, 2, c.Quantity("tea"))
}

func ids(lines []domain.LineItem) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.ProductID)
	}
	return out
}

func TestSubtract_KeepsWhatWasAddedLater(t *testing.T) {
	c := New("u-1")
	require.NoError(t, c.Add(tea, 2))
	checkedOut := c.Lines()

	require.NoError(t, c.Add(tea, 1))
	require.NoError(t, c.Add(pash, 1))
	c.Subtract(checkedOut)

	assert.Equal(t, 1, c.Quantity("tea"))
	assert.Equal(t, 1, c.Quantity("pash"))

	c.Subtract([]domain.LineItem{{ProductID: "tea", Quantity: 5}, {ProductID: "missing", Quantity: 1}})
	assert.Equal(t, []string{"pash"}, ids(c.Lines()))
}
