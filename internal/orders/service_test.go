package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (f *fakeSender) Send(_ context.Context, ev notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

// downStore fails every write while down is set.
type downStore struct {
	docstore.Store
	down   int
	writes int
}

func (d *downStore) UpdateIf(ctx context.Context, kind, id string, version int64, v any) (docstore.Document, error) {
	d.writes++
	if d.writes <= d.down {
		return docstore.Document{}, domain.ErrStorageUnavailable
	}
	return d.Store.UpdateIf(ctx, kind, id, version, v)
}

func newService(t *testing.T, store docstore.Store) (*Service, *fakeSender, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	if store == nil {
		store = docstore.NewMemory(clk)
	}
	sender := &fakeSender{}
	s := NewService(store, sender, clk, nil)
	s.newBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }
	return s, sender, clk
}

func TestService_CreateIsIdempotentPerCheckout(t *testing.T) {
	s, _, clk := newService(t, nil)
	ctx := context.Background()

	first, existed, err := s.Create(ctx, newInput(MethodCard))
	require.NoError(t, err)
	assert.False(t, existed)

	clk.Advance(time.Second)
	again, existed, err := s.Create(ctx, newInput(MethodCard))
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.OrderNumber, again.OrderNumber)

	done, err := s.Finalized(ctx, "chk-1")
	require.NoError(t, err)
	assert.True(t, done)
	done, err = s.Finalized(ctx, "chk-other")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestService_CreateRetriesUnavailableStore(t *testing.T) {
	clk := clock.NewManual(t0)
	store := &downStore{Store: docstore.NewMemory(clk), down: 2}
	s, _, _ := newService(t, store)

	o, _, err := s.Create(context.Background(), newInput(MethodCard))
	require.NoError(t, err)
	got, err := s.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Total, got.Total)
}

func TestService_CreateGivesUp(t *testing.T) {
	clk := clock.NewManual(t0)
	store := &downStore{Store: docstore.NewMemory(clk), down: 100}
	s, _, _ := newService(t, store)

	_, _, err := s.Create(context.Background(), newInput(MethodCard))
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestService_TransitionPersistsAndNotifies(t *testing.T) {
	s, sender, clk := newService(t, nil)
	ctx := context.Background()
	o, _, err := s.Create(ctx, newInput(MethodCard))
	require.NoError(t, err)

	clk.Advance(time.Hour)
	shipped, err := s.Transition(ctx, o.ID, StatusShipped, Extra{TrackingNumber: "NP1"})
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, shipped.Status)

	stored, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, stored.Status)
	assert.Equal(t, "NP1", stored.TrackingNumber)
	assert.Equal(t, o.Items, stored.Items)
	assert.Equal(t, o.Total, stored.Total)

	require.Len(t, sender.events, 1)
	assert.Equal(t, notify.KindOrderShipped, sender.events[0].Kind())
}

func TestService_IllegalTransitionLeavesOrder(t *testing.T) {
	s, sender, _ := newService(t, nil)
	ctx := context.Background()
	o, _, err := s.Create(ctx, newInput(MethodCard))
	require.NoError(t, err)
	_, err = s.Transition(ctx, o.ID, StatusCancelled, Extra{})
	require.NoError(t, err)

	_, err = s.Transition(ctx, o.ID, StatusDelivered, Extra{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Len(t, sender.events, 1)
}

func TestService_NotificationFailureDoesNotFail(t *testing.T) {
	s, sender, _ := newService(t, nil)
	sender.err = errors.New("broker down")
	ctx := context.Background()
	o, _, err := s.Create(ctx, newInput(MethodCard))
	require.NoError(t, err)

	_, err = s.Transition(ctx, o.ID, StatusCancelled, Extra{})
	require.NoError(t, err)
}

func TestService_TransitionUnknownOrder(t *testing.T) {
	s, _, _ := newService(t, nil)
	_, err := s.Transition(context.Background(), "nope", StatusShipped, Extra{TrackingNumber: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_SetPaymentStatus(t *testing.T) {
	s, _, _ := newService(t, nil)
	ctx := context.Background()
	o, _, err := s.Create(ctx, newInput(MethodCOD))
	require.NoError(t, err)

	o, err = s.SetPaymentStatus(ctx, o.ID, PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, o.PaymentStatus)

	_, err = s.SetPaymentStatus(ctx, o.ID, PaymentFailed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestService_ListsAndStats(t *testing.T) {
	s, _, clk := newService(t, nil)
	ctx := context.Background()

	mk := func(key, user string, method PaymentMethod) Order {
		in := newInput(method)
		in.CheckoutKey = key
		in.UserID = user
		o, _, err := s.Create(ctx, in)
		require.NoError(t, err)
		clk.Advance(time.Minute)
		return o
	}
	a := mk("k1", "u-1", MethodCard)
	b := mk("k2", "u-2", MethodCOD)
	c := mk("k3", "u-1", MethodCard)
	_, err := s.Transition(ctx, c.ID, StatusCancelled, Extra{})
	require.NoError(t, err)

	mine, err := s.ListByUser(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, c.ID, mine[0].ID, "newest first")
	assert.Equal(t, a.ID, mine[1].ID)

	cancelled, err := s.ListAll(ctx, StatusCancelled, 0)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByStatus[StatusProcessing])
	assert.Equal(t, 1, st.ByStatus[StatusCancelled])
	assert.Equal(t, 1, st.PendingPayments)
	assert.Equal(t, a.Total+b.Total, st.Revenue)
}

func TestService_Purchased(t *testing.T) {
	s, _, _ := newService(t, nil)
	ctx := context.Background()

	o, _, err := s.Create(ctx, newInput(MethodCOD))
	require.NoError(t, err)

	ok, err := s.Purchased(ctx, "u-1", "A")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Purchased(ctx, "u-1", "B")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Transition(ctx, o.ID, StatusCancelled, Extra{})
	require.NoError(t, err)
	ok, err = s.Purchased(ctx, "u-1", "A")
	require.NoError(t, err)
	assert.False(t, ok, "cancelled orders do not count")
}
