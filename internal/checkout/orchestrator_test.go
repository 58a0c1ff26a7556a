package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/ramro-storefront/internal/catalog"
	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/docstore"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/inventory"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/ariefcatur/ramro-storefront/internal/orders"
	"github.com/ariefcatur/ramro-storefront/internal/payment"
	"github.com/ariefcatur/ramro-storefront/internal/redisx"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeCarts struct {
	mu      sync.Mutex
	lines   map[string][]domain.LineItem
	cleared map[string]bool
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{lines: map[string][]domain.LineItem{}, cleared: map[string]bool{}}
}

func (c *fakeCarts) set(userID string, lines ...domain.LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[userID] = lines
}

func (c *fakeCarts) Lines(_ context.Context, userID string) ([]domain.LineItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.LineItem(nil), c.lines[userID]...), nil
}

func (c *fakeCarts) RemoveLines(_ context.Context, userID string, lines []domain.LineItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := map[string]int{}
	for _, l := range lines {
		taken[l.ProductID] += l.Quantity
	}
	var left []domain.LineItem
	for _, l := range c.lines[userID] {
		l.Quantity -= taken[l.ProductID]
		taken[l.ProductID] = 0
		if l.Quantity > 0 {
			left = append(left, l)
		}
	}
	c.lines[userID] = left
	c.cleared[userID] = true
	return nil
}

func (c *fakeCarts) wasCleared(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared[userID]
}

type recordingSender struct {
	mu     sync.Mutex
	err    error
	events []notify.Event
}

func (s *recordingSender) Send(_ context.Context, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSender) sent() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

// failingOrders never manages to write an order.
type failingOrders struct {
	*orders.Service
}

func (failingOrders) Create(context.Context, orders.NewOrder) (orders.Order, bool, error) {
	return orders.Order{}, false, domain.ErrStorageUnavailable
}

// flakyOrderStore fails the first n order writes.
type flakyOrderStore struct {
	docstore.Store
	failures atomic.Int32
}

func (f *flakyOrderStore) UpdateIf(ctx context.Context, kind, id string, version int64, value any) (docstore.Document, error) {
	if kind == docstore.KindOrders && f.failures.Add(-1) >= 0 {
		return docstore.Document{}, domain.ErrStorageUnavailable
	}
	return f.Store.UpdateIf(ctx, kind, id, version, value)
}

// secondReserveFails lets the first reservation through and rejects the next.
type secondReserveFails struct {
	*inventory.Ledger
	calls atomic.Int32
}

func (s *secondReserveFails) Reserve(ctx context.Context, productID string, qty int, key string) (*inventory.Reservation, error) {
	if s.calls.Add(1) == 2 {
		return nil, &domain.StockError{ProductID: productID, Requested: qty}
	}
	return s.Ledger.Reserve(ctx, productID, qty, key)
}

func noWait() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }

type CheckoutSuite struct {
	suite.Suite

	ctx     context.Context
	clock   *clock.Manual
	store   *flakyOrderStore
	catalog *catalog.Repo
	ledger  *inventory.Ledger
	orders  *orders.Service
	carts   *fakeCarts
	hub     *payment.Hub
	sender  *recordingSender
	orch    *Orchestrator
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewManual(t0)
	s.store = &flakyOrderStore{Store: docstore.NewMemory(s.clock)}
	s.catalog = catalog.NewRepo(s.store, s.clock)
	s.ledger = inventory.NewLedger(s.store, inventory.WithClock(s.clock), inventory.WithBackOff(noWait))
	s.orders = orders.NewService(s.store, nil, s.clock, nil)
	s.carts = newFakeCarts()
	s.hub = payment.NewHub("whsec", s.clock)
	s.sender = &recordingSender{}
	s.orch = s.newOrchestrator(s.ledger, s.orders)

	s.seed("A", 29900, 5)
	s.seed("B", 15000, 1)
}

func (s *CheckoutSuite) newOrchestrator(inv Inventory, ord Orders, opts ...Option) *Orchestrator {
	base := []Option{WithClock(s.clock), WithSender(s.sender), WithPaymentTimeout(time.Second)}
	return New(inv, s.catalog, ord, s.carts, s.hub, append(base, opts...)...)
}

func (s *CheckoutSuite) seed(id string, price int64, stock int) {
	_, err := s.catalog.Create(s.ctx, catalog.NewProduct{ID: id, Name: "Product " + id, Price: price, Stock: stock})
	s.Require().NoError(err)
}

func (s *CheckoutSuite) stock(id string) (available, reserved int) {
	p, _, err := s.catalog.Get(s.ctx, id)
	s.Require().NoError(err)
	return p.QuantityAvailable, p.ReservedQuantity
}

func line(id string, price int64, qty int) domain.LineItem {
	return domain.LineItem{ProductID: id, Name: "Product " + id, UnitPrice: price, Quantity: qty}
}

func (s *CheckoutSuite) cardRequest(token string, settle func(payment.Intent)) Request {
	return Request{
		Token:         token,
		UserID:        "u1",
		UserEmail:     "asha@example.com",
		ShippingInfo:  domain.ShippingInfo{FirstName: "Asha", LastName: "Rai", Email: "asha@example.com"},
		PaymentMethod: orders.MethodCard,
		OnIntent:      settle,
	}
}

func (s *CheckoutSuite) approve(in payment.Intent) {
	s.Require().NoError(s.hub.Settle(payment.Confirmation{IntentID: in.ID, Success: true, TransactionID: "txn_1"}))
}

func (s *CheckoutSuite) TestCardCheckoutCompletes() {
	s.carts.set("u1", line("A", 29900, 2))
	var intent payment.Intent
	res, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-1", func(in payment.Intent) {
		intent = in
		s.approve(in)
	}))
	s.Require().NoError(err)
	s.orch.Wait()

	s.False(res.Replayed)
	s.Equal(orders.IDForCheckout(Key("u1", "chk-1")), res.Order.ID)
	s.Equal(int64(64584), res.Order.Total)
	s.Equal(int64(64584), intent.Amount)
	s.Equal(DefaultCurrency, intent.Currency)
	s.Equal("txn_1", res.Order.PaymentRef)
	s.Equal(orders.PaymentCompleted, res.Order.PaymentStatus)

	available, reserved := s.stock("A")
	s.Equal(3, available)
	s.Equal(0, reserved)
	s.True(s.carts.wasCleared("u1"))

	events := s.sender.sent()
	s.Require().Len(events, 1)
	placed, ok := events[0].(notify.OrderPlaced)
	s.Require().True(ok)
	s.Equal(res.Order.OrderNumber, placed.OrderNumber)

	exec, ok := s.orch.Execution("u1", "chk-1")
	s.Require().True(ok)
	s.Equal(StatusCompleted, exec.Status)
	s.Equal(res.Order.ID, exec.OrderID)
	s.Require().Len(exec.Steps, 5)
	for _, st := range exec.Steps {
		s.Equal(StepCompleted, st.Status, st.Name)
	}
}

func (s *CheckoutSuite) TestCashOnDeliverySkipsPayment() {
	s.carts.set("u1", line("A", 29900, 1))
	req := s.cardRequest("chk-cod", func(payment.Intent) { s.Fail("no intent expected for COD") })
	req.PaymentMethod = orders.MethodCOD

	res, err := s.orch.Checkout(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(orders.PaymentPending, res.Order.PaymentStatus)
	available, _ := s.stock("A")
	s.Equal(4, available)
}

func (s *CheckoutSuite) TestGeneratesTokenWhenMissing() {
	s.carts.set("u1", line("A", 29900, 1))
	req := s.cardRequest("", s.approve)
	res, err := s.orch.Checkout(s.ctx, req)
	s.Require().NoError(err)
	s.NotEmpty(res.Token)
	s.Equal(orders.IDForCheckout(Key("u1", res.Token)), res.Order.ID)
}

func (s *CheckoutSuite) TestEmptyCart() {
	_, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-empty", s.approve))
	s.ErrorIs(err, domain.ErrEmptyCart)
}

func (s *CheckoutSuite) TestRejectsInvalidRequest() {
	req := s.cardRequest("chk-x", nil)
	req.PaymentMethod = "upi"
	_, err := s.orch.Checkout(s.ctx, req)
	s.ErrorIs(err, domain.ErrInvalidInput)
}

func (s *CheckoutSuite) TestPartialStockNamesProduct() {
	s.carts.set("u1", line("A", 29900, 2), line("B", 15000, 3))

	_, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-short", s.approve))
	var se *domain.StockError
	s.Require().ErrorAs(err, &se)
	s.Equal("B", se.ProductID)
	s.Equal(1, se.Available)

	available, reserved := s.stock("A")
	s.Equal(5, available)
	s.Equal(0, reserved)
	s.False(s.carts.wasCleared("u1"))
}

func (s *CheckoutSuite) TestReserveFailureReleasesEarlierHolds() {
	s.seed("C", 1000, 4)
	s.carts.set("u1", line("A", 29900, 2), line("C", 1000, 1))
	orch := s.newOrchestrator(&secondReserveFails{Ledger: s.ledger}, s.orders)

	_, err := orch.Checkout(s.ctx, s.cardRequest("chk-reserve", s.approve))
	s.ErrorIs(err, domain.ErrInsufficientStock)

	available, reserved := s.stock("A")
	s.Equal(5, available)
	s.Equal(0, reserved)

	exec, ok := orch.Execution("u1", "chk-reserve")
	s.Require().True(ok)
	s.Equal(StatusCompensated, exec.Status)
	s.Equal(StepReserve, exec.Steps[len(exec.Steps)-1].Name)
	s.Equal(StepFailed, exec.Steps[len(exec.Steps)-1].Status)
}

func (s *CheckoutSuite) TestPaymentDeclinedReleasesStock() {
	s.carts.set("u1", line("A", 29900, 2))
	_, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-declined", func(in payment.Intent) {
		s.Require().NoError(s.hub.Settle(payment.Confirmation{IntentID: in.ID, Reason: "card declined"}))
	}))
	s.ErrorIs(err, domain.ErrPaymentFailed)
	s.Contains(err.Error(), "card declined")

	available, reserved := s.stock("A")
	s.Equal(5, available)
	s.Equal(0, reserved)
	_, err = s.orders.Get(s.ctx, orders.IDForCheckout(Key("u1", "chk-declined")))
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *CheckoutSuite) TestPaymentCancelledRestoresStock() {
	s.carts.set("u1", line("A", 29900, 2))
	_, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-cancel", func(payment.Intent) {
		s.True(s.orch.Cancel("u1", "chk-cancel"))
	}))
	s.ErrorIs(err, domain.ErrPaymentCancelled)

	available, reserved := s.stock("A")
	s.Equal(5, available)
	s.Equal(0, reserved)
	_, err = s.orders.Get(s.ctx, orders.IDForCheckout(Key("u1", "chk-cancel")))
	s.ErrorIs(err, domain.ErrNotFound)
	s.False(s.carts.wasCleared("u1"))
}

func (s *CheckoutSuite) TestPaymentTimeoutIsCancellation() {
	s.carts.set("u1", line("A", 29900, 1))
	orch := s.newOrchestrator(s.ledger, s.orders, WithPaymentTimeout(20*time.Millisecond))

	_, err := orch.Checkout(s.ctx, s.cardRequest("chk-timeout", nil))
	s.ErrorIs(err, domain.ErrPaymentCancelled)
	available, _ := s.stock("A")
	s.Equal(5, available)
}

func (s *CheckoutSuite) TestLateSuccessAfterTimeoutIsRefunded() {
	s.carts.set("u1", line("A", 29900, 1))
	orch := s.newOrchestrator(s.ledger, s.orders, WithPaymentTimeout(20*time.Millisecond))

	var intent payment.Intent
	_, err := orch.Checkout(s.ctx, s.cardRequest("chk-late", func(in payment.Intent) { intent = in }))
	s.Require().ErrorIs(err, domain.ErrPaymentCancelled)

	err = s.hub.Settle(payment.Confirmation{IntentID: intent.ID, Success: true, TransactionID: "txn_late"})
	s.ErrorIs(err, payment.ErrIntentCancelled)
	s.True(s.hub.Refunded(intent.ID))
	_, err = s.orders.Get(s.ctx, orders.IDForCheckout(Key("u1", "chk-late")))
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *CheckoutSuite) TestCancelVoidsIntent() {
	s.carts.set("u1", line("A", 29900, 1))
	var intent payment.Intent
	_, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-void", func(in payment.Intent) {
		intent = in
		s.True(s.orch.Cancel("u1", "chk-void"))
	}))
	s.Require().ErrorIs(err, domain.ErrPaymentCancelled)

	err = s.hub.Settle(payment.Confirmation{IntentID: intent.ID, Success: true})
	s.ErrorIs(err, payment.ErrIntentCancelled)
	s.True(s.hub.Refunded(intent.ID))
}

func (s *CheckoutSuite) TestFailedCheckoutCanBeRetried() {
	s.carts.set("u1", line("A", 29900, 1))
	_, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-retry", func(in payment.Intent) {
		s.Require().NoError(s.hub.Settle(payment.Confirmation{IntentID: in.ID, Reason: "insufficient funds"}))
	}))
	s.Require().ErrorIs(err, domain.ErrPaymentFailed)

	res, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-retry", s.approve))
	s.Require().NoError(err)
	s.False(res.Replayed)
	available, _ := s.stock("A")
	s.Equal(4, available)
}

func (s *CheckoutSuite) TestDuplicateTokenInFlightAndAfterCompletion() {
	s.carts.set("u1", line("A", 29900, 2))
	var dupErr error
	first, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-dup", func(in payment.Intent) {
		_, dupErr = s.orch.Checkout(s.ctx, s.cardRequest("chk-dup", s.approve))
		s.approve(in)
	}))
	s.Require().NoError(err)
	s.ErrorIs(dupErr, domain.ErrCheckoutInProgress)

	again, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-dup", s.approve))
	s.Require().NoError(err)
	s.True(again.Replayed)
	s.Equal(first.Order.ID, again.Order.ID)

	available, _ := s.stock("A")
	s.Equal(3, available)
}

func (s *CheckoutSuite) TestReplaysOrderWhenGuardForgotToken() {
	s.carts.set("u1", line("A", 29900, 1))
	first, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-lost", s.approve))
	s.Require().NoError(err)

	fresh := s.newOrchestrator(s.ledger, s.orders)
	again, err := fresh.Checkout(s.ctx, s.cardRequest("chk-lost", s.approve))
	s.Require().NoError(err)
	s.True(again.Replayed)
	s.Equal(first.Order.ID, again.Order.ID)
}

func (s *CheckoutSuite) TestTokenIsScopedToUser() {
	s.carts.set("u1", line("A", 29900, 1))
	cod := func(user string) Request {
		return Request{Token: "shared", UserID: user, UserEmail: user + "@example.com", PaymentMethod: orders.MethodCOD}
	}
	first, err := s.orch.Checkout(s.ctx, cod("u1"))
	s.Require().NoError(err)

	_, err = s.orch.Checkout(s.ctx, cod("attacker"))
	s.ErrorIs(err, domain.ErrEmptyCart)

	s.carts.set("attacker", line("A", 29900, 2))
	theirs, err := s.orch.Checkout(s.ctx, cod("attacker"))
	s.Require().NoError(err)
	s.False(theirs.Replayed)
	s.NotEqual(first.Order.ID, theirs.Order.ID)
	s.Equal("attacker", theirs.Order.UserID)

	_, ok := s.orch.Execution("attacker", "chk-none")
	s.False(ok)
	exec, ok := s.orch.Execution("u1", "shared")
	s.Require().True(ok)
	s.Equal(first.Order.ID, exec.OrderID)
}

func (s *CheckoutSuite) TestReplayRefusesOrderOfAnotherUser() {
	s.carts.set("u1", line("A", 29900, 1))
	first, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-owned", s.approve))
	s.Require().NoError(err)

	// A guard that ignores the user would hand the stored order to anyone.
	guard := NewMemoryGuard()
	s.Require().NoError(guard.Complete(s.ctx, Key("attacker", "chk-owned"), first.Order.ID))
	orch := s.newOrchestrator(s.ledger, s.orders, WithGuard(guard))

	req := s.cardRequest("chk-owned", s.approve)
	req.UserID = "attacker"
	_, err = orch.Checkout(s.ctx, req)
	s.ErrorIs(err, domain.ErrCheckoutTokenTaken)
}

func (s *CheckoutSuite) TestItemsAddedDuringPaymentStayInCart() {
	s.carts.set("u1", line("A", 29900, 2))
	_, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-more", func(in payment.Intent) {
		s.carts.set("u1", line("A", 29900, 3), line("B", 15000, 1))
		s.approve(in)
	}))
	s.Require().NoError(err)

	left, err := s.carts.Lines(s.ctx, "u1")
	s.Require().NoError(err)
	s.ElementsMatch([]domain.LineItem{line("A", 29900, 1), line("B", 15000, 1)}, left)
}

func (s *CheckoutSuite) TestConcurrentCheckoutsDoNotOversell() {
	s.carts.set("u1", line("A", 29900, 3))
	s.carts.set("u2", line("A", 29900, 3))

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.orch.Checkout(s.ctx, Request{
				Token: "chk-" + user, UserID: user, UserEmail: user + "@example.com",
				PaymentMethod: orders.MethodCOD,
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, domain.ErrInsufficientStock)
	}
	s.Equal(1, succeeded)
	available, reserved := s.stock("A")
	s.Equal(2, available)
	s.Equal(0, reserved)
}

func (s *CheckoutSuite) TestNotificationFailureKeepsOrder() {
	s.sender.err = errors.New("broker down")
	s.carts.set("u1", line("A", 29900, 1))

	res, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-notify", s.approve))
	s.Require().NoError(err)
	s.orch.Wait()

	s.Len(s.sender.sent(), 1)
	got, err := s.orders.Get(s.ctx, res.Order.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusProcessing, got.Status)
}

func (s *CheckoutSuite) TestOrderWriteRetriedOnStorageFailure() {
	s.store.failures.Store(2)
	s.carts.set("u1", line("A", 29900, 1))

	res, err := s.orch.Checkout(s.ctx, s.cardRequest("chk-flaky", s.approve))
	s.Require().NoError(err)
	s.Equal(orders.IDForCheckout(Key("u1", "chk-flaky")), res.Order.ID)
}

func (s *CheckoutSuite) TestOrderWriteFailureRefundsAndReleases() {
	s.carts.set("u1", line("A", 29900, 2))
	orch := s.newOrchestrator(s.ledger, failingOrders{Service: s.orders})

	var intent payment.Intent
	_, err := orch.Checkout(s.ctx, s.cardRequest("chk-nowrite", func(in payment.Intent) {
		intent = in
		s.approve(in)
	}))
	s.ErrorIs(err, domain.ErrStorageUnavailable)
	s.True(s.hub.Refunded(intent.ID))

	available, reserved := s.stock("A")
	s.Equal(5, available)
	s.Equal(0, reserved)
	s.False(s.carts.wasCleared("u1"))
	s.Empty(s.sender.sent())
}

func (s *CheckoutSuite) TestRedisGuard() {
	mr := miniredis.RunT(s.T())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.T().Cleanup(func() { _ = rdb.Close() })
	orch := s.newOrchestrator(s.ledger, s.orders, WithGuard(redisx.NewGuard(rdb)))

	s.carts.set("u1", line("A", 29900, 1))
	first, err := orch.Checkout(s.ctx, s.cardRequest("chk-redis", s.approve))
	s.Require().NoError(err)

	again, err := orch.Checkout(s.ctx, s.cardRequest("chk-redis", s.approve))
	s.Require().NoError(err)
	s.True(again.Replayed)
	s.Equal(first.Order.ID, again.Order.ID)

	mr.Close()
	_, err = orch.Checkout(s.ctx, s.cardRequest("chk-redis-down", s.approve))
	s.ErrorIs(err, domain.ErrStorageUnavailable)
}
