// Package checkout runs the purchase workflow as a saga: validate, reserve,
// pay, commit order, finalize. Each step that leaves a side effect registers
// a compensation, and a failure runs them newest first.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/inventory"
	"github.com/ariefcatur/ramro-storefront/internal/metrics"
	"github.com/ariefcatur/ramro-storefront/internal/notify"
	"github.com/ariefcatur/ramro-storefront/internal/orders"
	"github.com/ariefcatur/ramro-storefront/internal/payment"
	"github.com/ariefcatur/ramro-storefront/internal/pricing"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPaymentTimeout = 10 * time.Minute
	DefaultCurrency       = "INR"

	executionRetention = time.Hour
)

type Inventory interface {
	Reserve(ctx context.Context, productID string, qty int, key string) (*inventory.Reservation, error)
	Commit(ctx context.Context, r *inventory.Reservation) error
	Release(ctx context.Context, r *inventory.Reservation) error
}

type Products interface {
	Get(ctx context.Context, id string) (domain.Product, int64, error)
}

type Orders interface {
	Create(ctx context.Context, in orders.NewOrder) (orders.Order, bool, error)
	Get(ctx context.Context, id string) (orders.Order, error)
}

type Carts interface {
	Lines(ctx context.Context, userID string) ([]domain.LineItem, error)
	RemoveLines(ctx context.Context, userID string, lines []domain.LineItem) error
}

type Request struct {
	Token         string
	UserID        string
	UserEmail     string
	ShippingInfo  domain.ShippingInfo
	PaymentMethod orders.PaymentMethod

	// OnIntent presents a card payment intent to the shopper. It is called
	// before the orchestrator starts waiting for the confirmation.
	OnIntent func(payment.Intent)
}

type Result struct {
	Token    string       `json:"token"`
	Order    orders.Order `json:"order"`
	Replayed bool         `json:"replayed"`
}

type Orchestrator struct {
	inventory Inventory
	products  Products
	orders    Orders
	carts     Carts
	gateway   payment.Gateway
	guard     Guard
	sender    notify.Sender
	clock     clock.Clock
	metrics   *metrics.Metrics
	timeout   time.Duration
	currency  string

	mu         sync.Mutex
	executions map[string]*Execution
	cancels    map[string]context.CancelFunc
	wg         sync.WaitGroup
}

type Option func(*Orchestrator)

func WithGuard(g Guard) Option { return func(o *Orchestrator) { o.guard = g } }
func WithSender(s notify.Sender) Option { return func(o *Orchestrator) { o.sender = s } }
func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clock = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithPaymentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithCurrency(c string) Option {
	return func(o *Orchestrator) {
		if c != "" {
			o.currency = c
		}
	}
}

func New(inv Inventory, products Products, ord Orders, carts Carts, gateway payment.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		inventory:  inv,
		products:   products,
		orders:     ord,
		carts:      carts,
		gateway:    gateway,
		guard:      NewMemoryGuard(),
		clock:      clock.NewSystem(),
		timeout:    DefaultPaymentTimeout,
		currency:   DefaultCurrency,
		executions: make(map[string]*Execution),
		cancels:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Checkout turns the user's cart into an order. Calling it again with a
// token that already completed returns the recorded order.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (Result, error) {
	if req.UserID == "" || !req.PaymentMethod.Valid() {
		return Result{}, fmt.Errorf("%w: user and payment method are required", domain.ErrInvalidInput)
	}
	if req.PaymentMethod == orders.MethodCard && o.gateway == nil {
		return Result{}, fmt.Errorf("%w: card payments are not configured", domain.ErrInvalidInput)
	}
	if req.Token == "" {
		req.Token = uuid.NewString()
	}
	start := time.Now()
	key := Key(req.UserID, req.Token)

	orderID, acquired, err := o.guard.Acquire(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("%w: checkout guard: %v", domain.ErrStorageUnavailable, err)
	}
	if !acquired {
		if orderID == "" {
			return Result{}, domain.ErrCheckoutInProgress
		}
		return o.replay(ctx, req, orderID, start)
	}

	// The guard entry may have expired while the order survived.
	existing, err := o.orders.Get(ctx, orders.IDForCheckout(key))
	switch {
	case err == nil:
		if existing.UserID != req.UserID {
			o.releaseGuard(ctx, key)
			return Result{}, domain.ErrCheckoutTokenTaken
		}
		o.complete(ctx, key, existing.ID)
		o.metrics.CheckoutDone("replayed", time.Since(start))
		return Result{Token: req.Token, Order: existing, Replayed: true}, nil
	case !errors.Is(err, domain.ErrNotFound):
		o.releaseGuard(ctx, key)
		return Result{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exec := o.begin(key, req, cancel)
	defer o.end(key)

	out, err := o.run(runCtx, ctx, exec, key, req)
	o.metrics.CheckoutDone(outcome(err), time.Since(start))
	if err != nil {
		log.Warn().Err(err).Str("token", req.Token).Str("user_id", req.UserID).Msg("checkout failed")
		return Result{}, err
	}
	log.Info().Str("token", req.Token).Str("order_id", out.ID).Str("order_number", out.OrderNumber).
		Int64("total", out.Total).Msg("checkout completed")
	return Result{Token: req.Token, Order: out}, nil
}

// Key scopes a client token to its user. The guard entry, the reservation
// key and the order id all derive from it.
func Key(userID, token string) string { return userID + ":" + token }

// Cancel aborts the user's in-flight checkout. It reports whether one was
// running.
func (o *Orchestrator) Cancel(userID, token string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[Key(userID, token)]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Execution returns a snapshot of the user's checkout progress.
func (o *Orchestrator) Execution(userID, token string) (Execution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.executions[Key(userID, token)]
	if !ok || e.UserID != userID {
		return Execution{}, false
	}
	return e.clone(), true
}

// Wait blocks until background order notifications have been sent.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) run(ctx, parent context.Context, exec *Execution, key string, req Request) (orders.Order, error) {
	var (
		comps []compensation
		held  []*inventory.Reservation
	)
	fail := func(step string, err error) (orders.Order, error) {
		o.record(exec, step, err)
		o.compensate(exec, comps, err)
		o.releaseGuard(parent, key)
		return orders.Order{}, err
	}

	lines, err := o.validate(ctx, req.UserID)
	if err != nil {
		return fail(StepValidate, err)
	}
	o.record(exec, StepValidate, nil)

	for _, line := range lines {
		r, err := o.inventory.Reserve(ctx, line.ProductID, line.Quantity, key)
		if err != nil {
			return fail(StepReserve, err)
		}
		comps = append(comps, compensation{
			name:   "release:" + line.ProductID,
			action: func() error { return o.inventory.Release(context.WithoutCancel(parent), r) },
		})
		held = append(held, r)
	}
	o.record(exec, StepReserve, nil)

	totals, err := pricing.ComputeTotals(lines)
	if err != nil {
		return fail(StepPay, err)
	}
	paymentRef := ""
	if req.PaymentMethod == orders.MethodCard {
		conf, err := o.pay(ctx, exec, key, req, totals.Total)
		if err != nil {
			return fail(StepPay, err)
		}
		intentID := conf.IntentID
		comps = append(comps, compensation{
			name:   "refund:" + intentID,
			action: func() error { return o.gateway.Refund(context.WithoutCancel(parent), intentID) },
		})
		paymentRef = conf.TransactionID
		if paymentRef == "" {
			paymentRef = intentID
		}
	}
	o.record(exec, StepPay, nil)

	// Past this point the caller's cancellation no longer applies.
	commitCtx := context.WithoutCancel(parent)
	order, _, err := o.orders.Create(commitCtx, orders.NewOrder{
		CheckoutKey:   key,
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		Items:         lines,
		ShippingInfo:  req.ShippingInfo,
		PaymentMethod: req.PaymentMethod,
		PaymentRef:    paymentRef,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			err = fmt.Errorf("%w: create order: %v", domain.ErrStorageUnavailable, err)
		}
		return fail(StepCommitOrder, err)
	}
	for _, r := range held {
		if err := o.inventory.Commit(commitCtx, r); err != nil {
			o.metrics.Reconcile()
			log.Error().Err(err).Str("order_id", order.ID).Str("reservation_id", r.ID).
				Str("product_id", r.ProductID).Msg("commit after order creation failed, left for the sweeper")
		}
	}
	o.mu.Lock()
	exec.OrderID = order.ID
	o.mu.Unlock()
	o.record(exec, StepCommitOrder, nil)

	if err := o.carts.RemoveLines(commitCtx, req.UserID, lines); err != nil {
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("remove checked-out lines from cart")
	}
	o.notifyPlaced(commitCtx, order)
	o.complete(commitCtx, key, order.ID)
	o.record(exec, StepFinalize, nil)
	o.finish(exec, StatusCompleted, nil)
	return order, nil
}

// validate reads the cart and checks every line against current stock. The
// first short line, in cart order, is reported.
func (o *Orchestrator) validate(ctx context.Context, userID string) ([]domain.LineItem, error) {
	lines, err := o.carts.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	for _, l := range lines {
		if l.Quantity <= 0 || l.UnitPrice < 0 || l.ProductID == "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidLineItem, l.ProductID)
		}
	}

	products := make([]*domain.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range lines {
		g.Go(func() error {
			p, _, err := o.products.Get(gctx, l.ProductID)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			products[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, l := range lines {
		available := 0
		if p := products[i]; p != nil && p.Active {
			available = p.QuantityAvailable
		}
		if l.Quantity > available {
			return nil, &domain.StockError{ProductID: l.ProductID, Requested: l.Quantity, Available: available}
		}
	}
	return lines, nil
}

func (o *Orchestrator) pay(ctx context.Context, exec *Execution, key string, req Request, amount int64) (payment.Confirmation, error) {
	intent, err := o.gateway.CreatePaymentIntent(ctx, amount, o.currency, map[string]string{
		"checkoutKey": key,
		"userId":      req.UserID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return payment.Confirmation{}, domain.ErrPaymentCancelled
		}
		return payment.Confirmation{}, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}
	o.mu.Lock()
	exec.Intent = &intent
	exec.UpdatedAt = o.clock.Now()
	o.mu.Unlock()
	if req.OnIntent != nil {
		req.OnIntent(intent)
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	conf, err := o.gateway.AwaitConfirmation(waitCtx, intent)
	if err != nil {
		if cerr := o.gateway.Cancel(context.WithoutCancel(ctx), intent.ID); cerr != nil {
			log.Error().Err(cerr).Str("intent_id", intent.ID).Msg("void abandoned payment intent")
		}
		if waitCtx.Err() != nil {
			return payment.Confirmation{}, domain.ErrPaymentCancelled
		}
		return payment.Confirmation{}, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}
	if !conf.Success {
		reason := conf.Reason
		if reason == "" {
			reason = "declined"
		}
		return payment.Confirmation{}, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, reason)
	}
	if conf.IntentID == "" {
		conf.IntentID = intent.ID
	}
	return conf, nil
}

// compensate undoes completed steps newest first. Failures are logged; the
// sweeper settles any hold a failed release leaves behind.
func (o *Orchestrator) compensate(exec *Execution, comps []compensation, cause error) {
	for i := len(comps) - 1; i >= 0; i-- {
		if err := comps[i].action(); err != nil {
			log.Error().Err(err).Str("token", exec.Token).Str("compensation", comps[i].name).
				Msg("compensation failed")
		}
	}
	status := StatusFailed
	if len(comps) > 0 {
		status = StatusCompensated
	}
	o.finish(exec, status, cause)
}

func (o *Orchestrator) notifyPlaced(ctx context.Context, order orders.Order) {
	if o.sender == nil {
		return
	}
	ev := order.PlacedEvent()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sender.Send(ctx, ev); err != nil {
			o.metrics.NotificationFailed(string(ev.Kind()))
			log.Warn().Err(err).Str("order_id", order.ID).Msg("order confirmation not sent")
		}
	}()
}

func (o *Orchestrator) replay(ctx context.Context, req Request, orderID string, start time.Time) (Result, error) {
	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.UserID != req.UserID {
		return Result{}, domain.ErrCheckoutTokenTaken
	}
	o.metrics.CheckoutDone("replayed", time.Since(start))
	return Result{Token: req.Token, Order: order, Replayed: true}, nil
}

func (o *Orchestrator) complete(ctx context.Context, token, orderID string) {
	if err := o.guard.Complete(ctx, token, orderID); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("record checkout completion")
	}
}

func (o *Orchestrator) releaseGuard(ctx context.Context, token string) {
	if err := o.guard.Release(context.WithoutCancel(ctx), token); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("release checkout guard")
	}
}

func (o *Orchestrator) begin(key string, req Request, cancel context.CancelFunc) *Execution {
	now := o.clock.Now()
	exec := &Execution{
		Token:     req.Token,
		UserID:    req.UserID,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, e := range o.executions {
		if e.finished() && now.Sub(e.UpdatedAt) > executionRetention {
			delete(o.executions, k)
		}
	}
	o.executions[key] = exec
	o.cancels[key] = cancel
	return exec
}

func (o *Orchestrator) end(key string) {
	o.mu.Lock()
	delete(o.cancels, key)
	o.mu.Unlock()
}

func (o *Orchestrator) record(exec *Execution, name string, err error) {
	step := Step{Name: name, Status: StepCompleted}
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
	}
	o.mu.Lock()
	exec.Steps = append(exec.Steps, step)
	exec.UpdatedAt = o.clock.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) finish(exec *Execution, status Status, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec.Status = status
	if err != nil {
		exec.Error = err.Error()
	}
	exec.UpdatedAt = o.clock.Now()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, domain.ErrPaymentCancelled):
		return "payment_cancelled"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
