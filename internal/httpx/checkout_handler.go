package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/checkout"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/orders"
	"github.com/ariefcatur/ramro-storefront/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	defaultCheckoutWait  = 10 * time.Second
)

type checkoutReq struct {
	ShippingInfo  domain.ShippingInfo  `json:"shippingInfo"`
	PaymentMethod orders.PaymentMethod `json:"paymentMethod"`
}

type checkoutResp struct {
	Token    string          `json:"token"`
	Status   checkout.Status `json:"status"`
	Intent   *payment.Intent `json:"intent,omitempty"`
	Order    *orders.Order   `json:"order,omitempty"`
	Replayed bool            `json:"replayed,omitempty"`
}

type checkoutOutcome struct {
	res checkout.Result
	err error
}

// startCheckout runs the checkout detached from the request. It answers as
// soon as the payment intent is ready (202), the checkout finishes, or
// CheckoutWait passes; the shopper then polls GET /checkout/{token}.
func (a *API) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.PaymentMethod.Valid() {
		badRequest(w, "paymentMethod must be card or cod")
		return
	}
	token := r.Header.Get(HeaderIdempotencyKey)
	if token == "" {
		token = uuid.NewString()
	}
	u := userFrom(r)
	email := req.ShippingInfo.Email
	if email == "" {
		email = u.Email
	}

	intents := make(chan payment.Intent, 1)
	done := make(chan checkoutOutcome, 1)
	go func() {
		res, err := a.Checkout.Checkout(context.WithoutCancel(r.Context()), checkout.Request{
			Token:         token,
			UserID:        u.ID,
			UserEmail:     email,
			ShippingInfo:  req.ShippingInfo,
			PaymentMethod: req.PaymentMethod,
			OnIntent: func(in payment.Intent) {
				select {
				case intents <- in:
				default:
				}
			},
		})
		done <- checkoutOutcome{res: res, err: err}
	}()

	wait := a.CheckoutWait
	if wait <= 0 {
		wait = defaultCheckoutWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case in := <-intents:
		writeJSON(w, http.StatusAccepted, checkoutResp{Token: token, Status: checkout.StatusInProgress, Intent: &in})
	case out := <-done:
		if out.err != nil {
			writeError(w, r, out.err)
			return
		}
		code := http.StatusCreated
		if out.res.Replayed {
			code = http.StatusOK
		}
		writeJSON(w, code, checkoutResp{
			Token:    out.res.Token,
			Status:   checkout.StatusCompleted,
			Order:    &out.res.Order,
			Replayed: out.res.Replayed,
		})
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, checkoutResp{Token: token, Status: checkout.StatusInProgress})
	}
}

// checkoutStatus reports progress from this process, falling back to the
// order store for checkouts that finished elsewhere or before a restart.
func (a *API) checkoutStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	u := userFrom(r)
	if exec, ok := a.Checkout.Execution(u.ID, token); ok {
		writeJSON(w, http.StatusOK, exec)
		return
	}
	o, err := a.Orders.Get(r.Context(), orders.IDForCheckout(checkout.Key(u.ID, token)))
	if err == nil && o.UserID != u.ID {
		err = domain.ErrNotFound
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout.Execution{
		Token:     token,
		UserID:    o.UserID,
		Status:    checkout.StatusCompleted,
		OrderID:   o.ID,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	})
}

func (a *API) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	u := userFrom(r)
	if _, ok := a.Checkout.Execution(u.ID, token); !ok {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	if !a.Checkout.Cancel(u.ID, token) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "checkout already finished", Code: "finished"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if err := a.Payments.HandleWebhook(r); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown intents are acknowledged so the gateway stops retrying.
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "matched": false})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "matched": true})
}
