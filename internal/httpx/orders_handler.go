package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/orders"
	"github.com/ariefcatur/ramro-storefront/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const defaultListLimit = 50

func (a *API) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := a.Orders.ListByUser(ctx, userFrom(r).ID, queryInt(r, "limit", defaultListLimit))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ownOrder loads the order and hides other users' orders behind a 404.
func (a *API) ownOrder(ctx context.Context, r *http.Request) (orders.Order, error) {
	o, err := a.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return orders.Order{}, err
	}
	if o.UserID != userFrom(r).ID {
		return orders.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := a.ownOrder(ctx, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus serves polling clients from the Redis cache and falls back
// to the store on a miss.
func (a *API) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	user := userFrom(r).ID
	if a.Status != nil {
		s, ok, err := a.Status.Get(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("order_id", id).Msg("status cache read")
		}
		if ok && s.UserID == user {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	o, err := a.ownOrder(ctx, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s := statusOf(o)
	if a.Status != nil {
		if err := a.Status.Put(ctx, o.ID, s); err != nil {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("status cache write")
		}
	}
	writeJSON(w, http.StatusOK, s)
}

func statusOf(o orders.Order) redisx.OrderStatus {
	return redisx.OrderStatus{
		UserID:         o.UserID,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		TrackingNumber: o.TrackingNumber,
		UpdatedAt:      o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (a *API) adminListOrders(w http.ResponseWriter, r *http.Request) {
	status := orders.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		badRequest(w, "unknown status")
		return
	}
	list, err := a.Orders.ListAll(r.Context(), status, queryInt(r, "limit", defaultListLimit))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) adminOrderStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Orders.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type transitionReq struct {
	Status         orders.Status `json:"status"`
	TrackingNumber string        `json:"trackingNumber"`
}

func (a *API) adminTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		badRequest(w, "unknown status")
		return
	}
	o, err := a.Orders.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, orders.Extra{TrackingNumber: req.TrackingNumber})
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.invalidateStatus(r.Context(), o.ID)
	writeJSON(w, http.StatusOK, o)
}

func (a *API) adminPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentStatus orders.PaymentStatus `json:"paymentStatus"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := a.Orders.SetPaymentStatus(r.Context(), chi.URLParam(r, "id"), req.PaymentStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.invalidateStatus(r.Context(), o.ID)
	writeJSON(w, http.StatusOK, o)
}

func (a *API) invalidateStatus(ctx context.Context, orderID string) {
	if a.Status == nil {
		return
	}
	if err := a.Status.Invalidate(ctx, orderID); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("status cache invalidate")
	}
}
