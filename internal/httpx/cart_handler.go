package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type cartItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (a *API) getCart(w http.ResponseWriter, r *http.Request) {
	v, err := a.Carts.Get(r.Context(), userFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	v, err := a.Carts.Add(r.Context(), userFrom(r).ID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := a.Carts.UpdateQuantity(r.Context(), userFrom(r).ID, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) removeCartItem(w http.ResponseWriter, r *http.Request) {
	v, err := a.Carts.Remove(r.Context(), userFrom(r).ID, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := a.Carts.Clear(r.Context(), userFrom(r).ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getWishlist(w http.ResponseWriter, r *http.Request) {
	wl, err := a.Wishlists.Get(r.Context(), userFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (a *API) addWishlist(w http.ResponseWriter, r *http.Request) {
	wl, err := a.Wishlists.Add(r.Context(), userFrom(r).ID, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (a *API) removeWishlist(w http.ResponseWriter, r *http.Request) {
	wl, err := a.Wishlists.Remove(r.Context(), userFrom(r).ID, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}
