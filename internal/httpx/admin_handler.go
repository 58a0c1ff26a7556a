package httpx

import (
	"net/http"
	"strconv"

	"github.com/ariefcatur/ramro-storefront/internal/catalog"
	"github.com/go-chi/chi/v5"
)

func (a *API) adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.NewProduct
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := a.Catalog.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) adminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.Patch
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := a.Catalog.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// adminAdjustStock restocks (positive delta) or writes off stock.
func (a *API) adminAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		badRequest(w, "delta must not be zero")
		return
	}
	p, err := a.Ledger.Adjust(r.Context(), chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) adminLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := a.Ledger.Threshold()
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "threshold must be a non-negative integer")
			return
		}
		threshold = n
	}
	ps, err := a.Ledger.LowStock(r.Context(), threshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
