package httpx

import (
	"net/http"

	"github.com/ariefcatur/ramro-storefront/internal/catalog"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/ariefcatur/ramro-storefront/internal/reviews"
	"github.com/go-chi/chi/v5"
)

// public strips the holds: their keys are other shoppers' checkout tokens.
func public(p domain.Product) domain.Product {
	p.Holds = nil
	return p
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ps, err := a.Catalog.List(r.Context(), catalog.ListFilter{
		Category:     q.Get("category"),
		FeaturedOnly: q.Get("featured") == "true",
		InStockOnly:  q.Get("inStock") == "true",
		Search:       q.Get("q"),
		Sort:         catalog.Sort(q.Get("sort")),
		Limit:        queryInt(r, "limit", 0),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range ps {
		ps[i] = public(ps[i])
	}
	writeJSON(w, http.StatusOK, ps)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	p, _, err := a.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !p.Active {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, public(p))
}

type reviewsResp struct {
	Reviews []reviews.Review `json:"reviews"`
	Stats   reviews.Stats    `json:"stats"`
}

func (a *API) listReviews(w http.ResponseWriter, r *http.Request) {
	rs, err := a.Reviews.ListByProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewsResp{Reviews: rs, Stats: reviews.Summarize(rs)})
}

type addReviewReq struct {
	Rating  int    `json:"rating"`
	Title   string `json:"title"`
	Comment string `json:"comment"`
}

func (a *API) addReview(w http.ResponseWriter, r *http.Request) {
	var req addReviewReq
	if !decodeJSON(w, r, &req) {
		return
	}
	u := userFrom(r)
	rv, err := a.Reviews.Add(r.Context(), reviews.NewReview{
		ProductID: chi.URLParam(r, "id"),
		UserID:    u.ID,
		UserEmail: u.Email,
		UserName:  u.Name,
		Rating:    req.Rating,
		Title:     req.Title,
		Comment:   req.Comment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (a *API) myReviews(w http.ResponseWriter, r *http.Request) {
	rs, err := a.Reviews.ListByUser(r.Context(), userFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (a *API) deleteReview(w http.ResponseWriter, r *http.Request) {
	if err := a.Reviews.Delete(r.Context(), chi.URLParam(r, "id"), userFrom(r).ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) markHelpful(w http.ResponseWriter, r *http.Request) {
	rv, err := a.Reviews.MarkHelpful(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}
