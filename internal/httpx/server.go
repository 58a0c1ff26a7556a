package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/cart"
	"github.com/ariefcatur/ramro-storefront/internal/catalog"
	"github.com/ariefcatur/ramro-storefront/internal/checkout"
	"github.com/ariefcatur/ramro-storefront/internal/inventory"
	"github.com/ariefcatur/ramro-storefront/internal/metrics"
	"github.com/ariefcatur/ramro-storefront/internal/orders"
	"github.com/ariefcatur/ramro-storefront/internal/payment"
	"github.com/ariefcatur/ramro-storefront/internal/redisx"
	"github.com/ariefcatur/ramro-storefront/internal/reviews"
	"github.com/ariefcatur/ramro-storefront/internal/wishlist"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(observe(m))
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// observe records status and latency per route pattern, so ids in the path
// do not explode the label set.
func observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, status, time.Since(start))
		})
	}
}

// API holds the services behind the HTTP surface. Status is optional.
type API struct {
	Catalog   *catalog.Repo
	Reviews   *reviews.Service
	Carts     *cart.Service
	Wishlists *wishlist.Service
	Checkout  *checkout.Orchestrator
	Payments  *payment.Hub
	Orders    *orders.Service
	Ledger    *inventory.Ledger
	Status    *redisx.StatusCache

	AdminToken string
	// CheckoutWait bounds how long POST /checkout waits for a payment intent
	// or a final result before answering 202.
	CheckoutWait time.Duration
}

func (a *API) Register(r chi.Router) {
	r.Get("/products", a.listProducts)
	r.Get("/products/{id}", a.getProduct)
	r.Get("/products/{id}/reviews", a.listReviews)
	r.Post("/payments/webhook", a.paymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Post("/products/{id}/reviews", a.addReview)
		r.Get("/reviews/mine", a.myReviews)
		r.Delete("/reviews/{id}", a.deleteReview)
		r.Post("/reviews/{id}/helpful", a.markHelpful)

		r.Get("/cart", a.getCart)
		r.Post("/cart/items", a.addCartItem)
		r.Put("/cart/items/{productID}", a.updateCartItem)
		r.Delete("/cart/items/{productID}", a.removeCartItem)
		r.Delete("/cart", a.clearCart)

		r.Get("/wishlist", a.getWishlist)
		r.Put("/wishlist/{productID}", a.addWishlist)
		r.Delete("/wishlist/{productID}", a.removeWishlist)

		r.Post("/checkout", a.startCheckout)
		r.Get("/checkout/{token}", a.checkoutStatus)
		r.Delete("/checkout/{token}", a.cancelCheckout)

		r.Get("/orders", a.listMyOrders)
		r.Get("/orders/{id}", a.getOrder)
		r.Get("/orders/{id}/status", a.getOrderStatus)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin(a.AdminToken))

		r.Get("/orders", a.adminListOrders)
		r.Get("/orders/stats", a.adminOrderStats)
		r.Post("/orders/{id}/status", a.adminTransition)
		r.Post("/orders/{id}/payment", a.adminPaymentStatus)

		r.Post("/products", a.adminCreateProduct)
		r.Patch("/products/{id}", a.adminUpdateProduct)
		r.Post("/products/{id}/stock", a.adminAdjustStock)
		r.Get("/inventory/low-stock", a.adminLowStock)
	})
}
