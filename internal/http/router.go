package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Listings *ListingHandler
	Carts    *CartHandler
	Checkout *CheckoutHandler
}

type RouterOptions struct {
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter builds the public API. The returned handler is traced with otelhttp.
func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware(opts.Logger))
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(MockAuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products/{product_id}", func(r chi.Router) {
			r.Get("/listings", h.Listings.CompareListings)
			r.Get("/best-offer", h.Listings.BestOffer)
		})
		r.Get("/sellers/{seller_id}", h.Listings.GetSeller)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Carts.GetCart)
			r.Delete("/", h.Carts.ClearCart)
			r.Get("/contains", h.Carts.Contains)
			r.Get("/sellers", h.Carts.GroupBySeller)
			r.Post("/items", h.Carts.AddItem)
			r.Put("/items/{kind}/{id}", h.Carts.UpdateQuantity)
			r.Delete("/items/{kind}/{id}", h.Carts.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", h.Checkout.InitiateCheckout)
			r.Post("/quote", h.Checkout.Quote)
			r.Get("/{checkout_id}", h.Checkout.GetCheckout)
		})
	})

	return otelhttp.NewHandler(r, "marketplace-http")
}
