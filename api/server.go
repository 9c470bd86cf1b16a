/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers
  and decides which routes sit behind which session middleware.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Resolve client address behind the proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/auth/*            Registration and sessions (login public, rest gated)
  /api/products/*        Public catalog
  /api/purchase,
  /api/purchases         User session required
  /api/charges/*         User session required; /callback is open for the
                         bank-watcher (idempotent settlement guards it)
  /api/admin/*           Admin session required

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Session middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)

			r.Group(func(r chi.Router) {
				r.Use(h.Auth.RequireUser)
				r.Get("/me", h.Me)
				r.Post("/password", h.ChangePassword)
				r.Post("/verify", h.VerifyIdentity)
			})
		})

		// Public catalog
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/categories", h.ListCategories)

		// Public notices and stats
		r.Get("/announcements", h.ListAnnouncements)
		r.Get("/announcements/emergency", h.EmergencyAnnouncement)
		r.Get("/announcements/{id}", h.GetAnnouncement)
		r.Post("/visit", h.RecordVisit)
		r.Get("/stats/visitors", h.VisitorStats)
		r.Get("/stats/top-products", h.TopProducts)

		// Bank-watcher callback. Unauthenticated by design of the watcher
		// protocol; settlement itself is idempotent.
		r.Post("/charges/callback", h.ChargeCallback)

		// User routes
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireUser)
			r.Post("/purchase", h.Purchase)
			r.Get("/purchases", h.ListPurchases)
			r.Post("/charges", h.RequestCharge)
			r.Get("/charges", h.ListCharges)
			r.Get("/notifications", h.ListNotifications)
			r.Delete("/notifications", h.ClearNotifications)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", h.AdminLogin)

			r.Group(func(r chi.Router) {
				r.Use(h.Auth.RequireAdmin)
				r.Get("/users", h.AdminListUsers)
				r.Post("/users/{id}/adjust", h.AdminAdjustUser)
				r.Get("/charges", h.AdminListCharges)
				r.Post("/charges/{id}/approve", h.AdminApproveCharge)
				r.Post("/charges/{id}/reject", h.AdminRejectCharge)
				r.Get("/products", h.AdminListProducts)
				r.Get("/products/{id}", h.AdminGetProduct)
				r.Post("/products", h.AdminSaveProduct)
				r.Put("/products/{id}", h.AdminSaveProduct)
				r.Delete("/products/{id}", h.AdminDeleteProduct)
				r.Post("/categories", h.AdminCreateCategory)
				r.Delete("/categories/{id}", h.AdminDeleteCategory)
				r.Post("/announcements", h.AdminCreateAnnouncement)
				r.Delete("/announcements/{id}", h.AdminDeleteAnnouncement)
				r.Post("/announcements/emergency", h.AdminSetEmergencyAnnouncement)
			})
		})
	})

	return r
}
