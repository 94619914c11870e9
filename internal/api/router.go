/**
 * @description
 * HTTP router setup for the washapp service using go-chi/chi.
 *
 * @notes
 * - Cleaner and company routes require a bearer token with the matching role.
 * - /internal routes are for the payment gateway webhook relay and the admin
 *   console, authenticated with X-Internal-API-Key.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the authentication settings for the router.
type RouterConfig struct {
	JWTSecret      string
	InternalAPIKey string
	AllowedOrigins []string
}

// NewRouter creates a new Chi router and registers all routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Get("/companies", h.handleCompaniesServing)
	r.Post("/quotes", h.handleQuote)
	r.Post("/checkout", h.handleCheckout)
	r.Post("/complaints", h.handleCreateComplaint)
	r.Get("/jobs/{jobID}", h.handleGetJob)
	r.Post("/jobs/{jobID}/rating", h.handleRateJob)

	secret := []byte(cfg.JWTSecret)

	r.Route("/cleaner", func(r chi.Router) {
		r.Use(AuthMiddleware(secret, RoleCleaner))
		r.Post("/duty/on", h.handleGoOnDuty)
		r.Post("/duty/off", h.handleGoOffDuty)
		r.Post("/heartbeat", h.handleHeartbeat)
		r.Get("/shifts", h.handleListShifts)
		r.Get("/jobs/available", h.handleAvailableJobs)
		r.Post("/jobs/{jobID}/accept", h.handleAcceptJob)
		r.Post("/jobs/{jobID}/start", h.handleStartJob)
		r.Post("/jobs/{jobID}/complete", h.handleCompleteJob)
	})

	r.Route("/company", func(r chi.Router) {
		r.Use(AuthMiddleware(secret, RoleCompany))
		r.Post("/jobs/{jobID}/cancel", h.handleCancelJob)
		r.Get("/balance", h.handleGetBalance)
		r.Get("/transactions", h.handleListTransactions)
		r.Post("/withdrawals", h.handleWithdraw)
		r.Get("/geofences", h.handleListGeofences)
		r.Post("/geofences", h.handleSaveGeofence)
		r.Delete("/geofences/{geofenceID}", h.handleDeleteGeofence)
		r.Post("/offline-jobs", h.handleRecordOfflineJob)
		r.Get("/subscription/quote", h.handleSubscriptionQuote)
		r.Get("/complaints", h.handleListComplaints)
		r.Post("/complaints/{complaintID}/start", h.handleStartComplaint)
		r.Post("/complaints/{complaintID}/resolve", h.handleResolveComplaint)
		r.Post("/complaints/{complaintID}/refund", h.handleRefundComplaint)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/companies", h.handleRegisterCompany)
		r.Post("/companies/{companyID}/cleaners", h.handleAddCleaner)
		r.Post("/companies/{companyID}/admin-payments", h.handleAdminPayment)
		r.Post("/payments/confirm", h.handleConfirmPayment)
	})

	return r
}
