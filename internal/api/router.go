package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handlers *Handlers
	Auth     *Auth
	Log      *zap.Logger
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", PatientTokenHeader},
	}))

	h := cfg.Handlers

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Credential endpoints are rate limited per client IP.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/api/patient/register", h.registerPatient)
		r.Post("/api/patient/login", h.loginPatient)
		r.Post("/api/provider/login", h.loginProvider)
		r.Post("/api/admin/login", h.loginAdmin)
	})

	r.Route("/api/patient", func(r chi.Router) {
		r.Use(cfg.Auth.RequirePatient)
		r.Get("/profile", h.getPatientProfile)
		r.Put("/profile", h.updatePatientProfile)
		r.Post("/book-appointment", h.bookAppointment)
		r.Get("/appointments", h.listPatientAppointments)
		r.Post("/cancel-appointment", h.cancelAppointment)
	})

	r.Route("/api/provider", func(r chi.Router) {
		r.Get("/list", h.listProviders)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.RequireProvider)
			r.Get("/appointments", h.listProviderAppointments)
			r.Post("/cancel-appointment", h.cancelAppointment)
			r.Post("/complete-appointment", h.completeAppointment)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(cfg.Auth.RequireAdmin)
		r.Post("/add-provider", h.addProvider)
		r.Post("/cancel-appointment", h.cancelAppointment)
	})

	return r
}
