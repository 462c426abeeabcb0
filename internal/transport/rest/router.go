package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/auth"
	"github.com/pickandplay/guitar-api/internal/notification"
	"github.com/pickandplay/guitar-api/internal/payment"
	"github.com/pickandplay/guitar-api/internal/transport/middleware"
	"github.com/pickandplay/guitar-api/internal/transport/swagger"
)

// Handlers groups everything the router mounts. Nil handlers are skipped.
type Handlers struct {
	Health          *HealthHandler
	Payment         *payment.Handler
	Webhook         *payment.WebhookHandler
	Stream          *notification.StreamHandler
	Auth            *auth.Middleware
	CallbackLimiter *middleware.RateLimiter
	OpenAPIPath     string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, cfg internal.ServerConfig, logger *slog.Logger) {
	// Apply global middleware
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Origins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID", "X-Trace-ID"},
		ExposedHeaders: []string{"X-Trace-ID"},
		MaxAge:         300,
	}))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	openAPIPath := h.OpenAPIPath
	if openAPIPath == "" {
		openAPIPath = "./api/openapi.yml"
	}
	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openAPIPath)
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		r.Group(func(pr chi.Router) {
			if h.Auth != nil {
				pr.Use(h.Auth.Resolve)
			}

			if h.Payment != nil {
				pr.Get("/bakong/ping", h.Payment.Ping)
				pr.Get("/bakong/generate-qr", h.Payment.GenerateQRImage)
				pr.Post("/bakong/create", h.Payment.CreateQR)
				pr.Post("/orders/{id}/khqr", h.Payment.OrderQR)
				pr.Get("/orders/{id}/khqr/status", h.Payment.OrderStatus)
			}

			if h.Webhook != nil {
				pr.Group(func(wr chi.Router) {
					if h.CallbackLimiter != nil {
						wr.Use(h.CallbackLimiter.Handler)
					}
					wr.Post("/bakong/callback", h.Webhook.HandleCallback)
					wr.Post("/bakong/scan", h.Webhook.HandleScan)
					wr.Post("/orders/{id}/bakong", h.Webhook.HandleOrderPayment)
				})
			}

			if h.Stream != nil {
				pr.Get("/bakong/orders/{id}/events", h.Stream.Stream)
				pr.Get("/bakong/orders/{id}/emitters", h.Stream.Count)
			}
		})
	})
}
