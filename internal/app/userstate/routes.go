package userstate

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/medassist/user-state/internal/config"
	limitshandler "github.com/medassist/user-state/internal/http-server/handlers/limits"
	profilehandler "github.com/medassist/user-state/internal/http-server/handlers/profile"
	webhookhandler "github.com/medassist/user-state/internal/http-server/handlers/webhook"
	"github.com/medassist/user-state/internal/http-server/mware"
	"github.com/medassist/user-state/internal/lib/jwt"
	billingservice "github.com/medassist/user-state/internal/services/billing"
	profileservice "github.com/medassist/user-state/internal/services/profile"
	quotaservice "github.com/medassist/user-state/internal/services/quota"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, jwtMaker jwt.Maker,
	profileService *profileservice.Service, quotaService *quotaservice.Service,
	billingService *billingservice.Service) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук платёжного шлюза: без JWT, но с лимитом частоты
		r.Group(func(r chi.Router) {
			r.Use(mware.RateLimitMiddleware(logger, cfg.WebhookRPS, cfg.WebhookBurst))
			r.Post("/webhook/payment", webhookhandler.New(logger, billingService))
		})

		// Админ-API с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(mware.JWTMiddleware(jwtMaker, logger))
			r.Patch("/users/{id}", profilehandler.NewUpdate(logger, profileService))
			r.Get("/users/{id}", profilehandler.NewRead(logger, profileService))
			r.Get("/users/{id}/limits", limitshandler.NewShow(logger, quotaService))
			r.Put("/users/{id}/limits", limitshandler.NewSet(logger, quotaService))
			r.Delete("/users/{id}/limits", limitshandler.NewReset(logger, quotaService))
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
