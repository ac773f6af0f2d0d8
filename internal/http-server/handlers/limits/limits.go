// Package limits содержит HTTP-обработчики счётчиков лимитов:
// чтение, установка и сброс значений для одного пользователя.
package limits

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/medassist/user-state/internal/http-server/response"
	"github.com/medassist/user-state/internal/lib/sl"
	"github.com/medassist/user-state/internal/models"
	"github.com/medassist/user-state/internal/policy"
)

// QuotaService описывает операции учёта лимитов, нужные обработчикам.
type QuotaService interface {
	GetLimits(ctx context.Context, rawUserID any) (*models.Limits, bool, error)
	SetLimits(ctx context.Context, rawUserID any, documents, queries int) error
	ResetLimits(ctx context.Context, rawUserID any) error
}

// NewShow возвращает обработчик GET /users/{id}/limits.
func NewShow(log *slog.Logger, service QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.limits.NewShow"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		limits, found, err := service.GetLimits(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			var violation *policy.Violation
			if errors.As(err, &violation) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error(violation.Error()))

				return
			}
			log.Error("failed to read limits", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to read limits"))

			return
		}
		if !found {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("limits not initialized"))

			return
		}

		render.JSON(w, r, response.StatusOKWithData(limits))
	}
}

// NewSet возвращает обработчик PUT /users/{id}/limits.
func NewSet(log *slog.Logger, service QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.limits.NewSet"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var dummyReq models.DummySetLimits
		if err := render.DecodeJSON(r.Body, &dummyReq); err != nil {
			log.Error("failed to decode request body", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("failed to decode request"))

			return
		}
		log.Info("request body decoded", slog.Any("request", dummyReq))

		if err := validator.New().Struct(dummyReq); err != nil {
			validateErr := err.(validator.ValidationErrors)
			log.Error("invalid request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationError(validateErr))

			return
		}

		err := service.SetLimits(r.Context(), chi.URLParam(r, "id"),
			dummyReq.Documents, dummyReq.PremiumQueries)
		if err != nil {
			var violation *policy.Violation
			if errors.As(err, &violation) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error(violation.Error()))

				return
			}
			log.Error("failed to set limits", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to set limits"))

			return
		}

		render.JSON(w, r, response.OK())
	}
}

// NewReset возвращает обработчик DELETE /users/{id}/limits.
func NewReset(log *slog.Logger, service QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.limits.NewReset"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		err := service.ResetLimits(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			var violation *policy.Violation
			if errors.As(err, &violation) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error(violation.Error()))

				return
			}
			log.Error("failed to reset limits", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to reset limits"))

			return
		}

		render.JSON(w, r, response.OK())
	}
}
