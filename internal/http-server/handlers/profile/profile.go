// Package profile содержит HTTP-обработчики анкеты пользователя:
// массовое обновление полей и чтение анкеты.
package profile

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

// Updater описывает сервис массового обновления анкеты.
type Updater interface {
	BulkUpdate(ctx context.Context, rawUserID any, updates map[string]any) (bool, error)
}

// Reader описывает сервис чтения анкеты.
type Reader interface {
	GetUser(ctx context.Context, rawUserID any) (*models.User, bool, error)
}

// NewUpdate возвращает обработчик PATCH /users/{id}.
func NewUpdate(log *slog.Logger, service Updater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.profile.NewUpdate"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var dummyReq models.DummyUserUpdate
		if err := render.DecodeJSON(r.Body, &dummyReq); err != nil {
			log.Error("failed to decode request body", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("failed to decode request"))

			return
		}
		log.Info("request body decoded", slog.Int("fields", len(dummyReq.Fields)))

		if err := validator.New().Struct(dummyReq); err != nil {
			validateErr := err.(validator.ValidationErrors)
			log.Error("invalid request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationError(validateErr))

			return
		}

		updated, err := service.BulkUpdate(r.Context(), chi.URLParam(r, "id"), dummyReq.Fields)
		if err != nil {
			var violation *policy.Violation
			if errors.As(err, &violation) {
				log.Warn("rejected by field policy", sl.Err(err))
				render.Status(r, http.StatusUnprocessableEntity)
				render.JSON(w, r, response.Error(violation.Error()))

				return
			}
			log.Error("failed to update user fields", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to update user"))

			return
		}
		if !updated {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))

			return
		}

		render.JSON(w, r, response.StatusOKWithData(map[string]any{
			"updated_fields": len(dummyReq.Fields),
		}))
	}
}

// NewRead возвращает обработчик GET /users/{id}.
func NewRead(log *slog.Logger, service Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.profile.NewRead"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, found, err := service.GetUser(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			var violation *policy.Violation
			if errors.As(err, &violation) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error(violation.Error()))

				return
			}
			log.Error("failed to read user", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to read user"))

			return
		}
		if !found {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))

			return
		}

		render.JSON(w, r, response.StatusOKWithData(user))
	}
}
