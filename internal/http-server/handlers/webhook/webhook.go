// Package webhook содержит обработчик событий платёжного шлюза.
// Это единственная точка входа платёжной границы: событие валидируется
// и маршрутизируется сервисом биллинга по статусу.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/medassist/user-state/internal/http-server/response"
	"github.com/medassist/user-state/internal/lib/sl"
	"github.com/medassist/user-state/internal/models"
	"github.com/medassist/user-state/internal/policy"
	"github.com/medassist/user-state/internal/storage"
)

// PaymentHandler описывает сервис обработки платёжных событий.
type PaymentHandler interface {
	HandlePaymentEvent(ctx context.Context, event models.DummyPaymentEvent) (storage.GrantOutcome, error)
}

// New возвращает обработчик POST /webhook/payment.
// Ответ 200 для любого корректно разобранного события: шлюз повторяет
// доставку при других кодах, а идемпотентность обеспечивает журнал
// транзакций, поэтому дубли безопасны.
func New(log *slog.Logger, service PaymentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.webhook.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var dummyReq models.DummyPaymentEvent
		if err := render.DecodeJSON(r.Body, &dummyReq); err != nil {
			log.Error("failed to decode request body", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("failed to decode request"))

			return
		}
		log.Info("payment event decoded",
			slog.String("session_id", dummyReq.ExternalSessionID),
			slog.String("status", dummyReq.Status))

		if err := validator.New().Struct(dummyReq); err != nil {
			validateErr := err.(validator.ValidationErrors)
			log.Error("invalid payment event", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationError(validateErr))

			return
		}

		outcome, err := service.HandlePaymentEvent(r.Context(), dummyReq)
		if err != nil {
			var violation *policy.Violation
			if errors.As(err, &violation) {
				log.Warn("payment event rejected", sl.Err(err))
				render.Status(r, http.StatusUnprocessableEntity)
				render.JSON(w, r, response.Error(violation.Error()))

				return
			}
			log.Error("failed to handle payment event", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to handle payment event"))

			return
		}

		render.JSON(w, r, response.StatusOKWithData(map[string]any{
			"granted":           outcome.Granted,
			"already_settled":   outcome.AlreadySettled,
			"documents_granted": outcome.DocumentsGranted,
			"queries_granted":   outcome.QueriesGranted,
		}))
	}
}
