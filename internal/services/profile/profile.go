// Package profile реализует бизнес-логику изменения анкеты пользователя:
// валидация по политике полей, затем запись через хранилище. Проверка
// белого списка продублирована на границе вызова — поле, не прошедшее
// политику, не доходит до хранилища даже при ошибке в валидаторе.
package profile

import (
	"context"
	"log/slog"

	"github.com/medassist/user-state/internal/lib/sl"
	"github.com/medassist/user-state/internal/metrics"
	"github.com/medassist/user-state/internal/models"
	"github.com/medassist/user-state/internal/policy"
)

// UserRepository определяет методы хранилища для работы с анкетами.
type UserRepository interface {
	// UpdateField записывает одно поле; false — пользователя нет.
	UpdateField(ctx context.Context, userID int64, field string, value any) (bool, error)
	// BulkUpdate записывает несколько полей одним запросом.
	BulkUpdate(ctx context.Context, userID int64, values map[string]any) (bool, error)
	// SaveUser создаёт или перезаписывает базовую часть анкеты.
	SaveUser(ctx context.Context, userID int64, name string, birthYear *int) error
	// GetUser возвращает анкету; false — пользователя нет.
	GetUser(ctx context.Context, userID int64) (*models.User, bool, error)
}

// Service реализует операции изменения анкеты.
type Service struct {
	repo UserRepository
	log  *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo UserRepository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
	}
}

// UpdateField валидирует и записывает одно поле анкеты.
// Возвращает false без ошибки, если пользователь не зарегистрирован.
func (s *Service) UpdateField(ctx context.Context, rawUserID any, field string, value any) (bool, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return false, err
	}
	if !policy.Allowed(field) {
		metrics.PolicyViolations.WithLabelValues(field).Inc()
		return false, &policy.Violation{Field: field, Reason: "not allowed for update"}
	}

	normalized, err := policy.ValidateField(field, value)
	if err != nil {
		metrics.PolicyViolations.WithLabelValues(field).Inc()
		return false, err
	}
	s.scanText(field, normalized, userID)

	updated, err := s.repo.UpdateField(ctx, userID, field, normalized)
	if err != nil {
		return false, err
	}
	if !updated {
		s.log.Warn("user not found on field update", sl.UserID(userID), slog.String("field", field))
		return false, nil
	}
	s.log.Info("updated user field", sl.UserID(userID), slog.String("field", field))
	return true, nil
}

// BulkUpdate валидирует все пары поле-значение до первой записи.
// Любое нарушение политики отклоняет вызов целиком — в хранилище
// не уходит ни одного запроса. Валидные пары пишутся одним запросом.
// Пустой набор полей — успешный no-op для существующего пользователя
// и false для незарегистрированного.
func (s *Service) BulkUpdate(ctx context.Context, rawUserID any, updates map[string]any) (bool, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return false, err
	}

	validated := make(map[string]any, len(updates))
	for field, value := range updates {
		if !policy.Allowed(field) {
			metrics.PolicyViolations.WithLabelValues(field).Inc()
			return false, &policy.Violation{Field: field, Reason: "not allowed for update"}
		}
		normalized, err := policy.ValidateField(field, value)
		if err != nil {
			metrics.PolicyViolations.WithLabelValues(field).Inc()
			return false, err
		}
		validated[field] = normalized
	}
	for field, value := range validated {
		s.scanText(field, value, userID)
	}

	updated, err := s.repo.BulkUpdate(ctx, userID, validated)
	if err != nil {
		return false, err
	}
	if !updated {
		s.log.Warn("user not found on bulk update", sl.UserID(userID))
		return false, nil
	}
	s.log.Info("bulk updated user fields", sl.UserID(userID), slog.Int("fields", len(validated)))
	return true, nil
}

// SaveUser валидирует и сохраняет базовую часть анкеты; существующий
// язык пользователя при этом сохраняется хранилищем.
func (s *Service) SaveUser(ctx context.Context, rawUserID any, name string, birthYear *int) error {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return err
	}
	normalizedName, err := policy.ValidateField("name", name)
	if err != nil {
		metrics.PolicyViolations.WithLabelValues("name").Inc()
		return err
	}
	if birthYear != nil {
		if _, err := policy.ValidateField("birth_year", *birthYear); err != nil {
			metrics.PolicyViolations.WithLabelValues("birth_year").Inc()
			return err
		}
	}
	s.scanText("name", normalizedName, userID)

	if err := s.repo.SaveUser(ctx, userID, normalizedName.(string), birthYear); err != nil {
		return err
	}
	s.log.Info("saved user", sl.UserID(userID))
	return nil
}

// GetUser возвращает анкету пользователя.
func (s *Service) GetUser(ctx context.Context, rawUserID any) (*models.User, bool, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return nil, false, err
	}
	return s.repo.GetUser(ctx, userID)
}

// scanText фиксирует подозрительные сигнатуры в тексте поля.
// Запись не отклоняется: защита от инъекций — параметризованные
// запросы хранилища, скан служит только сигналом мониторинга.
func (s *Service) scanText(field string, value any, userID int64) {
	text, ok := value.(string)
	if !ok {
		return
	}
	if found := policy.SuspiciousPatterns(text); len(found) > 0 {
		metrics.SuspiciousInputs.WithLabelValues(field).Inc()
		s.log.Warn("suspicious pattern in field value",
			sl.UserID(userID),
			slog.String("field", field),
			slog.Any("patterns", found))
	}
}
