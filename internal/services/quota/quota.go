// Package quota реализует бизнес-логику работы со счётчиками лимитов:
// чтение, установка, сброс, дозаполнение и списание. Все мутации
// делегируются хранилищу, где каждая выполняется в одной транзакции.
package quota

import (
	"context"
	"log/slog"

	"github.com/medassist/user-state/internal/lib/sl"
	"github.com/medassist/user-state/internal/metrics"
	"github.com/medassist/user-state/internal/models"
	"github.com/medassist/user-state/internal/policy"
	"github.com/medassist/user-state/internal/storage"
)

// LimitsRepository определяет методы хранилища для работы с лимитами.
type LimitsRepository interface {
	// GetLimits возвращает счётчики; false — строка не создана.
	GetLimits(ctx context.Context, userID int64) (*models.Limits, bool, error)
	// SetLimits выставляет счётчики, сохраняя метаданные подписки.
	SetLimits(ctx context.Context, userID int64, documents, queries int) error
	// ResetLimits обнуляет счётчики, сохраняя метаданные подписки.
	ResetLimits(ctx context.Context, userID int64) error
	// BackfillMissing создаёт недостающие строки лимитов.
	BackfillMissing(ctx context.Context, userIDs []int64) (int, error)
	// Spend атомарно списывает лимиты.
	Spend(ctx context.Context, userID int64, documents, queries int) (storage.SpendResult, error)
	// ListUserIDs возвращает идентификаторы всех пользователей.
	ListUserIDs(ctx context.Context) ([]int64, error)
	// ListUsersWithLimits возвращает пользователей с их лимитами.
	ListUsersWithLimits(ctx context.Context) ([]*models.UserOverview, error)
}

// Service реализует операции учёта лимитов.
type Service struct {
	repo LimitsRepository
	log  *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo LimitsRepository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
	}
}

// GetLimits возвращает счётчики пользователя. Отсутствие строки —
// не ошибка: false означает «лимиты не инициализированы».
func (s *Service) GetLimits(ctx context.Context, rawUserID any) (*models.Limits, bool, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return nil, false, err
	}
	return s.repo.GetLimits(ctx, userID)
}

// SetLimits выставляет счётчики, не меняя тип подписки и дату истечения.
func (s *Service) SetLimits(ctx context.Context, rawUserID any, documents, queries int) error {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return err
	}
	if documents < 0 || queries < 0 {
		return &policy.Violation{Reason: "limits must not be negative"}
	}
	if err := s.repo.SetLimits(ctx, userID, documents, queries); err != nil {
		return err
	}
	s.log.Info("set user limits", sl.UserID(userID),
		slog.Int("documents", documents), slog.Int("queries", queries))
	return nil
}

// ResetLimits обнуляет счётчики пользователя.
func (s *Service) ResetLimits(ctx context.Context, rawUserID any) error {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return err
	}
	if err := s.repo.ResetLimits(ctx, userID); err != nil {
		return err
	}
	s.log.Info("reset user limits", sl.UserID(userID))
	return nil
}

// BackfillMissing создаёт строки лимитов бесплатного тарифа всем
// пользователям без них. Повторный запуск — no-op.
func (s *Service) BackfillMissing(ctx context.Context) (int, error) {
	ids, err := s.repo.ListUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	created, err := s.repo.BackfillMissing(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.log.Info("backfilled missing limits", slog.Int("created", created),
		slog.Int("users", len(ids)))
	return created, nil
}

// Spend списывает лимиты пользователя; перед списанием хранилище
// урегулирует истечение срока действия.
func (s *Service) Spend(ctx context.Context, rawUserID any, documents, queries int) (storage.SpendResult, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return storage.SpendResult{}, err
	}
	if documents < 0 || queries < 0 {
		return storage.SpendResult{}, &policy.Violation{Reason: "spend amounts must not be negative"}
	}

	result, err := s.repo.Spend(ctx, userID, documents, queries)
	if err != nil {
		return storage.SpendResult{}, err
	}
	if result.OK {
		metrics.QuotaSpends.Inc()
		s.log.Info("spent user limits", sl.UserID(userID),
			slog.Int("documents", documents), slog.Int("queries", queries))
	} else {
		metrics.SpendDenied.Inc()
		s.log.Warn("spend denied", sl.UserID(userID), slog.String("reason", result.Reason))
	}
	return result, nil
}

// ListUsers возвращает всех пользователей с лимитами для админ-панели.
func (s *Service) ListUsers(ctx context.Context) ([]*models.UserOverview, error) {
	return s.repo.ListUsersWithLimits(ctx)
}
