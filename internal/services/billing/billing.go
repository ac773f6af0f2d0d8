// Package billing реализует бизнес-логику платёжного учёта: каталог
// пакетов, журнал транзакций и идемпотентное начисление лимитов.
// Перед любым начислением проверяется текущий статус транзакции,
// поэтому повторные коллбэки шлюза не приводят к двойному кредиту.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medassist/user-state/internal/lib/sl"
	"github.com/medassist/user-state/internal/metrics"
	"github.com/medassist/user-state/internal/models"
	"github.com/medassist/user-state/internal/policy"
	"github.com/medassist/user-state/internal/storage"
)

// BillingRepository определяет методы хранилища для платёжного учёта.
type BillingRepository interface {
	GetPackage(ctx context.Context, packageID string) (*models.Package, bool, error)
	ListActivePackages(ctx context.Context) ([]*models.Package, error)
	InsertTransaction(ctx context.Context, userID int64, sessionID *string,
		amountUSD float64, packageID, paymentMethod string) (string, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, bool, error)
	GetTransactionBySession(ctx context.Context, sessionID string) (*models.Transaction, bool, error)
	CompleteTransaction(ctx context.Context, transactionID string) (storage.GrantOutcome, error)
	FailTransaction(ctx context.Context, transactionID string) (bool, error)
	PaymentHistory(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error)
	UpsertSubscription(ctx context.Context, userID int64, externalSubscriptionID, packageID string) error
	CancelSubscription(ctx context.Context, userID int64) (bool, error)
}

// Cache описывает методы для кэширования каталога пакетов.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// GrantEvent — событие о начислении лимитов, публикуемое в брокер
// для уведомления пользователя ботом.
type GrantEvent struct {
	UserID           int64  `json:"user_id"`
	TransactionID    string `json:"transaction_id"`
	PackageID        string `json:"package_id"`
	DocumentsGranted int    `json:"documents_granted"`
	QueriesGranted   int    `json:"queries_granted"`
}

// GrantPublisher публикует события о начислении лимитов.
type GrantPublisher interface {
	Publish(event GrantEvent) error
}

// Service реализует платёжный учёт.
type Service struct {
	repo      BillingRepository
	cache     Cache
	publisher GrantPublisher
	log       *slog.Logger
}

// New создает новый экземпляр Service. Кеш и издатель событий
// опциональны: при nil каталог читается из хранилища, события
// не публикуются.
func New(repo BillingRepository, cache Cache, publisher GrantPublisher, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		log:       log,
	}
}

// GetPackage возвращает запись каталога, используя кеш или хранилище.
// Каталог статичен, поэтому кешировать его безопасно.
func (s *Service) GetPackage(ctx context.Context, packageID string) (*models.Package, bool, error) {
	cacheKey := fmt.Sprintf("package:%s", packageID)
	if s.cache != nil {
		var cached models.Package
		found, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.log.Warn("failed to read package cache", slog.String("key", cacheKey), sl.Err(err))
		} else if found {
			return &cached, true, nil
		}
	}

	pkg, found, err := s.repo.GetPackage(ctx, packageID)
	if err != nil || !found {
		return nil, found, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, pkg, time.Hour); err != nil {
			s.log.Warn("failed to cache package", slog.String("key", cacheKey), sl.Err(err))
		}
	}
	return pkg, true, nil
}

// ListPackages возвращает покупаемую часть каталога.
func (s *Service) ListPackages(ctx context.Context) ([]*models.Package, error) {
	return s.repo.ListActivePackages(ctx)
}

// RecordTransaction заносит платёжную попытку в журнал в статусе
// pending и возвращает идентификатор записи. Для уже известной
// чекаут-сессии возвращается существующая запись.
func (s *Service) RecordTransaction(ctx context.Context, rawUserID any, sessionID *string,
	packageID, paymentMethod string, amountUSD float64) (string, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return "", err
	}

	pkg, found, err := s.GetPackage(ctx, packageID)
	if err != nil {
		return "", err
	}
	if !found || !pkg.IsActive {
		return "", &policy.Violation{Reason: fmt.Sprintf("package %q not found or inactive", packageID)}
	}

	id, err := s.repo.InsertTransaction(ctx, userID, sessionID, amountUSD, packageID, paymentMethod)
	if err != nil {
		return "", err
	}
	s.log.Info("recorded transaction", sl.UserID(userID),
		slog.String("transaction_id", id), slog.String("package_id", packageID))
	return id, nil
}

// CompleteTransaction переводит транзакцию в completed и начисляет
// лимиты ровно один раз: повторный вызов по уже завершённой
// транзакции — обнаружимый no-op.
func (s *Service) CompleteTransaction(ctx context.Context, transactionID string) (storage.GrantOutcome, error) {
	outcome, err := s.repo.CompleteTransaction(ctx, transactionID)
	if err != nil {
		return storage.GrantOutcome{}, err
	}
	if outcome.AlreadySettled {
		s.log.Info("transaction already settled, grant skipped",
			slog.String("transaction_id", transactionID))
		return outcome, nil
	}
	if !outcome.Granted {
		s.log.Warn("transaction not found", slog.String("transaction_id", transactionID))
		return outcome, nil
	}

	metrics.QuotaGrants.WithLabelValues(outcome.PackageID).Inc()
	s.log.Info("granted limits from transaction",
		slog.String("transaction_id", transactionID),
		slog.String("package_id", outcome.PackageID),
		slog.Int("documents", outcome.DocumentsGranted),
		slog.Int("queries", outcome.QueriesGranted))

	s.publishGrant(ctx, transactionID, outcome)
	return outcome, nil
}

// HandlePaymentEvent — единственная точка входа платёжной границы.
// Событие шлюза маршрутизируется по статусу: pending записывается в
// журнал, completed записывается и начисляется, failed помечает
// попытку неуспешной. Для регулярных подписок дополнительно
// обновляется локальное отражение объекта подписки.
func (s *Service) HandlePaymentEvent(ctx context.Context, event models.DummyPaymentEvent) (storage.GrantOutcome, error) {
	userID, err := policy.ValidateUserID(event.UserID)
	if err != nil {
		return storage.GrantOutcome{}, err
	}

	sessionID := event.ExternalSessionID
	txID, err := s.RecordTransaction(ctx, userID, &sessionID,
		event.PackageID, event.PaymentMethod, event.AmountUSD)
	if err != nil {
		return storage.GrantOutcome{}, err
	}

	switch event.Status {
	case models.TxPending:
		return storage.GrantOutcome{}, nil

	case models.TxFailed:
		if _, err := s.repo.FailTransaction(ctx, txID); err != nil {
			return storage.GrantOutcome{}, err
		}
		s.log.Warn("payment failed", sl.UserID(userID), slog.String("transaction_id", txID))
		return storage.GrantOutcome{}, nil

	case models.TxCompleted:
		if event.ExternalSubscriptionID != "" {
			pkg, found, err := s.GetPackage(ctx, event.PackageID)
			if err != nil {
				return storage.GrantOutcome{}, err
			}
			if found && pkg.Kind == models.PackageSubscription {
				if err := s.repo.UpsertSubscription(ctx, userID,
					event.ExternalSubscriptionID, event.PackageID); err != nil {
					return storage.GrantOutcome{}, err
				}
			}
		}
		return s.CompleteTransaction(ctx, txID)
	}

	return storage.GrantOutcome{}, &policy.Violation{Reason: fmt.Sprintf("unknown payment status %q", event.Status)}
}

// FailBySession помечает неуспешной попытку с данной чекаут-сессией,
// например по событию истечения сессии у шлюза.
func (s *Service) FailBySession(ctx context.Context, sessionID string) (bool, error) {
	tx, found, err := s.repo.GetTransactionBySession(ctx, sessionID)
	if err != nil || !found {
		return false, err
	}
	return s.repo.FailTransaction(ctx, tx.ID)
}

// PaymentHistory возвращает последние платежи пользователя.
func (s *Service) PaymentHistory(ctx context.Context, rawUserID any, limit int) ([]*models.Transaction, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	return s.repo.PaymentHistory(ctx, userID, limit)
}

// CancelSubscription отменяет локальную запись активной подписки.
// Сам объект в платёжном шлюзе отменяет внешний коллаборатор.
func (s *Service) CancelSubscription(ctx context.Context, rawUserID any) (bool, error) {
	userID, err := policy.ValidateUserID(rawUserID)
	if err != nil {
		return false, err
	}
	cancelled, err := s.repo.CancelSubscription(ctx, userID)
	if err != nil {
		return false, err
	}
	if cancelled {
		s.log.Info("subscription cancelled", sl.UserID(userID))
	}
	return cancelled, nil
}

func (s *Service) publishGrant(_ context.Context, transactionID string, outcome storage.GrantOutcome) {
	if s.publisher == nil {
		return
	}
	event := GrantEvent{
		UserID:           outcome.UserID,
		TransactionID:    transactionID,
		PackageID:        outcome.PackageID,
		DocumentsGranted: outcome.DocumentsGranted,
		QueriesGranted:   outcome.QueriesGranted,
	}
	if err := s.publisher.Publish(event); err != nil {
		s.log.Warn("failed to publish grant event",
			slog.String("transaction_id", transactionID), sl.Err(err))
	}
}
