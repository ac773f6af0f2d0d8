package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medassist/user-state/internal/models"
)

// GetPackage возвращает запись каталога по идентификатору.
func (s *Storage) GetPackage(ctx context.Context, packageID string) (*models.Package, bool, error) {
	const op = "storage.GetPackage"

	query := `SELECT id, name, price_usd, documents_included, premium_queries_included,
			      kind, duration_days, is_active
			  FROM subscription_packages
			  WHERE id = $1`

	p := &models.Package{}
	err := s.DB.QueryRowContext(ctx, query, packageID).Scan(
		&p.ID, &p.Name, &p.PriceUSD, &p.Documents, &p.PremiumQueries,
		&p.Kind, &p.DurationDays, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, failure(op, err)
	}
	return p, true, nil
}

// ListActivePackages возвращает покупаемую часть каталога.
func (s *Storage) ListActivePackages(ctx context.Context) ([]*models.Package, error) {
	const op = "storage.ListActivePackages"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, price_usd, documents_included, premium_queries_included,
		       kind, duration_days, is_active
		FROM subscription_packages
		WHERE is_active
		ORDER BY price_usd`)
	if err != nil {
		return nil, failure(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Package
	for rows.Next() {
		p := &models.Package{}
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceUSD, &p.Documents,
			&p.PremiumQueries, &p.Kind, &p.DurationDays, &p.IsActive); err != nil {
			return nil, failure(op, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(op, err)
	}
	return result, nil
}

// InsertTransaction добавляет запись журнала платежей в статусе
// pending и возвращает её идентификатор. Повторная вставка с тем же
// external_session_id возвращает идентификатор существующей записи:
// журнал только пополняется, дубликаты сессий запрещены схемой.
func (s *Storage) InsertTransaction(ctx context.Context, userID int64, sessionID *string,
	amountUSD float64, packageID, paymentMethod string) (string, error) {
	const op = "storage.InsertTransaction"

	var id string
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		id = uuid.NewString()

		// NULL не конфликтует по уникальному индексу, поэтому запись
		// без сессии всегда новая. Для дубликата сессии DO NOTHING
		// отдаёт ход существующей записи без гонки проверка-вставка:
		// проигравший параллельную доставку дочитывает её идентификатор.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO transactions
			    (id, user_id, external_session_id, amount_usd, package_id,
			     status, payment_method, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (external_session_id) DO NOTHING`,
			id, userID, sessionID, amountUSD, packageID,
			models.TxPending, paymentMethod, time.Now())
		if err != nil {
			return failure(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return failure(op, err)
		}
		if n > 0 {
			return nil
		}

		err = tx.QueryRowContext(ctx,
			`SELECT id FROM transactions WHERE external_session_id = $1`,
			*sessionID).Scan(&id)
		if err != nil {
			return failure(op, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetTransaction возвращает запись журнала по идентификатору.
func (s *Storage) GetTransaction(ctx context.Context, id string) (*models.Transaction, bool, error) {
	const op = "storage.GetTransaction"
	return s.getTransaction(ctx, op, `WHERE id = $1`, id)
}

// GetTransactionBySession возвращает запись журнала по идентификатору
// чекаут-сессии платёжного шлюза.
func (s *Storage) GetTransactionBySession(ctx context.Context, sessionID string) (*models.Transaction, bool, error) {
	const op = "storage.GetTransactionBySession"
	return s.getTransaction(ctx, op, `WHERE external_session_id = $1`, sessionID)
}

func (s *Storage) getTransaction(ctx context.Context, op, where string, arg any) (*models.Transaction, bool, error) {
	query := `SELECT id, user_id, external_session_id, amount_usd, package_id, status,
			      payment_method, documents_granted, queries_granted, created_at, completed_at
			  FROM transactions ` + where

	t := &models.Transaction{}
	var session sql.NullString
	var completed sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.UserID, &session, &t.AmountUSD, &t.PackageID, &t.Status,
		&t.PaymentMethod, &t.DocumentsGranted, &t.QueriesGranted, &t.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, failure(op, err)
	}
	if session.Valid {
		t.ExternalSessionID = &session.String
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return t, true, nil
}

// GrantOutcome описывает результат завершения транзакции.
type GrantOutcome struct {
	Granted          bool  // Лимиты начислены этим вызовом
	AlreadySettled   bool  // Транзакция уже была в терминальном статусе
	UserID           int64 // Получатель начисления
	PackageID        string
	DocumentsGranted int
	QueriesGranted   int
}

// CompleteTransaction переводит транзакцию из pending в completed и
// начисляет лимиты пакета — всё в одной транзакции хранилища. Статус
// проверяется под блокировкой строки, поэтому повторное завершение
// той же транзакции — обнаружимый no-op: счётчики второй раз не растут.
// Счётчики увеличиваются, а не перезаписываются; тип подписки
// становится идентификатором пакета для регулярных пакетов и one_time
// для разовых; дата истечения сдвигается на срок действия пакета.
func (s *Storage) CompleteTransaction(ctx context.Context, transactionID string) (GrantOutcome, error) {
	const op = "storage.CompleteTransaction"

	var outcome GrantOutcome
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		var userID int64
		var packageID, status string
		err := tx.QueryRowContext(ctx, `
			SELECT user_id, package_id, status
			FROM transactions
			WHERE id = $1
			FOR UPDATE`, transactionID).Scan(&userID, &packageID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = GrantOutcome{}
			return nil
		}
		if err != nil {
			return failure(op, err)
		}
		if status != models.TxPending {
			outcome = GrantOutcome{AlreadySettled: true, PackageID: packageID}
			return nil
		}

		var docs, queries, duration int
		var kind string
		err = tx.QueryRowContext(ctx, `
			SELECT documents_included, premium_queries_included, kind, duration_days
			FROM subscription_packages
			WHERE id = $1`, packageID).Scan(&docs, &queries, &kind, &duration)
		if err != nil {
			return failure(op, err)
		}

		subType := models.SubscriptionOneTime
		if kind == models.PackageSubscription {
			subType = packageID
		}
		now := time.Now()
		expires := now.AddDate(0, 0, duration)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_limits
			    (user_id, documents_left, premium_queries_left, subscription_type,
			     subscription_expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (user_id) DO UPDATE
			SET documents_left = user_limits.documents_left + EXCLUDED.documents_left,
			    premium_queries_left = user_limits.premium_queries_left + EXCLUDED.premium_queries_left,
			    subscription_type = EXCLUDED.subscription_type,
			    subscription_expires_at = EXCLUDED.subscription_expires_at,
			    updated_at = EXCLUDED.updated_at`,
			userID, docs, queries, subType, expires, now)
		if err != nil {
			return failure(op, err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $1,
			    completed_at = $2,
			    documents_granted = $3,
			    queries_granted = $4
			WHERE id = $5`,
			models.TxCompleted, now, docs, queries, transactionID)
		if err != nil {
			return failure(op, err)
		}

		outcome = GrantOutcome{Granted: true, UserID: userID, PackageID: packageID,
			DocumentsGranted: docs, QueriesGranted: queries}
		return nil
	})
	if err != nil {
		return GrantOutcome{}, err
	}
	return outcome, nil
}

// FailTransaction переводит транзакцию из pending в failed.
// Лимиты не начисляются; уже завершённая транзакция не трогается.
func (s *Storage) FailTransaction(ctx context.Context, transactionID string) (bool, error) {
	const op = "storage.FailTransaction"

	var failed bool
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $1, completed_at = $2
			WHERE id = $3 AND status = $4`,
			models.TxFailed, time.Now(), transactionID, models.TxPending)
		if err != nil {
			return failure(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return failure(op, err)
		}
		failed = n > 0
		return nil
	})
	return failed, err
}

// PaymentHistory возвращает последние нетерминальные платежи пользователя.
func (s *Storage) PaymentHistory(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	const op = "storage.PaymentHistory"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, external_session_id, amount_usd, package_id, status,
		       payment_method, documents_granted, queries_granted, created_at, completed_at
		FROM transactions
		WHERE user_id = $1 AND status != $2
		ORDER BY created_at DESC
		LIMIT $3`,
		userID, models.TxPending, limit)
	if err != nil {
		return nil, failure(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Transaction
	for rows.Next() {
		t := &models.Transaction{}
		var session sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &session, &t.AmountUSD, &t.PackageID,
			&t.Status, &t.PaymentMethod, &t.DocumentsGranted, &t.QueriesGranted,
			&t.CreatedAt, &completed); err != nil {
			return nil, failure(op, err)
		}
		if session.Valid {
			t.ExternalSessionID = &session.String
		}
		if completed.Valid {
			t.CompletedAt = &completed.Time
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(op, err)
	}
	return result, nil
}

// UpsertSubscription сохраняет локальное отражение регулярной подписки
// шлюза. Повторная доставка того же события просто реактивирует запись.
func (s *Storage) UpsertSubscription(ctx context.Context, userID int64, externalSubscriptionID, packageID string) error {
	const op = "storage.UpsertSubscription"

	return s.WithTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_subscriptions
			    (user_id, external_subscription_id, package_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, external_subscription_id) DO UPDATE
			SET package_id = EXCLUDED.package_id,
			    status = EXCLUDED.status,
			    cancelled_at = NULL`,
			userID, externalSubscriptionID, packageID, models.SubStatusActive, time.Now())
		if err != nil {
			return failure(op, err)
		}
		return nil
	})
}

// CancelSubscription помечает последнюю активную подписку пользователя
// отменённой и переводит его тариф в free. Счётчики не трогаются:
// остатки действуют до урегулирования истечения. Возвращает false,
// если активной подписки нет.
func (s *Storage) CancelSubscription(ctx context.Context, userID int64) (bool, error) {
	const op = "storage.CancelSubscription"

	var cancelled bool
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		var externalID string
		err := tx.QueryRowContext(ctx, `
			SELECT external_subscription_id
			FROM user_subscriptions
			WHERE user_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE`, userID, models.SubStatusActive).Scan(&externalID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return failure(op, err)
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx, `
			UPDATE user_subscriptions
			SET status = $1, cancelled_at = $2
			WHERE user_id = $3 AND external_subscription_id = $4`,
			models.SubStatusCancelled, now, userID, externalID)
		if err != nil {
			return failure(op, err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE user_limits
			SET subscription_type = $1, updated_at = $2
			WHERE user_id = $3`,
			models.SubscriptionFree, now, userID)
		if err != nil {
			return failure(op, err)
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}
