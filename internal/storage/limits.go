package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/medassist/user-state/internal/models"
)

// oneTimeExpiryDays — горизонт действия лимитов, создаваемых админской
// установкой без существующей строки.
const oneTimeExpiryDays = 30

// Стартовые лимиты бесплатного тарифа, выдаваемые при дозаполнении.
const (
	freeTierDocuments = 2
	freeTierQueries   = 10
)

// GetLimits возвращает счётчики пользователя. Второй результат false
// означает, что строка лимитов ещё не создана — это отличимо от
// обнулённых счётчиков.
func (s *Storage) GetLimits(ctx context.Context, userID int64) (*models.Limits, bool, error) {
	const op = "storage.GetLimits"

	query := `SELECT user_id, documents_left, premium_queries_left, subscription_type,
			      subscription_expires_at, created_at, updated_at
			  FROM user_limits
			  WHERE user_id = $1`

	l := &models.Limits{}
	var expires sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(
		&l.UserID, &l.DocumentsLeft, &l.PremiumQueries, &l.SubscriptionType,
		&expires, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, failure(op, err)
	}
	if expires.Valid {
		l.ExpiresAt = &expires.Time
	}
	return l, true, nil
}

// SetLimits выставляет счётчики, не трогая тип подписки и дату
// истечения: счётчики и метаданные подписки — независимые оси.
// Если строки нет, создаётся новая с типом one_time и истечением
// через oneTimeExpiryDays от текущего момента.
func (s *Storage) SetLimits(ctx context.Context, userID int64, documents, queries int) error {
	const op = "storage.SetLimits"

	return s.WithTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE user_limits
			SET documents_left = $1,
			    premium_queries_left = $2,
			    updated_at = $3
			WHERE user_id = $4`,
			documents, queries, time.Now(), userID)
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

		now := time.Now()
		expires := now.AddDate(0, 0, oneTimeExpiryDays)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_limits
			    (user_id, documents_left, premium_queries_left, subscription_type,
			     subscription_expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			userID, documents, queries, models.SubscriptionOneTime, expires, now)
		if err != nil {
			return failure(op, err)
		}
		return nil
	})
}

// ResetLimits обнуляет оба счётчика с тем же контрактом сохранения
// метаданных подписки. Если строки нет, создаётся нулевая строка
// бесплатного тарифа без даты истечения.
func (s *Storage) ResetLimits(ctx context.Context, userID int64) error {
	const op = "storage.ResetLimits"

	return s.WithTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE user_limits
			SET documents_left = 0,
			    premium_queries_left = 0,
			    updated_at = $1
			WHERE user_id = $2`,
			time.Now(), userID)
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

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_limits
			    (user_id, documents_left, premium_queries_left, subscription_type,
			     created_at, updated_at)
			VALUES ($1, 0, 0, $2, $3, $3)`,
			userID, models.SubscriptionFree, time.Now())
		if err != nil {
			return failure(op, err)
		}
		return nil
	})
}

// BackfillMissing создаёт строку лимитов бесплатного тарифа каждому
// пользователю, у которого её нет. Повторный запуск ничего не меняет:
// вставка выполняется с ON CONFLICT DO NOTHING. Возвращает число
// созданных строк.
func (s *Storage) BackfillMissing(ctx context.Context, userIDs []int64) (int, error) {
	const op = "storage.BackfillMissing"

	var created int
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO user_limits
			    (user_id, documents_left, premium_queries_left, subscription_type,
			     created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (user_id) DO NOTHING`)
		if err != nil {
			return failure(op, err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, id := range userIDs {
			res, err := stmt.ExecContext(ctx, id, freeTierDocuments, freeTierQueries,
				models.SubscriptionFree, time.Now())
			if err != nil {
				return failure(op, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return failure(op, err)
			}
			created += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// SpendResult описывает исход списания лимитов.
type SpendResult struct {
	OK                 bool   // Списание выполнено
	Reason             string // Причина отказа при OK == false
	RemainingDocuments int
	RemainingQueries   int
}

// Spend атомарно списывает лимиты: строка пользователя блокируется,
// сначала урегулируется истечение срока действия, затем проверяется
// достаточность остатков. Конкурирующие списания и начисления по
// одному пользователю сериализуются на уровне строки.
func (s *Storage) Spend(ctx context.Context, userID int64, documents, queries int) (SpendResult, error) {
	const op = "storage.Spend"

	var result SpendResult
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		var docsLeft, queriesLeft int
		var subType string
		var expires sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT documents_left, premium_queries_left, subscription_type, subscription_expires_at
			FROM user_limits
			WHERE user_id = $1
			FOR UPDATE`, userID).Scan(&docsLeft, &queriesLeft, &subType, &expires)
		if errors.Is(err, sql.ErrNoRows) {
			result = SpendResult{Reason: "limits not initialized"}
			return nil
		}
		if err != nil {
			return failure(op, err)
		}

		if expires.Valid && !time.Now().Before(expires.Time) {
			docsLeft, queriesLeft, err = s.settleExpiryTx(ctx, tx, userID, subType)
			if err != nil {
				return err
			}
		}

		if documents > docsLeft {
			result = SpendResult{Reason: "insufficient document limit",
				RemainingDocuments: docsLeft, RemainingQueries: queriesLeft}
			return nil
		}
		if queries > queriesLeft {
			result = SpendResult{Reason: "insufficient premium query limit",
				RemainingDocuments: docsLeft, RemainingQueries: queriesLeft}
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE user_limits
			SET documents_left = $1,
			    premium_queries_left = $2,
			    updated_at = $3
			WHERE user_id = $4`,
			docsLeft-documents, queriesLeft-queries, time.Now(), userID)
		if err != nil {
			return failure(op, err)
		}
		result = SpendResult{OK: true,
			RemainingDocuments: docsLeft - documents,
			RemainingQueries:   queriesLeft - queries}
		return nil
	})
	if err != nil {
		return SpendResult{}, err
	}
	return result, nil
}

// settleExpiryTx обрабатывает истёкшие лимиты внутри уже открытой
// транзакции: регулярная подписка продлевается из последней
// завершённой регулярной транзакции, всё остальное обнуляется
// в бесплатный тариф. Возвращает актуальные остатки.
func (s *Storage) settleExpiryTx(ctx context.Context, tx *sql.Tx, userID int64, subType string) (int, int, error) {
	const op = "storage.settleExpiryTx"

	if subType != models.SubscriptionFree && subType != models.SubscriptionOneTime {
		var docs, queries, duration int
		err := tx.QueryRowContext(ctx, `
			SELECT t.documents_granted, t.queries_granted, p.duration_days
			FROM transactions t
			JOIN subscription_packages p ON p.id = t.package_id
			WHERE t.user_id = $1 AND t.status = $2 AND p.kind = $3
			ORDER BY t.completed_at DESC
			LIMIT 1`,
			userID, models.TxCompleted, models.PackageSubscription).
			Scan(&docs, &queries, &duration)
		if err == nil {
			newExpiry := time.Now().AddDate(0, 0, duration)
			_, err = tx.ExecContext(ctx, `
				UPDATE user_limits
				SET documents_left = $1,
				    premium_queries_left = $2,
				    subscription_expires_at = $3,
				    updated_at = $4
				WHERE user_id = $5`,
				docs, queries, newExpiry, time.Now(), userID)
			if err != nil {
				return 0, 0, failure(op, err)
			}
			return docs, queries, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, 0, failure(op, err)
		}
		// Подписка без единой завершённой транзакции: сбрасываем.
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE user_limits
		SET documents_left = 0,
		    premium_queries_left = 0,
		    subscription_type = $1,
		    subscription_expires_at = NULL,
		    updated_at = $2
		WHERE user_id = $3`,
		models.SubscriptionFree, time.Now(), userID)
	if err != nil {
		return 0, 0, failure(op, err)
	}
	return 0, 0, nil
}
