package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/medassist/user-state/internal/models"
)

// updateStatements — полный параметризованный запрос на каждое
// изменяемое поле анкеты. Таблица фиксирована на этапе компиляции:
// идентификаторы колонок никогда не собираются из внешних строк.
var updateStatements = map[string]string{
	"name":               `UPDATE users SET name = $1, last_updated = $2 WHERE user_id = $3`,
	"birth_year":         `UPDATE users SET birth_year = $1, last_updated = $2 WHERE user_id = $3`,
	"gender":             `UPDATE users SET gender = $1, last_updated = $2 WHERE user_id = $3`,
	"height_cm":          `UPDATE users SET height_cm = $1, last_updated = $2 WHERE user_id = $3`,
	"weight_kg":          `UPDATE users SET weight_kg = $1, last_updated = $2 WHERE user_id = $3`,
	"chronic_conditions": `UPDATE users SET chronic_conditions = $1, last_updated = $2 WHERE user_id = $3`,
	"medications":        `UPDATE users SET medications = $1, last_updated = $2 WHERE user_id = $3`,
	"allergies":          `UPDATE users SET allergies = $1, last_updated = $2 WHERE user_id = $3`,
	"smoking":            `UPDATE users SET smoking = $1, last_updated = $2 WHERE user_id = $3`,
	"alcohol":            `UPDATE users SET alcohol = $1, last_updated = $2 WHERE user_id = $3`,
	"physical_activity":  `UPDATE users SET physical_activity = $1, last_updated = $2 WHERE user_id = $3`,
	"family_history":     `UPDATE users SET family_history = $1, last_updated = $2 WHERE user_id = $3`,
	"language":           `UPDATE users SET language = $1, last_updated = $2 WHERE user_id = $3`,
}

// setFragments — статические фрагменты SET для массового обновления.
// Значения совпадают с именами колонок из updateStatements.
var setFragments = map[string]string{
	"name":               "name",
	"birth_year":         "birth_year",
	"gender":             "gender",
	"height_cm":          "height_cm",
	"weight_kg":          "weight_kg",
	"chronic_conditions": "chronic_conditions",
	"medications":        "medications",
	"allergies":          "allergies",
	"smoking":            "smoking",
	"alcohol":            "alcohol",
	"physical_activity":  "physical_activity",
	"family_history":     "family_history",
	"language":           "language",
}

// UpdateField записывает одно поле анкеты и штамп last_updated.
// Возвращает false без ошибки, если пользователь не существует.
func (s *Storage) UpdateField(ctx context.Context, userID int64, field string, value any) (bool, error) {
	const op = "storage.UpdateField"

	query, ok := updateStatements[field]
	if !ok {
		return false, failure(op, fmt.Errorf("no statement for field %q", field))
	}

	var updated bool
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, value, time.Now(), userID)
		if err != nil {
			return failure(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return failure(op, err)
		}
		updated = n > 0
		return nil
	})
	return updated, err
}

// BulkUpdate записывает несколько полей анкеты одним запросом.
// Фрагменты SET берутся только из статической таблицы setFragments,
// порядок полей детерминирован. Возвращает false, если пользователя нет —
// в том числе для пустого набора полей, когда писать нечего.
func (s *Storage) BulkUpdate(ctx context.Context, userID int64, values map[string]any) (bool, error) {
	const op = "storage.BulkUpdate"

	if len(values) == 0 {
		var exists bool
		err := s.DB.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&exists)
		if err != nil {
			return false, failure(op, err)
		}
		return exists, nil
	}

	fields := make([]string, 0, len(values))
	for f := range values {
		if _, ok := setFragments[f]; !ok {
			return false, failure(op, fmt.Errorf("no statement for field %q", f))
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	clauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for i, f := range fields {
		clauses = append(clauses, setFragments[f]+" = $"+strconv.Itoa(i+1))
		args = append(args, values[f])
	}
	clauses = append(clauses, "last_updated = $"+strconv.Itoa(len(fields)+1))
	args = append(args, time.Now(), userID)

	query := "UPDATE users SET " + strings.Join(clauses, ", ") +
		" WHERE user_id = $" + strconv.Itoa(len(fields)+2)

	var updated bool
	err := s.WithTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return failure(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return failure(op, err)
		}
		updated = n > 0
		return nil
	})
	return updated, err
}

// SaveUser создаёт или перезаписывает базовую часть анкеты. Текущий
// язык пользователя читается в той же транзакции и сохраняется;
// для нового пользователя язык по умолчанию ru.
func (s *Storage) SaveUser(ctx context.Context, userID int64, name string, birthYear *int) error {
	const op = "storage.SaveUser"

	return s.WithTx(ctx, op, func(tx *sql.Tx) error {
		language := "ru"
		err := tx.QueryRowContext(ctx,
			`SELECT language FROM users WHERE user_id = $1`, userID).Scan(&language)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return failure(op, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (user_id, name, birth_year, language, created_at, last_updated)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (user_id) DO UPDATE
			SET name = EXCLUDED.name,
			    birth_year = EXCLUDED.birth_year,
			    language = EXCLUDED.language,
			    last_updated = EXCLUDED.last_updated`,
			userID, name, birthYear, language, time.Now())
		if err != nil {
			return failure(op, err)
		}
		return nil
	})
}

// GetUser возвращает анкету пользователя. Второй результат false
// означает, что пользователь не зарегистрирован.
func (s *Storage) GetUser(ctx context.Context, userID int64) (*models.User, bool, error) {
	const op = "storage.GetUser"

	query := `SELECT user_id, name, birth_year, gender, height_cm, weight_kg,
			      chronic_conditions, medications, allergies, smoking, alcohol,
			      physical_activity, family_history, language, created_at, last_updated
			  FROM users
			  WHERE user_id = $1`

	u := &models.User{}
	var name, gender, chronic, meds, allergies sql.NullString
	var smoking, alcohol, activity, famHistory sql.NullString
	var birthYear, heightCm sql.NullInt64
	var weightKg sql.NullFloat64
	var lastUpdated sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(
		&u.UserID, &name, &birthYear, &gender, &heightCm, &weightKg,
		&chronic, &meds, &allergies, &smoking, &alcohol,
		&activity, &famHistory, &u.Language, &u.CreatedAt, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, failure(op, err)
	}

	u.Name = nullString(name)
	u.Gender = nullString(gender)
	u.ChronicConditions = nullString(chronic)
	u.Medications = nullString(meds)
	u.Allergies = nullString(allergies)
	u.Smoking = nullString(smoking)
	u.Alcohol = nullString(alcohol)
	u.PhysicalActivity = nullString(activity)
	u.FamilyHistory = nullString(famHistory)
	u.BirthYear = nullInt(birthYear)
	u.HeightCm = nullInt(heightCm)
	if weightKg.Valid {
		u.WeightKg = &weightKg.Float64
	}
	if lastUpdated.Valid {
		u.LastUpdated = &lastUpdated.Time
	}
	return u, true, nil
}

// ListUserIDs возвращает идентификаторы всех пользователей.
// Используется дозаполнением лимитов и админским списком.
func (s *Storage) ListUserIDs(ctx context.Context) ([]int64, error) {
	const op = "storage.ListUserIDs"

	rows, err := s.DB.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, failure(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, failure(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(op, err)
	}
	return ids, nil
}

// ListUsersWithLimits возвращает всех пользователей с их лимитами.
// Для пользователей без строки лимитов подставляется бесплатный тариф.
func (s *Storage) ListUsersWithLimits(ctx context.Context) ([]*models.UserOverview, error) {
	const op = "storage.ListUsersWithLimits"

	query := `SELECT u.user_id, u.name,
			      COALESCE(l.documents_left, 0),
			      COALESCE(l.premium_queries_left, 0),
			      COALESCE(l.subscription_type, 'free'),
			      l.subscription_expires_at
			  FROM users u
			  LEFT JOIN user_limits l ON u.user_id = l.user_id
			  ORDER BY u.user_id`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, failure(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.UserOverview
	for rows.Next() {
		var item models.UserOverview
		var name sql.NullString
		var expires sql.NullTime
		if err := rows.Scan(&item.UserID, &name, &item.DocumentsLeft,
			&item.PremiumQueries, &item.SubscriptionType, &expires); err != nil {
			return nil, failure(op, err)
		}
		item.Name = nullString(name)
		if expires.Valid {
			item.ExpiresAt = &expires.Time
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(op, err)
	}
	return result, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
