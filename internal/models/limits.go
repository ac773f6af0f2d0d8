package models

import "time"

// Типы подписки в user_limits. Для регулярных подписок вместо
// константы хранится идентификатор пакета (basic_sub, premium_sub).
const (
	SubscriptionFree    = "free"
	SubscriptionOneTime = "one_time"
)

// Limits представляет счётчики ресурсов пользователя.
// Ровно одна строка на пользователя; отсутствие строки читатели
// трактуют как бесплатный тариф, но она должна быть дозаполнена
// (см. BackfillMissing).
type Limits struct {
	UserID           int64      // Владелец счётчиков
	DocumentsLeft    int        // Остаток загрузок документов
	PremiumQueries   int        // Остаток премиум-запросов к модели
	SubscriptionType string     // free, one_time или идентификатор пакета подписки
	ExpiresAt        *time.Time // Когда лимиты истекают; nil — бессрочно
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserOverview — строка админского списка пользователей: анкета,
// объединённая с лимитами. Для пользователей без строки лимитов
// счётчики нулевые, тариф free.
type UserOverview struct {
	UserID           int64
	Name             *string
	DocumentsLeft    int
	PremiumQueries   int
	SubscriptionType string
	ExpiresAt        *time.Time
}

// DummySetLimits используется для приёма новых значений счётчиков
// из JSON-запроса админ-API.
type DummySetLimits struct {
	Documents      int `json:"documents" validate:"min=0"`       // Новый остаток документов
	PremiumQueries int `json:"premium_queries" validate:"min=0"` // Новый остаток запросов
}
