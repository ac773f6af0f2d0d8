package models

import "time"

// Статусы платёжной транзакции. Переход pending -> completed либо
// pending -> failed происходит ровно один раз.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// Виды пакетов из каталога.
const (
	PackageSubscription = "subscription"
	PackageOneTime      = "one_time"
)

// Статусы локальной записи о регулярной подписке.
const (
	SubStatusActive    = "active"
	SubStatusCancelled = "cancelled"
)

// Package описывает запись статического каталога покупаемых пакетов.
// Каталог сидится миграцией и на рантайме только читается.
type Package struct {
	ID             string  // Идентификатор пакета: basic_sub, premium_sub, extra_pack
	Name           string  // Отображаемое название
	PriceUSD       float64 // Цена в долларах
	Documents      int     // Сколько документов входит в пакет
	PremiumQueries int     // Сколько премиум-запросов входит в пакет
	Kind           string  // subscription или one_time
	DurationDays   int     // Срок действия выданных лимитов
	IsActive       bool    // Неактивные пакеты нельзя купить
}

// Transaction представляет запись журнала платежей. Журнал только
// пополняется; поле ExternalSessionID служит ключом идемпотентности
// против повторных коллбэков платёжного шлюза.
type Transaction struct {
	ID                string     // Суррогатный ключ (uuid)
	UserID            int64      // Плательщик
	ExternalSessionID *string    // Идентификатор чекаут-сессии шлюза
	AmountUSD         float64    // Сумма платежа
	PackageID         string     // Купленный пакет
	Status            string     // pending, completed или failed
	PaymentMethod     string     // Способ оплаты, например stripe
	DocumentsGranted  int        // Фактически начисленные документы
	QueriesGranted    int        // Фактически начисленные запросы
	CreatedAt         time.Time
	CompletedAt       *time.Time // Момент перехода в терминальный статус
}

// UserSubscription — локальное отражение объекта регулярной подписки
// в платёжном шлюзе. Пара (UserID, ExternalSubscriptionID) уникальна.
type UserSubscription struct {
	UserID                 int64
	ExternalSubscriptionID string
	PackageID              string
	Status                 string // active или cancelled
	CreatedAt              time.Time
	CancelledAt            *time.Time
}

// DummyPaymentEvent используется для приёма события от платёжного шлюза
// до его валидации и маршрутизации в журнал транзакций.
type DummyPaymentEvent struct {
	ExternalSessionID      string  `json:"external_session_id" validate:"required"`
	UserID                 int64   `json:"user_id" validate:"required,gt=0"`
	PackageID              string  `json:"package_id" validate:"required"`
	AmountUSD              float64 `json:"amount_usd" validate:"min=0"`
	Status                 string  `json:"status" validate:"required,oneof=pending completed failed"`
	PaymentMethod          string  `json:"payment_method" validate:"required"`
	ExternalSubscriptionID string  `json:"external_subscription_id,omitempty" validate:"omitempty"`
}
