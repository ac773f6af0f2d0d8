// Package models содержит доменные структуры пользователя, его лимитов
// и платёжных сущностей, а также вспомогательные типы для приёма данных
// из внешних источников (JSON-запросы вебхука и админ-API).
package models

import "time"

// User представляет анкету пользователя бота.
// Идентификатор приходит из чат-платформы и является первичным ключом.
// Все медицинские поля опциональны: nil означает, что пользователь
// их ещё не заполнил.
type User struct {
	UserID            int64      // Идентификатор пользователя в чат-платформе
	Name              *string    // Имя
	BirthYear         *int       // Год рождения
	Gender            *string    // Пол
	HeightCm          *int       // Рост в сантиметрах
	WeightKg          *float64   // Вес в килограммах
	ChronicConditions *string    // Хронические заболевания (свободный текст)
	Medications       *string    // Принимаемые препараты
	Allergies         *string    // Аллергии
	Smoking           *string    // Курение
	Alcohol           *string    // Алкоголь
	PhysicalActivity  *string    // Физическая активность
	FamilyHistory     *string    // Семейный анамнез
	Language          string     // Язык интерфейса: ru, uk или en
	CreatedAt         time.Time  // Дата регистрации
	LastUpdated       *time.Time // Дата последнего изменения анкеты
}

// DummyUserUpdate используется для приёма массового обновления анкеты
// из JSON-запроса до валидации полей через политику.
type DummyUserUpdate struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"` // Пары поле-значение
}
