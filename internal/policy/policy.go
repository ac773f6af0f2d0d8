// Package policy задаёт правила изменения полей анкеты пользователя.
// Таблица Rules — единственная граница авторизации записи: поле,
// отсутствующее в таблице, изменить через API нельзя. Сами правила
// описывают тип значения, допустимый диапазон или перечисление
// и максимальную длину текста.
package policy

import "fmt"

// Kind определяет тип значения поля.
type Kind int

const (
	KindInt    Kind = iota // Целое число с диапазоном
	KindFloat              // Число с диапазоном
	KindString             // Текст с ограничением длины
	KindEnum               // Строка из фиксированного набора
)

// Rule описывает ограничения одного поля анкеты.
type Rule struct {
	Kind   Kind
	Min    float64  // Нижняя граница для чисел
	Max    float64  // Верхняя граница для чисел; 0 у birth_year означает "текущий год"
	MaxLen int      // Максимальная длина текста после обрезки пробелов
	Enum   []string // Допустимые значения для KindEnum
}

// MinBirthYear — нижняя граница года рождения.
const MinBirthYear = 1900

// DefaultMaxLen применяется к тексту, если правило не задаёт длину.
const DefaultMaxLen = 500

// Rules — белый список изменяемых полей таблицы users.
// Имена ключей совпадают с именами колонок; они же служат источником
// идентификаторов в параметризованных запросах хранилища, поэтому
// пользовательские строки никогда не попадают в текст запроса.
var Rules = map[string]Rule{
	"name":               {Kind: KindString, MaxLen: 100},
	"birth_year":         {Kind: KindInt, Min: MinBirthYear},
	"gender":             {Kind: KindString, MaxLen: 50},
	"height_cm":          {Kind: KindInt, Min: 50, Max: 300},
	"weight_kg":          {Kind: KindFloat, Min: 20, Max: 500},
	"chronic_conditions": {Kind: KindString, MaxLen: 1000},
	"medications":        {Kind: KindString, MaxLen: 1000},
	"allergies":          {Kind: KindString, MaxLen: 500},
	"smoking":            {Kind: KindString, MaxLen: 50},
	"alcohol":            {Kind: KindString, MaxLen: 50},
	"physical_activity":  {Kind: KindString, MaxLen: 100},
	"family_history":     {Kind: KindString, MaxLen: 1000},
	"language":           {Kind: KindEnum, Enum: []string{"ru", "uk", "en"}},
}

// Allowed сообщает, входит ли поле в белый список.
func Allowed(field string) bool {
	_, ok := Rules[field]
	return ok
}

// Violation — ошибка вызывающей стороны: запрещённое поле,
// значение вне диапазона или слишком длинный текст.
// Возникает строго до любой записи в хранилище.
type Violation struct {
	Field  string // Поле, к которому относится нарушение; пусто для user_id
	Reason string
}

func (v *Violation) Error() string {
	if v.Field == "" {
		return fmt.Sprintf("policy violation: %s", v.Reason)
	}
	return fmt.Sprintf("policy violation: field %q: %s", v.Field, v.Reason)
}

func violationf(field, format string, args ...any) *Violation {
	return &Violation{Field: field, Reason: fmt.Sprintf(format, args...)}
}
