package policy

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// suspiciousPatterns — сигнатуры, присутствие которых в тексте поля
// фиксируется как предупреждение. Запись при этом не отклоняется:
// гарантию от инъекций даёт параметризованное выполнение запросов,
// а не этот список.
var suspiciousPatterns = []string{
	";", "--", "/*", "*/", "DROP", "DELETE", "INSERT", "UPDATE",
	"CREATE", "ALTER", "EXEC", "UNION", "SELECT",
}

// SuspiciousPatterns возвращает список сигнатур, найденных в тексте.
// Пустой результат означает, что текст чистый.
func SuspiciousPatterns(text string) []string {
	upper := strings.ToUpper(text)
	var found []string
	for _, p := range suspiciousPatterns {
		if strings.Contains(upper, p) {
			found = append(found, p)
		}
	}
	return found
}

// ValidateField проверяет пару (поле, значение) по таблице Rules и
// возвращает нормализованное значение: текст обрезается от пробелов,
// числа приводятся к int или float64. nil проходит без изменений —
// все поля анкеты опциональны.
func ValidateField(field string, value any) (any, error) {
	rule, ok := Rules[field]
	if !ok {
		return nil, violationf(field, "not allowed for update")
	}
	if value == nil {
		return nil, nil
	}

	switch rule.Kind {
	case KindInt:
		n, ok := toInt(value)
		if !ok {
			return nil, violationf(field, "must be an integer")
		}
		min, max := int(rule.Min), int(rule.Max)
		if field == "birth_year" {
			max = time.Now().Year()
		}
		if n < min || n > max {
			return nil, violationf(field, "must be between %d and %d", min, max)
		}
		return n, nil

	case KindFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, violationf(field, "must be a number")
		}
		if f < rule.Min || f > rule.Max {
			return nil, violationf(field, "must be between %g and %g", rule.Min, rule.Max)
		}
		return f, nil

	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return nil, violationf(field, "must be a string")
		}
		s = strings.TrimSpace(s)
		for _, allowed := range rule.Enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, violationf(field, "unsupported value %q", s)

	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, violationf(field, "must be a string")
		}
		s = strings.TrimSpace(s)
		maxLen := rule.MaxLen
		if maxLen == 0 {
			maxLen = DefaultMaxLen
		}
		// Лимит измеряется в символах, не в байтах: кириллица
		// занимает два байта на символ.
		if utf8.RuneCountInString(s) > maxLen {
			return nil, violationf(field, "too long (maximum %d characters)", maxLen)
		}
		return s, nil
	}

	return nil, violationf(field, "unknown rule kind")
}

// ValidateUserID приводит идентификатор пользователя к int64 и
// отклоняет нечисловые и неположительные значения.
func ValidateUserID(id any) (int64, error) {
	switch v := id.(type) {
	case int64:
		return checkPositive(v)
	case int:
		return checkPositive(int64(v))
	case float64:
		if v != math.Trunc(v) {
			return 0, violationf("", "user_id must be an integer")
		}
		return checkPositive(int64(v))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, violationf("", "user_id must be a number")
		}
		return checkPositive(n)
	default:
		return 0, violationf("", "user_id must be a number")
	}
}

func checkPositive(n int64) (int64, error) {
	if n <= 0 {
		return 0, violationf("", "user_id must be positive")
	}
	return n, nil
}

// toInt принимает int, int64 и целочисленные float64 — последние
// приходят из JSON, где все числа десериализуются во float64.
func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
