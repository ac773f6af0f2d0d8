package policy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateField(t *testing.T) {
	tests := []struct {
		name        string
		field       string
		value       any
		expected    any
		expectError bool
		errorReason string
	}{
		{
			name:        "unknown field rejected",
			field:       "password_hash",
			value:       "x",
			expectError: true,
			errorReason: "not allowed for update",
		},
		{
			name:     "nil passes through",
			field:    "name",
			value:    nil,
			expected: nil,
		},
		{
			name:     "string trimmed",
			field:    "name",
			value:    "  Anna  ",
			expected: "Anna",
		},
		{
			name:        "string too long",
			field:       "name",
			value:       strings.Repeat("a", 101),
			expectError: true,
			errorReason: "too long",
		},
		{
			name:     "string at maximum length accepted",
			field:    "name",
			value:    strings.Repeat("a", 100),
			expected: strings.Repeat("a", 100),
		},
		{
			name:     "cyrillic string measured in characters",
			field:    "name",
			value:    strings.Repeat("я", 100),
			expected: strings.Repeat("я", 100),
		},
		{
			name:        "cyrillic string over the limit",
			field:       "name",
			value:       strings.Repeat("я", 101),
			expectError: true,
			errorReason: "too long",
		},
		{
			name:        "string expected but number given",
			field:       "gender",
			value:       42,
			expectError: true,
			errorReason: "must be a string",
		},
		{
			name:     "birth year lower bound",
			field:    "birth_year",
			value:    1900,
			expected: 1900,
		},
		{
			name:        "birth year below range",
			field:       "birth_year",
			value:       1899,
			expectError: true,
			errorReason: "must be between",
		},
		{
			name:        "birth year in the future",
			field:       "birth_year",
			value:       time.Now().Year() + 1,
			expectError: true,
			errorReason: "must be between",
		},
		{
			name:     "birth year from json float",
			field:    "birth_year",
			value:    float64(1985),
			expected: 1985,
		},
		{
			name:        "birth year fractional float",
			field:       "birth_year",
			value:       1985.5,
			expectError: true,
			errorReason: "must be an integer",
		},
		{
			name:     "height in range",
			field:    "height_cm",
			value:    175,
			expected: 175,
		},
		{
			name:        "height above range",
			field:       "height_cm",
			value:       301,
			expectError: true,
			errorReason: "must be between 50 and 300",
		},
		{
			name:     "weight accepts int",
			field:    "weight_kg",
			value:    70,
			expected: float64(70),
		},
		{
			name:        "weight below range",
			field:       "weight_kg",
			value:       19.9,
			expectError: true,
			errorReason: "must be between",
		},
		{
			name:     "language from enum",
			field:    "language",
			value:    "uk",
			expected: "uk",
		},
		{
			name:        "language outside enum",
			field:       "language",
			value:       "de",
			expectError: true,
			errorReason: "unsupported value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateField(tt.field, tt.value)

			if tt.expectError {
				require.Error(t, err)
				var violation *Violation
				require.True(t, errors.As(err, &violation))
				assert.Contains(t, violation.Reason, tt.errorReason)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name        string
		id          any
		expected    int64
		expectError bool
	}{
		{name: "int64", id: int64(123), expected: 123},
		{name: "int", id: 456, expected: 456},
		{name: "json float", id: float64(789), expected: 789},
		{name: "numeric string", id: "42", expected: 42},
		{name: "string with spaces", id: " 42 ", expected: 42},
		{name: "zero rejected", id: 0, expectError: true},
		{name: "negative rejected", id: int64(-1), expectError: true},
		{name: "fractional float rejected", id: 12.5, expectError: true},
		{name: "non-numeric string rejected", id: "abc", expectError: true},
		{name: "unsupported type rejected", id: []int{1}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUserID(tt.id)

			if tt.expectError {
				require.Error(t, err)
				var violation *Violation
				assert.True(t, errors.As(err, &violation))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestSuspiciousPatterns(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{name: "clean text", text: "penicillin allergy", expected: nil},
		{name: "sql keyword", text: "drop table users", expected: []string{"DROP"}},
		{name: "case insensitive", text: "SeLeCt something", expected: []string{"SELECT"}},
		{name: "comment marker", text: "dose -- twice a day", expected: []string{"--"}},
		{
			name:     "multiple signatures",
			text:     "'; DROP TABLE users; --",
			expected: []string{";", "--", "DROP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SuspiciousPatterns(tt.text))
		})
	}
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed("name"))
	assert.True(t, Allowed("language"))
	assert.False(t, Allowed("user_id"))
	assert.False(t, Allowed("created_at"))
	assert.False(t, Allowed("name; DROP TABLE users"))
}
