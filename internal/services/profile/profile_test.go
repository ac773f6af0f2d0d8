package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medassist/user-state/internal/models"
	"github.com/medassist/user-state/internal/policy"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) UpdateField(ctx context.Context, userID int64, field string, value any) (bool, error) {
	args := m.Called(ctx, userID, field, value)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) BulkUpdate(ctx context.Context, userID int64, values map[string]any) (bool, error) {
	args := m.Called(ctx, userID, values)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) SaveUser(ctx context.Context, userID int64, name string, birthYear *int) error {
	args := m.Called(ctx, userID, name, birthYear)
	return args.Error(0)
}

func (m *MockRepository) GetUser(ctx context.Context, userID int64) (*models.User, bool, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.User), args.Bool(1), args.Error(2)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestService_UpdateField(t *testing.T) {
	tests := []struct {
		name            string
		userID          any
		field           string
		value           any
		setupMocks      func(*MockRepository)
		expectedUpdated bool
		expectViolation bool
	}{
		{
			name:   "valid field written",
			userID: int64(1),
			field:  "name",
			value:  "  Anna ",
			setupMocks: func(r *MockRepository) {
				r.On("UpdateField", mock.Anything, int64(1), "name", "Anna").Return(true, nil).Once()
			},
			expectedUpdated: true,
		},
		{
			name:            "field outside whitelist never reaches repository",
			userID:          int64(1),
			field:           "password_hash",
			value:           "x",
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
		{
			name:            "out of range value never reaches repository",
			userID:          int64(1),
			field:           "height_cm",
			value:           500,
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
		{
			name:            "invalid user id never reaches repository",
			userID:          "abc",
			field:           "name",
			value:           "Anna",
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
		{
			name:   "unknown user returns false without error",
			userID: int64(404),
			field:  "name",
			value:  "Anna",
			setupMocks: func(r *MockRepository) {
				r.On("UpdateField", mock.Anything, int64(404), "name", "Anna").Return(false, nil).Once()
			},
			expectedUpdated: false,
		},
		{
			name:   "suspicious text is written anyway",
			userID: int64(1),
			field:  "allergies",
			value:  "penicillin; DROP TABLE users",
			setupMocks: func(r *MockRepository) {
				r.On("UpdateField", mock.Anything, int64(1), "allergies", "penicillin; DROP TABLE users").
					Return(true, nil).Once()
			},
			expectedUpdated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			service := New(repo, newNoopLogger())

			tt.setupMocks(repo)

			updated, err := service.UpdateField(context.Background(), tt.userID, tt.field, tt.value)

			if tt.expectViolation {
				require.Error(t, err)
				var violation *policy.Violation
				assert.True(t, errors.As(err, &violation))
				assert.False(t, updated)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedUpdated, updated)
			}

			repo.AssertExpectations(t)
		})
	}
}

func TestService_BulkUpdate(t *testing.T) {
	tests := []struct {
		name            string
		updates         map[string]any
		setupMocks      func(*MockRepository)
		expectedUpdated bool
		expectViolation bool
	}{
		{
			name: "all fields valid - single repository call",
			updates: map[string]any{
				"name":      " Anna ",
				"height_cm": float64(170),
				"language":  "en",
			},
			setupMocks: func(r *MockRepository) {
				r.On("BulkUpdate", mock.Anything, int64(1), map[string]any{
					"name":      "Anna",
					"height_cm": 170,
					"language":  "en",
				}).Return(true, nil).Once()
			},
			expectedUpdated: true,
		},
		{
			name: "one invalid pair rejects the whole batch",
			updates: map[string]any{
				"name":      "Anna",
				"height_cm": 10,
			},
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
		{
			name: "one forbidden field rejects the whole batch",
			updates: map[string]any{
				"name": "Anna",
				"role": "admin",
			},
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
		{
			name:    "empty map is a no-op for an existing user",
			updates: map[string]any{},
			setupMocks: func(r *MockRepository) {
				r.On("BulkUpdate", mock.Anything, int64(1), map[string]any{}).
					Return(true, nil).Once()
			},
			expectedUpdated: true,
		},
		{
			name:    "empty map still reports unknown user",
			updates: map[string]any{},
			setupMocks: func(r *MockRepository) {
				r.On("BulkUpdate", mock.Anything, int64(1), map[string]any{}).
					Return(false, nil).Once()
			},
			expectedUpdated: false,
		},
		{
			name: "unknown user returns false without error",
			updates: map[string]any{
				"name": "Anna",
			},
			setupMocks: func(r *MockRepository) {
				r.On("BulkUpdate", mock.Anything, int64(1), map[string]any{"name": "Anna"}).
					Return(false, nil).Once()
			},
			expectedUpdated: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			service := New(repo, newNoopLogger())

			tt.setupMocks(repo)

			updated, err := service.BulkUpdate(context.Background(), int64(1), tt.updates)

			if tt.expectViolation {
				require.Error(t, err)
				var violation *policy.Violation
				assert.True(t, errors.As(err, &violation))
				assert.False(t, updated)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedUpdated, updated)
			}

			repo.AssertExpectations(t)
		})
	}
}

func TestService_SaveUser(t *testing.T) {
	birthYear := 1985

	tests := []struct {
		name            string
		userName        string
		birthYear       *int
		setupMocks      func(*MockRepository)
		expectViolation bool
	}{
		{
			name:      "valid user saved",
			userName:  " Anna ",
			birthYear: &birthYear,
			setupMocks: func(r *MockRepository) {
				r.On("SaveUser", mock.Anything, int64(1), "Anna", &birthYear).Return(nil).Once()
			},
		},
		{
			name:      "without birth year",
			userName:  "Anna",
			birthYear: nil,
			setupMocks: func(r *MockRepository) {
				r.On("SaveUser", mock.Anything, int64(1), "Anna", (*int)(nil)).Return(nil).Once()
			},
		},
		{
			name:            "invalid birth year rejected before save",
			userName:        "Anna",
			birthYear:       func() *int { y := 1800; return &y }(),
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			service := New(repo, newNoopLogger())

			tt.setupMocks(repo)

			err := service.SaveUser(context.Background(), int64(1), tt.userName, tt.birthYear)

			if tt.expectViolation {
				require.Error(t, err)
				var violation *policy.Violation
				assert.True(t, errors.As(err, &violation))
			} else {
				require.NoError(t, err)
			}

			repo.AssertExpectations(t)
		})
	}
}

func TestService_GetUser(t *testing.T) {
	name := "Anna"
	expected := &models.User{UserID: 1, Name: &name, Language: "ru"}

	repo := new(MockRepository)
	service := New(repo, newNoopLogger())

	repo.On("GetUser", mock.Anything, int64(1)).Return(expected, true, nil).Once()
	repo.On("GetUser", mock.Anything, int64(404)).Return(nil, false, nil).Once()

	user, found, err := service.GetUser(context.Background(), int64(1))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, expected, user)

	user, found, err = service.GetUser(context.Background(), int64(404))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, user)

	repo.AssertExpectations(t)
}
