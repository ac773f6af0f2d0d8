package quota

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
	"github.com/medassist/user-state/internal/storage"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetLimits(ctx context.Context, userID int64) (*models.Limits, bool, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Limits), args.Bool(1), args.Error(2)
}

func (m *MockRepository) SetLimits(ctx context.Context, userID int64, documents, queries int) error {
	args := m.Called(ctx, userID, documents, queries)
	return args.Error(0)
}

func (m *MockRepository) ResetLimits(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockRepository) BackfillMissing(ctx context.Context, userIDs []int64) (int, error) {
	args := m.Called(ctx, userIDs)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Spend(ctx context.Context, userID int64, documents, queries int) (storage.SpendResult, error) {
	args := m.Called(ctx, userID, documents, queries)
	return args.Get(0).(storage.SpendResult), args.Error(1)
}

func (m *MockRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockRepository) ListUsersWithLimits(ctx context.Context) ([]*models.UserOverview, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.UserOverview), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestService_GetLimits(t *testing.T) {
	expected := &models.Limits{
		UserID:           1,
		DocumentsLeft:    5,
		PremiumQueries:   100,
		SubscriptionType: "basic_sub",
	}

	repo := new(MockRepository)
	service := New(repo, newNoopLogger())

	repo.On("GetLimits", mock.Anything, int64(1)).Return(expected, true, nil).Once()
	repo.On("GetLimits", mock.Anything, int64(404)).Return(nil, false, nil).Once()

	limits, found, err := service.GetLimits(context.Background(), int64(1))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, expected, limits)

	limits, found, err = service.GetLimits(context.Background(), int64(404))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, limits)

	repo.AssertExpectations(t)
}

func TestService_SetLimits(t *testing.T) {
	tests := []struct {
		name            string
		userID          any
		documents       int
		queries         int
		setupMocks      func(*MockRepository)
		expectViolation bool
	}{
		{
			name:      "valid values delegated to repository",
			userID:    int64(1),
			documents: 10,
			queries:   200,
			setupMocks: func(r *MockRepository) {
				r.On("SetLimits", mock.Anything, int64(1), 10, 200).Return(nil).Once()
			},
		},
		{
			name:      "zero values are allowed",
			userID:    int64(1),
			documents: 0,
			queries:   0,
			setupMocks: func(r *MockRepository) {
				r.On("SetLimits", mock.Anything, int64(1), 0, 0).Return(nil).Once()
			},
		},
		{
			name:            "negative documents rejected before repository",
			userID:          int64(1),
			documents:       -1,
			queries:         10,
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
		{
			name:            "negative queries rejected before repository",
			userID:          int64(1),
			documents:       1,
			queries:         -10,
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
		{
			name:            "invalid user id rejected",
			userID:          "not-a-number",
			documents:       1,
			queries:         1,
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			service := New(repo, newNoopLogger())

			tt.setupMocks(repo)

			err := service.SetLimits(context.Background(), tt.userID, tt.documents, tt.queries)

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

func TestService_ResetLimits(t *testing.T) {
	repo := new(MockRepository)
	service := New(repo, newNoopLogger())

	repo.On("ResetLimits", mock.Anything, int64(1)).Return(nil).Once()

	require.NoError(t, service.ResetLimits(context.Background(), int64(1)))

	repo.AssertExpectations(t)
}

func TestService_BackfillMissing(t *testing.T) {
	tests := []struct {
		name            string
		setupMocks      func(*MockRepository)
		expectedCreated int
		expectedError   bool
	}{
		{
			name: "creates rows for users without limits",
			setupMocks: func(r *MockRepository) {
				r.On("ListUserIDs", mock.Anything).Return([]int64{1, 2, 3}, nil).Once()
				r.On("BackfillMissing", mock.Anything, []int64{1, 2, 3}).Return(2, nil).Once()
			},
			expectedCreated: 2,
		},
		{
			name: "second run creates nothing",
			setupMocks: func(r *MockRepository) {
				r.On("ListUserIDs", mock.Anything).Return([]int64{1, 2, 3}, nil).Once()
				r.On("BackfillMissing", mock.Anything, []int64{1, 2, 3}).Return(0, nil).Once()
			},
			expectedCreated: 0,
		},
		{
			name: "listing error propagated",
			setupMocks: func(r *MockRepository) {
				r.On("ListUserIDs", mock.Anything).Return(nil, errors.New("db error")).Once()
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			service := New(repo, newNoopLogger())

			tt.setupMocks(repo)

			created, err := service.BackfillMissing(context.Background())

			if tt.expectedError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedCreated, created)
			}

			repo.AssertExpectations(t)
		})
	}
}

func TestService_Spend(t *testing.T) {
	tests := []struct {
		name            string
		documents       int
		queries         int
		setupMocks      func(*MockRepository)
		expectedResult  storage.SpendResult
		expectViolation bool
	}{
		{
			name:      "successful spend",
			documents: 1,
			queries:   0,
			setupMocks: func(r *MockRepository) {
				r.On("Spend", mock.Anything, int64(1), 1, 0).
					Return(storage.SpendResult{OK: true, RemainingDocuments: 4, RemainingQueries: 100}, nil).Once()
			},
			expectedResult: storage.SpendResult{OK: true, RemainingDocuments: 4, RemainingQueries: 100},
		},
		{
			name:      "insufficient limits refused",
			documents: 10,
			queries:   0,
			setupMocks: func(r *MockRepository) {
				r.On("Spend", mock.Anything, int64(1), 10, 0).
					Return(storage.SpendResult{OK: false, Reason: "insufficient documents"}, nil).Once()
			},
			expectedResult: storage.SpendResult{OK: false, Reason: "insufficient documents"},
		},
		{
			name:            "negative amounts rejected before repository",
			documents:       -1,
			queries:         0,
			setupMocks:      func(*MockRepository) {},
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			service := New(repo, newNoopLogger())

			tt.setupMocks(repo)

			result, err := service.Spend(context.Background(), int64(1), tt.documents, tt.queries)

			if tt.expectViolation {
				require.Error(t, err)
				var violation *policy.Violation
				assert.True(t, errors.As(err, &violation))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedResult, result)
			}

			repo.AssertExpectations(t)
		})
	}
}
