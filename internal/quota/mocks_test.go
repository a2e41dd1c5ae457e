package quota_test

import (
	"context"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUsageRepository mocks the UsageRepository interface
type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.UsageState, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UsageState), args.Error(1)
}

func (m *MockUsageRepository) ResetMonthly(ctx context.Context, userID uuid.UUID, monthStart, now time.Time) (bool, error) {
	args := m.Called(ctx, userID, monthStart, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsageRepository) Increment(ctx context.Context, userID uuid.UUID, d domain.Dimension, amount, ceiling int64) (int64, bool, error) {
	args := m.Called(ctx, userID, d, amount, ceiling)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockUsageRepository) Decrement(ctx context.Context, userID uuid.UUID, d domain.Dimension, amount int64) error {
	args := m.Called(ctx, userID, d, amount)
	return args.Error(0)
}

func (m *MockUsageRepository) AppendHistory(ctx context.Context, record *domain.UsageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockUsageRepository) SetPlan(ctx context.Context, userID uuid.UUID, plan domain.Plan) error {
	args := m.Called(ctx, userID, plan)
	return args.Error(0)
}
