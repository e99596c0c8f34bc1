package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docimage/internal/model"
)

type MockRequestLogRepository struct {
	mock.Mock
}

func (m *MockRequestLogRepository) Insert(ctx context.Context, e model.LogEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockRequestLogRepository) Purge(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
