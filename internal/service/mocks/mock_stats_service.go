package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docimage/internal/model"
	"docimage/internal/service"
)

type MockStatsService struct {
	mock.Mock
}

func (m *MockStatsService) Stats(ctx context.Context, q service.StatsQuery) (*service.StatsResult, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.StatsResult), args.Error(1)
}

func (m *MockStatsService) Counts(ctx context.Context) (*model.CounterState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CounterState), args.Error(1)
}

func (m *MockStatsService) Reset(ctx context.Context) service.ResetResult {
	args := m.Called(ctx)
	return args.Get(0).(service.ResetResult)
}
