package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docimage/internal/model"
	"docimage/internal/service"
)

type MockImageService struct {
	mock.Mock
}

func (m *MockImageService) Serve(ctx context.Context, req service.ImageRequest) (*service.Image, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Image), args.Error(1)
}

func (m *MockImageService) Debug(ctx context.Context, req service.ImageRequest) (*model.DebugInfo, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DebugInfo), args.Error(1)
}

func (m *MockImageService) CacheInfo(ctx context.Context, req service.ImageRequest) (model.CacheInfo, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.CacheInfo), args.Error(1)
}

func (m *MockImageService) Resolve(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockImageService) RebuildMapping(ctx context.Context) (model.CacheInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.CacheInfo), args.Error(1)
}
