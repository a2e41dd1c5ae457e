package search_test

import (
	"context"

	"github.com/Rrens/live-assist/internal/search"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of search.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Complete(ctx context.Context, q search.Query) (*search.Completion, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*search.Completion), args.Error(1)
}

// MockSuggester is a mock implementation of search.Suggester
type MockSuggester struct {
	mock.Mock
}

func (m *MockSuggester) Suggest(ctx context.Context, query string) ([]string, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockCache is a mock implementation of search.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (*search.Result, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*search.Result), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key string, r *search.Result) error {
	args := m.Called(ctx, key, r)
	return args.Error(0)
}
