package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of the Engine interface for testing.
type MockEngine struct {
	mock.Mock
}

var _ Engine = (*MockEngine)(nil)

// Initialize is the mock implementation of the Initialize method.
func (m *MockEngine) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}

// Save is the mock implementation of the Save method.
func (m *MockEngine) Save(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0) //nolint:wrapcheck
}

// Exists is the mock implementation of the Exists method.
func (m *MockEngine) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1) //nolint:wrapcheck
}

// Read is the mock implementation of the Read method.
func (m *MockEngine) Read(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1) //nolint:wrapcheck
}

// Delete is the mock implementation of the Delete method.
func (m *MockEngine) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0) //nolint:wrapcheck
}

// List is the mock implementation of the List method.
func (m *MockEngine) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1) //nolint:wrapcheck
}

// CleanupIncomplete is the mock implementation of the CleanupIncomplete method.
func (m *MockEngine) CleanupIncomplete(ctx context.Context, prefix string) error {
	args := m.Called(ctx, prefix)
	return args.Error(0) //nolint:wrapcheck
}

// Name is the mock implementation of the Name method.
func (m *MockEngine) Name() string {
	return "mock"
}
