// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tsenderov/droidprobe/api/schemas"
)

// -- Device Mock --

// MockDevice mocks the schemas.Device interface.
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) ScreenSize(ctx context.Context) (int, int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockDevice) CaptureFrame(ctx context.Context) (*schemas.Frame, error) {
	args := m.Called(ctx)
	frame, _ := args.Get(0).(*schemas.Frame)
	return frame, args.Error(1)
}

func (m *MockDevice) Tap(ctx context.Context, x, y int) error {
	args := m.Called(ctx, x, y)
	return args.Error(0)
}

func (m *MockDevice) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	args := m.Called(ctx, x1, y1, x2, y2, durationMs)
	return args.Error(0)
}

func (m *MockDevice) TypeText(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func (m *MockDevice) PressKey(ctx context.Context, keycode int) error {
	args := m.Called(ctx, keycode)
	return args.Error(0)
}

func (m *MockDevice) Launch(ctx context.Context, appID string) error {
	args := m.Called(ctx, appID)
	return args.Error(0)
}

func (m *MockDevice) GoHome(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// -- Result Store Mock --

// MockResultStore mocks the schemas.ResultStore interface.
type MockResultStore struct {
	mock.Mock
}

func (m *MockResultStore) BeginRun(testID string) (string, error) {
	args := m.Called(testID)
	return args.String(0), args.Error(1)
}

func (m *MockResultStore) SaveResult(runID string, result *schemas.TestResult) error {
	args := m.Called(runID, result)
	return args.Error(0)
}

func (m *MockResultStore) SaveFrame(runID, name string, frame *schemas.Frame) error {
	args := m.Called(runID, name, frame)
	return args.Error(0)
}
