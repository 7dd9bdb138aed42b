package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockReaderAt implements io.ReaderAt over archive bytes for testing
// across packages.
type MockReaderAt struct {
	mock.Mock
}

func (m *MockReaderAt) ReadAt(p []byte, off int64) (int, error) {
	args := m.Called(p, off)

	// Handle function return types so tests can fill p
	if fn, ok := args.Get(0).(func([]byte, int64) int); ok {
		return fn(p, off), args.Error(1)
	}

	if args.Get(0) == nil {
		return 0, args.Error(1)
	}
	return args.Int(0), args.Error(1)
}
