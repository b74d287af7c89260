package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockToken is a mock implementation of the mqtt.Token interface
type MockToken struct {
	mock.Mock
}

// NewCompletedToken returns a token that is already done with err.
func NewCompletedToken(err error) *MockToken {
	done := make(chan struct{})
	close(done)

	t := &MockToken{}
	t.On("Wait").Return(true).Maybe()
	t.On("WaitTimeout", mock.Anything).Return(true).Maybe()
	t.On("Done").Return((<-chan struct{})(done)).Maybe()
	t.On("Error").Return(err).Maybe()
	return t
}

// NewPendingToken returns a token that never completes.
func NewPendingToken() *MockToken {
	t := &MockToken{}
	t.On("WaitTimeout", mock.Anything).Return(false).Maybe()
	t.On("Done").Return((<-chan struct{})(make(chan struct{}))).Maybe()
	t.On("Error").Return(nil).Maybe()
	return t
}

// Error returns the error associated with the token
func (m *MockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

// Wait waits for the token to complete
func (m *MockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

// Done channel returns the done channel for the token
func (m *MockToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

// WaitTimeout waits for the token to complete or timeout
func (m *MockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}
