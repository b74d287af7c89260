package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockFileOperations is a mock implementation of the FileOperations interface
type MockFileOperations struct {
	mock.Mock
}

func (m *MockFileOperations) Exists(path string) (bool, error) {
	args := m.Called(path)
	return args.Bool(0), args.Error(1)
}

func (m *MockFileOperations) ReadFileRaw(path string) ([]byte, error) {
	args := m.Called(path)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockFileOperations) ReadJsonFile(path string, v any) error {
	args := m.Called(path, v)
	return args.Error(0)
}

func (m *MockFileOperations) ReadYamlFile(path string, v any) error {
	args := m.Called(path, v)
	return args.Error(0)
}

func (m *MockFileOperations) WriteFileRaw(path string, data []byte) error {
	args := m.Called(path, data)
	return args.Error(0)
}

func (m *MockFileOperations) WriteJsonFile(path string, data any) error {
	args := m.Called(path, data)
	return args.Error(0)
}

func (m *MockFileOperations) RemoveFile(path string) error {
	args := m.Called(path)
	return args.Error(0)
}
