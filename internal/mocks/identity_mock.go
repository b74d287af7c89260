package mocks

import (
	"github.com/benmeehan/mip-agent/pkg/identity"
	"github.com/stretchr/testify/mock"
)

// MockDeviceInfo is a mock implementation of the DeviceInfoInterface
type MockDeviceInfo struct {
	mock.Mock
}

func (m *MockDeviceInfo) LoadDeviceInfo() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDeviceInfo) GetSerialNumber() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockDeviceInfo) GetDeviceIdentity() identity.Identity {
	args := m.Called()
	return args.Get(0).(identity.Identity)
}

func (m *MockDeviceInfo) SaveFirmwareVersion(version string) error {
	args := m.Called(version)
	return args.Error(0)
}
