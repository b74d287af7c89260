package mocks

import (
	"context"
	"time"

	"github.com/benmeehan/mip-agent/internal/models"
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockAgentState is a mock implementation of services.AgentState
type MockAgentState struct {
	mock.Mock
}

func (m *MockAgentState) IsAutopDone() bool {
	return m.Called().Bool(0)
}

func (m *MockAgentState) IsDMDone() bool {
	return m.Called().Bool(0)
}

func (m *MockAgentState) SetAutopDone(done bool) error {
	return m.Called(done).Error(0)
}

func (m *MockAgentState) SetDMDone(done bool) error {
	return m.Called(done).Error(0)
}

// MockCredentialCache is a mock implementation of services.CredentialCache
type MockCredentialCache struct {
	mock.Mock
}

func (m *MockCredentialCache) Save(raw []byte) error {
	return m.Called(raw).Error(0)
}

func (m *MockCredentialCache) Load() (*protocol.DmCredentials, error) {
	args := m.Called()
	creds, _ := args.Get(0).(*protocol.DmCredentials)
	return creds, args.Error(1)
}

func (m *MockCredentialCache) Clear() error {
	return m.Called().Error(0)
}

// MockProfileStore is a mock implementation of services.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) ApplyFile(path string) (int, error) {
	args := m.Called(path)
	return args.Int(0), args.Error(1)
}

func (m *MockProfileStore) Snapshot() models.Profile {
	return m.Called().Get(0).(models.Profile)
}

// MockPropertySource is a mock implementation of services.PropertySource
type MockPropertySource struct {
	mock.Mock
}

func (m *MockPropertySource) Collect(ctx context.Context) map[string]any {
	values, _ := m.Called(ctx).Get(0).(map[string]any)
	return values
}

// MockClock is a mock implementation of services.ClockSetter
type MockClock struct {
	mock.Mock
}

func (m *MockClock) SetTime(t time.Time) {
	m.Called(t)
}

func (m *MockClock) Reset() {
	m.Called()
}

// MockTokenStore is a mock implementation of jwt.TokenStoreInterface
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) SaveToken(token, endpoint string) error {
	return m.Called(token, endpoint).Error(0)
}

func (m *MockTokenStore) GetToken() (string, string) {
	args := m.Called()
	return args.String(0), args.String(1)
}

func (m *MockTokenStore) ExpiresAt() (time.Time, bool) {
	args := m.Called()
	return args.Get(0).(time.Time), args.Bool(1)
}

func (m *MockTokenStore) IsTokenValid() bool {
	return m.Called().Bool(0)
}
