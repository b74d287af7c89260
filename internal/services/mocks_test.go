package services

import (
	"context"

	"github.com/benmeehan/mip-agent/pkg/dm"
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/stretchr/testify/mock"
)

// MockProvisioner is a mock implementation of Provisioner
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) GetSourceProfile(ctx context.Context, baseURL string, hooks provisioning.Hooks) (*protocol.RPSResponse, error) {
	args := m.Called(ctx, baseURL, hooks)
	resp, _ := args.Get(0).(*protocol.RPSResponse)
	return resp, args.Error(1)
}

func (m *MockProvisioner) GetDeviceProfile(ctx context.Context, baseURL, targetPath string, hooks provisioning.Hooks) (*protocol.RPSResponse, error) {
	args := m.Called(ctx, baseURL, targetPath, hooks)
	resp, _ := args.Get(0).(*protocol.RPSResponse)
	return resp, args.Error(1)
}

func (m *MockProvisioner) GetLNSProfile(ctx context.Context, baseURL string, gateway bool, paths provisioning.LNSPaths, hooks provisioning.Hooks) (*protocol.LNSResponse, error) {
	args := m.Called(ctx, baseURL, gateway, paths, hooks)
	resp, _ := args.Get(0).(*protocol.LNSResponse)
	return resp, args.Error(1)
}

func (m *MockProvisioner) GetDMProfile(ctx context.Context, baseURL string, gateway bool, paths provisioning.DMPaths, hooks provisioning.Hooks) (*protocol.DMResponse, error) {
	args := m.Called(ctx, baseURL, gateway, paths, hooks)
	resp, _ := args.Get(0).(*protocol.DMResponse)
	return resp, args.Error(1)
}

// MockDMSession is a mock implementation of DMSession
type MockDMSession struct {
	mock.Mock
}

func (m *MockDMSession) Notify(ctx context.Context, event string) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockDMSession) UplinkProperty(ctx context.Context, payload []byte) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockDMSession) UplinkResponse(ctx context.Context, header protocol.DownlinkHeader, result protocol.DownlinkResult, payload []byte) error {
	args := m.Called(ctx, header, result, payload)
	return args.Error(0)
}

func (m *MockDMSession) UplinkHTTP(ctx context.Context, baseURL, token string, payload []byte) error {
	args := m.Called(ctx, baseURL, token, payload)
	return args.Error(0)
}

func (m *MockDMSession) Init(handlers dm.Handlers) error {
	args := m.Called(handlers)
	return args.Error(0)
}

func (m *MockDMSession) Deinit() {
	m.Called()
}

func (m *MockDMSession) Start(ctx context.Context, creds *protocol.DmCredentials, paths provisioning.DMPaths) error {
	args := m.Called(ctx, creds, paths)
	return args.Error(0)
}

func (m *MockDMSession) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDMSession) State() dm.State {
	args := m.Called()
	return args.Get(0).(dm.State)
}
