package mocks

import (
	"context"
	"time"

	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/stretchr/testify/mock"
)

// MockHTTPTransport is a mock implementation of transport.HTTPTransport
type MockHTTPTransport struct {
	mock.Mock
}

func (m *MockHTTPTransport) SendRequest(ctx context.Context, req transport.Request) (*transport.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*transport.Response)
	return resp, args.Error(1)
}

func (m *MockHTTPTransport) DownloadFile(ctx context.Context, req transport.DownloadRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockHTTPTransport) UploadFile(ctx context.Context, url, srcPath string, timeout time.Duration) error {
	args := m.Called(ctx, url, srcPath, timeout)
	return args.Error(0)
}

// MockMQTTTransport is a mock implementation of transport.MQTTTransport
type MockMQTTTransport struct {
	mock.Mock
}

func (m *MockMQTTTransport) Start(ctx context.Context, params transport.BrokerParams, onMessage transport.MessageHandler, onStatus transport.StatusHandler) error {
	args := m.Called(ctx, params, onMessage, onStatus)
	return args.Error(0)
}

func (m *MockMQTTTransport) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMQTTTransport) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTTransport) Publish(ctx context.Context, topic string, payload []byte, timeout time.Duration) error {
	args := m.Called(ctx, topic, payload, timeout)
	return args.Error(0)
}

// MockClockedMQTTTransport is a MockMQTTTransport that also provides timestamps
type MockClockedMQTTTransport struct {
	MockMQTTTransport
}

func (m *MockClockedMQTTTransport) Timestamp() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}
