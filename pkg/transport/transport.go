// Package transport declares the HTTP and MQTT collaborators the protocol client
// depends on. Concrete adapters live in pkg/httpUtils and pkg/mqtt.
package transport

import (
	"context"
	"time"
)

// Request is a single HTTP exchange.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response carries the HTTP status and the raw response body.
type Response struct {
	StatusCode int
	Body       []byte
}

// DownloadRequest describes a file download with optional integrity checks.
// ExpectedSize < 0 disables the size check; empty MD5/CRC32 disable those checks.
type DownloadRequest struct {
	URL           string
	DestPath      string
	Timeout       time.Duration
	ExpectedSize  int64
	ExpectedMD5   string
	ExpectedCRC32 string
}

// HTTPTransport performs provisioning requests and file transfers.
type HTTPTransport interface {
	SendRequest(ctx context.Context, req Request) (*Response, error)
	DownloadFile(ctx context.Context, req DownloadRequest) error
	UploadFile(ctx context.Context, url, srcPath string, timeout time.Duration) error
}

// ConnectionStatus is relayed to the session whenever the broker connection changes.
type ConnectionStatus int

const (
	StatusConnecting   ConnectionStatus = 0
	StatusConnected    ConnectionStatus = 1
	StatusDisconnected ConnectionStatus = 2
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// BrokerParams is everything needed to open the device-management MQTT connection.
// Empty certificate paths mean the corresponding TLS material is not used.
type BrokerParams struct {
	Host       string
	Port       int
	Username   string
	Password   string
	ClientID   string
	CertPath   string
	KeyPath    string
	CACertPath string
	Topics     []string
}

// MessageHandler receives every inbound message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// StatusHandler receives connection status changes.
type StatusHandler func(status ConnectionStatus)

// MQTTTransport carries the device-management session.
type MQTTTransport interface {
	Start(ctx context.Context, params BrokerParams, onMessage MessageHandler, onStatus StatusHandler) error
	Stop() error
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte, timeout time.Duration) error
}

// TimestampProvider is implemented by transports that can supply a millisecond
// timestamp for message ids. It is optional.
type TimestampProvider interface {
	Timestamp() (string, error)
}
