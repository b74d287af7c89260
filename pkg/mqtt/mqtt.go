package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/mip-agent/pkg/file"
	"github.com/benmeehan/mip-agent/pkg/signing"
	"github.com/benmeehan/mip-agent/pkg/transport"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultQoS            = 1
	disconnectQuiesce     = 250
)

var (
	ErrNotConnected   = errors.New("mqtt client is not connected")
	ErrPublishTimeout = errors.New("mqtt publish timed out")
	ErrConnectTimeout = errors.New("mqtt connect timed out")
)

// MQTTClient defines the subset of the paho client the service uses.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// ClientFactory builds a client from fully populated options.
type ClientFactory func(opts *mqtt.ClientOptions) MQTTClient

func defaultClientFactory(opts *mqtt.ClientOptions) MQTTClient {
	return mqtt.NewClient(opts)
}

// MqttService is the paho-backed device-management transport.
type MqttService struct {
	fileClient     file.FileOperations
	newClient      ClientFactory
	connectTimeout time.Duration
	qos            byte
	timestamp      func() (string, error)
	logger         zerolog.Logger

	mu     sync.Mutex
	client MQTTClient
}

// Option configures an MqttService.
type Option func(*MqttService)

// WithClientFactory replaces the paho client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(s *MqttService) {
		s.newClient = f
	}
}

// WithConnectTimeout bounds the initial connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *MqttService) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithQoS sets the QoS used for subscriptions and publishes.
func WithQoS(qos byte) Option {
	return func(s *MqttService) {
		if qos <= 2 {
			s.qos = qos
		}
	}
}

// WithTimestampFunc replaces the source of message-id timestamps.
func WithTimestampFunc(f func() (string, error)) Option {
	return func(s *MqttService) {
		if f != nil {
			s.timestamp = f
		}
	}
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations, logger zerolog.Logger, opts ...Option) *MqttService {
	s := &MqttService{
		fileClient:     fileClient,
		newClient:      defaultClientFactory,
		connectTimeout: defaultConnectTimeout,
		qos:            defaultQoS,
		timestamp:      signing.MillisTimestamp,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ transport.MQTTTransport     = (*MqttService)(nil)
	_ transport.TimestampProvider = (*MqttService)(nil)
)

var knownSchemes = []string{"mqtt://", "mqtts://", "ssl://", "tls://", "tcp://", "ws://", "wss://"}

// BrokerURL derives the broker address. A host that already carries a scheme is used
// as is; otherwise mqtts is chosen when a CA certificate is configured.
func BrokerURL(params transport.BrokerParams) string {
	host := params.Host
	lower := strings.ToLower(host)
	for _, scheme := range knownSchemes {
		if strings.HasPrefix(lower, scheme) {
			return withPort(host, len(scheme), params.Port)
		}
	}

	scheme := "mqtt://"
	if params.CACertPath != "" {
		scheme = "mqtts://"
	}
	return withPort(scheme+host, len(scheme), params.Port)
}

func withPort(u string, hostStart, port int) string {
	if port <= 0 {
		return u
	}
	hostPart := u[hostStart:]
	if i := strings.IndexByte(hostPart, '/'); i >= 0 {
		hostPart = hostPart[:i]
	}
	if strings.HasPrefix(hostPart, "[") {
		if strings.Contains(hostPart, "]:") {
			return u
		}
	} else if strings.Contains(hostPart, ":") {
		return u
	}
	end := hostStart + len(hostPart)
	return fmt.Sprintf("%s:%d%s", u[:end], port, u[end:])
}

func isSecure(brokerURL string) bool {
	lower := strings.ToLower(brokerURL)
	return strings.HasPrefix(lower, "mqtts://") || strings.HasPrefix(lower, "ssl://") ||
		strings.HasPrefix(lower, "tls://") || strings.HasPrefix(lower, "wss://")
}

// brokerHost returns the host name or IP of brokerURL, without port or brackets.
func brokerHost(brokerURL string) string {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// tlsConfig verifies the broker against the configured CA and serverName. An IP
// address must appear among the certificate's IP SANs.
func (s *MqttService) tlsConfig(params transport.BrokerParams, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: serverName}

	if params.CACertPath != "" {
		caCert, err := s.fileClient.ReadFileRaw(params.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if params.CertPath != "" && params.KeyPath != "" {
		certPEM, err := s.fileClient.ReadFileRaw(params.CertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read client certificate: %w", err)
		}
		keyPEM, err := s.fileClient.ReadFileRaw(params.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read client key: %w", err)
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// ClientOptions builds the paho options for params. Handlers are wired by Start.
func (s *MqttService) ClientOptions(params transport.BrokerParams) (*mqtt.ClientOptions, error) {
	broker := BrokerURL(params)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(params.ClientID)
	if params.Username != "" && params.Password != "" {
		opts.SetUsername(params.Username)
		opts.SetPassword(params.Password)
	}
	if isSecure(broker) {
		tlsConfig, err := s.tlsConfig(params, brokerHost(broker))
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	// handlers publish replies from the message callback
	opts.SetOrderMatters(false)
	return opts, nil
}

// Start connects to the broker and subscribes params.Topics on every (re)connect.
func (s *MqttService) Start(ctx context.Context, params transport.BrokerParams, onMessage transport.MessageHandler, onStatus transport.StatusHandler) error {
	opts, err := s.ClientOptions(params)
	if err != nil {
		return err
	}

	if onStatus == nil {
		onStatus = func(transport.ConnectionStatus) {}
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if onMessage != nil {
			onMessage(msg.Topic(), msg.Payload())
		}
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.subscribe(c, params.Topics, handler)
		onStatus(transport.StatusConnected)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost")
		onStatus(transport.StatusDisconnected)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		onStatus(transport.StatusConnecting)
	})

	client := s.newClient(opts)

	s.mu.Lock()
	if s.client != nil {
		s.client.Disconnect(disconnectQuiesce)
	}
	s.client = client
	s.mu.Unlock()

	onStatus(transport.StatusConnecting)
	s.logger.Info().Str("broker", BrokerURL(params)).Str("client_id", params.ClientID).Msg("Connecting to MQTT broker")

	if err := waitToken(ctx, client.Connect(), s.connectTimeout, ErrConnectTimeout); err != nil {
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
		client.Disconnect(0)
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (s *MqttService) subscribe(c MQTTClient, topics []string, handler mqtt.MessageHandler) {
	for _, topic := range topics {
		token := c.Subscribe(topic, s.qos, handler)
		if err := waitToken(context.Background(), token, s.connectTimeout, ErrConnectTimeout); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe")
			continue
		}
		s.logger.Info().Str("topic", topic).Msg("Subscribed")
	}
}

// Stop disconnects the client. Stopping a stopped service is a no-op.
func (s *MqttService) Stop() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Disconnect(disconnectQuiesce)
	s.logger.Info().Msg("MQTT client disconnected")
	return nil
}

// IsConnected reports whether the connection is currently usable.
func (s *MqttService) IsConnected() bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client != nil && client.IsConnectionOpen()
}

// Publish sends payload to topic and waits up to timeout for the broker ack.
func (s *MqttService) Publish(ctx context.Context, topic string, payload []byte, timeout time.Duration) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(topic, s.qos, false, payload)
	if err := waitToken(ctx, token, timeout, ErrPublishTimeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	s.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published")
	return nil
}

// Timestamp returns the current time as 13-digit Unix milliseconds.
func (s *MqttService) Timestamp() (string, error) {
	return s.timestamp()
}

// waitToken waits for token until it completes, ctx ends or timeout elapses. A
// non-positive timeout waits without limit.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration, timeoutErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return timeoutErr
	}
}
