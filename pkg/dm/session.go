// Package dm runs the device-management session: it dispatches cloud downlinks to
// registered handlers, replies to each of them and sends device uplinks.
package dm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

const (
	defaultPublishTimeout = 3 * time.Second
	defaultHTTPTimeout    = 60 * time.Second
)

var (
	ErrNotConnected    = errors.New("dm session is not connected")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotInitialized  = errors.New("dm session is not initialized")
	ErrAlreadyStarted  = errors.New("dm session already started")
	ErrMissingBroker   = errors.New("dm credentials carry no broker")
	ErrMissingSerial   = errors.New("serial number is empty")
)

// Option configures a Session.
type Option func(*Session)

// WithPublishTimeout bounds every MQTT publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithHTTPTimeout bounds the HTTP uplink.
func WithHTTPTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.httpTimeout = d
		}
	}
}

// Session is the device-management session of one device.
type Session struct {
	serial         string
	mqtt           transport.MQTTTransport
	http           transport.HTTPTransport
	publishTimeout time.Duration
	httpTimeout    time.Duration
	logger         zerolog.Logger

	ids *idGenerator

	mu          sync.RWMutex
	state       State
	initialized bool
	events      [eventCount]Registration
	onStatus    func(transport.ConnectionStatus)
	runCtx      context.Context
	cancel      context.CancelFunc
}

// New creates a session for serial. When mqttTransport also implements
// transport.TimestampProvider its clock is embedded in message ids.
func New(serial string, mqttTransport transport.MQTTTransport, httpTransport transport.HTTPTransport, logger zerolog.Logger, opts ...Option) *Session {
	clock, _ := mqttTransport.(transport.TimestampProvider)
	s := &Session{
		serial:         serial,
		mqtt:           mqttTransport,
		http:           httpTransport,
		publishTimeout: defaultPublishTimeout,
		httpTimeout:    defaultHTTPTimeout,
		logger:         logger,
		ids:            newIDGenerator(clock),
		runCtx:         context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init fills the event table from handlers.
func (s *Session) Init(handlers Handlers) error {
	if s.serial == "" {
		return ErrMissingSerial
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = handlers.table()
	s.onStatus = handlers.OnStatus
	s.initialized = true
	return nil
}

// Deinit clears the event table. Downlinks received afterwards are answered as
// unsupported.
func (s *Session) Deinit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = [eventCount]Registration{}
	s.onStatus = nil
	s.initialized = false
}

// State reports the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BrokerParams maps DM credentials to transport parameters. TLS paths are only set
// for material the credentials actually point at.
func (s *Session) BrokerParams(creds *protocol.DmCredentials, paths provisioning.DMPaths) transport.BrokerParams {
	params := transport.BrokerParams{
		Host:     creds.Addr,
		Port:     creds.Port,
		Username: creds.User,
		Password: creds.Pass,
		ClientID: s.serial,
		Topics:   []string{DownlinkTopic(s.serial)},
	}
	if creds.CertURL != "" {
		params.CertPath = paths.Cert
	}
	if creds.PrivateKeyURL != "" {
		params.KeyPath = paths.PrivateKey
	}
	if creds.CACertURL != "" {
		params.CACertPath = paths.CACert
	}
	return params
}

// Start connects to the DM broker described by creds and begins dispatching.
func (s *Session) Start(ctx context.Context, creds *protocol.DmCredentials, paths provisioning.DMPaths) error {
	if creds == nil || creds.Addr == "" {
		return ErrMissingBroker
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	params := s.BrokerParams(creds, paths)
	s.logger.Info().Str("broker", params.Host).Int("port", params.Port).Strs("topics", params.Topics).Msg("Starting DM session")

	if err := s.mqtt.Start(ctx, params, s.HandleMessage, s.relayStatus); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.cancel()
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("broker", params.Host).Msg("Failed to start DM session")
		return fmt.Errorf("failed to start mqtt transport: %w", err)
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	return nil
}

// Stop closes the broker connection. Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.mqtt.Stop(); err != nil {
		return fmt.Errorf("failed to stop mqtt transport: %w", err)
	}
	s.logger.Info().Msg("DM session stopped")
	return nil
}

func (s *Session) relayStatus(status transport.ConnectionStatus) {
	s.logger.Info().Stringer("status", status).Msg("DM connection status changed")

	s.mu.RLock()
	onStatus := s.onStatus
	s.mu.RUnlock()
	if onStatus != nil {
		onStatus(status)
	}
}

func (s *Session) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCtx
}
