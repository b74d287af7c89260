package mqtt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/benmeehan/mip-agent/internal/mocks"
	"github.com/benmeehan/mip-agent/pkg/transport"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(client *mocks.MockMQTTClient, captured **mqtt.ClientOptions) *MqttService {
	return NewMqttService(&mocks.MockFileOperations{}, zerolog.Nop(),
		WithConnectTimeout(time.Second),
		WithClientFactory(func(opts *mqtt.ClientOptions) MQTTClient {
			if captured != nil {
				*captured = opts
			}
			return client
		}))
}

// TestBrokerURL tests scheme selection and port handling.
func TestBrokerURL(t *testing.T) {
	cases := []struct {
		params transport.BrokerParams
		want   string
	}{
		{transport.BrokerParams{Host: "dm.example.com", Port: 1883}, "mqtt://dm.example.com:1883"},
		{transport.BrokerParams{Host: "dm.example.com", Port: 8883, CACertPath: "/ca.pem"}, "mqtts://dm.example.com:8883"},
		{transport.BrokerParams{Host: "mqtts://dm.example.com", Port: 8883}, "mqtts://dm.example.com:8883"},
		{transport.BrokerParams{Host: "wss://dm.example.com/mqtt", Port: 443}, "wss://dm.example.com:443/mqtt"},
		{transport.BrokerParams{Host: "tcp://10.0.0.1:1884", Port: 1883}, "tcp://10.0.0.1:1884"},
		{transport.BrokerParams{Host: "[fe80::1]", Port: 1883}, "mqtt://[fe80::1]:1883"},
		{transport.BrokerParams{Host: "dm.example.com"}, "mqtt://dm.example.com"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BrokerURL(tc.params), tc.params.Host)
	}
}

// TestMqttService_ClientOptions tests credentials and TLS option wiring.
func TestMqttService_ClientOptions(t *testing.T) {
	s := newTestService(&mocks.MockMQTTClient{}, nil)

	opts, err := s.ClientOptions(transport.BrokerParams{Host: "dm", Port: 1883, ClientID: "SN001", Username: "u", Password: "p"})
	require.NoError(t, err)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "mqtt://dm:1883", opts.Servers[0].String())
	assert.Equal(t, "SN001", opts.ClientID)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.True(t, opts.AutoReconnect)
	assert.False(t, opts.Order)

	opts, err = s.ClientOptions(transport.BrokerParams{Host: "dm", Port: 1883, Username: "u"})
	require.NoError(t, err)
	assert.Empty(t, opts.Username)
}

// TestMqttService_ClientOptions_MissingCA tests that an unreadable CA fails option building.
func TestMqttService_ClientOptions_MissingCA(t *testing.T) {
	fileOps := &mocks.MockFileOperations{}
	fileOps.On("ReadFileRaw", "/ca.pem").Return(nil, errors.New("no such file"))
	s := NewMqttService(fileOps, zerolog.Nop())

	_, err := s.ClientOptions(transport.BrokerParams{Host: "dm", Port: 8883, CACertPath: "/ca.pem"})

	assert.Error(t, err)
	fileOps.AssertExpectations(t)
}

// testCA returns a CA certificate in PEM form and its signing key.
func testCA(t *testing.T) ([]byte, *x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), ca, key
}

// testLeaf issues a server certificate for dnsName and ip signed by ca.
func testLeaf(t *testing.T, ca *x509.Certificate, caKey *ecdsa.PrivateKey, dnsName string, ip net.IP) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: dnsName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{dnsName},
	}
	if ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return leaf
}

// TestMqttService_ClientOptions_TLSHostname tests that the broker certificate must match the broker host.
func TestMqttService_ClientOptions_TLSHostname(t *testing.T) {
	caPEM, ca, caKey := testCA(t)
	fileOps := &mocks.MockFileOperations{}
	fileOps.On("ReadFileRaw", "/ca.pem").Return(caPEM, nil)
	s := NewMqttService(fileOps, zerolog.Nop())

	tests := []struct {
		name       string
		host       string
		serverName string
		leaf       *x509.Certificate
		valid      bool
	}{
		{"matching name", "dm.example.com", "dm.example.com", testLeaf(t, ca, caKey, "dm.example.com", nil), true},
		{"other name", "dm.example.com", "dm.example.com", testLeaf(t, ca, caKey, "evil.example.com", nil), false},
		{"scheme in host", "ssl://dm.example.com", "dm.example.com", testLeaf(t, ca, caKey, "dm.example.com", nil), true},
		{"ip san", "10.0.0.5", "10.0.0.5", testLeaf(t, ca, caKey, "dm.example.com", net.ParseIP("10.0.0.5")), true},
		{"ip without san", "10.0.0.5", "10.0.0.5", testLeaf(t, ca, caKey, "dm.example.com", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := s.ClientOptions(transport.BrokerParams{Host: tt.host, Port: 8883, CACertPath: "/ca.pem"})
			require.NoError(t, err)
			require.NotNil(t, opts.TLSConfig)
			assert.False(t, opts.TLSConfig.InsecureSkipVerify)
			assert.Nil(t, opts.TLSConfig.VerifyPeerCertificate)
			assert.Equal(t, tt.serverName, opts.TLSConfig.ServerName)

			_, err = tt.leaf.Verify(x509.VerifyOptions{Roots: opts.TLSConfig.RootCAs, DNSName: opts.TLSConfig.ServerName})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// TestMqttService_Start tests connect, status relay and publish on a connected client.
func TestMqttService_Start(t *testing.T) {
	client := &mocks.MockMQTTClient{}
	var opts *mqtt.ClientOptions
	s := newTestService(client, &opts)

	client.On("Connect").Return(mocks.NewCompletedToken(nil))
	client.On("IsConnectionOpen").Return(true)
	client.On("Publish", "iot/v1/device/SN001/uplink/wake_up", byte(1), false, []byte("{}")).Return(mocks.NewCompletedToken(nil))
	client.On("Disconnect", uint(disconnectQuiesce)).Return()

	var statuses []transport.ConnectionStatus
	onStatus := func(st transport.ConnectionStatus) { statuses = append(statuses, st) }

	err := s.Start(context.Background(), transport.BrokerParams{Host: "dm", Port: 1883, ClientID: "SN001"}, nil, onStatus)
	require.NoError(t, err)
	assert.True(t, s.IsConnected())
	assert.Equal(t, []transport.ConnectionStatus{transport.StatusConnecting}, statuses)

	opts.OnConnectionLost(nil, errors.New("broker went away"))
	opts.OnReconnecting(nil, opts)
	assert.Equal(t, []transport.ConnectionStatus{
		transport.StatusConnecting, transport.StatusDisconnected, transport.StatusConnecting,
	}, statuses)

	require.NoError(t, s.Publish(context.Background(), "iot/v1/device/SN001/uplink/wake_up", []byte("{}"), time.Second))

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsConnected())
	client.AssertExpectations(t)
}

// TestMqttService_Start_ConnectFailure tests that a failed connect leaves the service stopped.
func TestMqttService_Start_ConnectFailure(t *testing.T) {
	client := &mocks.MockMQTTClient{}
	s := newTestService(client, nil)

	client.On("Connect").Return(mocks.NewCompletedToken(errors.New("not authorized")))
	client.On("Disconnect", uint(0)).Return()

	err := s.Start(context.Background(), transport.BrokerParams{Host: "dm", Port: 1883}, nil, nil)

	assert.Error(t, err)
	assert.False(t, s.IsConnected())
	assert.ErrorIs(t, s.Publish(context.Background(), "t", nil, time.Second), ErrNotConnected)
	client.AssertExpectations(t)
}

// TestMqttService_Subscribe tests that inbound messages are relayed to the message handler.
func TestMqttService_Subscribe(t *testing.T) {
	client := &mocks.MockMQTTClient{}
	s := newTestService(client, nil)

	var callback mqtt.MessageHandler
	client.On("Subscribe", "iot/v1/device/SN001/downlink/#", byte(1), mock.Anything).
		Run(func(args mock.Arguments) { callback = args.Get(2).(mqtt.MessageHandler) }).
		Return(mocks.NewCompletedToken(nil))
	client.On("Subscribe", "broken/#", byte(1), mock.Anything).Return(mocks.NewCompletedToken(errors.New("denied")))

	var gotTopic string
	var gotPayload []byte
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		gotTopic, gotPayload = msg.Topic(), msg.Payload()
	}

	s.subscribe(client, []string{"broken/#", "iot/v1/device/SN001/downlink/#"}, handler)

	require.NotNil(t, callback)
	callback(nil, mocks.NewMockMessage("iot/v1/device/SN001/downlink/restart", []byte(`{"msgId":"1"}`)))
	assert.Equal(t, "iot/v1/device/SN001/downlink/restart", gotTopic)
	assert.Equal(t, `{"msgId":"1"}`, string(gotPayload))
	client.AssertExpectations(t)
}

// TestMqttService_Publish_Timeout tests the publish timeout error.
func TestMqttService_Publish_Timeout(t *testing.T) {
	client := &mocks.MockMQTTClient{}
	s := newTestService(client, nil)
	client.On("Connect").Return(mocks.NewCompletedToken(nil))
	client.On("IsConnectionOpen").Return(true)
	client.On("Publish", "t", byte(1), false, mock.Anything).Return(mocks.NewPendingToken())
	require.NoError(t, s.Start(context.Background(), transport.BrokerParams{Host: "dm"}, nil, nil))

	err := s.Publish(context.Background(), "t", []byte("x"), 10*time.Millisecond)

	assert.ErrorIs(t, err, ErrPublishTimeout)
}

// TestMqttService_Publish_Canceled tests that canceling ctx ends a wait for the broker ack.
func TestMqttService_Publish_Canceled(t *testing.T) {
	client := &mocks.MockMQTTClient{}
	s := newTestService(client, nil)
	client.On("Connect").Return(mocks.NewCompletedToken(nil))
	client.On("IsConnectionOpen").Return(true)
	client.On("Publish", "t", byte(1), false, mock.Anything).Return(mocks.NewPendingToken())
	require.NoError(t, s.Start(context.Background(), transport.BrokerParams{Host: "dm"}, nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()

	err := s.Publish(ctx, "t", []byte("x"), time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

// TestMqttService_Timestamp tests the 13-digit millisecond timestamp.
func TestMqttService_Timestamp(t *testing.T) {
	ts, err := newTestService(&mocks.MockMQTTClient{}, nil).Timestamp()

	require.NoError(t, err)
	assert.Len(t, ts, 13)
}

// TestMqttService_TimestampFunc tests a replaced timestamp source.
func TestMqttService_TimestampFunc(t *testing.T) {
	s := NewMqttService(&mocks.MockFileOperations{}, zerolog.Nop(), WithTimestampFunc(func() (string, error) {
		return "1700000000000", nil
	}))

	ts, err := s.Timestamp()

	require.NoError(t, err)
	assert.Equal(t, "1700000000000", ts)
}
