package dm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/benmeehan/mip-agent/internal/mocks"
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSerial = "SN0001"

type published struct {
	mu    sync.Mutex
	msgs  []publishedMsg
	order []string
}

type publishedMsg struct {
	topic   string
	payload []byte
}

func (p *published) record(args mock.Arguments) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, publishedMsg{topic: args.String(1), payload: args.Get(2).([]byte)})
	p.order = append(p.order, "publish")
}

func (p *published) mark(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = append(p.order, step)
}

func newTestSession(t *testing.T) (*Session, *mocks.MockMQTTTransport, *mocks.MockHTTPTransport, *published) {
	t.Helper()
	mqttMock := &mocks.MockMQTTTransport{}
	httpMock := &mocks.MockHTTPTransport{}
	pub := &published{}
	mqttMock.On("Publish", mock.Anything, mock.Anything, mock.Anything, defaultPublishTimeout).
		Run(pub.record).Return(nil).Maybe()
	return New(testSerial, mqttMock, httpMock, zerolog.Nop()), mqttMock, httpMock, pub
}

func downlink(event, taskID string, data string) []byte {
	msg := `{"ts":"1700000000","msgId":"m1","event":"` + event + `","ver":"1"`
	if taskID != "" {
		msg += `,"context":{"taskId":"` + taskID + `"}`
	}
	if data != "" {
		msg += `,"data":` + data
	}
	return []byte(msg + "}")
}

// TestSession_Init tests that Init requires a serial number.
func TestSession_Init(t *testing.T) {
	s := New("", &mocks.MockMQTTTransport{}, &mocks.MockHTTPTransport{}, zerolog.Nop())
	assert.ErrorIs(t, s.Init(Handlers{}), ErrMissingSerial)

	s, _, _, _ = newTestSession(t)
	assert.NoError(t, s.Init(Handlers{}))
}

// TestSession_HandleMessage_Unsupported tests that a topic without a handler is answered with 1001.
func TestSession_HandleMessage_Unsupported(t *testing.T) {
	s, _, _, pub := newTestSession(t)
	called := false
	require.NoError(t, s.Init(Handlers{Restart: func(context.Context, protocol.DownlinkHeader, []byte, *protocol.DownlinkResult) []byte {
		called = true
		return nil
	}}))

	s.HandleMessage("iot/v1/device/SN0001/downlink/rules_update", downlink("rules_update", "", ""))

	assert.False(t, called)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "iot/v1/device/SN0001/uplink/response", pub.msgs[0].topic)

	env, err := protocol.ParseUplink(pub.msgs[0].payload)
	require.NoError(t, err)
	require.NotNil(t, env.Correlation)
	assert.Equal(t, "m1", env.Correlation.Header.MsgID)
	assert.Equal(t, "rules_update", env.Correlation.Header.Event)
	assert.Equal(t, protocol.StatusFailed, env.Correlation.Result.Status)
	assert.Equal(t, protocol.ErrUnsupportedTopic, env.Correlation.Result.ErrCode)
	assert.Equal(t, "ERR_UNSUPPORT_TOPIC", env.Correlation.Result.ErrMsg)
}

// TestSession_HandleMessage_Handled tests the reply carries the task id, the handler payload and
// that the after hook runs once the reply is out.
func TestSession_HandleMessage_Handled(t *testing.T) {
	s, _, _, pub := newTestSession(t)

	var gotData []byte
	var gotHeader protocol.DownlinkHeader
	var afterResult protocol.DownlinkResult
	require.NoError(t, s.Init(Handlers{
		ProfileUpdate: func(_ context.Context, h protocol.DownlinkHeader, data []byte, result *protocol.DownlinkResult) []byte {
			gotHeader = h
			gotData = data
			assert.Equal(t, protocol.StatusSuccess, result.Status)
			pub.mark("handler")
			return []byte(`{"applied":true}`)
		},
		AfterProfileUpdate: func(_ protocol.DownlinkHeader, result protocol.DownlinkResult, payload []byte) {
			afterResult = result
			assert.JSONEq(t, `{"applied":true}`, string(payload))
			pub.mark("after")
		},
	}))

	s.HandleMessage("iot/v1/device/SN0001/downlink/profile_update", downlink("profile_update", "T9", `{"url":"u"}`))

	assert.Equal(t, "T9", gotHeader.TaskID)
	assert.JSONEq(t, `{"url":"u"}`, string(gotData))
	assert.Equal(t, []string{"handler", "publish", "after"}, pub.order)
	assert.Equal(t, protocol.StatusSuccess, afterResult.Status)

	require.Len(t, pub.msgs, 1)
	assert.JSONEq(t, `{"ts":"","msgId":"`+mustMsgID(t, pub.msgs[0].payload)+`","event":"response","ver":"1",
		"data":{"msgId":"m1","event":"profile_update","status":"success","data":{"applied":true}},
		"context":{"taskId":"T9"}}`, string(pub.msgs[0].payload))
}

// TestSession_HandleMessage_Failed tests that a handler failure is carried into the reply.
func TestSession_HandleMessage_Failed(t *testing.T) {
	s, _, _, pub := newTestSession(t)
	require.NoError(t, s.Init(Handlers{
		FirmwareUpgrade: func(_ context.Context, _ protocol.DownlinkHeader, _ []byte, result *protocol.DownlinkResult) []byte {
			result.Fail(protocol.ErrNullURL)
			return nil
		},
	}))

	s.HandleMessage("iot/v1/device/SN0001/downlink/firmware_upgrade", downlink("firmware_upgrade", "", ""))

	require.Len(t, pub.msgs, 1)
	env, err := protocol.ParseUplink(pub.msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrNullURL, env.Correlation.Result.ErrCode)
	assert.Nil(t, env.Payload)
}

// TestSession_HandleMessage_InvalidPayload tests that a non-JSON handler payload is left out
// of a reply that is still sent.
func TestSession_HandleMessage_InvalidPayload(t *testing.T) {
	s, _, _, pub := newTestSession(t)
	var afterPayload []byte
	require.NoError(t, s.Init(Handlers{
		ProfileUpdate: func(context.Context, protocol.DownlinkHeader, []byte, *protocol.DownlinkResult) []byte {
			return []byte("values: not json")
		},
		AfterProfileUpdate: func(_ protocol.DownlinkHeader, _ protocol.DownlinkResult, payload []byte) {
			afterPayload = payload
		},
	}))

	s.HandleMessage("iot/v1/device/SN0001/downlink/profile_update", downlink("profile_update", "", ""))

	require.Len(t, pub.msgs, 1)
	env, err := protocol.ParseUplink(pub.msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, env.Correlation.Result.Status)
	assert.Nil(t, env.Payload)
	assert.Nil(t, afterPayload)
}

// TestSession_Uplink_InvalidPayload tests that an unsolicited uplink refuses a non-JSON payload.
func TestSession_Uplink_InvalidPayload(t *testing.T) {
	s, mqttMock, _, pub := newTestSession(t)
	mqttMock.On("IsConnected").Return(true)

	err := s.UplinkProperty(context.Background(), []byte("cpu=1"))

	assert.ErrorContains(t, err, protocol.ErrInvalidPayload.Error())
	assert.Empty(t, pub.msgs)
}

// TestSession_HandleMessage_Malformed tests that malformed downlinks are dropped without reply.
func TestSession_HandleMessage_Malformed(t *testing.T) {
	s, mqttMock, _, pub := newTestSession(t)
	require.NoError(t, s.Init(Handlers{}))

	s.HandleMessage("iot/v1/device/SN0001/downlink/restart", []byte(`{"event":"restart"}`))
	s.HandleMessage("iot/v1/device/SN0001/downlink/restart", []byte(`not json`))

	assert.Empty(t, pub.msgs)
	mqttMock.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestSession_HandleMessage_FirstMatch tests substring matching in table order.
func TestSession_HandleMessage_FirstMatch(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	var hit []string
	handler := func(name string) Handler {
		return func(context.Context, protocol.DownlinkHeader, []byte, *protocol.DownlinkResult) []byte {
			hit = append(hit, name)
			return nil
		}
	}
	require.NoError(t, s.Init(Handlers{
		Restart:  handler(EventRestart),
		Property: handler(EventProperty),
	}))

	s.HandleMessage("iot/v1/device/SN0001/downlink/property/restart", downlink("property", "", ""))
	s.HandleMessage("x/property", downlink("property", "", ""))

	assert.Equal(t, []string{EventRestart, EventProperty}, hit)
}

// TestSession_Deinit tests that downlinks after Deinit are answered as unsupported.
func TestSession_Deinit(t *testing.T) {
	s, _, _, pub := newTestSession(t)
	called := false
	require.NoError(t, s.Init(Handlers{Timestamp: func(context.Context, protocol.DownlinkHeader, []byte, *protocol.DownlinkResult) []byte {
		called = true
		return nil
	}}))

	s.Deinit()
	s.HandleMessage("iot/v1/device/SN0001/downlink/timestamp", downlink("timestamp", "", ""))

	assert.False(t, called)
	require.Len(t, pub.msgs, 1)
	env, err := protocol.ParseUplink(pub.msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrUnsupportedTopic, env.Correlation.Result.ErrCode)
}

// TestSession_Uplink tests argument checks and the unsolicited uplink wire form.
func TestSession_Uplink(t *testing.T) {
	s, mqttMock, _, pub := newTestSession(t)

	err := s.Uplink(context.Background(), nil, nil, "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	mqttMock.On("IsConnected").Return(false).Once()
	err = s.UplinkProperty(context.Background(), []byte(`{"cpu":1}`))
	assert.ErrorIs(t, err, ErrNotConnected)

	mqttMock.On("IsConnected").Return(true)
	require.NoError(t, s.UplinkProperty(context.Background(), []byte(`{"cpu":1}`)))
	require.NoError(t, s.Notify(context.Background(), EventRequestAPIToken))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "iot/v1/device/SN0001/uplink/property", pub.msgs[0].topic)
	env, err := protocol.ParseUplink(pub.msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, EventProperty, env.Event)
	assert.Nil(t, env.Correlation)
	assert.JSONEq(t, `{"cpu":1}`, string(env.Payload))

	assert.Equal(t, "iot/v1/device/SN0001/uplink/request_api_token", pub.msgs[1].topic)
	env, err = protocol.ParseUplink(pub.msgs[1].payload)
	require.NoError(t, err)
	assert.Nil(t, env.Payload)
}

// TestSession_UplinkResponse tests the out-of-band final reply.
func TestSession_UplinkResponse(t *testing.T) {
	s, mqttMock, _, pub := newTestSession(t)
	mqttMock.On("IsConnected").Return(true)

	result := protocol.DownlinkResult{}
	result.Fail(protocol.ErrUpgradeFailed)
	err := s.UplinkResponse(context.Background(), protocol.DownlinkHeader{MsgID: "m7", Event: EventFirmwareUpgrade, TaskID: "T7"}, result, nil)

	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	env, err := protocol.ParseUplink(pub.msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "m7", env.Correlation.Header.MsgID)
	assert.Equal(t, "T7", env.Correlation.Header.TaskID)
	assert.Equal(t, protocol.ErrUpgradeFailed, env.Correlation.Result.ErrCode)
}

// TestSession_Uplink_PublishError tests that publish failures are returned.
func TestSession_Uplink_PublishError(t *testing.T) {
	mqttMock := &mocks.MockMQTTTransport{}
	mqttMock.On("IsConnected").Return(true)
	mqttMock.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("timeout"))
	s := New(testSerial, mqttMock, &mocks.MockHTTPTransport{}, zerolog.Nop())

	err := s.UplinkProperty(context.Background(), []byte(`{}`))

	assert.ErrorContains(t, err, "timeout")
}

// TestSession_ClockedIDs tests that a transport clock is embedded in message ids.
func TestSession_ClockedIDs(t *testing.T) {
	mqttMock := &mocks.MockClockedMQTTTransport{}
	mqttMock.On("Timestamp").Return("1700000000123", nil)
	mqttMock.On("IsConnected").Return(true)
	var payload []byte
	mqttMock.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { payload = args.Get(2).([]byte) }).Return(nil)
	s := New(testSerial, mqttMock, &mocks.MockHTTPTransport{}, zerolog.Nop())

	require.NoError(t, s.Notify(context.Background(), EventRequestTimestamp))

	env, err := protocol.ParseUplink(payload)
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", env.Timestamp)
	assert.Len(t, env.MsgID, 24)
	assert.Equal(t, "1700000000123", env.MsgID[:13])
}

// TestSession_UplinkHTTP tests the HTTP fallback request and its response handling.
func TestSession_UplinkHTTP(t *testing.T) {
	s, _, httpMock, _ := newTestSession(t)

	var req transport.Request
	httpMock.On("SendRequest", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { req = args.Get(1).(transport.Request) }).
		Return(&transport.Response{StatusCode: 200, Body: []byte(`{"status":"Success"}`)}, nil).Once()

	err := s.UplinkHTTP(context.Background(), "https://api.example.com", "tok", []byte(`{"cpu":2}`))

	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/v1/public/iot/device/SN0001/uplink/properties", req.URL)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "tok", req.Headers[HeaderAuthToken])
	assert.Equal(t, AuthTypeTempToken, req.Headers[HeaderAuthType])
	assert.Equal(t, defaultHTTPTimeout, req.Timeout)
	env, err := protocol.ParseUplink(req.Body)
	require.NoError(t, err)
	assert.Equal(t, EventProperty, env.Event)
	assert.JSONEq(t, `{"cpu":2}`, string(env.Payload))

	httpMock.On("SendRequest", mock.Anything, mock.Anything).
		Return(&transport.Response{StatusCode: 200, Body: []byte(`{"status":"Failed","errCode":"E1","errMsg":"bad token"}`)}, nil).Once()
	err = s.UplinkHTTP(context.Background(), "https://api.example.com", "tok", []byte(`{}`))
	var serverErr *protocol.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "E1", serverErr.Code())

	assert.ErrorIs(t, s.UplinkHTTP(context.Background(), "", "tok", nil), ErrInvalidArgument)
}

// TestSession_BrokerParams tests that TLS paths only follow provided credential URLs.
func TestSession_BrokerParams(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	paths := provisioning.DMPaths{Cert: "/c.pem", PrivateKey: "/k.pem", CACert: "/ca.pem"}

	params := s.BrokerParams(&protocol.DmCredentials{Addr: "dm.example.com", Port: 8883, User: "u", Pass: "p", CACertURL: "https://x/ca"}, paths)

	assert.Equal(t, transport.BrokerParams{
		Host:       "dm.example.com",
		Port:       8883,
		Username:   "u",
		Password:   "p",
		ClientID:   testSerial,
		CACertPath: "/ca.pem",
		Topics:     []string{"iot/v1/device/SN0001/downlink/#"},
	}, params)
}

// TestSession_StartStop tests the lifecycle and status relay.
func TestSession_StartStop(t *testing.T) {
	s, mqttMock, _, _ := newTestSession(t)
	creds := &protocol.DmCredentials{Addr: "dm.example.com", Port: 1883}

	assert.ErrorIs(t, s.Start(context.Background(), creds, provisioning.DMPaths{}), ErrNotInitialized)

	var statuses []transport.ConnectionStatus
	require.NoError(t, s.Init(Handlers{OnStatus: func(st transport.ConnectionStatus) { statuses = append(statuses, st) }}))
	assert.ErrorIs(t, s.Start(context.Background(), nil, provisioning.DMPaths{}), ErrMissingBroker)

	mqttMock.On("Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			onStatus := args.Get(3).(transport.StatusHandler)
			onStatus(transport.StatusConnecting)
			onStatus(transport.StatusConnected)
		}).Return(nil).Once()
	mqttMock.On("Stop").Return(nil).Once()

	require.NoError(t, s.Start(context.Background(), creds, provisioning.DMPaths{}))
	assert.Equal(t, StateRunning, s.State())
	assert.ErrorIs(t, s.Start(context.Background(), creds, provisioning.DMPaths{}), ErrAlreadyStarted)
	assert.Equal(t, []transport.ConnectionStatus{transport.StatusConnecting, transport.StatusConnected}, statuses)

	ctx := s.runContext()
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	mqttMock.AssertNumberOfCalls(t, "Stop", 1)
}

// TestSession_Start_Failure tests that a failed connect leaves the session stopped.
func TestSession_Start_Failure(t *testing.T) {
	s, mqttMock, _, _ := newTestSession(t)
	require.NoError(t, s.Init(Handlers{}))
	mqttMock.On("Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("refused")).Once()

	err := s.Start(context.Background(), &protocol.DmCredentials{Addr: "dm.example.com"}, provisioning.DMPaths{})

	assert.ErrorContains(t, err, "refused")
	assert.Equal(t, StateStopped, s.State())
}

func mustMsgID(t *testing.T, raw []byte) string {
	t.Helper()
	env, err := protocol.ParseUplink(raw)
	require.NoError(t, err)
	return env.MsgID
}
