package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseResponseHeader_Status tests case-insensitive status parsing and rejection of unknown values.
func TestParseResponseHeader_Status(t *testing.T) {
	h, err := ParseResponseHeader([]byte(`{"status":"success","requestId":"r1"}`))
	require.NoError(t, err)
	assert.True(t, h.Status)
	assert.Equal(t, "r1", h.RequestID)
	assert.NoError(t, h.Err())

	h, err = ParseResponseHeader([]byte(`{"status":"FAILED","errCode":"X","errMsg":"nope","detailMsg":"d"}`))
	require.NoError(t, err)
	assert.False(t, h.Status)
	var srvErr *ServerError
	require.True(t, errors.As(h.Err(), &srvErr))
	assert.Equal(t, "X", srvErr.Code())
	assert.Equal(t, "nope", srvErr.Header.ErrMsg)

	_, err = ParseResponseHeader([]byte(`{"status":"maybe"}`))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseResponseHeader([]byte(`{"errCode":"X"}`))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseResponseHeader([]byte(`not json`))
	assert.ErrorIs(t, err, ErrFormat)
}

// TestParseResponseHeader_MistypedMembers tests that non-string optional members read as empty.
func TestParseResponseHeader_MistypedMembers(t *testing.T) {
	h, err := ParseResponseHeader([]byte(`{"status":"Failed","errCode":42,"errMsg":null}`))

	require.NoError(t, err)
	assert.Equal(t, "", h.ErrCode)
	assert.Equal(t, "", h.ErrMsg)
}

// TestParseRPSResponse tests profile and source extraction.
func TestParseRPSResponse(t *testing.T) {
	body := `{"status":"Success","data":{
		"profiles":[{"url":"http://x/p.json","md5":"0123456789abcdef0123456789abcdef","crc32":"a1b2c3d4","fileSize":120},{"md5":"zz"}],
		"source":{"type":"devicehub","host":"http://hub"}}}`

	resp, err := ParseRPSResponse([]byte(body))

	require.NoError(t, err)
	require.NotNil(t, resp.Data)
	require.Len(t, resp.Data.Profiles, 2)
	first, ok := resp.FirstProfile()
	assert.True(t, ok)
	assert.Equal(t, ProfileDescriptor{URL: "http://x/p.json", MD5: "0123456789abcdef0123456789abcdef", CRC32: "a1b2c3d4", FileSize: 120}, first)
	assert.Equal(t, ProfileDescriptor{}, resp.Data.Profiles[1])
	assert.Equal(t, SourceDescriptor{Type: "devicehub", Host: "http://hub"}, resp.Data.Source)
}

// TestParseRPSResponse_MissingSource tests that data without a source is a format error.
func TestParseRPSResponse_MissingSource(t *testing.T) {
	_, err := ParseRPSResponse([]byte(`{"status":"Success","data":{"profiles":[]}}`))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseRPSResponse([]byte(`{"status":"Success","data":{"source":{"type":"mip"}}}`))
	assert.ErrorIs(t, err, ErrFormat)
}

// TestParseRPSResponse_NoData tests that an envelope without data parses with nil data.
func TestParseRPSResponse_NoData(t *testing.T) {
	resp, err := ParseRPSResponse([]byte(`{"status":"Failed","errCode":"E1"}`))

	require.NoError(t, err)
	assert.Nil(t, resp.Data)
	_, ok := resp.FirstProfile()
	assert.False(t, ok)
	assert.Error(t, resp.Header.Err())
}

// TestParseRPSResponse_BadChecksum tests the md5 validation bound.
func TestParseRPSResponse_BadChecksum(t *testing.T) {
	body := `{"status":"Success","data":{"profiles":[{"url":"u","md5":"short"}],"source":{"type":"mip","host":"h"}}}`

	_, err := ParseRPSResponse([]byte(body))

	assert.ErrorIs(t, err, ErrFormat)
}

// TestParseLNSResponse_Variants tests variant selection by the case-insensitive type member.
func TestParseLNSResponse_Variants(t *testing.T) {
	semtech, err := ParseLNSResponse([]byte(`{"status":"Success","data":{"type":"semtech","semtech":{"serverAddress":"lns","portUp":1700,"portDown":1701}}}`))
	require.NoError(t, err)
	assert.Equal(t, &SemtechServer{Addr: "lns", UpPort: 1700, DownPort: 1701}, semtech.Server)

	bs, err := ParseLNSResponse([]byte(`{"status":"Success","data":{"type":"BASICSTATION","basicStation":{
		"cupsUri":"cu","cupsCaTrustUrl":"ct","cupsClientCertPemUrl":"cc","cupsClientKeyUrl":"ck",
		"lnsUri":"lu","lnsCaTrustUrl":"lt","lnsClientCertPemUrl":"lc","lnsClientKeyUrl":"lk"}}}`))
	require.NoError(t, err)
	assert.Equal(t, &BasicStationServer{
		CupsURI: "cu", CupsTrustURL: "ct", CupsCertURL: "cc", CupsKeyURL: "ck",
		LNSURI: "lu", LNSTrustURL: "lt", LNSCertURL: "lc", LNSKeyURL: "lk",
	}, bs.Server)
	assert.Equal(t, KindBasicStation, bs.Server.Kind())

	cs, err := ParseLNSResponse([]byte(`{"status":"Success","data":{"type":"Chirpstack","chirpstack":{
		"mqttBroker":"broker","mqttPort":8883,"username":"u","password":"p","certPemUrl":"c","privateKeyUrl":"k","caCertPemUrl":"ca"}}}`))
	require.NoError(t, err)
	assert.Equal(t, &ChirpstackServer{Addr: "broker", Port: 8883, User: "u", Pass: "p", CertURL: "c", PrivateKeyURL: "k", CACertURL: "ca"}, cs.Server)
}

// TestParseLNSResponse_Errors tests unknown types and incomplete variants.
func TestParseLNSResponse_Errors(t *testing.T) {
	cases := []string{
		`{"status":"Success","data":{"type":"Helium"}}`,
		`{"status":"Success","data":{}}`,
		`{"status":"Success","data":{"type":"Semtech","semtech":{"serverAddress":"lns","portUp":1700}}}`,
		`{"status":"Success","data":{"type":"Semtech"}}`,
		`{"status":"Success","data":{"type":"Chirpstack","chirpstack":{"mqttBroker":"b","mqttPort":"1883"}}}`,
	}
	for _, c := range cases {
		_, err := ParseLNSResponse([]byte(c))
		assert.ErrorIs(t, err, ErrFormat, c)
	}
}

// TestParseDMResponse tests broker bundle extraction and mandatory members.
func TestParseDMResponse(t *testing.T) {
	resp, err := ParseDMResponse([]byte(`{"status":"Success","data":{"mqttBroker":"mqtts://dm","mqttPort":8883,"username":"u","password":"p","caCertPemUrl":"ca"}}`))
	require.NoError(t, err)
	assert.Equal(t, &DmCredentials{Addr: "mqtts://dm", Port: 8883, User: "u", Pass: "p", CACertURL: "ca"}, resp.Credentials)

	_, err = ParseDMResponse([]byte(`{"status":"Success","data":{"mqttBroker":"dm"}}`))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseDMResponse([]byte(`{"status":"Success","data":{"mqttBroker":"dm","mqttPort":70000}}`))
	assert.ErrorIs(t, err, ErrFormat)
}

// TestErrorCode_String tests the wire identifiers of the closed error set.
func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "ERR_UNSUPPORT_TOPIC", ErrUnsupportedTopic.String())
	assert.Equal(t, "ERR_NULL_URL", ErrNullURL.String())
	assert.Equal(t, "ERR_PRE_TASK_RUNNING", ErrPreTaskRunning.String())
	assert.True(t, ErrUpgradeFailed.Valid())
	assert.False(t, ErrorCode(1005).Valid())
}
