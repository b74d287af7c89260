package dm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/goccy/go-json"
)

// HTTP uplink authentication headers.
const (
	HeaderAuthToken    = "X-MIP-AUTH-TOKEN"
	HeaderAuthType     = "X-MIP-AUTH-TYPE"
	AuthTypeTempToken  = "TEMP_TOKEN"
	pathHTTPUplinkTmpl = "%s/api/v1/public/iot/device/%s/uplink/properties"
)

// Uplink publishes event to the device's uplink topic. When header and result are
// both given the message is a correlated reply, otherwise payload is sent as data.
func (s *Session) Uplink(ctx context.Context, header *protocol.DownlinkHeader, result *protocol.DownlinkResult, event string, payload []byte) error {
	if event == "" {
		return fmt.Errorf("%w: event is empty", ErrInvalidArgument)
	}
	if !s.mqtt.IsConnected() {
		s.logger.Error().Str("event", event).Msg("Cannot send uplink, mqtt is not connected")
		return ErrNotConnected
	}

	raw, err := s.envelope(header, result, event, payload)
	if err != nil {
		return err
	}

	topic := UplinkTopic(s.serial, event)
	if err := s.mqtt.Publish(ctx, topic, raw, s.publishTimeout); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish uplink")
		return fmt.Errorf("failed to publish %s uplink: %w", event, err)
	}
	return nil
}

// UplinkProperty sends an unsolicited property report.
func (s *Session) UplinkProperty(ctx context.Context, payload []byte) error {
	return s.Uplink(ctx, nil, nil, EventProperty, payload)
}

// UplinkResponse sends a correlated reply outside of the dispatcher, typically the
// final result of a command that was first answered as pending.
func (s *Session) UplinkResponse(ctx context.Context, header protocol.DownlinkHeader, result protocol.DownlinkResult, payload []byte) error {
	return s.Uplink(ctx, &header, &result, protocol.EventResponse, payload)
}

// Notify sends a device-initiated event without payload, such as request_api_token.
func (s *Session) Notify(ctx context.Context, event string) error {
	return s.Uplink(ctx, nil, nil, event, nil)
}

// UplinkHTTP posts a property uplink to baseURL with a temporary access token. It is
// the fallback when the broker is unreachable.
func (s *Session) UplinkHTTP(ctx context.Context, baseURL, token string, payload []byte) error {
	if baseURL == "" || token == "" {
		return fmt.Errorf("%w: url and token are required", ErrInvalidArgument)
	}

	raw, err := s.envelope(nil, nil, EventProperty, payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf(pathHTTPUplinkTmpl, baseURL, s.serial)
	resp, err := s.http.SendRequest(ctx, transport.Request{
		URL:    url,
		Method: http.MethodPost,
		Headers: map[string]string{
			HeaderAuthToken: token,
			HeaderAuthType:  AuthTypeTempToken,
		},
		Body:    raw,
		Timeout: s.httpTimeout,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("url", url).Msg("HTTP uplink failed")
		return fmt.Errorf("http uplink failed: %w", err)
	}

	header, err := protocol.ParseResponseHeader(resp.Body)
	if err != nil {
		s.logger.Error().Err(err).Str("url", url).Int("status", resp.StatusCode).Msg("Malformed HTTP uplink response")
		return err
	}
	if err := header.Err(); err != nil {
		s.logger.Error().Str("url", url).Str("err_code", header.ErrCode).Str("err_msg", header.ErrMsg).Msg("HTTP uplink rejected")
		return err
	}
	return nil
}

func (s *Session) envelope(header *protocol.DownlinkHeader, result *protocol.DownlinkResult, event string, payload []byte) ([]byte, error) {
	msgID, ts := s.ids.next()
	env := &protocol.UplinkEnvelope{
		Timestamp: ts,
		MsgID:     msgID,
		Event:     event,
		Version:   protocol.Version,
		Payload:   payload,
	}
	if header != nil && result != nil {
		env.Correlation = &protocol.Correlation{Header: *header, Result: *result}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s uplink: %w", event, err)
	}
	return raw, nil
}
