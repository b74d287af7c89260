package dm

import (
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/goccy/go-json"
)

// HandleMessage turns one inbound downlink into exactly one reply on the response
// topic. Messages that are not JSON or lack msgId or event are dropped.
func (s *Session) HandleMessage(topic string, payload []byte) {
	header, data, err := protocol.ParseDownlink(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Dropping malformed downlink")
		return
	}

	msgID, ts := s.ids.next()
	env := &protocol.UplinkEnvelope{
		Timestamp:   ts,
		MsgID:       msgID,
		Event:       protocol.EventResponse,
		Version:     protocol.Version,
		Correlation: &protocol.Correlation{Header: header},
	}

	s.mu.RLock()
	reg, ok := match(&s.events, topic)
	s.mu.RUnlock()

	logger := s.logger.With().Str("topic", topic).Str("msg_id", header.MsgID).Str("event", header.Event).Logger()
	result := &env.Correlation.Result

	if !ok {
		logger.Warn().Msg("Unsupported downlink topic")
		result.Fail(protocol.ErrUnsupportedTopic)
	} else {
		result.Succeed()
		env.Payload = reg.Handler(s.runContext(), header, data, result)
		if err := protocol.CheckPayload(env.Payload); err != nil {
			logger.Warn().Err(err).Int("bytes", len(env.Payload)).Msg("Dropping handler payload from reply")
			env.Payload = nil
		}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode downlink reply")
		return
	}

	replyTopic := UplinkTopic(s.serial, protocol.EventResponse)
	if err := s.mqtt.Publish(s.runContext(), replyTopic, raw, s.publishTimeout); err != nil {
		logger.Error().Err(err).Str("reply_topic", replyTopic).Msg("Failed to publish downlink reply")
	} else {
		logger.Debug().Str("status", result.Status).Int("err_code", int(result.ErrCode)).Msg("Downlink replied")
	}

	if ok && reg.After != nil {
		reg.After(header, *result, env.Payload)
	}
}
