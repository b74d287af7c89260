package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrInvalidPayload is returned for an uplink payload that is not valid JSON.
var ErrInvalidPayload = errors.New("uplink payload is not valid JSON")

// Correlation ties a reply to the downlink it answers.
type Correlation struct {
	Header DownlinkHeader
	Result DownlinkResult
}

// UplinkEnvelope is one device-to-cloud message. Correlation is nil for unsolicited
// uplinks. Payload must be a JSON document; anything else is left out of the wire form.
type UplinkEnvelope struct {
	Timestamp   string
	MsgID       string
	Event       string
	Version     string
	Payload     []byte
	Correlation *Correlation
}

type wireContext struct {
	TaskID string `json:"taskId"`
}

type wireReply struct {
	MsgID   string          `json:"msgId"`
	Event   string          `json:"event"`
	Status  string          `json:"status"`
	ErrCode *int            `json:"errCode,omitempty"`
	ErrMsg  *string         `json:"errMsg,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type wireUplink struct {
	Timestamp string          `json:"ts"`
	MsgID     string          `json:"msgId"`
	Event     string          `json:"event"`
	Version   string          `json:"ver"`
	Data      json.RawMessage `json:"data,omitempty"`
	Context   *wireContext    `json:"context,omitempty"`
}

// MarshalJSON renders the envelope in wire form.
func (e *UplinkEnvelope) MarshalJSON() ([]byte, error) {
	w := wireUplink{
		Timestamp: e.Timestamp,
		MsgID:     e.MsgID,
		Event:     e.Event,
		Version:   e.Version,
	}

	payload, err := validPayload(e.Payload)
	if err != nil {
		return nil, err
	}

	if e.Correlation == nil {
		w.Data = payload
		return json.Marshal(w)
	}

	reply := wireReply{
		MsgID:  e.Correlation.Header.MsgID,
		Event:  e.Correlation.Header.Event,
		Status: e.Correlation.Result.Status,
		Data:   payload,
	}
	if e.Correlation.Result.Failed() {
		code := int(e.Correlation.Result.ErrCode)
		msg := e.Correlation.Result.ErrMsg
		reply.ErrCode = &code
		reply.ErrMsg = &msg
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reply data: %w", err)
	}
	w.Data = data
	if e.Correlation.Header.TaskID != "" {
		w.Context = &wireContext{TaskID: e.Correlation.Header.TaskID}
	}
	return json.Marshal(w)
}

// ParseUplink reads an uplink back from its wire form. A data object carrying msgId,
// event and status is treated as a reply correlation.
func ParseUplink(raw []byte) (*UplinkEnvelope, error) {
	if err := validate(SchemaUplink, raw); err != nil {
		return nil, err
	}

	var w wireUplink
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	e := &UplinkEnvelope{
		Timestamp: w.Timestamp,
		MsgID:     w.MsgID,
		Event:     w.Event,
		Version:   w.Version,
	}

	if w.Event != EventResponse {
		e.Payload = trimmed(w.Data)
		return e, nil
	}

	var reply wireReply
	if err := json.Unmarshal(w.Data, &reply); err != nil {
		return nil, fmt.Errorf("%w: reply data: %v", ErrFormat, err)
	}
	corr := &Correlation{
		Header: DownlinkHeader{MsgID: reply.MsgID, Event: reply.Event},
		Result: DownlinkResult{Status: reply.Status},
	}
	if reply.ErrCode != nil {
		corr.Result.ErrCode = ErrorCode(*reply.ErrCode)
	}
	if reply.ErrMsg != nil {
		corr.Result.ErrMsg = *reply.ErrMsg
	}
	if w.Context != nil {
		corr.Header.TaskID = w.Context.TaskID
	}
	e.Correlation = corr
	e.Payload = trimmed(reply.Data)
	return e, nil
}

// CheckPayload reports ErrInvalidPayload when p is neither empty nor valid JSON.
func CheckPayload(p []byte) error {
	_, err := validPayload(p)
	return err
}

func validPayload(p []byte) (json.RawMessage, error) {
	p = bytes.TrimSpace(p)
	if len(p) == 0 {
		return nil, nil
	}
	if !json.Valid(p) {
		return nil, ErrInvalidPayload
	}
	return json.RawMessage(p), nil
}

func trimmed(raw json.RawMessage) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	return raw
}
