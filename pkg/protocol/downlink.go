package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Version is the device-management protocol version sent in every uplink.
const Version = "1"

// EventResponse is the event name of correlated replies.
const EventResponse = "response"

// Downlink result statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DownlinkHeader identifies one inbound command.
type DownlinkHeader struct {
	Timestamp string
	MsgID     string `validate:"required,max=127"`
	Event     string `validate:"required,max=31"`
	Version   string
	TaskID    string `validate:"max=127"`
}

// ParseDownlink extracts the header and the raw data member of a downlink message.
// msgId and event are mandatory; data is nil when absent.
func ParseDownlink(payload []byte) (DownlinkHeader, []byte, error) {
	if err := validate(SchemaDownlink, payload); err != nil {
		return DownlinkHeader{}, nil, err
	}

	root, ok := decodeObject(payload)
	if !ok {
		return DownlinkHeader{}, nil, fmt.Errorf("%w: downlink is not an object", ErrFormat)
	}

	header := DownlinkHeader{
		Timestamp: root.strOr("ts"),
		MsgID:     root.strOr("msgId"),
		Event:     root.strOr("event"),
		Version:   root.strOr("ver"),
	}
	if ctx, ok := root.obj("context"); ok {
		header.TaskID = ctx.strOr("taskId")
	}

	if err := structValidator.Struct(header); err != nil {
		return DownlinkHeader{}, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	var data []byte
	if raw, ok := root["data"]; ok && !isNull(raw) {
		data = bytes.TrimSpace(raw)
	}
	return header, data, nil
}

// DownlinkResult is filled in by a downlink handler. ErrCode and ErrMsg are only
// sent when Status is failed.
type DownlinkResult struct {
	Status  string
	ErrCode ErrorCode
	ErrMsg  string
}

// Succeed marks the result successful.
func (r *DownlinkResult) Succeed() {
	r.Status = StatusSuccess
	r.ErrCode = 0
	r.ErrMsg = ""
}

// Pend marks the result pending; a final reply follows out of band.
func (r *DownlinkResult) Pend() {
	r.Status = StatusPending
}

// Fail marks the result failed with code and its wire message.
func (r *DownlinkResult) Fail(code ErrorCode) {
	r.Status = StatusFailed
	r.ErrCode = code
	r.ErrMsg = code.String()
}

// Failed reports whether the result carries a failure.
func (r DownlinkResult) Failed() bool {
	return strings.EqualFold(r.Status, StatusFailed)
}

// Pending reports whether the final result is still outstanding.
func (r DownlinkResult) Pending() bool {
	return strings.EqualFold(r.Status, StatusPending)
}

// DecodeData unmarshals a downlink data member into v.
func DecodeData(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrFormat)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return nil
}
