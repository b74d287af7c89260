package protocol

import (
	"fmt"
	"strings"
)

const (
	envelopeSuccess = "Success"
	envelopeFailed  = "Failed"
)

// ResponseHeader is the status part of every provisioning HTTP response.
type ResponseHeader struct {
	Status    bool
	ErrCode   string
	ErrMsg    string
	DetailMsg string
	RequestID string
}

// Err returns a *ServerError when the envelope reports failure.
func (h ResponseHeader) Err() error {
	if h.Status {
		return nil
	}
	return &ServerError{Header: h}
}

// parseEnvelope validates body as a response envelope and returns its header together
// with the data member. data is nil when absent or not a JSON object.
func parseEnvelope(body []byte) (ResponseHeader, object, error) {
	if err := validate(SchemaEnvelope, body); err != nil {
		return ResponseHeader{}, nil, err
	}

	root, ok := decodeObject(body)
	if !ok {
		return ResponseHeader{}, nil, fmt.Errorf("%w: envelope is not an object", ErrFormat)
	}

	status, _ := root.str("status")
	var header ResponseHeader
	switch {
	case strings.EqualFold(status, envelopeSuccess):
		header.Status = true
	case strings.EqualFold(status, envelopeFailed):
		header.Status = false
	default:
		return ResponseHeader{}, nil, fmt.Errorf("%w: invalid status %q", ErrFormat, status)
	}

	header.ErrCode = root.strOr("errCode")
	header.ErrMsg = root.strOr("errMsg")
	header.DetailMsg = root.strOr("detailMsg")
	header.RequestID = root.strOr("requestId")

	data, _ := root.obj("data")
	return header, data, nil
}

// ParseResponseHeader parses an envelope whose data member is not interpreted.
func ParseResponseHeader(body []byte) (ResponseHeader, error) {
	header, _, err := parseEnvelope(body)
	return header, err
}
