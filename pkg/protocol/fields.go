package protocol

import (
	"bytes"

	"github.com/goccy/go-json"
)

// object is a lazily decoded JSON object. Lookups only succeed when the member exists and
// has the expected JSON type; anything else reads as absent.
type object map[string]json.RawMessage

func decodeObject(raw []byte) (object, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false
	}
	return o, true
}

func (o object) str(name string) (string, bool) {
	raw, ok := o[name]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// strOr returns the string member or "" when absent or mistyped.
func (o object) strOr(name string) string {
	s, _ := o.str(name)
	return s
}

func (o object) integer(name string) (int64, bool) {
	raw, ok := o[name]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return int64(f), true
}

func (o object) obj(name string) (object, bool) {
	raw, ok := o[name]
	if !ok {
		return nil, false
	}
	return decodeObject(raw)
}

func (o object) array(name string) ([]json.RawMessage, bool) {
	raw, ok := o[name]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
