package protocol

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Schema ids of the embedded wire schemas.
const (
	SchemaEnvelope = "https://schemas.mip-agent.dev/envelope.json"
	SchemaDownlink = "https://schemas.mip-agent.dev/downlink.json"
	SchemaUplink   = "https://schemas.mip-agent.dev/uplink.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// SchemaValidator validates raw JSON documents against the compiled wire schemas.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator compiles every embedded schema, keyed by its $id.
func NewSchemaValidator() (*SchemaValidator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("cannot read schema dir: %w", err)
	}

	v := &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("cannot read schema %s: %w", e.Name(), err)
		}

		var head struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("parse error in schema %s: %w", e.Name(), err)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("schema %s does not contain $id", e.Name())
		}

		compiled, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", head.ID, err)
		}
		v.schemas[head.ID] = compiled
	}

	return v, nil
}

// Validate checks doc against schemaID. Invalid JSON and schema violations both
// return an error wrapping ErrFormat.
func (v *SchemaValidator) Validate(schemaID string, doc []byte) error {
	s, ok := v.schemas[schemaID]
	if !ok {
		return fmt.Errorf("unknown schema %s", schemaID)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrFormat, strings.Join(msgs, "; "))
	}
	return nil
}

var (
	defaultValidator     *SchemaValidator
	defaultValidatorErr  error
	defaultValidatorOnce sync.Once
)

func validate(schemaID string, doc []byte) error {
	defaultValidatorOnce.Do(func() {
		defaultValidator, defaultValidatorErr = NewSchemaValidator()
	})
	if defaultValidatorErr != nil {
		return defaultValidatorErr
	}
	return defaultValidator.Validate(schemaID, doc)
}
