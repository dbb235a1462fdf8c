package validation

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaInteractionEvent = "interaction-event"
	schemaContentEvent     = "content-embedding-event"
)

// EventValidator checks inbound Kafka payloads against their JSON schemas
// before they are parsed. Compiled once at startup; a schema that fails to
// compile fails the boot.
type EventValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewEventValidator compiles the embedded event schemas.
func NewEventValidator() (*EventValidator, error) {
	validator := &EventValidator{
		schemas: make(map[string]*gojsonschema.Schema),
	}

	for _, name := range []string{schemaInteractionEvent, schemaContentEvent} {
		data, err := schemaFS.ReadFile(fmt.Sprintf("schemas/%s.json", name))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		validator.schemas[name] = schema
	}

	return validator, nil
}

// ValidateInteractionEvent checks a raw interaction event payload.
func (v *EventValidator) ValidateInteractionEvent(payload []byte) *Result {
	return v.validate(schemaInteractionEvent, payload)
}

// ValidateContentEvent checks a raw content embedding event payload.
func (v *EventValidator) ValidateContentEvent(payload []byte) *Result {
	return v.validate(schemaContentEvent, payload)
}

func (v *EventValidator) validate(name string, payload []byte) *Result {
	schema, ok := v.schemas[name]
	if !ok {
		return &Result{
			Valid:  false,
			Errors: []FieldError{{Field: "schema", Message: fmt.Sprintf("schema %q not loaded", name)}},
		}
	}

	outcome, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		// Not valid JSON at all.
		return &Result{
			Valid:  false,
			Errors: []FieldError{{Field: "payload", Message: err.Error()}},
		}
	}

	result := &Result{Valid: outcome.Valid()}
	for _, failure := range outcome.Errors() {
		result.Errors = append(result.Errors, FieldError{
			Field:   failure.Field(),
			Message: failure.Description(),
		})
	}
	return result
}

// Result is the outcome of one schema check.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// Error flattens the failures into one line for logs and DLQ headers.
func (r *Result) Error() string {
	if r.Valid {
		return ""
	}
	parts := make([]string, len(r.Errors))
	for i, failure := range r.Errors {
		parts[i] = fmt.Sprintf("%s: %s", failure.Field, failure.Message)
	}
	return strings.Join(parts, "; ")
}

// FieldError is one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
