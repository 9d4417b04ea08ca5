// Package schema validates inbound flow payloads against the structural
// contract every event must satisfy before any stage of a flow runs.
package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tjfontaine/hubflow/internal/core/domain"
)

// PayloadSchema is the contract for inbound payloads: a single lowercase
// top-level key naming the event type, whose value is an object with a
// string id.
const PayloadSchema = `{
  "type": "object",
  "maxProperties": 1,
  "additionalProperties": false,
  "patternProperties": {
    "^[a-z]*$": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string"}
      }
    }
  }
}`

// Validator checks documents against a compiled JSON schema. It is safe for
// concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the payload schema.
func NewValidator() (*Validator, error) {
	return NewValidatorFromString(PayloadSchema)
}

// NewValidatorFromString compiles an arbitrary JSON schema document.
func NewValidatorFromString(doc string) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// MustNewValidator is like NewValidator but panics if the schema does not
// compile.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks a raw JSON document. It returns nil when the document is
// valid and a *domain.ValidationError with one message per violation
// otherwise.
func (v *Validator) Validate(data []byte) error {
	return v.validate(gojsonschema.NewBytesLoader(data))
}

// ValidateGo checks an already decoded document.
func (v *Validator) ValidateGo(doc any) error {
	return v.validate(gojsonschema.NewGoLoader(doc))
}

func (v *Validator) validate(loader gojsonschema.JSONLoader) error {
	result, err := v.schema.Validate(loader)
	if err != nil {
		// The document could not be decoded at all.
		return &domain.ValidationError{Messages: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.String())
	}
	return &domain.ValidationError{Messages: messages}
}
