package flows

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFlowNotFound is returned when no flow has the requested name.
var ErrFlowNotFound = errors.New("flow not found")

// Envelope is an inbound request split into its parts: the optional
// request_id and parameters keys, and the remaining document which is the
// flow body.
type Envelope struct {
	RequestID  string
	Parameters map[string]any
	Body       []byte
}

// ParseEnvelope splits a raw request document.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("invalid JSON: document must be an object")
	}

	env := &Envelope{}
	if raw, ok := doc["request_id"]; ok {
		if err := json.Unmarshal(raw, &env.RequestID); err != nil {
			return nil, fmt.Errorf("request_id must be a string")
		}
		delete(doc, "request_id")
	}
	if raw, ok := doc["parameters"]; ok {
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &env.Parameters); err != nil {
				return nil, fmt.Errorf("parameters must be an object")
			}
		}
		delete(doc, "parameters")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	env.Body = body
	return env, nil
}
