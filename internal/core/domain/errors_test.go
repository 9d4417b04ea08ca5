package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		expected string
	}{
		{
			name:     "no messages",
			err:      &ValidationError{},
			expected: "payload validation failed",
		},
		{
			name:     "multiple messages",
			err:      &ValidationError{Messages: []string{"(root): bad", "order: id is required"}},
			expected: "payload validation failed: (root): bad; order: id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := &PersistenceError{Flow: "orders", Err: cause}

	if got, want := err.Error(), "could not update orders parameters: disk full"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.Code() != http.StatusInternalServerError {
		t.Errorf("Code() = %d, want 500", err.Code())
	}
	if !errors.Is(err, cause) {
		t.Error("expected PersistenceError to unwrap to its cause")
	}
	if !IsPersistence(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsPersistence() = false for wrapped error")
	}
}

func TestWebhookError_Error(t *testing.T) {
	err := &WebhookError{StatusCode: 500, Body: `{"summary":"nope"}`}
	if got, want := err.Error(), `webhook returned status 500: {"summary":"nope"}`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	empty := &WebhookError{StatusCode: 404}
	if got, want := empty.Error(), "webhook returned status 404"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"validation", &ValidationError{}, IsValidation, true},
		{"validation wrapped", fmt.Errorf("stage: %w", &ValidationError{}), IsValidation, true},
		{"webhook", &WebhookError{StatusCode: 502}, IsWebhook, true},
		{"webhook mismatch", &ValidationError{}, IsWebhook, false},
		{"malformed", &MalformedResponseError{StatusCode: 200, Err: errors.New("eof")}, IsMalformedResponse, true},
		{"not found", fmt.Errorf("lookup store: %w", ErrConnectionNotFound), IsNotFound, true},
		{"stale", fmt.Errorf("update: %w", ErrStaleConnection), IsStale, true},
		{"stale mismatch", ErrConnectionNotFound, IsStale, false},
		{"nil", nil, IsWebhook, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("predicate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnection_Endpoint(t *testing.T) {
	conn := &Connection{URL: "www.store.com"}

	tests := []struct {
		scheme, path, want string
	}{
		{"http", "/api_path", "http://www.store.com/api_path"},
		{"", "/api_path", "https://www.store.com/api_path"},
		{"https", "orders", "https://www.store.com/orders"},
		{"https", "", "https://www.store.com"},
	}

	for _, tt := range tests {
		if got := conn.Endpoint(tt.scheme, tt.path); got != tt.want {
			t.Errorf("Endpoint(%q, %q) = %q, want %q", tt.scheme, tt.path, got, tt.want)
		}
	}
}

func TestConnection_Clone(t *testing.T) {
	conn := &Connection{Name: "store", Parameters: map[string]any{"region": "eu"}}
	cp := conn.Clone()
	cp.Parameters["region"] = "us"

	if conn.Parameters["region"] != "eu" {
		t.Errorf("original parameters modified through clone: %v", conn.Parameters)
	}
	if !cp.HasParameters() {
		t.Error("HasParameters() = false on clone with parameters")
	}
	if (&Connection{}).HasParameters() {
		t.Error("HasParameters() = true on empty connection")
	}
}
