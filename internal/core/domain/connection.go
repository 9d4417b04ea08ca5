// Package domain holds the records and error types shared by the flow engine.
package domain

import (
	"strings"
	"time"
)

// Connection describes a remote endpoint: where to deliver, how to
// authenticate, and the default parameters sent with every delivery.
type Connection struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// URL is the host and optional base path, without a scheme
	// (e.g. "www.store.com" or "api.store.com/hub").
	URL string `json:"url" db:"url"`

	// Key identifies the hub to the remote side. Not used by the engine.
	Key string `json:"key" db:"key"`

	// Token is sent as the authentication credential on every webhook call.
	Token string `json:"-" db:"token"`

	// Parameters are the stored per-connection defaults. Keys are strings.
	Parameters map[string]any `json:"parameters" db:"-"`

	// LockVersion increments on every parameter write and guards
	// conditional updates.
	LockVersion int64 `json:"lock_version" db:"lock_version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasParameters reports whether the connection stores any parameters.
func (c *Connection) HasParameters() bool {
	return len(c.Parameters) > 0
}

// Endpoint returns the URL for path on this connection using scheme.
func (c *Connection) Endpoint(scheme, path string) string {
	if scheme == "" {
		scheme = "https"
	}
	host := strings.TrimSuffix(c.URL, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + host + path
}

// Clone returns a copy of the connection whose parameter map can be modified
// without affecting the original.
func (c *Connection) Clone() *Connection {
	cp := *c
	if c.Parameters != nil {
		cp.Parameters = make(map[string]any, len(c.Parameters))
		for k, v := range c.Parameters {
			cp.Parameters[k] = v
		}
	}
	return &cp
}
