package ports

import (
	"context"

	"github.com/tjfontaine/hubflow/internal/core/domain"
)

// ConnectionStore persists connection records.
type ConnectionStore interface {
	// CreateConnection inserts a new connection and fills in its ID,
	// LockVersion and timestamps.
	CreateConnection(ctx context.Context, conn *domain.Connection) error

	// GetConnection retrieves a connection by name. Returns an error wrapping
	// domain.ErrConnectionNotFound if none exists.
	GetConnection(ctx context.Context, name string) (*domain.Connection, error)

	// ListConnections returns all connections ordered by name.
	ListConnections(ctx context.Context) ([]*domain.Connection, error)

	// UpdateParameters replaces the stored parameters of the connection named
	// name, provided its lock version still equals expectedVersion. The write
	// is all-or-nothing. A version mismatch returns an error wrapping
	// domain.ErrStaleConnection. On success the new lock version is returned.
	UpdateParameters(ctx context.Context, name string, expectedVersion int64, parameters map[string]any) (int64, error)

	// Close closes the storage connection
	Close() error
}
