// Package storage groups the connection store implementations.
package storage

import (
	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/core/ports"
)

// Re-export the store contract and record type from core so callers can
// depend on a single package.
type (
	ConnectionStore = ports.ConnectionStore
	Connection      = domain.Connection
)
