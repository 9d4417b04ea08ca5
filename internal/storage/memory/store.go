package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/storage"
)

// Store is an in-memory implementation of ConnectionStore. Parameters are
// round-tripped through JSON so values read back match the SQL store.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	connections map[string]*domain.Connection
}

var _ storage.ConnectionStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		connections: make(map[string]*domain.Connection),
	}
}

func (s *Store) CreateConnection(ctx context.Context, conn *domain.Connection) error {
	params, err := copyParameters(conn.Parameters)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.connections[conn.Name]; exists {
		return fmt.Errorf("connection %s already exists", conn.Name)
	}

	s.nextID++
	now := time.Now().UTC()
	conn.ID = s.nextID
	conn.LockVersion = 0
	conn.CreatedAt = now
	conn.UpdatedAt = now

	stored := conn.Clone()
	stored.Parameters = params
	s.connections[conn.Name] = stored
	return nil
}

func (s *Store) GetConnection(ctx context.Context, name string) (*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, exists := s.connections[name]
	if !exists {
		return nil, fmt.Errorf("connection %s: %w", name, domain.ErrConnectionNotFound)
	}
	return snapshot(conn)
}

func (s *Store) ListConnections(ctx context.Context) ([]*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		cp, err := snapshot(conn)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) UpdateParameters(ctx context.Context, name string, expectedVersion int64, parameters map[string]any) (int64, error) {
	params, err := copyParameters(parameters)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, exists := s.connections[name]
	if !exists {
		return 0, fmt.Errorf("connection %s: %w", name, domain.ErrConnectionNotFound)
	}
	if conn.LockVersion != expectedVersion {
		return 0, fmt.Errorf("connection %s at version %d: %w", name, expectedVersion, domain.ErrStaleConnection)
	}

	conn.Parameters = params
	conn.LockVersion++
	conn.UpdatedAt = time.Now().UTC()
	return conn.LockVersion, nil
}

func (s *Store) Close() error {
	return nil
}

func snapshot(conn *domain.Connection) (*domain.Connection, error) {
	params, err := copyParameters(conn.Parameters)
	if err != nil {
		return nil, err
	}
	cp := conn.Clone()
	cp.Parameters = params
	return cp, nil
}

func copyParameters(p map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(p) == 0 {
		return out, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}
	return out, nil
}
