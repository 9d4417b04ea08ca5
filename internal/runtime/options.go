package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tjfontaine/hubflow/internal/adapters/config/file"
	"github.com/tjfontaine/hubflow/internal/core/ports"
	"github.com/tjfontaine/hubflow/internal/pkg/config"
	"github.com/tjfontaine/hubflow/internal/storage/sqldb"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(e *Engine) error {
		provider, err := file.NewProvider(path, e.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		e.config = provider
		return nil
	}
}

// WithConfig uses a fixed configuration. It is validated when the engine
// opens and never reloads.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		e.config = &staticConfig{cfg: cfg}
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(e *Engine) error {
		e.config = provider
		return nil
	}
}

// WithSQLite uses SQLite storage at path, creating its directory if needed.
func WithSQLite(path string) Option {
	return func(e *Engine) error {
		store, err := openSQLite(path)
		if err != nil {
			return err
		}
		e.setStore(store, true)
		return nil
	}
}

// WithPostgres uses PostgreSQL storage.
func WithPostgres(dsn string) Option {
	return func(e *Engine) error {
		store, err := sqldb.New(sqldb.Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		e.setStore(store, true)
		return nil
	}
}

// WithMySQL uses MySQL storage. The DSN must include parseTime=true.
func WithMySQL(dsn string) Option {
	return func(e *Engine) error {
		store, err := sqldb.New(sqldb.Config{Driver: "mysql", DSN: dsn})
		if err != nil {
			return fmt.Errorf("create mysql storage: %w", err)
		}
		e.setStore(store, true)
		return nil
	}
}

// WithStore sets a custom connection store. The caller keeps ownership and
// must close it.
func WithStore(store ports.ConnectionStore) Option {
	return func(e *Engine) error {
		e.setStore(store, false)
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// WithHTTPClient sets the client used for webhook deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) error {
		e.httpClient = client
		return nil
	}
}

func openSQLite(path string) (*sqldb.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	store, err := sqldb.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("create sqlite storage: %w", err)
	}
	return store, nil
}

// staticConfig serves a fixed configuration.
type staticConfig struct {
	cfg *config.Config
}

var _ ports.ConfigProvider = (*staticConfig)(nil)

func (s *staticConfig) Load(ctx context.Context) (*config.Config, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	return s.cfg, nil
}

func (s *staticConfig) Watch(ctx context.Context, onChange func(*config.Config)) error {
	return nil
}

func (s *staticConfig) Close() error { return nil }
