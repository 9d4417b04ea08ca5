// Package runtime provides the Engine that wires configuration, storage,
// flows and the HTTP server together and manages their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/core/ports"
	"github.com/tjfontaine/hubflow/internal/flows"
	"github.com/tjfontaine/hubflow/internal/jobs"
	"github.com/tjfontaine/hubflow/internal/pipeline"
	"github.com/tjfontaine/hubflow/internal/pkg/config"
	"github.com/tjfontaine/hubflow/internal/pkg/safehttp"
	"github.com/tjfontaine/hubflow/internal/server"
	"github.com/tjfontaine/hubflow/internal/storage/memory"
	"github.com/tjfontaine/hubflow/internal/storage/sqldb"
	"github.com/tjfontaine/hubflow/internal/webhook"
)

// Engine runs flows. It can serve them over HTTP, or be embedded and driven
// through RunFlow.
type Engine struct {
	// Dependencies (injected via options)
	config     ports.ConfigProvider
	store      ports.ConnectionStore
	ownsStore  bool
	httpClient *http.Client
	logger     *slog.Logger

	// Built by Open
	cfg       *config.Config
	deps      jobs.Deps
	queue     *jobs.Queue
	registry  *flows.Registry
	organizer *pipeline.Organizer
	server    *server.Server

	ctx      context.Context
	cancel   context.CancelFunc
	serveErr chan error
	mu       sync.Mutex
	opened   atomic.Bool
	started  bool
}

var _ server.FlowRunner = (*Engine)(nil)

// New creates an Engine with the given options. A config provider is
// required; storage defaults to what the configuration names.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:   slog.Default(),
		registry: flows.NewRegistry(),
		serveErr: make(chan error, 1),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			e.closeStore()
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if e.config == nil {
		e.closeStore()
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}

	return e, nil
}

func (e *Engine) setStore(store ports.ConnectionStore, owned bool) {
	e.closeStore()
	e.store = store
	e.ownsStore = owned
}

func (e *Engine) closeStore() {
	if e.store != nil && e.ownsStore {
		if err := e.store.Close(); err != nil {
			e.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
	e.store = nil
	e.ownsStore = false
}

// Open loads the configuration, opens storage, seeds configured
// connections and builds the flows. It is called by Start and is safe to
// call more than once.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open(ctx)
}

func (e *Engine) open(ctx context.Context) error {
	if e.opened.Load() {
		return nil
	}

	cfg, err := e.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if e.store == nil {
		store, err := storeFromConfig(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		e.setStore(store, true)
	}

	if err := e.seedConnections(ctx, cfg.Connections); err != nil {
		return err
	}

	timeout, err := cfg.Webhook.TimeoutDuration()
	if err != nil {
		return err
	}
	requestTimeout, err := cfg.Server.RequestTimeoutDuration()
	if err != nil {
		return err
	}

	if e.httpClient == nil {
		transport := cleanhttp.DefaultPooledTransport()
		if cfg.Webhook.DenyPrivateNetworks {
			transport = safehttp.Guard(transport)
		}
		e.httpClient = webhook.NewHTTPClientWithTransport(transport, timeout)
	}
	e.queue = jobs.NewQueue(jobs.QueueConfig{
		Workers: cfg.Queue.Workers,
		Buffer:  cfg.Queue.Buffer,
		Logger:  e.logger,
	})
	e.deps = jobs.Deps{
		Connections: e.store,
		Queue:       e.queue,
		HTTPClient:  e.httpClient,
		Scheme:      cfg.Webhook.Scheme,
		TokenHeader: cfg.Webhook.TokenHeader,
		Timeout:     timeout,
		Logger:      e.logger,
	}

	if err := e.registry.Load(cfg.Flows, e.deps); err != nil {
		_ = e.queue.Close(ctx)
		e.queue = nil
		return fmt.Errorf("build flows: %w", err)
	}

	e.organizer = pipeline.NewOrganizer(nil, e.store, e.logger)
	e.server = server.New(cfg.Server.Port, e.logger, requestTimeout)
	server.NewFlowHandler(e, e.logger).Mount(e.server.Router)

	e.cfg = cfg
	e.opened.Store(true)

	e.logger.Info("engine opened",
		slog.Int("flows", len(cfg.Flows)),
		slog.Int("connections", len(cfg.Connections)),
		slog.Int("workers", cfg.Queue.Workers))
	return nil
}

func storeFromConfig(cfg config.StorageConfig) (ports.ConnectionStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		path := cfg.SQLite.Path
		if path == "" {
			path = "./data/hub.db"
		}
		return openSQLite(path)
	case "postgres", "mysql":
		driver := cfg.Database.Driver
		if driver == "" {
			driver = cfg.Type
		}
		return sqldb.New(sqldb.Config{Driver: driver, DSN: cfg.Database.DSN})
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// seedConnections creates configured connections that are not stored yet.
// Existing records are left alone so runtime parameter updates survive a
// restart.
func (e *Engine) seedConnections(ctx context.Context, conns []config.ConnectionConfig) error {
	for _, cc := range conns {
		_, err := e.store.GetConnection(ctx, cc.Name)
		if err == nil {
			continue
		}
		if !domain.IsNotFound(err) {
			return fmt.Errorf("seed connection %s: %w", cc.Name, err)
		}

		conn := &domain.Connection{
			Name:       cc.Name,
			URL:        cc.URL,
			Key:        cc.Key,
			Token:      cc.Token,
			Parameters: cc.Parameters,
		}
		if err := e.store.CreateConnection(ctx, conn); err != nil {
			return fmt.Errorf("seed connection %s: %w", cc.Name, err)
		}
		e.logger.Info("connection seeded", slog.String("connection", cc.Name))
	}
	return nil
}

// Start opens the engine, starts watching the configuration and serves HTTP
// in the background. Listener failures are reported on Err.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	if err := e.open(ctx); err != nil {
		return err
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.config.Watch(e.ctx, e.onConfigChange); err != nil {
		e.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
	}

	srv := e.server
	go func() {
		if err := srv.Start(); err != nil {
			e.logger.Error("server error", slog.String("error", err.Error()))
			e.serveErr <- err
		}
	}()

	e.started = true
	e.logger.Info("engine started", slog.Int("port", e.cfg.Server.Port))
	return nil
}

// Err reports a failure of the HTTP listener.
func (e *Engine) Err() <-chan error {
	return e.serveErr
}

func (e *Engine) onConfigChange(cfg *config.Config) {
	e.logger.Info("config changed, reloading")
	if err := e.reload(e.ctx, cfg); err != nil {
		e.logger.Error("failed to reload", slog.String("error", err.Error()))
	}
}

// reload seeds new connections and swaps in the new flow set. Server,
// storage and queue settings apply on restart only.
func (e *Engine) reload(ctx context.Context, cfg *config.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.seedConnections(ctx, cfg.Connections); err != nil {
		return err
	}
	if err := e.registry.Load(cfg.Flows, e.deps); err != nil {
		return fmt.Errorf("rebuild flows: %w", err)
	}
	e.cfg.Flows = cfg.Flows
	e.cfg.Connections = cfg.Connections

	e.logger.Info("reload complete", slog.Int("flows", len(cfg.Flows)))
	return nil
}

// RunFlow runs the flow called name on env.
func (e *Engine) RunFlow(ctx context.Context, name string, env *flows.Envelope) (*pipeline.FlowContext, error) {
	if !e.isOpen() {
		return nil, fmt.Errorf("engine not open")
	}
	def, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", flows.ErrFlowNotFound, name)
	}
	if env == nil {
		env = &flows.Envelope{}
	}
	fc := def.NewContext(env.Body, env.Parameters, env.RequestID)
	return e.organizer.Run(ctx, fc), nil
}

// FlowNames returns the names of the flows currently served.
func (e *Engine) FlowNames() []string {
	return e.registry.Names()
}

// Store returns the connection store. It is nil until the engine is open.
func (e *Engine) Store() ports.ConnectionStore {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store
}

// Handler returns the HTTP handler. It is nil until the engine is open.
func (e *Engine) Handler() http.Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server == nil {
		return nil
	}
	return e.server.Router
}

func (e *Engine) isOpen() bool {
	return e.opened.Load()
}

// Shutdown stops the server, drains queued deliveries and closes storage.
// Requests in flight finish against the open engine before anything else
// is closed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.logger.Info("shutting down engine")
	if e.cancel != nil {
		e.cancel()
	}
	srv := e.server
	started := e.started
	e.mu.Unlock()

	var errs []error
	if started && srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			e.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queue != nil {
		if err := e.queue.Close(ctx); err != nil {
			e.logger.Error("failed to drain job queue", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	e.closeStore()

	if err := e.config.Close(); err != nil {
		e.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	e.opened.Store(false)
	e.started = false
	e.logger.Info("engine shutdown complete")
	return errors.Join(errs...)
}
