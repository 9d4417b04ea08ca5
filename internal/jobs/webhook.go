package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/params"
	"github.com/tjfontaine/hubflow/internal/pipeline"
	"github.com/tjfontaine/hubflow/internal/webhook"
)

// TypeWebhook is the job type that posts the event to a connection.
const TypeWebhook = "webhook"

// ConnectionLookup resolves connections by name.
type ConnectionLookup interface {
	GetConnection(ctx context.Context, name string) (*domain.Connection, error)
}

// WebhookOptions are the free-form options of a webhook job.
type WebhookOptions struct {
	// FailOnError reports delivery errors as job failures. Only inline
	// queues can observe them.
	FailOnError bool `mapstructure:"fail_on_error"`

	// Timeout overrides the shared client timeout for this job.
	Timeout time.Duration `mapstructure:"timeout"`

	// TokenHeader overrides the header carrying the connection token.
	TokenHeader string `mapstructure:"token_header"`

	// Parameters are sent with every delivery, beneath caller parameters.
	Parameters map[string]any `mapstructure:"parameters"`
}

// DecodeWebhookOptions decodes raw job options.
func DecodeWebhookOptions(raw map[string]any) (WebhookOptions, error) {
	var opts WebhookOptions
	if len(raw) == 0 {
		return opts, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return opts, fmt.Errorf("create options decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("decode webhook options: %w", err)
	}
	return opts, nil
}

// WebhookJobConfig describes a webhook job.
type WebhookJobConfig struct {
	Name       string
	Connection string
	Path       string
	EventTypes []string
	Options    map[string]any
}

// Deps are the collaborators shared by every job of a runtime.
type Deps struct {
	Connections ConnectionLookup
	Queue       *Queue
	HTTPClient  *http.Client
	Scheme      string
	TokenHeader string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// WebhookJob posts {<event type>: object} to a path on a connection.
type WebhookJob struct {
	name       string
	connection string
	path       string
	eventTypes []string
	opts       WebhookOptions
	deps       Deps
	logger     *slog.Logger
}

var _ pipeline.Job = (*WebhookJob)(nil)

// NewWebhookJob creates a webhook job.
func NewWebhookJob(cfg WebhookJobConfig, deps Deps) (*WebhookJob, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("webhook job: name is required")
	}
	if cfg.Connection == "" {
		return nil, fmt.Errorf("webhook job %s: connection is required", cfg.Name)
	}
	if deps.Connections == nil {
		return nil, fmt.Errorf("webhook job %s: connection lookup is required", cfg.Name)
	}

	opts, err := DecodeWebhookOptions(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("webhook job %s: %w", cfg.Name, err)
	}

	if deps.Queue == nil {
		deps.Queue = NewQueue(QueueConfig{Logger: deps.Logger})
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookJob{
		name:       cfg.Name,
		connection: cfg.Connection,
		path:       cfg.Path,
		eventTypes: cfg.EventTypes,
		opts:       opts,
		deps:       deps,
		logger:     logger.With(slog.String("job", cfg.Name)),
	}, nil
}

func (j *WebhookJob) Name() string { return j.name }

// Perform reports whether the run's event type is one this job handles. An
// empty event type list matches every event.
func (j *WebhookJob) Perform(fc *pipeline.FlowContext) bool {
	if fc.EventType == "" || fc.Object == nil {
		return false
	}
	return len(j.eventTypes) == 0 || slices.Contains(j.eventTypes, fc.EventType)
}

// Enqueue resolves the job's connection and submits the delivery.
func (j *WebhookJob) Enqueue(ctx context.Context, fc *pipeline.FlowContext) error {
	conn, err := j.deps.Connections.GetConnection(ctx, j.connection)
	if err != nil {
		return fmt.Errorf("resolve connection %s: %w", j.connection, err)
	}

	client := webhook.New(conn, j.path, j.clientOptions()...)
	payload := map[string]any{fc.EventType: fc.Object}
	requestID := fc.RequestID
	parameters := params.DeepMerge(j.opts.Parameters, params.Compact(fc.Parameters))

	return j.deps.Queue.Submit(ctx, Task{
		Job:       j.name,
		RequestID: requestID,
		Run: func(ctx context.Context) error {
			resp, err := client.Post(ctx, payload, requestID, parameters)
			if err != nil {
				if j.opts.FailOnError {
					return err
				}
				j.logger.Warn("webhook delivery failed",
					slog.String("connection", conn.Name),
					slog.String("url", client.URL()),
					slog.String("request_id", requestID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if summary, ok := resp.Body["summary"].(string); ok {
				j.logger.Info("webhook delivered",
					slog.String("connection", conn.Name),
					slog.String("request_id", requestID),
					slog.String("summary", summary),
				)
			}
			return nil
		},
	})
}

func (j *WebhookJob) clientOptions() []webhook.Option {
	timeout := j.deps.Timeout
	if j.opts.Timeout > 0 {
		timeout = j.opts.Timeout
	}
	header := j.deps.TokenHeader
	if j.opts.TokenHeader != "" {
		header = j.opts.TokenHeader
	}

	opts := []webhook.Option{
		webhook.WithScheme(j.deps.Scheme),
		webhook.WithTokenHeader(header),
		webhook.WithTimeout(timeout),
		webhook.WithLogger(j.logger),
	}
	// A per-job timeout needs its own client; otherwise share the pool.
	if j.deps.HTTPClient != nil && j.opts.Timeout == 0 {
		opts = append(opts, webhook.WithHTTPClient(j.deps.HTTPClient))
	}
	return opts
}
