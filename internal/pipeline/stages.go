package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/core/ports"
	"github.com/tjfontaine/hubflow/internal/params"
	"github.com/tjfontaine/hubflow/internal/schema"
)

// Stage is one step of a flow. A stage either contributes to fc or calls
// fc.Fail.
type Stage interface {
	Name() string
	Process(ctx context.Context, fc *FlowContext)
}

// DefaultPersistAttempts bounds how often PersistParameters reloads the
// connection after losing a concurrent update.
const DefaultPersistAttempts = 3

// ValidateSchema checks the raw body against the payload schema.
type ValidateSchema struct {
	Validator *schema.Validator
}

func (s *ValidateSchema) Name() string { return "validate_schema" }

func (s *ValidateSchema) Process(ctx context.Context, fc *FlowContext) {
	err := s.Validator.Validate(fc.Body)
	if err == nil {
		return
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		fc.Errors = append(fc.Errors, verr.Messages...)
		fc.Fail(http.StatusBadRequest, strings.Join(verr.Messages, "; "))
		return
	}
	fc.Fail(http.StatusBadRequest, err.Error())
}

// CountObjects extracts the event type and object from the body.
type CountObjects struct{}

func (s *CountObjects) Name() string { return "count_objects" }

func (s *CountObjects) Process(ctx context.Context, fc *FlowContext) {
	var doc map[string]any
	if err := json.Unmarshal(fc.Body, &doc); err != nil {
		fc.Fail(http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	switch len(doc) {
	case 0:
		fc.Fail(http.StatusBadRequest, "no objects in payload")
		return
	case 1:
	default:
		fc.Fail(http.StatusBadRequest, fmt.Sprintf("payload carries %d object types, expected 1", len(doc)))
		return
	}

	for eventType, value := range doc {
		obj, ok := value.(map[string]any)
		if !ok {
			fc.Fail(http.StatusBadRequest, fmt.Sprintf("%s is not an object", eventType))
			return
		}
		fc.EventType = eventType
		fc.Object = obj
		fc.ObjectCount = 1
	}
}

// PerformJobs enqueues every job that applies to the run. Enqueue failures
// are logged and recorded; they never fail the context.
type PerformJobs struct {
	Logger *slog.Logger
}

func (s *PerformJobs) Name() string { return "perform_jobs" }

func (s *PerformJobs) Process(ctx context.Context, fc *FlowContext) {
	logger := loggerOrDefault(s.Logger)

	for _, job := range fc.Jobs {
		if !job.Perform(fc) {
			logger.Debug("job skipped",
				slog.String("flow", fc.FlowName()),
				slog.String("job", job.Name()),
				slog.String("event_type", fc.EventType),
			)
			continue
		}

		if err := job.Enqueue(ctx, fc); err != nil {
			logger.Warn("job failed",
				slog.String("flow", fc.FlowName()),
				slog.String("job", job.Name()),
				slog.String("request_id", fc.RequestID),
				slog.String("error", err.Error()),
			)
			fc.JobErrors = append(fc.JobErrors, JobError{Job: job.Name(), Err: err})
			continue
		}
		fc.Enqueued = append(fc.Enqueued, job.Name())
	}
}

// PersistParameters writes caller parameters back to the flow's connection,
// restricted to the keys the connection already stores. Nothing is written
// when the caller supplied no parameters or the merge changes nothing.
type PersistParameters struct {
	Store       ports.ConnectionStore
	Logger      *slog.Logger
	MaxAttempts int
}

func (s *PersistParameters) Name() string { return "persist_parameters" }

func (s *PersistParameters) Process(ctx context.Context, fc *FlowContext) {
	requested := params.Compact(fc.Parameters)
	if len(requested) == 0 {
		return
	}
	if fc.Flow == nil {
		s.fail(fc, errors.New("no flow"))
		return
	}

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPersistAttempts
	}

	for attempt := 1; ; attempt++ {
		conn, err := fc.Flow.ResolveConnection(ctx)
		if err != nil {
			s.fail(fc, err)
			return
		}

		merged, changed := params.Merge(conn.Parameters, requested)
		if !changed {
			return
		}

		_, err = s.Store.UpdateParameters(ctx, conn.Name, conn.LockVersion, merged)
		if err == nil {
			fc.ParametersUpdated = true
			return
		}
		if domain.IsStale(err) && attempt < attempts {
			loggerOrDefault(s.Logger).Debug("connection changed during persist, retrying",
				slog.String("flow", fc.FlowName()),
				slog.String("connection", conn.Name),
				slog.Int("attempt", attempt),
			)
			continue
		}
		s.fail(fc, err)
		return
	}
}

func (s *PersistParameters) fail(fc *FlowContext, err error) {
	perr := &domain.PersistenceError{Flow: fc.FlowName(), Err: err}
	fc.Fail(perr.Code(), perr.Error())
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
