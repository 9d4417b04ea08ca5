package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tjfontaine/hubflow/internal/pipeline"

// Organizer runs an ordered list of stages over a FlowContext, stopping at
// the first stage that fails it. It holds no per-run state and is safe for
// concurrent use with independent contexts.
type Organizer struct {
	stages []Stage
	logger *slog.Logger
	tracer trace.Tracer
}

// NewOrganizerWithStages creates an organizer over stages in the given order.
func NewOrganizerWithStages(logger *slog.Logger, stages ...Stage) *Organizer {
	return &Organizer{
		stages: stages,
		logger: loggerOrDefault(logger),
		tracer: otel.Tracer(tracerName),
	}
}

// Stages returns the stage names in execution order.
func (o *Organizer) Stages() []string {
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the stages against fc and returns it. A missing RequestID is
// generated.
func (o *Organizer) Run(ctx context.Context, fc *FlowContext) *FlowContext {
	if fc.RequestID == "" {
		fc.RequestID = uuid.New().String()
	}

	ctx, span := o.tracer.Start(ctx, "flow.run", trace.WithAttributes(
		attribute.String("flow.name", fc.FlowName()),
		attribute.String("flow.request_id", fc.RequestID),
	))
	defer span.End()

	start := time.Now()
	for _, stage := range o.stages {
		stageCtx, stageSpan := o.tracer.Start(ctx, "flow.stage."+stage.Name())
		stage.Process(stageCtx, fc)
		if fc.Failed() {
			stageSpan.SetStatus(codes.Error, fc.Message)
		}
		stageSpan.End()

		if fc.Failed() {
			span.SetStatus(codes.Error, fc.Message)
			span.SetAttributes(attribute.Int("flow.error_code", fc.ErrorCode))
			o.logger.Warn("flow failed",
				slog.String("flow", fc.FlowName()),
				slog.String("request_id", fc.RequestID),
				slog.String("stage", stage.Name()),
				slog.Int("error_code", fc.ErrorCode),
				slog.String("message", fc.Message),
			)
			return fc
		}
	}

	span.SetAttributes(
		attribute.String("flow.event_type", fc.EventType),
		attribute.Int("flow.enqueued", len(fc.Enqueued)),
	)
	o.logger.Info("flow completed",
		slog.String("flow", fc.FlowName()),
		slog.String("request_id", fc.RequestID),
		slog.String("event_type", fc.EventType),
		slog.Int("enqueued", len(fc.Enqueued)),
		slog.Int("job_errors", len(fc.JobErrors)),
		slog.Bool("parameters_updated", fc.ParametersUpdated),
		slog.Duration("duration", time.Since(start)),
	)
	return fc
}
