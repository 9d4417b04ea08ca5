package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/hubflow/internal/flows"
	"github.com/tjfontaine/hubflow/internal/pipeline"
)

// maxBodyBytes caps inbound flow payloads.
const maxBodyBytes = 4 << 20

// FlowRunner runs named flows.
type FlowRunner interface {
	RunFlow(ctx context.Context, name string, env *flows.Envelope) (*pipeline.FlowContext, error)
	FlowNames() []string
}

// FlowHandler exposes flows over HTTP.
type FlowHandler struct {
	runner FlowRunner
	logger *slog.Logger
}

// NewFlowHandler creates a handler for runner.
func NewFlowHandler(runner FlowRunner, logger *slog.Logger) *FlowHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowHandler{runner: runner, logger: logger}
}

// Mount registers the flow routes on r.
func (h *FlowHandler) Mount(r chi.Router) {
	r.Get("/flows", h.list)
	r.Post("/flows/{flow}", h.run)
}

type flowResponse struct {
	RequestID         string              `json:"request_id"`
	Summary           string              `json:"summary"`
	Enqueued          []string            `json:"enqueued,omitempty"`
	JobErrors         []pipeline.JobError `json:"job_errors,omitempty"`
	ParametersUpdated bool                `json:"parameters_updated,omitempty"`
	Errors            []string            `json:"errors,omitempty"`
}

func (h *FlowHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"flows": h.runner.FlowNames()})
}

func (h *FlowHandler) run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "flow")
	AddLogField(ctx, "flow", name)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		AddError(ctx, err)
		writeJSON(w, http.StatusRequestEntityTooLarge, flowResponse{Summary: "request body too large"})
		return
	}

	env, err := flows.ParseEnvelope(data)
	if err != nil {
		AddError(ctx, err)
		writeJSON(w, http.StatusBadRequest, flowResponse{Summary: err.Error()})
		return
	}
	if env.RequestID == "" {
		env.RequestID = GetRequestID(ctx)
	}

	fc, err := h.runner.RunFlow(ctx, name, env)
	if errors.Is(err, flows.ErrFlowNotFound) {
		writeJSON(w, http.StatusNotFound, flowResponse{RequestID: env.RequestID, Summary: err.Error()})
		return
	}
	if err != nil {
		AddError(ctx, err)
		h.logger.Error("flow run failed", slog.String("flow", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, flowResponse{RequestID: env.RequestID, Summary: "internal error"})
		return
	}

	resp := flowResponse{
		RequestID:         fc.RequestID,
		Enqueued:          fc.Enqueued,
		JobErrors:         fc.JobErrors,
		ParametersUpdated: fc.ParametersUpdated,
	}
	if fc.Failed() {
		AddLogField(ctx, "error", fc.Message)
		resp.Summary = fc.Message
		resp.Errors = fc.Errors
		status := fc.ErrorCode
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, resp)
		return
	}

	resp.Summary = fmt.Sprintf("Successfully processed %d %s", fc.ObjectCount, fc.EventType)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
