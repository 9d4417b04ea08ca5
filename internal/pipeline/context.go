package pipeline

import (
	"context"
	"encoding/json"

	"github.com/tjfontaine/hubflow/internal/core/domain"
)

// Flow identifies the connection a run belongs to.
type Flow interface {
	Name() string

	// ResolveConnection returns the flow's destination connection as
	// currently stored.
	ResolveConnection(ctx context.Context) (*domain.Connection, error)
}

// Job is a unit of work a flow may fan out to.
type Job interface {
	Name() string

	// Perform reports whether the job applies to this run.
	Perform(fc *FlowContext) bool

	// Enqueue executes the job or hands it to a queue. It must not retain fc.
	Enqueue(ctx context.Context, fc *FlowContext) error
}

// JobError records a job whose enqueue failed.
type JobError struct {
	Job string `json:"job"`
	Err error  `json:"-"`
}

// MarshalJSON renders the error message alongside the job name.
func (e JobError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Job   string `json:"job"`
		Error string `json:"error"`
	}{e.Job, msg})
}

// FlowContext is the state of one flow run. It is owned by a single run and
// must not be shared between concurrent runs.
type FlowContext struct {
	Flow       Flow
	Body       json.RawMessage
	Parameters map[string]any
	Jobs       []Job
	RequestID  string

	// Set by CountObjects.
	EventType   string
	Object      map[string]any
	ObjectCount int

	// Set by PerformJobs.
	Enqueued  []string
	JobErrors []JobError

	// Set by PersistParameters when a write happened.
	ParametersUpdated bool

	// Errors holds individual validation messages.
	Errors []string

	failed    bool
	Message   string
	ErrorCode int
}

// NewFlowContext creates a context for running flow over body.
func NewFlowContext(flow Flow, body []byte, parameters map[string]any, jobs ...Job) *FlowContext {
	return &FlowContext{
		Flow:       flow,
		Body:       body,
		Parameters: parameters,
		Jobs:       jobs,
	}
}

// Fail marks the run failed. Later stages do not execute.
func (fc *FlowContext) Fail(code int, message string) {
	fc.failed = true
	fc.ErrorCode = code
	fc.Message = message
}

// Failed reports whether a stage failed the run.
func (fc *FlowContext) Failed() bool {
	return fc.failed
}

// Success reports whether the run has not failed.
func (fc *FlowContext) Success() bool {
	return !fc.failed
}

// FlowName returns the name of the flow, or "" if none is set.
func (fc *FlowContext) FlowName() string {
	if fc.Flow == nil {
		return ""
	}
	return fc.Flow.Name()
}
