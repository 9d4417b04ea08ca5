// Package flows builds flow definitions from configuration and keeps the
// set currently served.
package flows

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/jobs"
	"github.com/tjfontaine/hubflow/internal/pipeline"
	"github.com/tjfontaine/hubflow/internal/pkg/config"
)

// Definition is a configured flow: a destination connection and its jobs.
type Definition struct {
	name       string
	connection string
	lookup     jobs.ConnectionLookup
	jobs       []pipeline.Job
}

var _ pipeline.Flow = (*Definition)(nil)

func (d *Definition) Name() string { return d.name }

// Connection returns the name of the destination connection.
func (d *Definition) Connection() string { return d.connection }

// Jobs returns the flow's jobs in configured order.
func (d *Definition) Jobs() []pipeline.Job { return d.jobs }

// ResolveConnection loads the destination connection.
func (d *Definition) ResolveConnection(ctx context.Context) (*domain.Connection, error) {
	return d.lookup.GetConnection(ctx, d.connection)
}

// NewContext creates a FlowContext for one run of this flow.
func (d *Definition) NewContext(body []byte, parameters map[string]any, requestID string) *pipeline.FlowContext {
	fc := pipeline.NewFlowContext(d, body, parameters, d.jobs...)
	fc.RequestID = requestID
	return fc
}

// Build creates definitions for every configured flow.
func Build(cfgs []config.FlowConfig, deps jobs.Deps) (map[string]*Definition, error) {
	if deps.Connections == nil {
		return nil, fmt.Errorf("connection lookup is required")
	}

	defs := make(map[string]*Definition, len(cfgs))
	for _, fc := range cfgs {
		if _, dup := defs[fc.Name]; dup {
			return nil, fmt.Errorf("duplicate flow %q", fc.Name)
		}

		def := &Definition{name: fc.Name, connection: fc.Connection, lookup: deps.Connections}
		for _, jc := range fc.Jobs {
			job, err := buildJob(fc, jc, deps)
			if err != nil {
				return nil, fmt.Errorf("flow %s: %w", fc.Name, err)
			}
			def.jobs = append(def.jobs, job)
		}
		defs[fc.Name] = def
	}
	return defs, nil
}

func buildJob(flow config.FlowConfig, jc config.JobConfig, deps jobs.Deps) (pipeline.Job, error) {
	connection := jc.Connection
	if connection == "" {
		connection = flow.Connection
	}

	switch jc.Type {
	case "", jobs.TypeWebhook:
		return jobs.NewWebhookJob(jobs.WebhookJobConfig{
			Name:       jc.Name,
			Connection: connection,
			Path:       jc.Path,
			EventTypes: jc.EventTypes,
			Options:    jc.Options,
		}, deps)
	default:
		return nil, fmt.Errorf("job %s: unsupported type %q", jc.Name, jc.Type)
	}
}

// Registry holds the flows currently served. Lookups never block a reload.
type Registry struct {
	defs atomic.Pointer[map[string]*Definition]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*Definition{}
	r.defs.Store(&empty)
	return r
}

// Replace swaps in a new set of definitions.
func (r *Registry) Replace(defs map[string]*Definition) {
	if defs == nil {
		defs = map[string]*Definition{}
	}
	r.defs.Store(&defs)
}

// Load builds definitions from cfgs and swaps them in. On error the current
// set is kept.
func (r *Registry) Load(cfgs []config.FlowConfig, deps jobs.Deps) error {
	defs, err := Build(cfgs, deps)
	if err != nil {
		return err
	}
	r.Replace(defs)
	return nil
}

// Get returns the flow named name.
func (r *Registry) Get(name string) (*Definition, bool) {
	def, ok := (*r.defs.Load())[name]
	return def, ok
}

// Names returns the served flow names, sorted.
func (r *Registry) Names() []string {
	defs := *r.defs.Load()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
