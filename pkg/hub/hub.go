// Package hub provides the public API for embedding the flow engine.
// This is the stable API for external consumers.
package hub

import (
	"github.com/tjfontaine/hubflow/internal/flows"
	"github.com/tjfontaine/hubflow/internal/pipeline"
	"github.com/tjfontaine/hubflow/internal/pkg/config"
	"github.com/tjfontaine/hubflow/internal/runtime"
)

// Engine runs flows and serves them over HTTP.
// See internal/runtime.Engine for full documentation.
type Engine = runtime.Engine

// Option is a functional option for configuring an Engine.
type Option = runtime.Option

// Config is the engine configuration.
type Config = config.Config

// Envelope is a flow invocation: a body plus the optional request id and
// parameters.
type Envelope = flows.Envelope

// Result is the outcome of a flow run.
type Result = pipeline.FlowContext

// New creates a new Engine with the given options.
// Example:
//
//	engine, err := hub.New(
//	    hub.WithFileConfig("config.yaml"),
//	    hub.WithSQLite("./data/hub.db"),
//	)
var New = runtime.New

// ParseEnvelope splits a raw request document into an Envelope.
var ParseEnvelope = flows.ParseEnvelope

// ErrFlowNotFound is returned by RunFlow for unknown flow names.
var ErrFlowNotFound = flows.ErrFlowNotFound

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage
	WithSQLite   = runtime.WithSQLite
	WithPostgres = runtime.WithPostgres
	WithMySQL    = runtime.WithMySQL
	WithStore    = runtime.WithStore

	// Advanced options
	WithLogger     = runtime.WithLogger
	WithHTTPClient = runtime.WithHTTPClient
)
