// Package pipeline runs a flow: a fixed, ordered chain of stages over a
// single FlowContext.
//
// # Stages
//
// Every flow executes the same four stages in order:
//   - ValidateSchema: the raw body must satisfy the payload schema
//   - CountObjects: the body must carry exactly one event object
//   - PerformJobs: each eligible job is enqueued
//   - PersistParameters: caller parameters are written back to the
//     flow's connection, restricted to keys it already stores
//
// A stage that fails the context stops the chain; the failed context is
// returned to the caller with a message and an error code.
//
// # Inbound payload
//
//	{
//	  "order": { "id": "R12345", ... }
//	}
//
// Jobs see the event type ("order") and its object through the context. A
// job failure is recorded in FlowContext.JobErrors and does not stop
// sibling jobs or parameter persistence.
package pipeline
