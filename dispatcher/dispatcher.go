// Package dispatcher schedules firmware modules discovered across volumes.
// It owns the pending arena, the capability registry, and the round loop
// that runs dependency evaluation to fixpoint.
package dispatcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/module"
)

// Invoker is the entry-point boundary: it runs externally-owned module code
// and returns the capability tokens that code published. The call is
// synchronous and runs to completion before the dispatcher proceeds.
type Invoker interface {
	Invoke(ctx context.Context, m module.Module) ([]uuid.UUID, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, m module.Module) ([]uuid.UUID, error)

func (f InvokerFunc) Invoke(ctx context.Context, m module.Module) ([]uuid.UUID, error) {
	return f(ctx, m)
}

// Status is the externally visible record of one discovered module.
type Status struct {
	Module module.Module `json:"module"`
	State  module.State  `json:"state"`
	Reason module.Reason `json:"reason,omitempty"`

	// LastEval is the most recent depex verdict for modules that are still
	// pending when dispatch halts.
	LastEval bool `json:"last_eval"`

	// Error carries an entry-point failure or the evaluator's rejection of
	// the dependency program. A failed entry point still counts as
	// dispatched: it is not retried.
	Error string `json:"error,omitempty"`
}

// Report is the final accounting of a dispatch run. Dispatched is in actual
// dispatch order; every non-dispatched module appears in exactly one of the
// other lists with a machine-readable reason.
type Report struct {
	Dispatched []Status `json:"dispatched"`
	Blocked    []Status `json:"blocked"`
	Malformed  []Status `json:"malformed"`
	Skipped    []Status `json:"skipped"`

	Rounds         int `json:"rounds"`
	VolumesLoaded  int `json:"volumes_loaded"`
	VolumesCorrupt int `json:"volumes_corrupt"`
}

// Service is the dispatch scheduler surface. It is single-threaded by
// design: calls are not safe for concurrent use and entry points run to
// completion before the next pending module is visited.
type Service interface {
	// LoadVolume scans a top-level volume region and appends its modules to
	// the pending arena. A corrupt volume is rejected whole; previously
	// loaded volumes are unaffected.
	LoadVolume(ctx context.Context, raw []byte) error

	// Dispatch runs rounds until fixpoint: either no pending modules remain
	// or a full round makes no progress. Both are normal termination. A
	// reentrant call from inside an entry point is recorded and absorbed by
	// the outer loop.
	Dispatch(ctx context.Context) (Report, error)

	// Modules returns every discovered module and its state, in discovery
	// order.
	Modules(ctx context.Context) []Status

	// Tokens returns the published capability tokens in publication order.
	Tokens(ctx context.Context) []uuid.UUID
}
