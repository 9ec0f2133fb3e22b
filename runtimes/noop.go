package runtimes

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/module"
)

// Noop is an invoker that runs nothing. It records which modules were
// invoked, which is all a dry run or a scheduling test needs.
type Noop struct {
	logger  *slog.Logger
	invoked []uuid.UUID
}

func NewNoop(logger *slog.Logger) *Noop {
	if logger == nil {
		logger = slog.Default()
	}

	return &Noop{logger: logger}
}

func (n *Noop) Invoke(_ context.Context, m module.Module) ([]uuid.UUID, error) {
	n.invoked = append(n.invoked, m.ID)
	n.logger.Debug("dry-run entry point",
		slog.String("module", m.ID.String()),
		slog.String("kind", m.Kind.String()))

	return nil, nil
}

// Invoked returns the IDs of invoked modules in invocation order.
func (n *Noop) Invoked() []uuid.UUID {
	return slices.Clone(n.invoked)
}
