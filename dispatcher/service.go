package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/depex"
	"github.com/firmkit/fwdispatch/module"
	"github.com/firmkit/fwdispatch/registry"
	"github.com/firmkit/fwdispatch/volume"
)

type entry struct {
	mod       module.Module
	state     module.State
	reason    module.Reason
	lastEval  bool
	invokeErr error

	// seq is the position in actual dispatch order, valid once state is
	// Dispatched.
	seq int
}

type service struct {
	entries []*entry
	reg     *registry.Registry
	invoker Invoker
	logger  *slog.Logger

	volumesLoaded  int
	volumesCorrupt int
	dispatched     int
	rounds         int

	// inRound guards against an entry point recursing into Dispatch; the
	// nested request is recorded and served by the outer loop instead.
	inRound    bool
	redispatch bool
}

// NewService creates a dispatch scheduler. A nil invoker treats every entry
// point as an empty call that publishes nothing.
func NewService(invoker Invoker, logger *slog.Logger) Service {
	if invoker == nil {
		invoker = InvokerFunc(func(context.Context, module.Module) ([]uuid.UUID, error) {
			return nil, nil
		})
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		reg:     registry.New(),
		invoker: invoker,
		logger:  logger,
	}
}

func (svc *service) LoadVolume(_ context.Context, raw []byte) error {
	mods, err := volume.Scan(raw)
	if err != nil {
		svc.volumesCorrupt++

		return err
	}

	svc.appendVolume(mods)
	svc.volumesLoaded++

	return nil
}

// appendVolume adds scanned modules to the arena in scan order, settling the
// terminal state of entries that will never be scheduled.
func (svc *service) appendVolume(mods []module.Module) {
	vol := svc.volumesLoaded
	for i := range mods {
		mods[i].Volume = vol
		e := &entry{mod: mods[i]}
		switch {
		case mods[i].Kind.Dispatchable():
			e.state = module.Pending
		case knownKind(mods[i].Kind):
			e.state = module.Skipped
			e.reason = module.ReasonNonDispatchable
		default:
			e.state = module.Skipped
			e.reason = module.ReasonUnknownKind
		}
		svc.entries = append(svc.entries, e)
	}
}

func knownKind(k module.Kind) bool {
	switch k {
	case module.KindCombinedPeiDriver,
		module.KindManagementModeModule,
		module.KindCombinedManagementModeAndDriver,
		module.KindManagementModeCore:
		return true
	default:
		return false
	}
}

func (svc *service) Dispatch(ctx context.Context) (Report, error) {
	if svc.inRound {
		// Reentrant request from an entry point: the outer loop will keep
		// iterating, so the work is already covered.
		svc.redispatch = true

		return Report{}, nil
	}

	for {
		progress := svc.round(ctx)
		svc.rounds++
		if progress > 0 {
			continue
		}
		if svc.redispatch {
			svc.redispatch = false

			continue
		}

		break
	}

	return svc.report(), nil
}

// round walks the pending arena once, front to back. Entries appended during
// the round (nested volumes) are outside the snapshot and become eligible in
// the next round, keeping within-round traversal order well defined.
func (svc *service) round(ctx context.Context) int {
	svc.inRound = true
	defer func() { svc.inRound = false }()

	progress := 0
	limit := len(svc.entries)
	for i := 0; i < limit; i++ {
		e := svc.entries[i]
		if e.state != module.Pending {
			continue
		}

		ready, err := depex.Evaluate(e.mod.Depex, svc.reg)
		if err != nil {
			e.state = module.DepexMalformed
			e.reason = module.ReasonMalformedProgram
			e.invokeErr = err
			progress++
			svc.logger.Warn("rejected module with malformed dependency program",
				slog.String("module", e.mod.ID.String()),
				slog.Any("error", err))

			continue
		}
		e.lastEval = ready
		if !ready {
			continue
		}

		svc.invoke(ctx, e)
		progress++
	}

	return progress
}

// invoke runs the module's entry point and applies its effects immediately,
// making them visible to modules later in the same round.
func (svc *service) invoke(ctx context.Context, e *entry) {
	tokens, err := svc.invoker.Invoke(ctx, e.mod)
	if err != nil {
		e.invokeErr = fmt.Errorf("entry point: %w", err)
		svc.logger.Error("module entry point failed",
			slog.String("module", e.mod.ID.String()),
			slog.Any("error", err))
	}
	for _, token := range tokens {
		if svc.reg.Publish(token) {
			svc.logger.Debug("capability token published",
				slog.String("module", e.mod.ID.String()),
				slog.String("token", token.String()))
		}
	}

	e.state = module.Dispatched
	e.seq = svc.dispatched
	svc.dispatched++
	svc.logger.Info("dispatched module",
		slog.String("module", e.mod.ID.String()),
		slog.String("kind", e.mod.Kind.String()))

	if e.mod.Kind == module.KindFirmwareVolumeImage && e.mod.VolumeImage != nil {
		svc.discoverNested(e)
	}
}

// discoverNested scans the volume payload of a dispatched volume-image
// module and appends its modules to the end of the arena. A corrupt payload
// is isolated to that volume.
func (svc *service) discoverNested(e *entry) {
	mods, err := volume.Scan(e.mod.VolumeImage)
	if err != nil {
		svc.volumesCorrupt++
		e.invokeErr = errors.Join(e.invokeErr, err)
		svc.logger.Warn("nested volume is corrupt",
			slog.String("module", e.mod.ID.String()),
			slog.Any("error", err))

		return
	}

	svc.appendVolume(mods)
	svc.volumesLoaded++
	svc.logger.Info("discovered nested volume",
		slog.String("module", e.mod.ID.String()),
		slog.Int("modules", len(mods)))
}

func (svc *service) report() Report {
	r := Report{
		Dispatched:     make([]Status, svc.dispatched),
		Rounds:         svc.rounds,
		VolumesLoaded:  svc.volumesLoaded,
		VolumesCorrupt: svc.volumesCorrupt,
	}
	for _, e := range svc.entries {
		s := e.status()
		switch e.state {
		case module.Dispatched:
			r.Dispatched[e.seq] = s
		case module.Pending:
			s.Reason = module.ReasonBlockedPending
			r.Blocked = append(r.Blocked, s)
		case module.DepexMalformed:
			r.Malformed = append(r.Malformed, s)
		case module.Skipped:
			r.Skipped = append(r.Skipped, s)
		}
	}

	return r
}

func (svc *service) Modules(_ context.Context) []Status {
	statuses := make([]Status, len(svc.entries))
	for i, e := range svc.entries {
		statuses[i] = e.status()
	}

	return statuses
}

func (svc *service) Tokens(_ context.Context) []uuid.UUID {
	return svc.reg.Tokens()
}

func (e *entry) status() Status {
	s := Status{
		Module:   e.mod,
		State:    e.state,
		Reason:   e.reason,
		LastEval: e.lastEval,
	}
	if e.invokeErr != nil {
		s.Error = e.invokeErr.Error()
	}

	return s
}
