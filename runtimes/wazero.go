// Package runtimes provides entry-point invokers for dispatched modules.
package runtimes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/firmkit/fwdispatch/dispatcher"
	"github.com/firmkit/fwdispatch/module"
)

const (
	hostModule    = "fwdispatch"
	publishFn     = "publish_token"
	entryFunction = "entry"
)

type wazeroInvoker struct {
	logger *slog.Logger
}

// NewWazero returns an invoker that executes a module's executable section
// as a WASM binary. The guest publishes capability tokens by calling
// fwdispatch.publish_token with a pointer to a 16-byte GUID in its memory;
// the exported "entry" function is the module entry point and runs to
// completion before Invoke returns.
func NewWazero(logger *slog.Logger) dispatcher.Invoker {
	return &wazeroInvoker{logger: logger}
}

func (w *wazeroInvoker) Invoke(ctx context.Context, m module.Module) ([]uuid.UUID, error) {
	if len(m.Image) == 0 {
		return nil, nil
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	var published []uuid.UUID
	_, err := r.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, guest api.Module, ptr uint32) {
			buf, ok := guest.Memory().Read(ptr, 16)
			if !ok {
				w.logger.Error("publish_token pointer out of guest memory range",
					slog.String("module", m.ID.String()))

				return
			}
			token, err := uuid.FromBytes(buf)
			if err != nil {
				w.logger.Error("publish_token with invalid GUID bytes",
					slog.String("module", m.ID.String()), slog.Any("error", err))

				return
			}
			published = append(published, token)
		}).
		Export(publishFn).
		Instantiate(ctx)
	if err != nil {
		return nil, errors.Join(errors.New("failed to instantiate host module"), err)
	}

	guest, err := r.InstantiateWithConfig(ctx, m.Image,
		wazero.NewModuleConfig().WithName(m.ID.String()).WithStartFunctions("_initialize"))
	if err != nil {
		return published, errors.Join(errors.New("failed to instantiate Wasm module"), err)
	}

	entry := guest.ExportedFunction(entryFunction)
	if entry == nil {
		return published, fmt.Errorf("module does not export %q", entryFunction)
	}

	if _, err := entry.Call(ctx); err != nil {
		return published, errors.Join(errors.New("entry point trapped"), err)
	}

	return published, nil
}
