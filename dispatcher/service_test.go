package dispatcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmkit/fwdispatch/depex"
	"github.com/firmkit/fwdispatch/dispatcher"
	"github.com/firmkit/fwdispatch/module"
	"github.com/firmkit/fwdispatch/volume"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// publisher returns an invoker that publishes fixed tokens per module ID and
// records invocation order.
func publisher(tokens map[uuid.UUID][]uuid.UUID, order *[]uuid.UUID) dispatcher.Invoker {
	return dispatcher.InvokerFunc(func(_ context.Context, m module.Module) ([]uuid.UUID, error) {
		if order != nil {
			*order = append(*order, m.ID)
		}

		return tokens[m.ID], nil
	})
}

func buildVolume(t *testing.T, build func(b *volume.Builder)) []byte {
	t.Helper()
	var b volume.Builder
	build(&b)
	raw, err := b.Build()
	require.NoError(t, err)

	return raw
}

func dispatchedIDs(r dispatcher.Report) []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Dispatched))
	for i, s := range r.Dispatched {
		ids[i] = s.Module.ID
	}

	return ids
}

func TestDispatchSameRoundReadiness(t *testing.T) {
	t.Parallel()

	// Scenario: X publishes G_X, Y depends on it, Z can never run. Discovery
	// order is [Z, X, Y]; X's publication must make Y ready within the same
	// round.
	x, y, z := uuid.New(), uuid.New(), uuid.New()
	gx := uuid.New()

	raw := buildVolume(t, func(b *volume.Builder) {
		b.File(z, module.KindDriver).Depex((&depex.Builder{}).False().End())
		b.File(x, module.KindDriver)
		b.File(y, module.KindDriver).Depex((&depex.Builder{}).Push(gx).End())
	})

	var order []uuid.UUID
	svc := dispatcher.NewService(publisher(map[uuid.UUID][]uuid.UUID{x: {gx}}, &order), discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{x, y}, dispatchedIDs(report))
	assert.Equal(t, []uuid.UUID{x, y}, order)

	require.Len(t, report.Blocked, 1)
	assert.Equal(t, z, report.Blocked[0].Module.ID)
	assert.Equal(t, module.Pending, report.Blocked[0].State)
	assert.Equal(t, module.ReasonBlockedPending, report.Blocked[0].Reason)
	assert.False(t, report.Blocked[0].LastEval)
}

func TestDispatchNestedVolume(t *testing.T) {
	t.Parallel()

	// Scenario: volume-image module V carries a nested volume holding W. W
	// becomes eligible only in the round after V was dispatched.
	v, w := uuid.New(), uuid.New()

	nested := buildVolume(t, func(b *volume.Builder) {
		b.File(w, module.KindDriver)
	})
	raw := buildVolume(t, func(b *volume.Builder) {
		b.File(v, module.KindFirmwareVolumeImage).VolumeImage(nested)
	})

	var order []uuid.UUID
	svc := dispatcher.NewService(publisher(nil, &order), discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{v, w}, dispatchedIDs(report))
	assert.Empty(t, report.Blocked)
	assert.Equal(t, 2, report.VolumesLoaded)
	// Round 1 dispatches V, round 2 dispatches W, round 3 sees no progress.
	assert.Equal(t, 3, report.Rounds)
}

func TestDispatchMalformedProgramIsIsolated(t *testing.T) {
	t.Parallel()

	bad, good := uuid.New(), uuid.New()

	raw := buildVolume(t, func(b *volume.Builder) {
		b.File(bad, module.KindDriver).Depex([]byte{depex.OpTrue}) // missing END
		b.File(good, module.KindDriver)
	})

	svc := dispatcher.NewService(nil, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{good}, dispatchedIDs(report))
	require.Len(t, report.Malformed, 1)
	assert.Equal(t, bad, report.Malformed[0].Module.ID)
	assert.Equal(t, module.DepexMalformed, report.Malformed[0].State)
	assert.Equal(t, module.ReasonMalformedProgram, report.Malformed[0].Reason)
}

func TestDispatchPreservesFileOrderWithoutDepex(t *testing.T) {
	t.Parallel()

	ids := make([]uuid.UUID, 16)
	raw := buildVolume(t, func(b *volume.Builder) {
		for i := range ids {
			ids[i] = uuid.New()
			b.File(ids[i], module.KindDriver)
		}
	})

	svc := dispatcher.NewService(nil, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ids, dispatchedIDs(report), "dispatch order must equal on-disk order")
}

func TestDispatchIsDeterministic(t *testing.T) {
	t.Parallel()

	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	ga, gc := uuid.New(), uuid.New()

	raw := buildVolume(t, func(vb *volume.Builder) {
		vb.File(a, module.KindDriver)
		vb.File(b, module.KindDriver).Depex((&depex.Builder{}).Push(ga).Push(gc).And().End())
		vb.File(c, module.KindDriver).Depex((&depex.Builder{}).Push(ga).End())
		vb.File(d, module.KindDriver).Depex((&depex.Builder{}).Push(gc).Not().Push(ga).Or().End())
	})
	tokens := map[uuid.UUID][]uuid.UUID{a: {ga}, c: {gc}}

	run := func() []uuid.UUID {
		svc := dispatcher.NewService(publisher(tokens, nil), discard)
		require.NoError(t, svc.LoadVolume(context.Background(), raw))
		report, err := svc.Dispatch(context.Background())
		require.NoError(t, err)

		return dispatchedIDs(report)
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestDispatchNeverInvokesNonDispatchableKinds(t *testing.T) {
	t.Parallel()

	kinds := []module.Kind{
		module.KindManagementModeModule,
		module.KindManagementModeCore,
		module.KindCombinedPeiDriver,
		module.KindCombinedManagementModeAndDriver,
	}

	ids := make([]uuid.UUID, len(kinds))
	raw := buildVolume(t, func(b *volume.Builder) {
		for i, k := range kinds {
			ids[i] = uuid.New()
			b.File(ids[i], k)
		}
	})

	var order []uuid.UUID
	svc := dispatcher.NewService(publisher(nil, &order), discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Empty(t, order, "non-dispatchable entry points must never be called")
	assert.Empty(t, report.Dispatched)
	require.Len(t, report.Skipped, len(kinds))
	for i, s := range report.Skipped {
		assert.Equal(t, ids[i], s.Module.ID)
		assert.Equal(t, module.Skipped, s.State)
		assert.Equal(t, module.ReasonNonDispatchable, s.Reason)
	}
}

func TestDispatchRecordsUnknownKinds(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	raw := buildVolume(t, func(b *volume.Builder) {
		b.File(id, module.Kind(0x3F))
	})

	svc := dispatcher.NewService(nil, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, module.ReasonUnknownKind, report.Skipped[0].Reason)
}

func TestLoadVolumeCorruptIsIsolated(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	good := buildVolume(t, func(b *volume.Builder) {
		b.File(id, module.KindDriver)
	})

	svc := dispatcher.NewService(nil, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), good))
	err := svc.LoadVolume(context.Background(), []byte("not a volume at all"))
	require.ErrorIs(t, err, volume.ErrVolumeCorrupt)

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{id}, dispatchedIDs(report))
	assert.Equal(t, 1, report.VolumesLoaded)
	assert.Equal(t, 1, report.VolumesCorrupt)
}

func TestDispatchCorruptNestedVolumeIsIsolated(t *testing.T) {
	t.Parallel()

	v, other := uuid.New(), uuid.New()
	raw := buildVolume(t, func(b *volume.Builder) {
		b.File(v, module.KindFirmwareVolumeImage).VolumeImage([]byte("garbage"))
		b.File(other, module.KindDriver)
	})

	svc := dispatcher.NewService(nil, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{v, other}, dispatchedIDs(report))
	assert.Equal(t, 1, report.VolumesCorrupt)
	assert.Contains(t, report.Dispatched[0].Error, "volume corrupt")
}

func TestDispatchEntryPointFailureIsTerminal(t *testing.T) {
	t.Parallel()

	failing, healthy := uuid.New(), uuid.New()
	raw := buildVolume(t, func(b *volume.Builder) {
		b.File(failing, module.KindDriver)
		b.File(healthy, module.KindDriver)
	})

	calls := 0
	invoker := dispatcher.InvokerFunc(func(_ context.Context, m module.Module) ([]uuid.UUID, error) {
		if m.ID == failing {
			calls++

			return nil, errors.New("boom")
		}

		return nil, nil
	})

	svc := dispatcher.NewService(invoker, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "failed entry points are not retried")
	assert.Equal(t, []uuid.UUID{failing, healthy}, dispatchedIDs(report))
	assert.Contains(t, report.Dispatched[0].Error, "boom")
	assert.Empty(t, report.Dispatched[1].Error)
}

func TestDispatchReentrancyIsAbsorbed(t *testing.T) {
	t.Parallel()

	a, b := uuid.New(), uuid.New()
	gb := uuid.New()
	raw := buildVolume(t, func(vb *volume.Builder) {
		vb.File(a, module.KindDriver)
		vb.File(b, module.KindDriver).Depex((&depex.Builder{}).Push(gb).End())
	})

	var svc dispatcher.Service
	invoker := dispatcher.InvokerFunc(func(ctx context.Context, m module.Module) ([]uuid.UUID, error) {
		if m.ID == a {
			// A nested dispatch request from inside an entry point must be
			// recorded and served by the outer loop, not by recursion.
			nested, err := svc.Dispatch(ctx)
			require.NoError(t, err)
			assert.Empty(t, nested.Dispatched)

			return []uuid.UUID{gb}, nil
		}

		return nil, nil
	})

	svc = dispatcher.NewService(invoker, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{a, b}, dispatchedIDs(report))
}

func TestDispatchRoundCountIsBounded(t *testing.T) {
	t.Parallel()

	// A dependency chain forces one dispatch per round; the loop must finish
	// within len(modules)+1 rounds.
	const n = 12
	ids := make([]uuid.UUID, n)
	gates := make([]uuid.UUID, n)
	for i := range ids {
		ids[i], gates[i] = uuid.New(), uuid.New()
	}

	raw := buildVolume(t, func(b *volume.Builder) {
		// Reverse order so each round can satisfy exactly one module.
		for i := n - 1; i >= 0; i-- {
			f := b.File(ids[i], module.KindDriver)
			if i > 0 {
				f.Depex((&depex.Builder{}).Push(gates[i-1]).End())
			}
		}
	})

	tokens := make(map[uuid.UUID][]uuid.UUID, n)
	for i := range ids {
		tokens[ids[i]] = []uuid.UUID{gates[i]}
	}

	svc := dispatcher.NewService(publisher(tokens, nil), discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	report, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Dispatched, n)
	assert.Empty(t, report.Blocked)
	assert.LessOrEqual(t, report.Rounds, n+1)
}

func TestModulesSnapshot(t *testing.T) {
	t.Parallel()

	a, b := uuid.New(), uuid.New()
	raw := buildVolume(t, func(vb *volume.Builder) {
		vb.File(a, module.KindDriver)
		vb.File(b, module.KindManagementModeCore)
	})

	svc := dispatcher.NewService(nil, discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))

	before := svc.Modules(context.Background())
	require.Len(t, before, 2)
	assert.Equal(t, module.Pending, before[0].State)
	assert.Equal(t, module.Skipped, before[1].State)

	_, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	after := svc.Modules(context.Background())
	assert.Equal(t, module.Dispatched, after[0].State)
	assert.Equal(t, module.Skipped, after[1].State)
}

func TestTokensSnapshot(t *testing.T) {
	t.Parallel()

	a := uuid.New()
	ga := uuid.New()
	raw := buildVolume(t, func(b *volume.Builder) {
		b.File(a, module.KindDriver)
	})

	svc := dispatcher.NewService(publisher(map[uuid.UUID][]uuid.UUID{a: {ga}}, nil), discard)
	require.NoError(t, svc.LoadVolume(context.Background(), raw))
	assert.Empty(t, svc.Tokens(context.Background()))

	_, err := svc.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{ga}, svc.Tokens(context.Background()))
}
