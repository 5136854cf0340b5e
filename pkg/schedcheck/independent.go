// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/spin"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
)

// independent parks a spinner on each engine in turn and proves the other
// engines keep retiring work: engine timelines schedule independently, so a
// busy engine must not delay stores submitted elsewhere.
func independent(e *Env) {
	dev := e.Device()
	engines := e.Engines()
	if len(engines) < 2 {
		e.Skipf("engine independence needs at least two engines, this run selected %d", len(engines))
	}

	for _, busy := range engines {
		busy := busy
		cctx := e.NewContext(device.DefaultPriority)

		s, err := spin.New(e.Context(), dev, cctx, spin.WithEngine(busy))
		require.NoErrorf(e, err, "starting spinner on %s", busy)
		e.Defer(func() error { return s.Free(e.Context()) })
		require.NoErrorf(e, s.WaitUntilStarted(e.Context()), "spinner on %s never started", busy)

		for i, eng := range engines {
			if eng == busy {
				continue
			}
			scratch := e.NewScratch()
			want := uint32(0xeb000000) + uint32(i)

			f, err := submit.StoreDword(e.Context(), dev, cctx, eng, scratch, 0, want, submit.StoreOpts{})
			require.NoErrorf(e, err, "submitting store on %s", eng)
			require.NoErrorf(e, f.WaitTimeout(engineEscapeBudget),
				"store on %s must complete while %s is held by a spinner", eng, busy)

			e.WaitIdle(scratch)
			require.Equalf(e, want, e.ReadScratch(scratch, 0), "store on %s did not land", eng)
		}

		require.Falsef(e, s.Fence().Signalled(), "spinner on %s stopped on its own", busy)
		require.NoErrorf(e, s.Free(e.Context()), "freeing spinner on %s", busy)
	}
}
