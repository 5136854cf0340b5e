// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/cork"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
)

// ringFull exhausts a low-priority context's ring behind a cork and checks
// that the backpressure is per context: a high-priority submission on the
// same engine must still be admitted and complete while the corked work
// sits in the full ring.
func ringFull(e *Env) {
	dev := e.Device()

	for _, eng := range e.Engines() {
		eng := eng
		loScratch := e.NewScratch()
		hiScratch := e.NewScratch()
		lo := e.NewContext(device.MinPriority)
		hi := e.NewContext(device.MaxPriority)

		depth, err := submit.MeasureRingDepth(e.Context(), dev, lo, eng)
		require.NoErrorf(e, err, "measuring ring depth on %s", eng)
		require.Positivef(e, depth, "ring depth on %s", eng)

		plug := cork.Plug("ring-full-" + eng.Name())
		filled, err := submit.FillRing(e.Context(), dev, lo, eng, loScratch, plug)
		require.NoErrorf(e, err, "filling ring on %s", eng)
		require.Equalf(e, depth, filled, "ring on %s admitted %d, then %d on the second fill", eng, depth, filled)

		fHi, err := submit.StoreDword(e.Context(), dev, hi, eng, hiScratch, 0, 0xF00D, submit.StoreOpts{
			NonBlocking: true,
		})
		require.NoErrorf(e, err, "store on %s must be admitted while another context's ring is full", eng)
		require.NoErrorf(e, fHi.WaitTimeout(engineEscapeBudget),
			"store on %s must complete while the corked ring is full", eng)

		plug.Unplug()
		e.WaitIdle(loScratch)
		require.EqualValuesf(e, filled-1, e.ReadScratch(loScratch, 0),
			"corked stores on %s must drain in submission order", eng)
		require.EqualValuesf(e, 0xF00D, e.ReadScratch(hiScratch, 0), "store on %s did not land", eng)
	}
}
