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

// reorder releases a minimum and a maximum priority store against the same
// word simultaneously. The high priority store must execute first, which
// means the low priority value is what survives in memory.
func reorder(e *Env) {
	dev := e.Device()
	for _, eng := range e.Engines() {
		scratch := e.NewScratch()
		lo := e.NewContext(device.MinPriority)
		hi := e.NewContext(device.MaxPriority)
		plug := cork.Plug("reorder-" + eng.Name())

		fLo, err := submit.StoreDword(e.Context(), dev, lo, eng, scratch, 0, uint32(lo), submit.StoreOpts{
			Cork:        plug,
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing low priority store on %s", eng)
		fHi, err := submit.StoreDword(e.Context(), dev, hi, eng, scratch, 0, uint32(hi), submit.StoreOpts{
			Cork:        plug,
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing high priority store on %s", eng)
		plug.Unplug()

		require.NoErrorf(e, fLo.Wait(e.Context()), "low priority store on %s", eng)
		require.NoErrorf(e, fHi.Wait(e.Context()), "high priority store on %s", eng)

		require.Lessf(e, fHi.Seq(), fLo.Seq(),
			"high priority store must retire before the low priority one on %s", eng)
		require.Equalf(e, uint32(lo), e.ReadScratch(scratch, 0),
			"low priority store must overwrite the high priority value on %s", eng)

		// Control: at equal priority the same release must keep
		// submission order, so the second value survives.
		ctl := e.NewScratch()
		a := e.NewContext(device.DefaultPriority)
		b := e.NewContext(device.DefaultPriority)
		ctlPlug := cork.Plug("reorder-control-" + eng.Name())

		fA, err := submit.StoreDword(e.Context(), dev, a, eng, ctl, 0, uint32(a), submit.StoreOpts{
			Cork:        ctlPlug,
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing first control store on %s", eng)
		fB, err := submit.StoreDword(e.Context(), dev, b, eng, ctl, 0, uint32(b), submit.StoreOpts{
			Cork:        ctlPlug,
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing second control store on %s", eng)
		ctlPlug.Unplug()

		require.NoErrorf(e, fA.Wait(e.Context()), "first control store on %s", eng)
		require.NoErrorf(e, fB.Wait(e.Context()), "second control store on %s", eng)
		require.Lessf(e, fA.Seq(), fB.Seq(),
			"equal priority stores must retire in submission order on %s", eng)
		require.Equalf(e, uint32(b), e.ReadScratch(ctl, 0),
			"the second of two equal priority stores must land last on %s", eng)
	}
}

// promotion links a minimum priority context into a default priority one
// through a shared buffer and checks the bump travels the dependency edge
// but no further: the promoted chain runs before medium priority noise that
// was queued ahead of it, so the noise value lands last in the result while
// the dependency buffer carries the high priority value.
func promotion(e *Env) {
	dev := e.Device()
	for _, eng := range e.Engines() {
		result := e.NewScratch()
		dep := e.NewScratch()
		noise := e.NewContext(device.MinPriority / 2)
		lo := e.NewContext(device.MinPriority)
		hi := e.NewContext(device.DefaultPriority)
		plug := cork.Plug("promotion-" + eng.Name())

		// FIFO alone would run the noise first; strict priority would
		// run it second. Promotion makes the order lo, hi, noise.
		fNoise, err := submit.StoreDword(e.Context(), dev, noise, eng, result, 0, uint32(noise), submit.StoreOpts{
			Cork:        plug,
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing noise store on %s", eng)
		fLoResult, err := submit.StoreDword(e.Context(), dev, lo, eng, result, 0, uint32(lo), submit.StoreOpts{
			Cork:        plug,
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing low priority result store on %s", eng)

		// The declared write is the edge the high priority read links to.
		fLoDep, err := submit.StoreDword(e.Context(), dev, lo, eng, dep, 0, uint32(lo), submit.StoreOpts{
			Cork: plug,
		})
		require.NoErrorf(e, err, "queueing low priority dependency store on %s", eng)
		fHiDep, err := submit.StoreDword(e.Context(), dev, hi, eng, dep, 0, uint32(hi), submit.StoreOpts{
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing high priority dependency store on %s", eng)
		fHiResult, err := submit.StoreDword(e.Context(), dev, hi, eng, result, 0, uint32(hi), submit.StoreOpts{
			ReadOnlyDep: true,
		})
		require.NoErrorf(e, err, "queueing high priority result store on %s", eng)
		plug.Unplug()

		require.NoErrorf(e, fNoise.Wait(e.Context()), "noise store on %s", eng)
		require.NoErrorf(e, fLoResult.Wait(e.Context()), "low priority result store on %s", eng)
		require.NoErrorf(e, fLoDep.Wait(e.Context()), "low priority dependency store on %s", eng)
		require.NoErrorf(e, fHiDep.Wait(e.Context()), "high priority dependency store on %s", eng)
		require.NoErrorf(e, fHiResult.Wait(e.Context()), "high priority result store on %s", eng)

		require.Lessf(e, fLoDep.Seq(), fNoise.Seq(),
			"promoted low priority work must run before the earlier queued noise on %s", eng)
		require.Equalf(e, uint32(hi), e.ReadScratch(dep, 0),
			"dependency buffer must carry the high priority value on %s", eng)
		require.Equalf(e, uint32(noise), e.ReadScratch(result, 0),
			"noise store must retire last into the result on %s", eng)
	}
}
