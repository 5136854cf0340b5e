// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/cork"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
)

// fifo checks the timeline contract: equal priority stores from one context
// to one engine, released simultaneously, must retire in submission order.
// The stores carry no write hazard on the scratch, so any reordering the
// scheduler performed would surface as a stale final value.
func fifo(e *Env) {
	dev := e.Device()
	depth := uint32(e.Config().Run.QueueDepth)
	for _, eng := range e.Engines() {
		scratch := e.NewScratch()
		cctx := e.NewContext(device.DefaultPriority)
		plug := cork.Plug("fifo-" + eng.Name())

		fences := make([]*fence.Fence, 0, depth)
		for i := uint32(1); i <= depth; i++ {
			f, err := submit.StoreDword(e.Context(), dev, cctx, eng, scratch, 0, i, submit.StoreOpts{
				Cork:        plug,
				ReadOnlyDep: true,
			})
			require.NoErrorf(e, err, "queueing store %d on %s", i, eng)
			fences = append(fences, f)
		}
		plug.Unplug()

		for i, f := range fences {
			require.NoErrorf(e, f.Wait(e.Context()), "store %d on %s", i+1, eng)
		}
		require.EqualValuesf(e, depth, e.ReadScratch(scratch, 0),
			"same timeline must retire in submission order on %s", eng)
	}
}
