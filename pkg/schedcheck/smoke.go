// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
)

// smoke proves the observable path works before any scheduling contract is
// asserted: on every engine a store submitted through the batch encoder
// must land in scratch memory and read back exactly.
func smoke(e *Env) {
	dev := e.Device()
	cctx := e.NewContext(device.DefaultPriority)

	for i, eng := range e.Engines() {
		scratch := e.NewScratch()
		want := uint32(0xc0de0000) + uint32(i)

		f, err := submit.StoreDword(e.Context(), dev, cctx, eng, scratch, 64, want, submit.StoreOpts{})
		require.NoErrorf(e, err, "submitting store on %s", eng)
		require.NoErrorf(e, f.Wait(e.Context()), "store on %s", eng)

		e.WaitIdle(scratch)
		require.Equalf(e, want, e.ReadScratch(scratch, 16), "store on %s did not land", eng)
		require.Zerof(e, e.ReadScratch(scratch, 0), "store on %s touched the wrong offset", eng)
	}
}
