// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"encoding/binary"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/batch"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
)

const (
	// semProbeDelay is how long the waiter gets to (wrongly) complete
	// before we conclude the wait is real.
	semProbeDelay = 50 * time.Millisecond

	// engineEscapeBudget bounds how long independent work may stay stuck
	// behind a parked semaphore.
	engineEscapeBudget = 500 * time.Millisecond
)

// semaphoreWait parks a batch on an unsignalled memory semaphore and checks
// both halves of the contract: the wait must actually hold execution, and a
// parked wait must not hold the engine hostage. The release is a CPU write,
// the way a driver pokes a mapped semaphore page.
func semaphoreWait(e *Env) {
	dev := e.Device()
	if !dev.Info().Generation.SupportsSoftpin() {
		e.Skipf("memory semaphores need gen8 or newer, device is %s", dev.Info().Generation)
	}

	for _, eng := range e.Engines() {
		eng := eng
		sem := e.NewScratch()
		result := e.NewScratch()
		probe := e.NewScratch()
		waiter := e.NewContext(device.DefaultPriority)
		bystander := e.NewContext(device.DefaultPriority)

		bb, err := batch.NewBuilder(dev, 4096)
		require.NoErrorf(e, err, "waiter builder for %s", eng)
		e.Defer(bb.Close)
		_, err = bb.AddObject(sem, scratchSize, 0, device.ExecObjectAsync)
		require.NoErrorf(e, err, "binding semaphore for %s", eng)
		_, err = bb.AddObject(result, scratchSize, 0, device.ExecObjectWrite)
		require.NoErrorf(e, err, "binding result for %s", eng)

		enc := bb.Encoder()
		enc.SemaphoreWait(batch.PredGTE, bb.Ref(sem), 0, 1)
		enc.StoreDword(bb.Ref(result), 0, 0xA11)
		enc.End()
		fWaiter, err := bb.Flush(e.Context(), waiter, eng)
		require.NoErrorf(e, err, "submitting waiter on %s", eng)

		time.Sleep(semProbeDelay)
		require.Falsef(e, fWaiter.Signalled(), "semaphore wait on %s resolved without a release", eng)
		require.Zerof(e, e.ReadScratch(result, 0), "store on %s leaked past an unresolved semaphore", eng)

		// Independent work from another context must still get the engine.
		fProbe, err := submit.StoreDword(e.Context(), dev, bystander, eng, probe, 0, 0xB0B, submit.StoreOpts{})
		require.NoErrorf(e, err, "bystander store on %s", eng)
		require.NoErrorf(e, fProbe.WaitTimeout(engineEscapeBudget),
			"bystander on %s stuck behind a parked semaphore", eng)
		require.Falsef(e, fWaiter.Signalled(), "semaphore wait on %s resolved without a release", eng)

		var release [4]byte
		binary.LittleEndian.PutUint32(release[:], 1)
		require.NoErrorf(e, dev.WriteObject(sem, 0, release[:]), "releasing semaphore on %s", eng)

		require.NoErrorf(e, fWaiter.Wait(e.Context()), "waiter on %s after the release", eng)
		require.Lessf(e, fProbe.Seq(), fWaiter.Seq(), "bystander on %s retired after the blocked waiter", eng)
		e.WaitIdle(result)
		require.EqualValuesf(e, 0xA11, e.ReadScratch(result, 0), "store on %s after the release", eng)
	}
}
