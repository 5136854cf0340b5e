// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"context"
	"math"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/batch"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/spin"
)

const fairnessSpinners = 3

// timeslice runs a semaphore ping-pong between two equal-priority contexts
// on one engine. Neither batch can finish unless the scheduler shares the
// engine: each side stores its round counter and then waits for the other
// side to catch up.
func timeslice(e *Env) {
	dev := e.Device()
	if !dev.Info().Generation.SupportsSoftpin() {
		e.Skipf("semaphore ping-pong needs gen8 or newer, device is %s", dev.Info().Generation)
	}
	rounds := uint32(e.Config().Run.PingPongRounds)

	for _, eng := range e.Engines() {
		eng := eng
		ping := e.NewScratch()
		pong := e.NewScratch()
		ca := e.NewContext(device.DefaultPriority)
		cb := e.NewContext(device.DefaultPriority)

		fa := submitPingPong(e, ca, eng, ping, pong, rounds)
		fb := submitPingPong(e, cb, eng, pong, ping, rounds)

		require.NoErrorf(e, fa.Wait(e.Context()), "ping batch on %s", eng)
		require.NoErrorf(e, fb.Wait(e.Context()), "pong batch on %s", eng)
		require.Equalf(e, rounds, e.ReadScratch(ping, 0), "ping rounds on %s", eng)
		require.Equalf(e, rounds, e.ReadScratch(pong, 0), "pong rounds on %s", eng)
	}
}

// submitPingPong encodes rounds of "bump own counter, wait for the other"
// into a single batch. Both counters are referenced async: the cross-waits
// are the synchronization, an implicit hazard here would deadlock.
func submitPingPong(e *Env, cctx device.ContextID, eng engine.Descriptor, own, other device.Handle, rounds uint32) *fence.Fence {
	bb, err := batch.NewBuilder(e.Device(), 4096)
	require.NoErrorf(e, err, "ping-pong builder for %s", eng)
	e.Defer(bb.Close)

	_, err = bb.AddObject(own, scratchSize, 0, device.ExecObjectWrite|device.ExecObjectAsync)
	require.NoErrorf(e, err, "binding counter for %s", eng)
	_, err = bb.AddObject(other, scratchSize, 0, device.ExecObjectAsync)
	require.NoErrorf(e, err, "binding peer counter for %s", eng)

	enc := bb.Encoder()
	for k := uint32(1); k <= rounds; k++ {
		enc.StoreDword(bb.Ref(own), 0, k)
		enc.SemaphoreWait(batch.PredGTE, bb.Ref(other), 0, k)
	}
	enc.End()

	f, err := bb.Flush(e.Context(), cctx, eng)
	require.NoErrorf(e, err, "submitting ping-pong on %s", eng)
	return f
}

// fairness keeps three equal-priority spinners on one engine for a fixed
// window and checks the busy-time split. The tolerance scales with the
// number of timeslice rotations that fit in the window, so a slower quantum
// gets a wider corridor rather than a flaky verdict.
func fairness(e *Env) {
	dev := e.Device()
	window := e.Config().FairnessDuration()

	for _, eng := range e.Engines() {
		eng := eng
		quantum, err := dev.EngineProperty(eng, device.PropTimesliceDurationMs)
		require.NoErrorf(e, err, "reading timeslice quantum on %s", eng)
		if quantum <= 0 {
			e.Skipf("timeslicing disabled on %s", eng)
		}
		slice := time.Duration(quantum) * time.Millisecond

		ctxs := make([]device.ContextID, fairnessSpinners)
		spinners := make([]*spin.Spinner, fairnessSpinners)
		for i := range ctxs {
			ctxs[i] = e.NewContext(device.DefaultPriority)
			s, err := spin.New(e.Context(), dev, ctxs[i], spin.WithEngine(eng))
			require.NoErrorf(e, err, "starting spinner %d on %s", i, eng)
			spinners[i] = s
			e.Defer(func() error { return s.Free(e.Context()) })
		}
		for i, s := range spinners {
			sctx, cancel := context.WithTimeout(e.Context(), window)
			err := s.WaitUntilStarted(sctx)
			cancel()
			require.NoErrorf(e, err, "spinner %d on %s never got a slice", i, eng)
		}

		base := make([]time.Duration, fairnessSpinners)
		for i, id := range ctxs {
			base[i], err = dev.ContextRuntime(id, eng)
			require.NoErrorf(e, err, "baseline busy time of spinner %d on %s", i, eng)
		}

		timer := time.NewTimer(window)
		select {
		case <-timer.C:
		case <-e.Context().Done():
			timer.Stop()
			require.NoErrorf(e, e.Context().Err(), "fairness window on %s interrupted", eng)
		}

		busy := make([]time.Duration, fairnessSpinners)
		var total time.Duration
		for i, id := range ctxs {
			r, err := dev.ContextRuntime(id, eng)
			require.NoErrorf(e, err, "busy time of spinner %d on %s", i, eng)
			busy[i] = r - base[i]
			total += busy[i]
		}
		for i, s := range spinners {
			require.NoErrorf(e, s.Free(e.Context()), "freeing spinner %d on %s", i, eng)
		}

		require.Positivef(e, total, "no busy time accumulated on %s", eng)
		share := total / fairnessSpinners
		rotations := math.Sqrt(float64(total) / float64(slice))
		bound := time.Duration(e.Config().Tolerance.FairnessFactor * rotations * float64(slice))
		for i, b := range busy {
			require.InDeltaf(e, float64(share), float64(b), float64(bound),
				"spinner %d on %s got %v of %v busy time, fair share is %v with tolerance %v",
				i, eng, b, total, share, bound)
		}
	}
}
