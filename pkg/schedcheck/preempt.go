// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/spin"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
)

const (
	// passBudgetFactor bounds a single preemption probe. A pass that takes
	// this many floors is broken no matter what the measured budget says.
	passBudgetFactor = 20

	// noiseRate is the background submission rate for the noisy variant.
	noiseRate = 200.0

	// resetSlackFactor bounds how long after the configured preempt timeout
	// the forced reset may arrive.
	resetSlackFactor = 10
)

func preempt(e *Env) {
	runPreempt(e, false)
}

func preemptNoise(e *Env) {
	runPreempt(e, true)
}

// runPreempt holds each engine hostage with a minimum-priority spinner and
// measures how quickly maximum-priority stores get through. The budget is
// derived from the fastest observed pass, so the oracle tracks the device
// rather than wall-clock folklore.
func runPreempt(e *Env, noisy bool) {
	dev := e.Device()
	floor := e.Config().PreemptLatencyFloor()
	passBudget := time.Duration(passBudgetFactor) * floor

	for _, eng := range e.Engines() {
		eng := eng
		scratch := e.NewScratch()
		lo := e.NewContext(device.MinPriority)
		hi := e.NewContext(device.MaxPriority)

		if noisy {
			n, err := StartNoise(e.Context(), dev, eng, noiseRate)
			require.NoErrorf(e, err, "starting noise on %s", eng)
			e.Defer(func() error { return n.Stop(e.Context()) })
		}

		s, err := spin.New(e.Context(), dev, lo, spin.WithEngine(eng))
		require.NoErrorf(e, err, "starting spinner on %s", eng)
		e.Defer(func() error { return s.Free(e.Context()) })
		require.NoErrorf(e, s.WaitUntilStarted(e.Context()), "spinner on %s never started", eng)

		passes := e.Config().Run.PreemptPasses
		latencies := make([]time.Duration, 0, passes)
		for pass := 1; pass <= passes; pass++ {
			begin := time.Now()
			f, err := submit.StoreDword(e.Context(), dev, hi, eng, scratch, 0, uint32(pass), submit.StoreOpts{})
			require.NoErrorf(e, err, "pass %d store on %s", pass, eng)
			require.NoErrorf(e, f.WaitTimeout(passBudget),
				"pass %d store on %s still pending while the spinner holds the engine", pass, eng)
			latencies = append(latencies, time.Since(begin))

			require.Falsef(e, s.Fence().Signalled(), "spinner on %s died during pass %d", eng, pass)
			require.Equalf(e, uint32(pass), e.ReadScratch(scratch, 0), "pass %d store on %s did not land", pass, eng)
		}

		budget := latencyBudget(latencies, floor, e.Config().Tolerance.TimingFraction)
		for i, l := range latencies {
			require.LessOrEqualf(e, l, budget,
				"pass %d preemption latency %v exceeds budget %v on %s", i+1, l, budget, eng)
		}

		require.NoErrorf(e, s.Free(e.Context()), "freeing spinner on %s", eng)
		e.WaitIdle(scratch)
	}
}

// latencyBudget doubles the fastest observed preemption, pads it by the
// timing slack and never lets it drop below the configured floor.
func latencyBudget(latencies []time.Duration, floor time.Duration, slack float64) time.Duration {
	min := latencies[0]
	for _, l := range latencies[1:] {
		if l < min {
			min = l
		}
	}
	budget := time.Duration(float64(2*min) * (1 + slack))
	if budget < floor {
		budget = floor
	}
	return budget
}

// preemptTimeout pins a non-preemptible spinner under an aggressive preempt
// timeout and expects the scheduler to shoot it down rather than let the
// high-priority store starve.
func preemptTimeout(e *Env) {
	dev := e.Device()
	const timeoutMs = 50

	require.NoError(e, dev.SetHangcheck(false), "disabling hang detection")
	e.Defer(func() error { return dev.SetHangcheck(true) })

	for _, eng := range e.Engines() {
		eng := eng
		require.NoErrorf(e, dev.SetEngineProperty(eng, device.PropPreemptTimeoutMs, timeoutMs),
			"tuning preempt timeout on %s", eng)

		scratch := e.NewScratch()
		lo := e.NewContext(device.MinPriority)
		hi := e.NewContext(device.MaxPriority)

		s, err := spin.New(e.Context(), dev, lo, spin.WithEngine(eng), spin.WithNoPreemption())
		require.NoErrorf(e, err, "starting non-preemptible spinner on %s", eng)
		e.Defer(func() error { return s.Free(e.Context()) })
		require.NoErrorf(e, s.WaitUntilStarted(e.Context()), "spinner on %s never started", eng)

		f, err := submit.StoreDword(e.Context(), dev, hi, eng, scratch, 0, 0xF1E, submit.StoreOpts{})
		require.NoErrorf(e, err, "high priority store on %s", eng)

		// The spinner refuses arbitration, so the only way forward is a
		// forced reset once the preempt timeout expires.
		werr := s.Fence().WaitTimeout(resetSlackFactor * timeoutMs * time.Millisecond)
		require.ErrorIsf(e, werr, device.ErrReset,
			"non-preemptible spinner on %s must be reset after %dms", eng, timeoutMs)

		require.NoErrorf(e, f.Wait(e.Context()), "high priority store on %s after the reset", eng)
		e.WaitIdle(scratch)
		require.EqualValuesf(e, 0xF1E, e.ReadScratch(scratch, 0), "store on %s did not land after the reset", eng)
	}
}
