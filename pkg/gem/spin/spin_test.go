// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package spin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/cork"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/spin"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/sim"
)

var bcs0 = engine.Descriptor{Class: engine.ClassCopy, Instance: 0}

func newDevice(t *testing.T, opts ...sim.Option) (*sim.Device, device.ContextID) {
	t.Helper()
	dev, err := sim.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dev.Close())
	})
	cctx, err := dev.CreateContext(device.ContextConfig{})
	require.NoError(t, err)
	return dev, cctx
}

func TestSpinnerLifecycle(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)

	s, err := spin.New(ctx, dev, cctx)
	require.NoError(t, err)
	assert.Equal(t, dev.Engines()[0], s.Engine())
	assert.Equal(t, cctx, s.Context())

	require.NoError(t, s.WaitUntilStarted(ctx))
	started, err := s.Started()
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, fence.StatusPending, s.Fence().Status())

	require.NoError(t, s.End())
	require.NoError(t, s.Fence().WaitTimeout(2*time.Second))
	require.NoError(t, s.Free(ctx))
	require.NoError(t, s.Free(ctx))
}

func TestSpinnerOnChosenEngine(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)

	s, err := spin.New(ctx, dev, cctx, spin.WithEngine(bcs0))
	require.NoError(t, err)
	defer s.Free(ctx) //nolint:errcheck
	assert.Equal(t, bcs0, s.Engine())
	require.NoError(t, s.WaitUntilStarted(ctx))
}

func TestSpinnerHonoursDependencies(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)

	plug := cork.Plug("spin-dep")
	s, err := spin.New(ctx, dev, cctx, spin.WithDependency(plug.Fence()))
	require.NoError(t, err)
	defer s.Free(ctx) //nolint:errcheck

	time.Sleep(50 * time.Millisecond)
	started, err := s.Started()
	require.NoError(t, err)
	assert.False(t, started, "spinner ran ahead of its in-fence")

	plug.Unplug()
	require.NoError(t, s.WaitUntilStarted(ctx))
}

func TestEndBeforeStartStillRetires(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)

	plug := cork.Plug("spin-early-end")
	s, err := spin.New(ctx, dev, cctx, spin.WithDependency(plug.Fence()))
	require.NoError(t, err)

	// Patch the loop away while the batch is still corked; once released
	// it runs straight through.
	require.NoError(t, s.End())
	plug.Unplug()
	require.NoError(t, s.Fence().WaitTimeout(2*time.Second))
	require.NoError(t, s.Free(ctx))
}

func TestWaitUntilStartedReportsDeadSpinner(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)

	plug := cork.Plug("spin-wedge")
	defer plug.Unplug()
	s, err := spin.New(ctx, dev, cctx, spin.WithDependency(plug.Fence()))
	require.NoError(t, err)
	defer s.Free(ctx) //nolint:errcheck

	dev.Wedge()
	err = s.WaitUntilStarted(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, device.ErrWedged)
	dev.Recover()
}

func TestWaitUntilStartedHonoursContext(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)

	plug := cork.Plug("spin-ctx")
	s, err := spin.New(ctx, dev, cctx, spin.WithDependency(plug.Fence()))
	require.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.Error(t, s.WaitUntilStarted(shortCtx))

	plug.Unplug()
	require.NoError(t, s.Free(ctx))
}

func TestFreeAfterReset(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t, sim.WithHeartbeatInterval(30))

	s, err := spin.New(ctx, dev, cctx, spin.WithNoPreemption())
	require.NoError(t, err)
	require.NoError(t, s.WaitUntilStarted(ctx))

	// Hangcheck kills the non-preemptible loop; Free still releases
	// everything without surfacing the reset.
	require.Eventually(t, func() bool {
		return s.Fence().Signalled()
	}, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, s.Fence().Err(), device.ErrReset)
	require.NoError(t, s.Free(ctx))
}
