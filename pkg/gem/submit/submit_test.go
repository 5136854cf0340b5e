// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package submit_test

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
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/sim"
)

var rcs0 = engine.Descriptor{Class: engine.ClassRender, Instance: 0}

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

func TestStoreDwordAtOffsets(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)
	scratch, err := dev.CreateObject(4096)
	require.NoError(t, err)

	for i, offset := range []uint64{0, 4, 64, 4092} {
		f, err := submit.StoreDword(ctx, dev, cctx, rcs0, scratch, offset, uint32(i)+1, submit.StoreOpts{})
		require.NoError(t, err)
		require.NoError(t, f.WaitTimeout(2*time.Second))
		v, err := submit.ReadScratch(dev, scratch, int(offset/4))
		require.NoError(t, err)
		assert.Equal(t, uint32(i)+1, v)
	}
}

func TestStoreDwordOrdersOnWriteHazard(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)
	scratch, err := dev.CreateObject(4096)
	require.NoError(t, err)

	// The second store reads the hazard left by the corked first write,
	// so it cannot run early.
	plug := cork.Plug("hazard")
	first, err := submit.StoreDword(ctx, dev, cctx, rcs0, scratch, 0, 1, submit.StoreOpts{Cork: plug})
	require.NoError(t, err)
	second, err := submit.StoreDword(ctx, dev, cctx, rcs0, scratch, 0, 2, submit.StoreOpts{})
	require.NoError(t, err)

	require.ErrorIs(t, second.WaitTimeout(50*time.Millisecond), fence.ErrTimeout)
	plug.Unplug()
	require.NoError(t, fence.Merge("hazard", first, second).WaitTimeout(2*time.Second))

	v, err := submit.ReadScratch(dev, scratch, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v)
}

func TestReadOnlyDepLeavesObjectIdle(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)
	scratch, err := dev.CreateObject(4096)
	require.NoError(t, err)

	plug := cork.Plug("readonly")
	f, err := submit.StoreDword(ctx, dev, cctx, rcs0, scratch, 0, 1,
		submit.StoreOpts{Cork: plug, ReadOnlyDep: true})
	require.NoError(t, err)

	// Without the write flag the store leaves no hazard, so the object
	// reports idle even with the request still queued.
	require.NoError(t, dev.WaitObject(ctx, scratch, 0))

	plug.Unplug()
	require.NoError(t, f.WaitTimeout(2*time.Second))
}

func TestStoreDwordExtraInFences(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t)
	scratch, err := dev.CreateObject(4096)
	require.NoError(t, err)

	gate, signal := fence.NewManual("gate")
	f, err := submit.StoreDword(ctx, dev, cctx, rcs0, scratch, 0, 5,
		submit.StoreOpts{InFences: []*fence.Fence{gate}})
	require.NoError(t, err)

	require.ErrorIs(t, f.WaitTimeout(50*time.Millisecond), fence.ErrTimeout)
	signal(nil)
	require.NoError(t, f.WaitTimeout(2*time.Second))
}

func TestReadScratch(t *testing.T) {
	dev, _ := newDevice(t)
	scratch, err := dev.CreateObject(16)
	require.NoError(t, err)
	require.NoError(t, dev.WriteObject(scratch, 12, []byte{0x78, 0x56, 0x34, 0x12}))

	v, err := submit.ReadScratch(dev, scratch, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), v)

	_, err = submit.ReadScratch(dev, scratch, 4)
	require.Error(t, err)
}

func TestFillRingStopsAtCapacity(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t, sim.WithRingSize(8))
	scratch, err := dev.CreateObject(4096)
	require.NoError(t, err)

	plug := cork.Plug("fill")
	n, err := submit.FillRing(ctx, dev, cctx, rcs0, scratch, plug)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	plug.Unplug()
	require.NoError(t, dev.WaitObject(ctx, scratch, -1))
}

func TestMeasureRingDepth(t *testing.T) {
	ctx := context.Background()
	dev, cctx := newDevice(t, sim.WithRingSize(6))

	depth, err := submit.MeasureRingDepth(ctx, dev, cctx, rcs0)
	require.NoError(t, err)
	assert.Equal(t, 6, depth)

	// The probe drains completely, so the ring is reusable afterwards.
	depth, err = submit.MeasureRingDepth(ctx, dev, cctx, rcs0)
	require.NoError(t, err)
	assert.Equal(t, 6, depth)
}
