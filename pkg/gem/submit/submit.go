// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package submit provides the small one-shot submissions the scheduling
// scenarios are built from: a store of a single dword to a scratch object,
// optionally held back by a cork, plus helpers to read scratch memory and
// to measure how much a context ring accepts before refusing work.
package submit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/batch"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/cork"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// StoreOpts adjust a StoreDword submission.
type StoreOpts struct {
	// Cork queues the store behind a plug.
	Cork *cork.Cork
	// InFences are additional input dependencies.
	InFences []*fence.Fence
	// ReadOnlyDep references the target without the write flag. The
	// store still writes; scenarios use this to probe what happens when
	// the hazard is not declared.
	ReadOnlyDep bool
	// NonBlocking fails with device.ErrWouldBlock instead of waiting on
	// a full ring.
	NonBlocking bool
}

// StoreDword submits a minimal batch writing value at offset bytes into the
// target object, using the legacy relocation path so it works on every
// generation. The batch object is closed right after submission; the
// device keeps it alive until the request retires.
func StoreDword(ctx context.Context, dev device.Device, cctx device.ContextID, eng engine.Descriptor, target device.Handle, offset uint64, value uint32, o StoreOpts) (*fence.Fence, error) {
	enc, err := batch.NewEncoder(dev.Info().Generation)
	if err != nil {
		return nil, err
	}
	enc.StoreDword(batch.Ref{Handle: target}, offset, value)
	enc.End()

	bo, err := dev.CreateObject(4096)
	if err != nil {
		return nil, fmt.Errorf("store batch object: %w", err)
	}
	if err := dev.WriteObject(bo, 0, enc.Bytes()); err != nil {
		dev.CloseObject(bo) //nolint:errcheck
		return nil, err
	}

	flags := device.ExecObjectWrite
	if o.ReadOnlyDep {
		flags = 0
	}
	req := &device.Request{
		Context:     cctx,
		Engine:      eng,
		Objects:     []device.ExecObject{{Handle: target, Flags: flags}},
		Batch:       bo,
		Relocations: enc.Relocations(0),
		InFences:    o.InFences,
		WantFence:   true,
		NonBlocking: o.NonBlocking,
	}
	if o.Cork != nil {
		req.InFences = append([]*fence.Fence{o.Cork.Fence()}, req.InFences...)
	}

	f, err := dev.Submit(ctx, req)
	if cerr := dev.CloseObject(bo); cerr != nil && err == nil {
		log.Warnf("closing store batch %d: %v", bo, cerr) //nolint:errcheck
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadScratch returns the index-th dword of the target object.
func ReadScratch(dev device.Device, target device.Handle, index int) (uint32, error) {
	data, err := dev.ReadObject(target)
	if err != nil {
		return 0, err
	}
	if (index+1)*4 > len(data) {
		return 0, fmt.Errorf("scratch index %d out of range for %d byte object", index, len(data))
	}
	return binary.LittleEndian.Uint32(data[index*4:]), nil
}

// maxRingProbe bounds ring measurement against a device that never
// refuses work.
const maxRingProbe = 1 << 16

// FillRing queues corked stores on the context until the device reports it
// would block, and returns how many were accepted. The cork stays plugged;
// the caller releases it and drains.
func FillRing(ctx context.Context, dev device.Device, cctx device.ContextID, eng engine.Descriptor, target device.Handle, c *cork.Cork) (int, error) {
	for n := 0; n < maxRingProbe; n++ {
		_, err := StoreDword(ctx, dev, cctx, eng, target, 0, uint32(n), StoreOpts{
			Cork:        c,
			NonBlocking: true,
		})
		if errors.Is(err, device.ErrWouldBlock) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
	return maxRingProbe, fmt.Errorf("ring did not fill after %d submissions", maxRingProbe)
}

// MeasureRingDepth fills the ring of a context to find its capacity, then
// drains everything it queued.
func MeasureRingDepth(ctx context.Context, dev device.Device, cctx device.ContextID, eng engine.Descriptor) (int, error) {
	scratch, err := dev.CreateObject(4096)
	if err != nil {
		return 0, err
	}
	defer dev.CloseObject(scratch) //nolint:errcheck

	c := cork.Plug("ring-depth")
	depth, err := FillRing(ctx, dev, cctx, eng, scratch, c)
	c.Unplug()
	if werr := dev.WaitObject(ctx, scratch, -1); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return depth, err
	}
	log.Debugf("ring depth on %s ctx=%d: %d", eng, cctx, depth)
	return depth, nil
}
