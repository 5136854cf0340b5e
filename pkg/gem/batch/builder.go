// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package batch

import (
	"context"
	"fmt"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// Address space handed to builder allocators. The null page is kept free.
const (
	allocStart = uint64(1) << 12
	allocEnd   = uint64(1) << 32
)

// Object is a buffer object cached by a Builder, with its assigned address
// and accumulated execution flags.
type Object struct {
	Handle    device.Handle
	Size      uint64
	Alignment uint64
	Offset    uint64
	Flags     device.ExecFlags
}

// Builder assembles and submits batches against one context address space.
// It caches every object referenced across flushes so repeated submissions
// reuse stable addresses, and it owns the batch object itself.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	dev  device.Device
	gen  device.Generation
	size uint64

	batch   device.Handle
	enc     *Encoder
	objects map[device.Handle]*Object
	order   []device.Handle
	alloc   *Allocator
	tracker *Tracker
	closed  bool
}

// NewBuilder creates a builder with a batch object of the given size. The
// size must be a positive multiple of the 4KiB page.
func NewBuilder(dev device.Device, size uint64) (*Builder, error) {
	if dev == nil {
		return nil, fmt.Errorf("cannot create batch builder: device is nil")
	}
	if size == 0 || size%4096 != 0 {
		return nil, fmt.Errorf("cannot create batch builder: size %d is not page aligned", size)
	}
	enc, err := NewEncoder(dev.Info().Generation)
	if err != nil {
		return nil, fmt.Errorf("cannot create batch builder: %w", err)
	}
	b := &Builder{
		dev:     dev,
		gen:     dev.Info().Generation,
		size:    size,
		enc:     enc,
		objects: make(map[device.Handle]*Object),
		alloc:   NewAllocator(allocStart, allocEnd),
	}
	if err := b.newBatch(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) newBatch() error {
	h, err := b.dev.CreateObject(b.size)
	if err != nil {
		return fmt.Errorf("cannot create batch object: %w", err)
	}
	if _, err := b.add(h, b.size, 4096, 0); err != nil {
		b.dev.CloseObject(h) //nolint:errcheck
		return fmt.Errorf("cannot place batch object: %w", err)
	}
	b.batch = h
	return nil
}

// add is AddObject without the closed check, used during construction.
func (b *Builder) add(h device.Handle, size, alignment uint64, flags device.ExecFlags) (*Object, error) {
	if alignment == 0 {
		alignment = 4096
	}
	if obj, ok := b.objects[h]; ok {
		// Idempotent re-add. The existing placement must satisfy the
		// new constraints.
		if obj.Offset%alignment != 0 {
			panic(fmt.Sprintf("batch: object %d at %#x violates requested alignment %#x", h, obj.Offset, alignment))
		}
		obj.Flags |= flags
		return obj, nil
	}
	offset, err := b.alloc.Reserve(h, size, alignment)
	if err != nil {
		return nil, err
	}
	obj := &Object{Handle: h, Size: size, Alignment: alignment, Offset: offset, Flags: flags}
	b.objects[h] = obj
	b.order = append(b.order, h)
	return obj, nil
}

// Batch returns the handle of the batch object.
func (b *Builder) Batch() device.Handle { return b.batch }

// Generation returns the generation batches are encoded for.
func (b *Builder) Generation() device.Generation { return b.gen }

// Encoder returns the staged instruction stream.
func (b *Builder) Encoder() *Encoder { return b.enc }

// AddObject places an object in the builder address space and adds it to
// the exec list of subsequent flushes. Adding the same handle again is an
// idempotent upsert that merges flags and returns the existing placement.
// A placement conflicting with an earlier one is a fatal assertion;
// allocator exhaustion is reported as device.ErrNoSpace.
func (b *Builder) AddObject(h device.Handle, size, alignment uint64, flags device.ExecFlags) (*Object, error) {
	b.mustBeOpen()
	return b.add(h, size, alignment, flags)
}

// AddObjectAt pins an object at an explicit address. Re-adding at a
// different address is a fatal assertion.
func (b *Builder) AddObjectAt(h device.Handle, size, offset uint64, flags device.ExecFlags) (*Object, error) {
	b.mustBeOpen()
	if obj, ok := b.objects[h]; ok {
		if obj.Offset != offset {
			panic(fmt.Sprintf("batch: object %d already placed at %#x, requested %#x", h, obj.Offset, offset))
		}
		obj.Flags |= flags
		return obj, nil
	}
	off, err := b.alloc.ReserveAt(h, offset, size)
	if err != nil {
		return nil, err
	}
	obj := &Object{Handle: h, Size: size, Alignment: 1, Offset: off, Flags: flags}
	b.objects[h] = obj
	b.order = append(b.order, h)
	return obj, nil
}

// RemoveObject drops an object from the cache and exec list. Removing the
// batch object itself is a fatal assertion; removing an unknown handle is a
// no-op.
func (b *Builder) RemoveObject(h device.Handle) {
	b.mustBeOpen()
	if h == b.batch {
		panic("batch: cannot remove the batch object from its own builder")
	}
	if _, ok := b.objects[h]; !ok {
		return
	}
	delete(b.objects, h)
	for i, o := range b.order {
		if o == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.alloc.Release(h)
}

// Object returns the cached placement of a handle.
func (b *Builder) Object(h device.Handle) (*Object, bool) {
	obj, ok := b.objects[h]
	return obj, ok
}

// Objects returns the cached objects in exec list order.
func (b *Builder) Objects() []*Object {
	out := make([]*Object, 0, len(b.order))
	for _, h := range b.order {
		out = append(out, b.objects[h])
	}
	return out
}

// Ref returns the encoder reference of a cached object. Referencing an
// object that was never added is a fatal assertion, since the instruction
// would point at an unplaced address.
func (b *Builder) Ref(h device.Handle) Ref {
	obj, ok := b.objects[h]
	if !ok {
		panic(fmt.Sprintf("batch: object %d referenced before AddObject", h))
	}
	return Ref{Handle: h, Address: obj.Offset}
}

// Flush writes the staged instructions into the batch object and submits
// it on the given context and engine, depending on the in fences. The
// stream is terminated first if the caller has not done so. The staged
// program and object cache survive the flush; call Reset to start a new
// batch.
func (b *Builder) Flush(ctx context.Context, cctx device.ContextID, eng engine.Descriptor, in ...*fence.Fence) (*fence.Fence, error) {
	b.mustBeOpen()
	if !b.enc.Terminated() {
		b.enc.End()
	}
	payload := b.enc.Bytes()
	if uint64(len(payload)) > b.size {
		return nil, fmt.Errorf("batch: staged program of %d bytes exceeds batch object size %d", len(payload), b.size)
	}
	if err := b.dev.WriteObject(b.batch, 0, payload); err != nil {
		return nil, fmt.Errorf("batch: writing instructions: %w", err)
	}

	req := &device.Request{
		Context:   cctx,
		Engine:    eng,
		Batch:     b.batch,
		InFences:  in,
		WantFence: true,
	}
	if b.gen.SupportsSoftpin() {
		for _, obj := range b.Objects() {
			req.Objects = append(req.Objects, device.ExecObject{
				Handle: obj.Handle,
				Offset: obj.Offset,
				Flags:  obj.Flags | device.ExecObjectPinned,
			})
		}
	} else {
		for _, obj := range b.Objects() {
			req.Objects = append(req.Objects, device.ExecObject{Handle: obj.Handle, Flags: obj.Flags})
		}
		req.Relocations = b.enc.Relocations(0)
	}

	log.Tracef("flushing %d words on %s ctx=%d objects=%d", len(b.enc.Words()), eng, cctx, len(req.Objects))
	return b.dev.Submit(ctx, req)
}

// Reset discards the staged program and swaps in a fresh batch object. With
// purge set the object cache and the address space are dropped as well, so
// following batches start from a clean slate; otherwise cached objects keep
// their addresses.
func (b *Builder) Reset(purge bool) error {
	b.mustBeOpen()
	old := b.batch
	if purge {
		b.objects = make(map[device.Handle]*Object)
		b.order = nil
		b.alloc.Reset()
	} else {
		delete(b.objects, old)
		for i, h := range b.order {
			if h == old {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		b.alloc.Release(old)
	}
	enc, err := NewEncoder(b.gen)
	if err != nil {
		return err
	}
	b.enc = enc
	if err := b.newBatch(); err != nil {
		return err
	}
	if err := b.dev.CloseObject(old); err != nil {
		return log.Errorf("batch: closing old batch object %d: %v", old, err)
	}
	return nil
}

// Close releases the batch object. Cached user objects stay alive; the
// builder never owned them.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.tracker != nil {
		b.tracker.Untrack(b)
	}
	return b.dev.CloseObject(b.batch)
}

func (b *Builder) mustBeOpen() {
	if b.closed {
		panic("batch: use of closed builder")
	}
}
