// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package batch

import (
	"fmt"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
)

type span struct {
	offset uint64
	size   uint64
}

func (s span) end() uint64 { return s.offset + s.size }

func (s span) overlaps(o span) bool {
	return s.offset < o.end() && o.offset < s.end()
}

// Allocator hands out object addresses in a context address space using the
// simple strategy: lowest free address first, reservations stable for the
// allocator lifetime. Misuse, such as re-reserving a handle at a
// conflicting offset, is a fatal assertion.
type Allocator struct {
	start  uint64
	end    uint64
	cursor uint64
	res    map[device.Handle]span
}

// NewAllocator returns an allocator managing [start, end).
func NewAllocator(start, end uint64) *Allocator {
	if end <= start {
		panic(fmt.Sprintf("batch: bad allocator range [%#x, %#x)", start, end))
	}
	return &Allocator{start: start, end: end, cursor: start, res: make(map[device.Handle]span)}
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}

func isPow2(v uint64) bool { return v != 0 && v&(v-1) == 0 }

// Reserve places the object and returns its offset. Reserving a handle that
// already holds a reservation returns the existing offset, after asserting
// it satisfies the requested alignment.
func (a *Allocator) Reserve(h device.Handle, size, alignment uint64) (uint64, error) {
	if size == 0 {
		panic(fmt.Sprintf("batch: zero size reservation for object %d", h))
	}
	if !isPow2(alignment) {
		panic(fmt.Sprintf("batch: alignment %#x of object %d is not a power of two", alignment, h))
	}
	if prev, ok := a.res[h]; ok {
		if prev.offset%alignment != 0 {
			panic(fmt.Sprintf("batch: object %d reserved at %#x, incompatible with alignment %#x", h, prev.offset, alignment))
		}
		return prev.offset, nil
	}
	offset := alignUp(a.cursor, alignment)
	if offset+size > a.end {
		return 0, device.ErrNoSpace
	}
	a.res[h] = span{offset: offset, size: size}
	a.cursor = offset + size
	return offset, nil
}

// ReserveAt pins the object at an explicit offset. Conflicts with existing
// reservations, including a different offset for the same handle, are fatal.
func (a *Allocator) ReserveAt(h device.Handle, offset, size uint64) (uint64, error) {
	if size == 0 {
		panic(fmt.Sprintf("batch: zero size reservation for object %d", h))
	}
	if prev, ok := a.res[h]; ok {
		if prev.offset != offset {
			panic(fmt.Sprintf("batch: object %d already placed at %#x, requested %#x", h, prev.offset, offset))
		}
		return prev.offset, nil
	}
	want := span{offset: offset, size: size}
	if offset < a.start || want.end() > a.end {
		return 0, device.ErrNoSpace
	}
	for other, s := range a.res {
		if s.overlaps(want) {
			panic(fmt.Sprintf("batch: placement %#x+%#x of object %d overlaps object %d at %#x", offset, size, h, other, s.offset))
		}
	}
	a.res[h] = want
	if want.end() > a.cursor {
		a.cursor = want.end()
	}
	return offset, nil
}

// Offset returns the reserved offset of a handle.
func (a *Allocator) Offset(h device.Handle) (uint64, bool) {
	s, ok := a.res[h]
	return s.offset, ok
}

// Release drops the reservation of a handle. The freed range is not reused
// until Reset; the simple strategy never backtracks.
func (a *Allocator) Release(h device.Handle) bool {
	_, ok := a.res[h]
	delete(a.res, h)
	return ok
}

// Reset forgets every reservation and rewinds the cursor.
func (a *Allocator) Reset() {
	a.cursor = a.start
	a.res = make(map[device.Handle]span)
}
