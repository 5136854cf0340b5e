// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package batch

import "github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"

// layout is the instruction form of one hardware generation band. Each
// variant owns the complete word layout rules of its band; NewEncoder
// selects the variant once and the emitters never compare generations.
type layout interface {
	storeDword(e *Encoder, target device.Handle, addr, delta uint64, value uint32)
	batchBufferStart(e *Encoder, target device.Handle, addr, delta uint64)
	// semaphores reports whether the band has memory semaphore waits.
	semaphores() bool
}

func layoutFor(gen device.Generation) layout {
	switch {
	case gen >= 8:
		return gen8Layout{}
	case gen >= 6:
		return gen6Layout{}
	case gen >= 4:
		return gen4Layout{}
	default:
		return gen2Layout{}
	}
}

// gen8Layout carries 64 bit addresses as a lo/hi word pair and has memory
// semaphore waits.
type gen8Layout struct{}

func (gen8Layout) storeDword(e *Encoder, target device.Handle, addr, delta uint64, value uint32) {
	e.fixup(1, true, target, delta)
	e.emit(MIStoreDwordImm, uint32(addr), uint32(addr>>32), value)
}

func (gen8Layout) batchBufferStart(e *Encoder, target device.Handle, addr, delta uint64) {
	e.fixup(1, true, target, delta)
	e.emit(MIBatchBufferStart|bbStartPPGTT|1, uint32(addr), uint32(addr>>32))
}

func (gen8Layout) semaphores() bool { return true }

// gen6Layout stores through a reserved zero word then a 32 bit address;
// per-process GTT replaced the global GTT store bit in this band.
type gen6Layout struct{}

func (gen6Layout) storeDword(e *Encoder, target device.Handle, addr, delta uint64, value uint32) {
	e.fixup(2, false, target, delta)
	e.emit(MIStoreDwordImm, 0, uint32(addr), value)
}

func (gen6Layout) batchBufferStart(e *Encoder, target device.Handle, addr, delta uint64) {
	e.fixup(1, false, target, delta)
	e.emit(MIBatchBufferStart|bbStartPPGTT, uint32(addr))
}

func (gen6Layout) semaphores() bool { return false }

// gen4Layout is the gen6 store form addressed through the global GTT, with
// the older buffer-type field on jumps.
type gen4Layout struct{}

func (gen4Layout) storeDword(e *Encoder, target device.Handle, addr, delta uint64, value uint32) {
	e.fixup(2, false, target, delta)
	e.emit(MIStoreDwordImm|storeUseGGTT, 0, uint32(addr), value)
}

func (gen4Layout) batchBufferStart(e *Encoder, target device.Handle, addr, delta uint64) {
	e.fixup(1, false, target, delta)
	e.emit(MIBatchBufferStart|bbStartGen4, uint32(addr))
}

func (gen4Layout) semaphores() bool { return false }

// gen2Layout shortens the store header by one word and takes the address
// immediately after it.
type gen2Layout struct{}

func (gen2Layout) storeDword(e *Encoder, target device.Handle, addr, delta uint64, value uint32) {
	e.fixup(1, false, target, delta)
	e.emit((MIStoreDwordImm|storeUseGGTT)-1, uint32(addr), value)
}

func (gen2Layout) batchBufferStart(e *Encoder, target device.Handle, addr, delta uint64) {
	e.fixup(1, false, target, delta)
	e.emit(MIBatchBufferStart|bbStartGen4, uint32(addr))
}

func (gen2Layout) semaphores() bool { return false }
