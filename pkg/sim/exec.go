// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package sim

import (
	"fmt"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/batch"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
)

// sliceResult is the outcome of one execution slice.
type sliceResult struct {
	stop      reqStop
	passedArb bool
	fault     error
}

func (d *Device) fetch(vm *addressSpace, addr uint64) (uint32, error) {
	obj, off, ok := vm.resolve(addr)
	if !ok {
		return 0, fmt.Errorf("%w: fetch from unmapped address %#x", device.ErrReset, addr)
	}
	w, ok := obj.readDword(off)
	if !ok {
		return 0, fmt.Errorf("%w: fetch past object end at %#x", device.ErrReset, addr)
	}
	return w, nil
}

// applyRelocs patches target addresses into the batch before its first
// slice, the way execbuf fixes up presumed addresses.
func (d *Device) applyRelocs(r *request) error {
	wide := d.info.Generation.SupportsSoftpin()
	for _, reloc := range r.relocs {
		addr, ok := r.ctx.vm.addressOf(reloc.Target)
		if !ok {
			return fmt.Errorf("%w: relocation against unmapped object %d", device.ErrReset, reloc.Target)
		}
		v := addr + reloc.Delta
		if !r.batch.writeDword(reloc.Offset, uint32(v)) {
			return fmt.Errorf("%w: relocation outside batch at %#x", device.ErrReset, reloc.Offset)
		}
		if wide && !r.batch.writeDword(reloc.Offset+4, uint32(v>>32)) {
			return fmt.Errorf("%w: relocation outside batch at %#x", device.ErrReset, reloc.Offset+4)
		}
	}
	return nil
}

// execSlice interprets up to one budget of instructions for r. With
// wantSwitch set the slice also ends at the first arbitration point, which
// is how preemption and timeslicing take effect.
func (d *Device) execSlice(r *request, wantSwitch bool) sliceResult {
	var res sliceResult
	if !r.relocated {
		if err := d.applyRelocs(r); err != nil {
			res.fault = err
			return res
		}
		r.relocated = true
	}

	vm := r.ctx.vm
	gen := int(d.info.Generation)
	for n := 0; n < d.budget; n++ {
		w, err := d.fetch(vm, r.ip)
		if err != nil {
			res.fault = err
			return res
		}
		switch w & batch.OpcodeMask {
		case batch.MINoop:
			r.ip += 4

		case batch.MIBatchBufferEnd:
			res.stop = stopDone
			return res

		case batch.MIArbCheck:
			res.passedArb = true
			r.ip += 4
			if wantSwitch {
				res.stop = stopArb
				return res
			}

		case batch.MIStoreDwordImm & batch.OpcodeMask:
			addr, val, size, err := d.decodeStore(vm, r.ip, gen)
			if err != nil {
				res.fault = err
				return res
			}
			obj, off, ok := vm.resolve(addr)
			if !ok {
				res.fault = fmt.Errorf("%w: store to unmapped address %#x", device.ErrReset, addr)
				return res
			}
			if !obj.writeDword(off, val) {
				res.fault = fmt.Errorf("%w: store past object end at %#x", device.ErrReset, addr)
				return res
			}
			r.ip += size

		case batch.MISemaphoreWait & batch.OpcodeMask:
			if gen < 8 {
				res.fault = fmt.Errorf("%w: semaphore wait on gen%d", device.ErrReset, gen)
				return res
			}
			mem, operand, err := d.decodeSemWait(vm, r.ip)
			if err != nil {
				res.fault = err
				return res
			}
			if !batch.PredicateOf(w).Eval(mem, operand) {
				res.stop = stopBlocked
				return res
			}
			r.ip += 16

		case batch.MIBatchBufferStart:
			if gen >= 8 {
				lo, err1 := d.fetch(vm, r.ip+4)
				hi, err2 := d.fetch(vm, r.ip+8)
				if err1 != nil || err2 != nil {
					res.fault = fmt.Errorf("%w: truncated jump at %#x", device.ErrReset, r.ip)
					return res
				}
				r.ip = uint64(lo) | uint64(hi)<<32
			} else {
				to, err := d.fetch(vm, r.ip+4)
				if err != nil {
					res.fault = fmt.Errorf("%w: truncated jump at %#x", device.ErrReset, r.ip)
					return res
				}
				r.ip = uint64(to)
			}

		default:
			res.fault = fmt.Errorf("%w: illegal instruction %#x at %#x", device.ErrReset, w, r.ip)
			return res
		}
	}
	res.stop = stopBudget
	return res
}

func (d *Device) decodeStore(vm *addressSpace, ip uint64, gen int) (addr uint64, val uint32, size uint64, err error) {
	w1, err1 := d.fetch(vm, ip+4)
	w2, err2 := d.fetch(vm, ip+8)
	switch {
	case gen >= 8:
		w3, err3 := d.fetch(vm, ip+12)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, 0, 0, fmt.Errorf("%w: truncated store at %#x", device.ErrReset, ip)
		}
		return uint64(w1) | uint64(w2)<<32, w3, 16, nil
	case gen >= 4:
		w3, err3 := d.fetch(vm, ip+12)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, 0, 0, fmt.Errorf("%w: truncated store at %#x", device.ErrReset, ip)
		}
		return uint64(w2), w3, 16, nil
	default:
		if err1 != nil || err2 != nil {
			return 0, 0, 0, fmt.Errorf("%w: truncated store at %#x", device.ErrReset, ip)
		}
		return uint64(w1), w2, 12, nil
	}
}

func (d *Device) decodeSemWait(vm *addressSpace, ip uint64) (mem, operand uint32, err error) {
	operand, err1 := d.fetch(vm, ip+4)
	lo, err2 := d.fetch(vm, ip+8)
	hi, err3 := d.fetch(vm, ip+12)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, fmt.Errorf("%w: truncated semaphore wait at %#x", device.ErrReset, ip)
	}
	addr := uint64(lo) | uint64(hi)<<32
	obj, off, ok := vm.resolve(addr)
	if !ok {
		return 0, 0, fmt.Errorf("%w: semaphore wait on unmapped address %#x", device.ErrReset, addr)
	}
	mem, ok = obj.readDword(off)
	if !ok {
		return 0, 0, fmt.Errorf("%w: semaphore wait past object end at %#x", device.ErrReset, addr)
	}
	return mem, operand, nil
}

// semSatisfiedLocked reports whether a parked request's semaphore condition
// now holds. Anything other than a clean semaphore wait at the instruction
// pointer defers to the next slice.
func (d *Device) semSatisfiedLocked(r *request) bool {
	w, err := d.fetch(r.ctx.vm, r.ip)
	if err != nil || w&batch.OpcodeMask != batch.MISemaphoreWait&batch.OpcodeMask {
		return true
	}
	mem, operand, err := d.decodeSemWait(r.ctx.vm, r.ip)
	if err != nil {
		return true
	}
	return batch.PredicateOf(w).Eval(mem, operand)
}
