// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package batch builds command buffers for submission. The Encoder emits
// MI instructions with the exact per-generation word layouts, and the
// Builder layers buffer object bookkeeping and address assignment on top,
// the way a real submission library caches objects across batches.
package batch

import (
	"fmt"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
)

// Ref points an instruction at a buffer object: the handle plus the address
// the object is presumed to occupy in the submitting context address space.
// On generations with softpin the presumed address is authoritative; on
// older generations the recorded fixup is converted into a relocation and
// the device patches the real address over the presumed one.
type Ref struct {
	Handle  device.Handle
	Address uint64
}

// Fixup records where an object address was written into the instruction
// stream.
type Fixup struct {
	// WordIndex is the index of the low address word.
	WordIndex int
	// Wide marks a 64 bit address field occupying two words.
	Wide   bool
	Target device.Handle
	Delta  uint64
}

// Encoder assembles an instruction stream for one hardware generation.
// The zero value is not usable; call NewEncoder.
type Encoder struct {
	gen        device.Generation
	lay        layout
	words      []uint32
	fixups     []Fixup
	terminated bool
}

// NewEncoder returns an encoder emitting the instruction forms of the given
// generation. Supported generations are 2 through 12.
func NewEncoder(gen device.Generation) (*Encoder, error) {
	if gen < 2 || gen > 12 {
		return nil, fmt.Errorf("cannot create encoder for unsupported generation %d", gen)
	}
	return &Encoder{gen: gen, lay: layoutFor(gen)}, nil
}

// Generation returns the generation the encoder emits for.
func (e *Encoder) Generation() device.Generation { return e.gen }

// Offset returns the byte offset of the next instruction to be emitted,
// relative to the start of the stream. Callers use it to compute jump
// targets before emitting a loop.
func (e *Encoder) Offset() uint64 { return uint64(len(e.words)) * 4 }

// Len returns the current stream length in bytes.
func (e *Encoder) Len() int { return len(e.words) * 4 }

// Terminated reports whether End has been emitted.
func (e *Encoder) Terminated() bool { return e.terminated }

func (e *Encoder) emit(words ...uint32) {
	if e.terminated {
		panic("batch: emit after MI_BATCH_BUFFER_END")
	}
	e.words = append(e.words, words...)
}

// fixup records an address patch point ahead words past the current stream
// position, where the next instruction will place its address field.
func (e *Encoder) fixup(ahead int, wide bool, target device.Handle, delta uint64) {
	e.fixups = append(e.fixups, Fixup{WordIndex: len(e.words) + ahead, Wide: wide, Target: target, Delta: delta})
}

// Noop emits MI_NOOP.
func (e *Encoder) Noop() {
	e.emit(MINoop)
}

// ArbCheck emits an arbitration point at which the engine may preempt.
func (e *Encoder) ArbCheck() {
	e.emit(MIArbCheck)
}

// End terminates the stream. Further emits panic.
func (e *Encoder) End() {
	e.emit(MIBatchBufferEnd)
	e.terminated = true
}

// StoreDword emits a store of value to delta bytes into the target object,
// in the word form of the encoder's generation band (see layout.go).
func (e *Encoder) StoreDword(to Ref, delta uint64, value uint32) {
	e.lay.storeDword(e, to.Handle, to.Address+delta, delta, value)
}

// SemaphoreWait emits a polling semaphore wait that blocks until the dword
// at delta bytes into the target object satisfies pred against operand.
// Memory semaphores exist from gen8 on; earlier generations panic.
func (e *Encoder) SemaphoreWait(pred Predicate, at Ref, delta uint64, operand uint32) {
	if !e.lay.semaphores() {
		panic(fmt.Sprintf("batch: semaphore wait not available on gen%d", e.gen))
	}
	addr := at.Address + delta
	e.fixup(2, true, at.Handle, delta)
	e.emit(MISemaphoreWait|MISemaphorePoll|uint32(pred), operand, uint32(addr), uint32(addr>>32))
}

// BatchBufferStart emits a jump to delta bytes into the target object.
func (e *Encoder) BatchBufferStart(to Ref, delta uint64) {
	e.lay.batchBufferStart(e, to.Handle, to.Address+delta, delta)
}

// Words returns the assembled stream. The slice aliases the encoder state;
// callers serialize it before reusing the encoder.
func (e *Encoder) Words() []uint32 { return e.words }

// Bytes serializes the stream little-endian.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, len(e.words)*4)
	for i, w := range e.words {
		out[i*4] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}

// Fixups returns the address patch points recorded so far.
func (e *Encoder) Fixups() []Fixup { return e.fixups }

// Relocations converts the fixups into relocation entries for a batch whose
// instruction stream starts at base bytes into the batch object.
func (e *Encoder) Relocations(base uint64) []device.Relocation {
	out := make([]device.Relocation, 0, len(e.fixups))
	for _, f := range e.fixups {
		out = append(out, device.Relocation{
			Target: f.Target,
			Offset: base + uint64(f.WordIndex)*4,
			Delta:  f.Delta,
		})
	}
	return out
}
