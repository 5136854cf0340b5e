// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package batch

// Command words of the MI instruction set subset the harness emits. The
// opcode lives in bits 31:23; the low bits of the header carry the dword
// length of the instruction body where applicable.
const (
	// MINoop does nothing and advances to the next word.
	MINoop uint32 = 0x0

	// MIBatchBufferEnd terminates a batch.
	MIBatchBufferEnd uint32 = 0x0a << 23

	// MIArbCheck is an explicit arbitration point: the engine may switch
	// to other work here.
	MIArbCheck uint32 = 0x05 << 23

	// MIBatchBufferStart jumps execution to another address. The address
	// layout depends on generation; see Encoder.BatchBufferStart.
	MIBatchBufferStart uint32 = 0x31 << 23

	// MIStoreDwordImm writes an immediate dword to memory.
	MIStoreDwordImm uint32 = 0x20<<23 | 2

	// MISemaphoreWait blocks until a memory dword satisfies a compare.
	MISemaphoreWait uint32 = 0x1c<<23 | 2

	// MISemaphorePoll selects polling mode for MISemaphoreWait.
	MISemaphorePoll uint32 = 1 << 15

	// storeUseGGTT selects global GTT addressing for stores before gen6.
	storeUseGGTT uint32 = 1 << 22

	// bbStartPPGTT selects the per-process address space for jumps on
	// gen6 and later.
	bbStartPPGTT uint32 = 1 << 8

	// bbStartGen4 is the buffer-type field jumps need before gen6.
	bbStartGen4 uint32 = 2 << 6
)

// OpcodeMask extracts the opcode bits of a command header.
const OpcodeMask uint32 = 0x1ff << 23

// Predicate selects the compare operation of a semaphore wait. The engine
// resumes once compare(memory dword, operand) holds.
type Predicate uint32

const (
	// PredGT resumes when the memory dword is greater than the operand.
	PredGT Predicate = 0 << 12
	// PredGTE resumes when the memory dword is greater or equal.
	PredGTE Predicate = 1 << 12
	// PredLT resumes when the memory dword is less than the operand.
	PredLT Predicate = 2 << 12
	// PredLTE resumes when the memory dword is less or equal.
	PredLTE Predicate = 3 << 12
	// PredEQ resumes when the memory dword equals the operand.
	PredEQ Predicate = 4 << 12
	// PredNEQ resumes when the memory dword differs from the operand.
	PredNEQ Predicate = 5 << 12
)

// predicateMask extracts the compare function bits from a semaphore header.
const predicateMask uint32 = 0x7 << 12

// PredicateOf returns the compare function encoded in a semaphore wait
// header.
func PredicateOf(header uint32) Predicate {
	return Predicate(header & predicateMask)
}

// Eval applies the predicate to a memory value and an operand.
func (p Predicate) Eval(mem, operand uint32) bool {
	switch p {
	case PredGT:
		return mem > operand
	case PredGTE:
		return mem >= operand
	case PredLT:
		return mem < operand
	case PredLTE:
		return mem <= operand
	case PredEQ:
		return mem == operand
	case PredNEQ:
		return mem != operand
	default:
		return false
	}
}

func (p Predicate) String() string {
	switch p {
	case PredGT:
		return "GT"
	case PredGTE:
		return "GTE"
	case PredLT:
		return "LT"
	case PredLTE:
		return "LTE"
	case PredEQ:
		return "EQ"
	case PredNEQ:
		return "NEQ"
	default:
		return "invalid"
	}
}
