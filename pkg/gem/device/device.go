// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package device defines the execution interface the scheduling harness
// drives: buffer objects, contexts, engine properties and batch submission.
// It is the boundary between the scenarios and whatever actually executes
// batches, typically the simulated device in pkg/sim.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
)

// Handle names a buffer object on a device. Handles are never reused within
// the lifetime of a device.
type Handle uint32

// ContextID names a submission context. Each context owns a private address
// space and a scheduling priority.
type ContextID uint32

// Generation is the hardware generation number, e.g. 8 for gen8. Batch
// encoding rules change across generations.
type Generation int

// SupportsSoftpin reports whether object placement is caller-controlled on
// this generation. Older generations require relocations instead.
func (g Generation) SupportsSoftpin() bool { return g >= 8 }

func (g Generation) String() string { return fmt.Sprintf("gen%d", int(g)) }

// Info describes a device.
type Info struct {
	Name       string
	Generation Generation
}

// Caps is the scheduler capability bitset reported by a device. Scenarios
// declare the capabilities they require and are skipped when the device
// lacks one.
type Caps uint32

const (
	// CapScheduler means submissions are reordered by a scheduler at all.
	CapScheduler Caps = 1 << iota
	// CapPriority means context priorities influence execution order.
	CapPriority
	// CapPreemption means higher priority work preempts running batches.
	CapPreemption
	// CapSemaphores means the device executes memory semaphore waits.
	CapSemaphores
	// CapTimeslicing means equal priority contexts share an engine in
	// alternating slices.
	CapTimeslicing
	// CapBusyStats means per-context engine busy time is accounted.
	CapBusyStats
)

var capNames = []struct {
	bit  Caps
	name string
}{
	{CapScheduler, "scheduler"},
	{CapPriority, "priority"},
	{CapPreemption, "preemption"},
	{CapSemaphores, "semaphores"},
	{CapTimeslicing, "timeslicing"},
	{CapBusyStats, "busy-stats"},
}

// Has reports whether all bits in want are present.
func (c Caps) Has(want Caps) bool { return c&want == want }

func (c Caps) String() string {
	var names []string
	for _, cn := range capNames {
		if c.Has(cn.bit) {
			names = append(names, cn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Context priority bounds. Zero is the default priority of a new context.
const (
	MinPriority     = -1023
	MaxPriority     = 1023
	DefaultPriority = 0
)

// Engine properties understood by SetEngineProperty. Values are in
// milliseconds; zero disables the mechanism.
const (
	PropPreemptTimeoutMs    = "preempt_timeout_ms"
	PropHeartbeatIntervalMs = "heartbeat_interval_ms"
	PropTimesliceDurationMs = "timeslice_duration_ms"
)

// ExecFlags annotate an object referenced by a submission.
type ExecFlags uint32

const (
	// ExecObjectWrite declares the batch writes the object. Write access
	// establishes ordering against every other submission referencing the
	// same object; omitting it on a written object is a caller bug the
	// scenarios exercise deliberately.
	ExecObjectWrite ExecFlags = 1 << iota
	// ExecObjectPinned means Offset is the caller-chosen address for the
	// object in the context address space.
	ExecObjectPinned
	// ExecObjectAsync opts the reference out of implicit hazard ordering.
	// The request neither waits for nor is waited on through this object;
	// batches that signal each other through shared memory need it, or
	// their cross-references deadlock on their own fences.
	ExecObjectAsync
)

// ExecObject references one buffer object from a submission.
type ExecObject struct {
	Handle Handle
	Offset uint64
	Flags  ExecFlags
}

// Relocation asks the device to patch an address into the batch before
// execution: the 32 or 64 bit word at Offset bytes into the batch object is
// replaced with the address of Target plus Delta. This is the legacy
// submission path for generations without softpin.
type Relocation struct {
	Target Handle
	Offset uint64
	Delta  uint64
}

// Request is one batch submission.
type Request struct {
	Context ContextID
	Engine  engine.Descriptor

	// Objects lists every object the batch references. The batch object
	// itself may be listed to attach flags; otherwise it is implicitly
	// referenced read-only.
	Objects     []ExecObject
	Batch       Handle
	BatchStart  uint64
	Relocations []Relocation

	// InFences must all signal before the request becomes runnable.
	InFences []*fence.Fence

	// WantFence requests an out-fence for the submission. Submit always
	// returns one regardless; the flag mirrors the execbuf API shape.
	WantFence bool

	// NonBlocking makes Submit fail with ErrWouldBlock instead of waiting
	// when the context ring is full.
	NonBlocking bool
}

// ContextConfig configures a new context.
type ContextConfig struct {
	// Engines restricts the context to a subset of the device engines.
	// Empty means all of them.
	Engines engine.List
}

// Device is a GPU execution target.
type Device interface {
	// Info describes the device.
	Info() Info
	// Engines lists the execution engines in enumeration order.
	Engines() engine.List
	// Caps reports the scheduler capabilities.
	Caps() Caps

	// CreateObject allocates a zero-filled buffer object.
	CreateObject(size uint64) (Handle, error)
	// CloseObject releases an object. Outstanding submissions referencing
	// it keep it alive until they retire.
	CloseObject(h Handle) error
	// ReadObject returns a copy of the object contents.
	ReadObject(h Handle) ([]byte, error)
	// WriteObject copies data into the object at offset. Writes are
	// visible to batches already executing, which spinners rely on to
	// terminate.
	WriteObject(h Handle, offset uint64, data []byte) error
	// WaitObject blocks until every submission writing the object has
	// retired. A negative timeout waits forever. Returns ErrTimedOut when
	// the timeout expires first.
	WaitObject(ctx context.Context, h Handle, timeout time.Duration) error

	// CreateContext creates a submission context with default priority.
	CreateContext(cfg ContextConfig) (ContextID, error)
	// DestroyContext releases a context. In-flight work completes.
	DestroyContext(id ContextID) error
	// SetContextPriority adjusts scheduling priority within
	// [MinPriority, MaxPriority]. Out of range values fail with
	// ErrInvalid.
	SetContextPriority(id ContextID, prio int) error
	// ContextRuntime reports accumulated busy time of a context on one
	// engine. Requires CapBusyStats.
	ContextRuntime(id ContextID, eng engine.Descriptor) (time.Duration, error)

	// SetEngineProperty tunes a per-engine scheduling knob.
	SetEngineProperty(eng engine.Descriptor, name string, value int64) error
	// EngineProperty reads a per-engine scheduling knob.
	EngineProperty(eng engine.Descriptor, name string) (int64, error)
	// SetHangcheck enables or disables hang detection device-wide.
	SetHangcheck(enabled bool) error

	// Submit queues a request. The returned fence signals when the
	// request retires, with an error if it was reset or the device
	// wedged. Submit blocks while the context ring is full unless
	// NonBlocking is set.
	Submit(ctx context.Context, req *Request) (*fence.Fence, error)

	// Close stops the device and releases everything.
	Close() error
}
