// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package sim implements an in-process GPU device honouring the scheduling
// contract the scenarios verify: FIFO within a context, priority ordering
// and promotion across contexts, preemption with a forced timeout, equal
// priority timeslicing, memory semaphores and per-context ring
// backpressure. Engines execute real command streams built by pkg/gem/batch
// through a small interpreter, so spinners, corks and semaphores behave as
// they would against hardware.
//
// Fault options (WithStrictFIFO, WithoutPreemption, ...) produce devices
// that still claim their capabilities but violate the contract, which the
// tests use to prove the scenarios can actually catch a broken scheduler.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// Device is the simulated GPU. It implements device.Device.
type Device struct {
	info     device.Info
	caps     device.Caps
	clk      clock.Clock
	tick     time.Duration
	budget   int
	ringSize int
	faults   faultSet
	tel      *telemetry

	// mu guards every table and all scheduling state. Engine slices run
	// under it; they are short by construction.
	mu        sync.Mutex
	objects   map[device.Handle]*object
	nextObj   device.Handle
	contexts  map[device.ContextID]*simContext
	nextCtx   device.ContextID
	engines   map[engine.Descriptor]*engineState
	order     engine.List
	seqno     uint64
	hangcheck bool
	wedged    bool
	closed    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ device.Device = (*Device)(nil)

type faultSet struct {
	strictFIFO  bool
	noPreempt   bool
	noTimeslice bool
	noSemYield  bool
}

// object is a buffer object: contents plus the hazard state used to derive
// implicit ordering between submissions.
type object struct {
	h    device.Handle
	size uint64

	dataMu sync.Mutex
	data   []byte

	// Guarded by Device.mu.
	lastWriter *request
	readers    map[uint64]*request
	refs       int
	closed     bool
}

func (o *object) readDword(off uint64) (uint32, bool) {
	if off+4 > o.size {
		return 0, false
	}
	o.dataMu.Lock()
	defer o.dataMu.Unlock()
	d := o.data[off:]
	return uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24, true
}

func (o *object) writeDword(off uint64, v uint32) bool {
	if off+4 > o.size {
		return false
	}
	o.dataMu.Lock()
	defer o.dataMu.Unlock()
	o.data[off] = byte(v)
	o.data[off+1] = byte(v >> 8)
	o.data[off+2] = byte(v >> 16)
	o.data[off+3] = byte(v >> 24)
	return true
}

type simContext struct {
	id      device.ContextID
	engines engine.List
	prio    int
	vm      *addressSpace
	rings   map[engine.Descriptor]chan struct{}
	runtime map[engine.Descriptor]time.Duration

	// tails holds the newest live request per engine. Context and engine
	// form a timeline: the next submission depends on the tail.
	tails     map[engine.Descriptor]*request
	live      int
	destroyed bool
}

func (c *simContext) ring(eng engine.Descriptor, capacity int) chan struct{} {
	r, ok := c.rings[eng]
	if !ok {
		r = make(chan struct{}, capacity)
		c.rings[eng] = r
	}
	return r
}

// Addresses the simulator assigns on its own start here. Caller-pinned
// placements live below, so the two can never collide.
const assignBase = uint64(1) << 40

// addressSpace is one context's view of GPU memory.
type addressSpace struct {
	entries []vmEntry
	byObj   map[device.Handle]int
	cursor  uint64
}

type vmEntry struct {
	start uint64
	size  uint64
	obj   *object
}

func newAddressSpace() *addressSpace {
	return &addressSpace{byObj: make(map[device.Handle]int), cursor: assignBase}
}

// ensure returns the address of obj, assigning one if needed.
func (v *addressSpace) ensure(obj *object) uint64 {
	if i, ok := v.byObj[obj.h]; ok {
		return v.entries[i].start
	}
	start := (v.cursor + 4095) &^ 4095
	v.cursor = start + obj.size
	v.byObj[obj.h] = len(v.entries)
	v.entries = append(v.entries, vmEntry{start: start, size: obj.size, obj: obj})
	return start
}

// placeAt pins obj at an explicit address. Re-pinning at the same place is
// a no-op; moving a placed object or overlapping another is an error.
func (v *addressSpace) placeAt(obj *object, start uint64) error {
	if i, ok := v.byObj[obj.h]; ok {
		if v.entries[i].start != start {
			return device.ErrInvalid
		}
		return nil
	}
	end := start + obj.size
	for _, e := range v.entries {
		if start < e.start+e.size && e.start < end {
			return device.ErrNoSpace
		}
	}
	v.byObj[obj.h] = len(v.entries)
	v.entries = append(v.entries, vmEntry{start: start, size: obj.size, obj: obj})
	return nil
}

func (v *addressSpace) addressOf(h device.Handle) (uint64, bool) {
	i, ok := v.byObj[h]
	if !ok {
		return 0, false
	}
	return v.entries[i].start, true
}

// resolve maps an address to the object containing it.
func (v *addressSpace) resolve(addr uint64) (*object, uint64, bool) {
	for _, e := range v.entries {
		if addr >= e.start && addr < e.start+e.size {
			return e.obj, addr - e.start, true
		}
	}
	return nil, 0, false
}

// New builds a simulated device and starts its engines.
func New(opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.engines) == 0 {
		return nil, fmt.Errorf("cannot create simulated device: no engines configured")
	}
	if cfg.gen < 2 || cfg.gen > 12 {
		return nil, fmt.Errorf("cannot create simulated device: unsupported generation %d", cfg.gen)
	}
	if cfg.ringSize <= 0 {
		return nil, fmt.Errorf("cannot create simulated device: ring size %d", cfg.ringSize)
	}

	d := &Device{
		info:      device.Info{Name: cfg.name, Generation: cfg.gen},
		caps:      cfg.caps,
		clk:       cfg.clk,
		tick:      cfg.tick,
		budget:    cfg.budget,
		ringSize:  cfg.ringSize,
		faults:    cfg.faults,
		tel:       newTelemetry(cfg.registerer),
		objects:   make(map[device.Handle]*object),
		contexts:  make(map[device.ContextID]*simContext),
		engines:   make(map[engine.Descriptor]*engineState),
		hangcheck: true,
		stop:      make(chan struct{}),
	}
	for _, desc := range cfg.engines {
		if _, dup := d.engines[desc]; dup {
			return nil, fmt.Errorf("cannot create simulated device: duplicate engine %s", desc)
		}
		e := newEngineState(d, desc, cfg)
		d.engines[desc] = e
		d.order = append(d.order, desc)
	}
	for _, e := range d.engines {
		d.wg.Add(1)
		go e.run()
	}
	log.Infof("simulated %s up: %s, engines [%v], caps [%s]",
		d.info.Name, d.info.Generation, d.order.Names(), d.caps)
	return d, nil
}

// Info implements device.Device.
func (d *Device) Info() device.Info { return d.info }

// Engines implements device.Device.
func (d *Device) Engines() engine.List {
	out := make(engine.List, len(d.order))
	copy(out, d.order)
	return out
}

// Caps implements device.Device.
func (d *Device) Caps() device.Caps { return d.caps }

// Stats returns a snapshot of the scheduling counters.
func (d *Device) Stats() Stats { return d.tel.snapshot() }

// CreateObject implements device.Device.
func (d *Device) CreateObject(size uint64) (device.Handle, error) {
	if size == 0 {
		return 0, device.ErrInvalid
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.ErrWedged
	}
	d.nextObj++
	h := d.nextObj
	d.objects[h] = &object{
		h:       h,
		size:    size,
		data:    make([]byte, size),
		readers: make(map[uint64]*request),
	}
	return h, nil
}

// CloseObject implements device.Device. Objects referenced by in-flight
// requests stay resident until the last reference retires.
func (d *Device) CloseObject(h device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.objects[h]
	if !ok || obj.closed {
		return device.ErrNoSuchObject
	}
	obj.closed = true
	if obj.refs == 0 {
		delete(d.objects, h)
	}
	return nil
}

func (d *Device) lookupObject(h device.Handle) (*object, error) {
	obj, ok := d.objects[h]
	if !ok || obj.closed {
		return nil, device.ErrNoSuchObject
	}
	return obj, nil
}

// ReadObject implements device.Device.
func (d *Device) ReadObject(h device.Handle) ([]byte, error) {
	d.mu.Lock()
	obj, err := d.lookupObject(h)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	obj.dataMu.Lock()
	defer obj.dataMu.Unlock()
	out := make([]byte, obj.size)
	copy(out, obj.data)
	return out, nil
}

// WriteObject implements device.Device. Writes land directly in object
// memory and are picked up by batches already executing, which is how
// spinners get terminated.
func (d *Device) WriteObject(h device.Handle, offset uint64, data []byte) error {
	d.mu.Lock()
	obj, err := d.lookupObject(h)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > obj.size {
		return device.ErrInvalid
	}
	obj.dataMu.Lock()
	defer obj.dataMu.Unlock()
	copy(obj.data[offset:], data)
	return nil
}

// WaitObject implements device.Device. Idleness is re-checked after every
// writer retires, so work submitted while waiting extends the wait.
func (d *Device) WaitObject(ctx context.Context, h device.Handle, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := d.clk.Timer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		d.mu.Lock()
		obj, err := d.lookupObject(h)
		var f *fence.Fence
		if err == nil && obj.lastWriter != nil && !obj.lastWriter.done {
			f = obj.lastWriter.f
		}
		d.mu.Unlock()
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		select {
		case <-f.Done():
			// Reset writers still idle the object; loop for newer ones.
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", device.ErrInterrupted, ctx.Err())
		case <-expired:
			return device.ErrTimedOut
		}
	}
}

// CreateContext implements device.Device.
func (d *Device) CreateContext(cfg device.ContextConfig) (device.ContextID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.ErrWedged
	}
	engines := cfg.Engines
	if len(engines) == 0 {
		engines = d.order
	}
	for _, desc := range engines {
		if _, ok := d.engines[desc]; !ok {
			return 0, fmt.Errorf("%w: %s", device.ErrNoSuchEngine, desc)
		}
	}
	d.nextCtx++
	id := d.nextCtx
	owned := make(engine.List, len(engines))
	copy(owned, engines)
	d.contexts[id] = &simContext{
		id:      id,
		engines: owned,
		prio:    device.DefaultPriority,
		vm:      newAddressSpace(),
		rings:   make(map[engine.Descriptor]chan struct{}),
		runtime: make(map[engine.Descriptor]time.Duration),
		tails:   make(map[engine.Descriptor]*request),
	}
	return id, nil
}

// DestroyContext implements device.Device. In-flight work completes.
func (d *Device) DestroyContext(id device.ContextID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.contexts[id]
	if !ok || sc.destroyed {
		return device.ErrNoSuchContext
	}
	sc.destroyed = true
	if sc.live == 0 {
		delete(d.contexts, id)
	}
	return nil
}

// SetContextPriority implements device.Device. The priority applies to
// subsequent submissions; queued requests keep the priority they were
// submitted with, subject to promotion.
func (d *Device) SetContextPriority(id device.ContextID, prio int) error {
	if !d.caps.Has(device.CapPriority) {
		return device.ErrNotSupported
	}
	if prio < device.MinPriority || prio > device.MaxPriority {
		return device.ErrInvalid
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.contexts[id]
	if !ok || sc.destroyed {
		return device.ErrNoSuchContext
	}
	sc.prio = prio
	return nil
}

// ContextRuntime implements device.Device.
func (d *Device) ContextRuntime(id device.ContextID, eng engine.Descriptor) (time.Duration, error) {
	if !d.caps.Has(device.CapBusyStats) {
		return 0, device.ErrNotSupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.contexts[id]
	if !ok {
		return 0, device.ErrNoSuchContext
	}
	if _, ok := d.engines[eng]; !ok {
		return 0, fmt.Errorf("%w: %s", device.ErrNoSuchEngine, eng)
	}
	return sc.runtime[eng], nil
}

// SetEngineProperty implements device.Device.
func (d *Device) SetEngineProperty(eng engine.Descriptor, name string, value int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.engines[eng]
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrNoSuchEngine, eng)
	}
	if _, known := e.props[name]; !known {
		return fmt.Errorf("%w: engine property %q", device.ErrNotSupported, name)
	}
	if value < 0 {
		return device.ErrInvalid
	}
	e.props[name] = value
	e.poke()
	return nil
}

// EngineProperty implements device.Device.
func (d *Device) EngineProperty(eng engine.Descriptor, name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.engines[eng]
	if !ok {
		return 0, fmt.Errorf("%w: %s", device.ErrNoSuchEngine, eng)
	}
	v, known := e.props[name]
	if !known {
		return 0, fmt.Errorf("%w: engine property %q", device.ErrNotSupported, name)
	}
	return v, nil
}

// SetHangcheck implements device.Device.
func (d *Device) SetHangcheck(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangcheck = enabled
	return nil
}

// Wedge fails every queued request and refuses new submissions until
// Recover. Test hook.
func (d *Device) Wedge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.wedged {
		return
	}
	d.wedged = true
	log.Errorf("simulated device wedged") //nolint:errcheck
	for _, e := range d.engines {
		for _, r := range e.queue {
			if !r.done {
				d.retireLocked(r, device.ErrWedged, "wedged")
			}
		}
	}
}

// Recover clears the wedged state. Test hook.
func (d *Device) Recover() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wedged = false
}

// Close implements device.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.engines {
		for _, r := range e.queue {
			if !r.done {
				d.retireLocked(r, device.ErrInterrupted, "closed")
			}
		}
		e.queue = nil
		e.current = nil
	}
	log.Flush()
	return nil
}

func (d *Device) yieldAllowed() bool { return !d.faults.noSemYield }
