// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

type reqStop int

const (
	stopNone reqStop = iota
	stopDone
	stopArb
	stopBlocked
	stopBudget
)

type execRef struct {
	obj   *object
	write bool
	async bool
}

// request is one queued submission. Scheduling state is guarded by
// Device.mu.
type request struct {
	id    uint64
	ctx   *simContext
	eng   *engineState
	ring  chan struct{}
	batch *object
	start uint64

	objects []execRef
	relocs  []device.Relocation
	deps    []*fence.Fence
	parents []*request

	f      *fence.Fence
	signal func(error)

	prio       int
	seq        uint64
	done       bool
	blocked    bool
	relocated  bool
	ip         uint64
	sliceStart time.Time
	lastRunAt  time.Time
}

func (r *request) depsReady() bool {
	for _, f := range r.deps {
		if !f.Signalled() {
			return false
		}
	}
	return true
}

// Submit implements device.Device.
func (d *Device) Submit(ctx context.Context, req *device.Request) (*fence.Fence, error) {
	if req == nil || req.Batch == 0 {
		return nil, device.ErrInvalid
	}

	// Validate before queueing for a ring slot.
	d.mu.Lock()
	ringCh, err := d.validateLocked(req)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Ring admission. A full ring applies backpressure to this context
	// and engine only.
	if req.NonBlocking {
		select {
		case ringCh <- struct{}{}:
		default:
			d.tel.wouldBlock()
			return nil, device.ErrWouldBlock
		}
	} else {
		select {
		case ringCh <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", device.ErrInterrupted, ctx.Err())
		case <-d.stop:
			return nil, device.ErrWedged
		}
	}

	d.mu.Lock()
	f, err := d.queueLocked(req, ringCh)
	d.mu.Unlock()
	if err != nil {
		<-ringCh
		return nil, err
	}
	d.engines[req.Engine].poke()
	return f, nil
}

func (d *Device) validateLocked(req *device.Request) (chan struct{}, error) {
	if d.closed || d.wedged {
		return nil, device.ErrWedged
	}
	sc, ok := d.contexts[req.Context]
	if !ok || sc.destroyed {
		return nil, device.ErrNoSuchContext
	}
	es, ok := d.engines[req.Engine]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrNoSuchEngine, req.Engine)
	}
	if !sc.engines.Contains(es.desc) {
		return nil, fmt.Errorf("%w: context %d has no %s", device.ErrNoSuchEngine, sc.id, es.desc)
	}
	batch, err := d.lookupObject(req.Batch)
	if err != nil {
		return nil, err
	}
	if req.BatchStart%4 != 0 || req.BatchStart >= batch.size {
		return nil, device.ErrInvalid
	}
	for _, eo := range req.Objects {
		if _, err := d.lookupObject(eo.Handle); err != nil {
			return nil, err
		}
	}
	for _, reloc := range req.Relocations {
		if _, err := d.lookupObject(reloc.Target); err != nil {
			return nil, err
		}
		if reloc.Offset+4 > batch.size {
			return nil, device.ErrInvalid
		}
	}
	return sc.ring(es.desc, d.ringSize), nil
}

func (d *Device) queueLocked(req *device.Request, ringCh chan struct{}) (*fence.Fence, error) {
	// Conditions may have changed while waiting for the ring.
	if d.closed || d.wedged {
		return nil, device.ErrWedged
	}
	sc, ok := d.contexts[req.Context]
	if !ok || sc.destroyed {
		return nil, device.ErrNoSuchContext
	}
	es := d.engines[req.Engine]
	batch, err := d.lookupObject(req.Batch)
	if err != nil {
		return nil, err
	}

	d.seqno++
	r := &request{
		id:     d.seqno,
		seq:    d.seqno,
		ctx:    sc,
		eng:    es,
		ring:   ringCh,
		batch:  batch,
		start:  req.BatchStart,
		relocs: append([]device.Relocation(nil), req.Relocations...),
		prio:   sc.prio,
	}
	r.f, r.signal = fence.NewManual(fmt.Sprintf("%s/ctx%d/req%d", es.desc, sc.id, r.id))

	// Object placement.
	batchListed := false
	for _, eo := range req.Objects {
		obj, err := d.lookupObject(eo.Handle)
		if err != nil {
			return nil, err
		}
		if eo.Flags&device.ExecObjectPinned != 0 {
			if err := sc.vm.placeAt(obj, eo.Offset); err != nil {
				return nil, err
			}
		} else {
			sc.vm.ensure(obj)
		}
		r.objects = append(r.objects, execRef{
			obj:   obj,
			write: eo.Flags&device.ExecObjectWrite != 0,
			async: eo.Flags&device.ExecObjectAsync != 0,
		})
		if eo.Handle == req.Batch {
			batchListed = true
		}
	}
	if !batchListed {
		r.objects = append(r.objects, execRef{obj: batch})
	}
	r.ip = sc.vm.ensure(batch) + r.start

	// Implicit ordering from object hazards: a write orders against every
	// prior access, a read against the prior write. Async references skip
	// this entirely.
	seen := make(map[uint64]bool)
	addParent := func(p *request) {
		if p == nil || p.done || p == r || seen[p.id] {
			return
		}
		seen[p.id] = true
		r.parents = append(r.parents, p)
		r.deps = append(r.deps, p.f)
	}
	for _, ref := range r.objects {
		if ref.async {
			continue
		}
		if ref.write {
			addParent(ref.obj.lastWriter)
			for _, reader := range ref.obj.readers {
				addParent(reader)
			}
		} else {
			addParent(ref.obj.lastWriter)
		}
	}
	// Program order within one context and engine is a dependency edge
	// like any other, so promotion propagates down the timeline too.
	if prev := sc.tails[es.desc]; prev != nil {
		addParent(prev)
	}
	sc.tails[es.desc] = r
	for _, ref := range r.objects {
		if ref.write {
			ref.obj.lastWriter = r
			ref.obj.readers = make(map[uint64]*request)
		} else {
			ref.obj.readers[r.id] = r
		}
		ref.obj.refs++
	}
	r.deps = append(r.deps, req.InFences...)

	// Priority inheritance: submitting high priority work promotes the
	// requests it depends on, transitively, but nothing else.
	if d.caps.Has(device.CapPriority) && !d.faults.strictFIFO {
		for _, p := range r.parents {
			bumpLocked(p, r.prio)
		}
	}

	sc.live++
	es.queue = append(es.queue, r)
	d.tel.submitted()
	log.Tracef("queued %s prio=%d deps=%d", r.f.Name(), r.prio, len(r.deps))
	return r.f, nil
}

func bumpLocked(r *request, prio int) {
	if r == nil || r.done || r.prio >= prio {
		return
	}
	r.prio = prio
	for _, p := range r.parents {
		bumpLocked(p, prio)
	}
}

// retireLocked finishes a request: signals its fence, releases hazards,
// object references and the ring slot.
func (d *Device) retireLocked(r *request, err error, cause string) {
	if r.done {
		return
	}
	r.done = true
	r.blocked = false
	r.signal(err)

	for _, ref := range r.objects {
		obj := ref.obj
		if obj.lastWriter == r {
			obj.lastWriter = nil
		}
		delete(obj.readers, r.id)
		obj.refs--
		if obj.closed && obj.refs == 0 {
			delete(d.objects, obj.h)
		}
	}
	select {
	case <-r.ring:
	default:
	}
	if r.ctx.tails[r.eng.desc] == r {
		delete(r.ctx.tails, r.eng.desc)
	}
	r.ctx.live--
	if r.ctx.destroyed && r.ctx.live == 0 {
		delete(d.contexts, r.ctx.id)
	}

	if err != nil {
		d.tel.reset(cause)
		log.Debugf("request %s failed (%s): %v", r.f.Name(), cause, err)
	} else {
		d.tel.completed()
	}
}
