// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package sim

import (
	"fmt"
	"time"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// engineState is one hardware engine: a run queue, the request currently
// holding the engine and the tunable properties. All fields are guarded by
// Device.mu except wake.
type engineState struct {
	desc engine.Descriptor
	dev  *Device

	queue   []*request
	current *request
	props   map[string]int64

	// lastYield is the last time the engine passed an arbitration point,
	// went idle or switched requests. Hangcheck measures against it.
	lastYield    time.Time
	preemptSince time.Time

	wake chan struct{}
}

func newEngineState(d *Device, desc engine.Descriptor, cfg config) *engineState {
	return &engineState{
		desc: desc,
		dev:  d,
		props: map[string]int64{
			device.PropPreemptTimeoutMs:    cfg.preemptTimeoutMs,
			device.PropHeartbeatIntervalMs: cfg.heartbeatIntervalMs,
			device.PropTimesliceDurationMs: cfg.timesliceDurationMs,
		},
		lastYield: d.clk.Now(),
		wake:      make(chan struct{}, 1),
	}
}

// poke nudges the engine out of its tick wait. Non-blocking.
func (e *engineState) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *engineState) run() {
	defer e.dev.wg.Done()
	ticker := e.dev.clk.Ticker(e.dev.tick)
	defer ticker.Stop()
	for {
		select {
		case <-e.dev.stop:
			return
		case <-e.wake:
			e.step()
		case <-ticker.C:
			e.step()
		}
	}
}

func (e *engineState) propDuration(name string) time.Duration {
	return time.Duration(e.props[name]) * time.Millisecond
}

// step runs one scheduling quantum: pick the best ready request, execute a
// slice of it, then apply preemption, timeslice and hangcheck policy.
func (e *engineState) step() {
	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.wedged {
		return
	}
	now := d.clk.Now()

	e.pruneLocked()
	if e.current != nil && e.current.done {
		e.current = nil
	}

	// A request parked on a semaphore releases the engine so other work
	// can run, unless the device is broken that way.
	if e.current != nil && e.current.blocked {
		if d.semSatisfiedLocked(e.current) {
			e.current.blocked = false
		} else if d.yieldAllowed() {
			e.current = nil
			e.lastYield = now
			d.tel.semYielded()
		}
	}

	best := e.pickLocked()
	if e.current == nil {
		if best == nil {
			e.lastYield = now
			e.preemptSince = time.Time{}
			return
		}
		e.scheduleLocked(best, now)
	}
	cur := e.current

	// Decide whether the slice should end at the next arbitration point.
	wantSwitch := false
	preempting := false
	if best != nil && best != cur {
		switch {
		case best.prio > cur.prio && d.caps.Has(device.CapPreemption) && !d.faults.noPreempt:
			wantSwitch = true
			preempting = true
		case best.prio == cur.prio && d.caps.Has(device.CapTimeslicing) && !d.faults.noTimeslice:
			if q := e.propDuration(device.PropTimesliceDurationMs); q > 0 && now.Sub(cur.sliceStart) >= q {
				wantSwitch = true
			}
		}
	}

	res := d.execSlice(cur, wantSwitch)
	cur.ctx.runtime[e.desc] += d.tick
	cur.lastRunAt = now
	if res.passedArb {
		e.lastYield = now
	}

	switch {
	case res.fault != nil:
		e.resetLocked(cur, now, res.fault, "fault")
		return
	case res.stop == stopDone:
		e.completeLocked(cur, now)
		return
	case res.stop == stopArb && wantSwitch:
		e.current = nil
		e.preemptSince = time.Time{}
		if preempting {
			d.tel.preempted()
		} else {
			d.tel.rotated()
		}
		return
	case res.stop == stopBlocked:
		cur.blocked = true
		if d.yieldAllowed() {
			e.current = nil
			e.lastYield = now
			d.tel.semYielded()
			return
		}
	}

	// Forced preemption: a higher priority request is waiting and the
	// occupant refuses to reach an arbitration point.
	if preempting && res.stop == stopBudget && !res.passedArb {
		if e.preemptSince.IsZero() {
			e.preemptSince = now
		} else if t := e.propDuration(device.PropPreemptTimeoutMs); t > 0 && now.Sub(e.preemptSince) >= t {
			e.resetLocked(cur, now,
				fmt.Errorf("%w: preempt timeout on %s", device.ErrReset, e.desc), "preempt-timeout")
			return
		}
	} else {
		e.preemptSince = time.Time{}
	}

	// Hangcheck: reset an occupant that never lets the engine breathe.
	if d.hangcheck {
		if t := e.propDuration(device.PropHeartbeatIntervalMs); t > 0 && now.Sub(e.lastYield) >= t {
			e.resetLocked(cur, now,
				fmt.Errorf("%w: heartbeat timeout on %s", device.ErrReset, e.desc), "heartbeat")
		}
	}
}

func (e *engineState) pruneLocked() {
	kept := e.queue[:0]
	for _, r := range e.queue {
		if !r.done {
			kept = append(kept, r)
		}
	}
	e.queue = kept
}

// pickLocked returns the request that should own the engine next: highest
// priority among the ready ones, FIFO within a priority. A strict FIFO
// fault ignores priority entirely.
func (e *engineState) pickLocked() *request {
	d := e.dev
	var best *request
	for _, r := range e.queue {
		if r.done || !r.depsReady() {
			continue
		}
		if r.blocked && !d.semSatisfiedLocked(r) {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if d.faults.strictFIFO {
			if r.seq < best.seq {
				best = r
			}
			continue
		}
		if r.prio > best.prio {
			best = r
			continue
		}
		if r.prio == best.prio {
			if r.lastRunAt.Before(best.lastRunAt) ||
				(r.lastRunAt.Equal(best.lastRunAt) && r.seq < best.seq) {
				best = r
			}
		}
	}
	return best
}

func (e *engineState) scheduleLocked(r *request, now time.Time) {
	r.blocked = false
	r.sliceStart = now
	e.current = r
	e.lastYield = now
	e.preemptSince = time.Time{}
}

func (e *engineState) completeLocked(r *request, now time.Time) {
	e.dev.retireLocked(r, nil, "")
	e.current = nil
	e.lastYield = now
	e.preemptSince = time.Time{}
}

func (e *engineState) resetLocked(r *request, now time.Time, err error, cause string) {
	log.Warnf("resetting %s: %v", r.f.Name(), err) //nolint:errcheck
	e.dev.retireLocked(r, err, cause)
	if e.current == r {
		e.current = nil
	}
	e.lastYield = now
	e.preemptSince = time.Time{}
}
