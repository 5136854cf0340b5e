// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// Stats is a snapshot of the device scheduling counters.
type Stats struct {
	Submissions int64
	Completions int64
	Resets      int64
	Preemptions int64
	Rotations   int64
	SemYields   int64
	WouldBlocks int64
}

// telemetry double-counts events: atomics for cheap in-process snapshots,
// prometheus for scraping when a registerer is configured.
type telemetry struct {
	submissions *atomic.Int64
	completions *atomic.Int64
	resets      *atomic.Int64
	preemptions *atomic.Int64
	rotations   *atomic.Int64
	semYields   *atomic.Int64
	wouldBlocks *atomic.Int64

	promSubmissions prometheus.Counter
	promCompletions prometheus.Counter
	promResets      *prometheus.CounterVec
	promPreemptions prometheus.Counter
	promRotations   prometheus.Counter
	promSemYields   prometheus.Counter
	promWouldBlocks prometheus.Counter
}

func newTelemetry(reg prometheus.Registerer) *telemetry {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schedcheck",
			Subsystem: "sim",
			Name:      name,
			Help:      help,
		})
	}
	return &telemetry{
		submissions: atomic.NewInt64(0),
		completions: atomic.NewInt64(0),
		resets:      atomic.NewInt64(0),
		preemptions: atomic.NewInt64(0),
		rotations:   atomic.NewInt64(0),
		semYields:   atomic.NewInt64(0),
		wouldBlocks: atomic.NewInt64(0),

		promSubmissions: counter("submissions_total", "Requests accepted by Submit."),
		promCompletions: counter("completions_total", "Requests that retired successfully."),
		promResets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedcheck",
			Subsystem: "sim",
			Name:      "resets_total",
			Help:      "Requests killed by the device, by cause.",
		}, []string{"cause"}),
		promPreemptions: counter("preemptions_total", "Slices ended for higher priority work."),
		promRotations:   counter("rotations_total", "Slices ended by timeslice expiry."),
		promSemYields:   counter("semaphore_yields_total", "Engine releases on unsatisfied semaphores."),
		promWouldBlocks: counter("would_blocks_total", "Non-blocking submissions refused on a full ring."),
	}
}

func (t *telemetry) submitted() {
	t.submissions.Inc()
	t.promSubmissions.Inc()
}

func (t *telemetry) completed() {
	t.completions.Inc()
	t.promCompletions.Inc()
}

func (t *telemetry) reset(cause string) {
	t.resets.Inc()
	t.promResets.WithLabelValues(cause).Inc()
}

func (t *telemetry) preempted() {
	t.preemptions.Inc()
	t.promPreemptions.Inc()
}

func (t *telemetry) rotated() {
	t.rotations.Inc()
	t.promRotations.Inc()
}

func (t *telemetry) semYielded() {
	t.semYields.Inc()
	t.promSemYields.Inc()
}

func (t *telemetry) wouldBlock() {
	t.wouldBlocks.Inc()
	t.promWouldBlocks.Inc()
}

func (t *telemetry) snapshot() Stats {
	return Stats{
		Submissions: t.submissions.Load(),
		Completions: t.completions.Load(),
		Resets:      t.resets.Load(),
		Preemptions: t.preemptions.Load(),
		Rotations:   t.rotations.Load(),
		SemYields:   t.semYields.Load(),
		WouldBlocks: t.wouldBlocks.Load(),
	}
}
