// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"expvar"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runnerExpvars    = expvar.NewMap("schedcheck")
	runningScenario  expvar.String
	scenariosRun     expvar.Int
	scenariosPassed  expvar.Int
	scenariosSkipped expvar.Int
	scenariosFailed  expvar.Int
	scenariosErrored expvar.Int
)

func init() {
	runnerExpvars.Set("RunningScenario", &runningScenario)
	runnerExpvars.Set("Runs", &scenariosRun)
	runnerExpvars.Set("Passes", &scenariosPassed)
	runnerExpvars.Set("Skips", &scenariosSkipped)
	runnerExpvars.Set("Fails", &scenariosFailed)
	runnerExpvars.Set("Errors", &scenariosErrored)
}

// telemetry exposes runner progress to a scrape endpoint when a registerer
// is configured; with a nil registerer the collectors stay unregistered.
// Process-wide expvars mirror the counters either way.
type telemetry struct {
	scenarios *prometheus.CounterVec
	duration  prometheus.Histogram
}

func newTelemetry(reg prometheus.Registerer) *telemetry {
	factory := promauto.With(reg)
	return &telemetry{
		scenarios: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedcheck",
			Subsystem: "runner",
			Name:      "scenarios_total",
			Help:      "Scenario runs by verdict.",
		}, []string{"verdict"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schedcheck",
			Subsystem: "runner",
			Name:      "scenario_duration_seconds",
			Help:      "Wall clock duration of scenario runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (t *telemetry) begin(name string) {
	runningScenario.Set(name)
}

func (t *telemetry) observe(v Verdict, d time.Duration) {
	t.scenarios.WithLabelValues(v.String()).Inc()
	t.duration.Observe(d.Seconds())

	runningScenario.Set("")
	scenariosRun.Add(1)
	switch v {
	case VerdictPass:
		scenariosPassed.Add(1)
	case VerdictSkip:
		scenariosSkipped.Add(1)
	case VerdictFail:
		scenariosFailed.Add(1)
	case VerdictError:
		scenariosErrored.Add(1)
	}
}
