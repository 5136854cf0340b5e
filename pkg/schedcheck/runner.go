// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/config"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// leakGrace bounds how long the runner waits for a scenario goroutine to
// unwind after its device was torn down on deadline.
const leakGrace = 10 * time.Second

// DeviceFactory creates a fresh device for one scenario. Every scenario
// runs against its own device so a wedge or a tuned engine property cannot
// leak into the next one.
type DeviceFactory func() (device.Device, error)

type runnerOptions struct {
	registerer prometheus.Registerer
	statsd     statsd.ClientInterface
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerOptions)

// WithRegisterer registers runner metrics with reg.
func WithRegisterer(reg prometheus.Registerer) RunnerOption {
	return func(o *runnerOptions) { o.registerer = reg }
}

// WithStatsd emits per scenario metrics to the given client.
func WithStatsd(client statsd.ClientInterface) RunnerOption {
	return func(o *runnerOptions) { o.statsd = client }
}

// Runner executes scenarios sequentially and collects a report.
type Runner struct {
	cfg     config.Config
	factory DeviceFactory
	filter  engine.List
	tel     *telemetry
	statsd  statsd.ClientInterface
}

// NewRunner validates the configuration and builds a runner.
func NewRunner(cfg config.Config, factory DeviceFactory, opts ...RunnerOption) (*Runner, error) {
	if factory == nil {
		return nil, fmt.Errorf("cannot create runner: device factory is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cannot create runner: %w", err)
	}
	filter, err := cfg.RunEngines()
	if err != nil {
		return nil, fmt.Errorf("cannot create runner: %w", err)
	}

	var o runnerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner{
		cfg:     cfg,
		factory: factory,
		filter:  filter,
		tel:     newTelemetry(o.registerer),
		statsd:  o.statsd,
	}, nil
}

// Run executes the scenarios in order and returns the report. A cancelled
// ctx marks the remaining scenarios as errors instead of running them.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) *Report {
	report := newReport()
	start := time.Now()

	for _, s := range scenarios {
		if ctx.Err() != nil {
			report.add(Result{Scenario: s.Name, Verdict: VerdictError, Detail: "run cancelled"})
			continue
		}
		r.tel.begin(s.Name)
		res := r.runScenario(ctx, s, report)
		report.add(res)
		r.tel.observe(res.Verdict, res.Duration)
		r.emit(res)
		log.Infof("scenario %s: %s (%v)", res.Scenario, res.Verdict, res.Duration.Round(time.Millisecond))
	}

	report.Elapsed = time.Since(start)
	return report
}

type outcome struct {
	verdict Verdict
	detail  string
}

func (r *Runner) runScenario(ctx context.Context, s Scenario, report *Report) Result {
	start := time.Now()
	res := Result{Scenario: s.Name, Verdict: VerdictError}

	dev, err := r.factory()
	if err != nil {
		res.Detail = fmt.Sprintf("creating device: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	defer dev.Close() //nolint:errcheck
	report.describeDevice(dev)

	if missing := missingCaps(s.Requires, dev.Caps()); missing != "" {
		res.Verdict = VerdictSkip
		res.Detail = "device lacks " + missing
		res.Duration = time.Since(start)
		return res
	}
	engines := selectEngines(dev.Engines(), r.filter)
	if len(engines) == 0 {
		res.Verdict = VerdictSkip
		res.Detail = "no engines selected"
		res.Duration = time.Since(start)
		return res
	}

	scnCtx, cancel := context.WithTimeout(ctx, r.cfg.ScenarioTimeout())
	defer cancel()
	env := newEnv(scnCtx, dev, r.cfg, engines)

	done := make(chan outcome, 1)
	go func() {
		out := outcome{verdict: VerdictPass}
		defer func() { done <- out }()
		defer func() {
			// Teardown may trip over resources the scenario already
			// wedged; it must not take the runner down with it.
			defer func() {
				if p := recover(); p != nil {
					log.Warnf("scenario %s teardown panicked: %v", s.Name, p) //nolint:errcheck
				}
			}()
			env.teardown()
		}()
		defer func() {
			switch p := recover().(type) {
			case nil:
				if env.Failed() {
					out = outcome{verdict: VerdictFail, detail: env.failureDetail()}
				}
			case failNowPanic:
				out = outcome{verdict: VerdictFail, detail: env.failureDetail()}
			case skipPanic:
				out = outcome{verdict: VerdictSkip, detail: p.reason}
			default:
				out = outcome{
					verdict: VerdictError,
					detail:  fmt.Sprintf("panic: %v\n%s", p, debug.Stack()),
				}
			}
		}()
		s.Run(env)
	}()

	select {
	case out := <-done:
		// A scenario that slid past its deadline but still unwound
		// cleanly did not prove its contract.
		if scnCtx.Err() != nil && out.verdict == VerdictPass {
			out = outcome{verdict: VerdictError, detail: fmt.Sprintf("deadline of %v exceeded", r.cfg.ScenarioTimeout())}
		}
		res.Verdict = out.verdict
		res.Detail = out.detail
	case <-scnCtx.Done():
		// Tear the device down so every blocked wait in the scenario
		// returns, then give the goroutine a bounded chance to unwind.
		dev.Close() //nolint:errcheck
		grace := time.NewTimer(leakGrace)
		select {
		case <-done:
		case <-grace.C:
			log.Errorf("scenario %s leaked its goroutine past device teardown", s.Name) //nolint:errcheck
		}
		grace.Stop()
		res.Verdict = VerdictError
		res.Detail = fmt.Sprintf("deadline of %v exceeded", r.cfg.ScenarioTimeout())
	}

	res.Duration = time.Since(start)
	return res
}

func (r *Runner) emit(res Result) {
	if r.statsd == nil {
		return
	}
	tags := []string{"scenario:" + res.Scenario, "verdict:" + res.Verdict.String()}
	if err := r.statsd.Incr("schedcheck.scenario", tags, 1); err != nil {
		log.Debugf("statsd incr: %v", err)
	}
	if err := r.statsd.Timing("schedcheck.scenario.duration", res.Duration, tags, 1); err != nil {
		log.Debugf("statsd timing: %v", err)
	}
}

func selectEngines(available, filter engine.List) engine.List {
	if len(filter) == 0 {
		return available
	}
	var out engine.List
	for _, d := range available {
		if filter.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}
