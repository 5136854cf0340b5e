// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/config"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/cork"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/sim"
)

// testConfig trims the defaults so a full run stays fast.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Device.Engines = []string{"rcs0", "bcs0"}
	cfg.Device.RingSize = 32
	cfg.Device.TickUs = 100
	cfg.Run.ScenarioTimeoutMs = 10000
	cfg.Run.FairnessDurationMs = 150
	cfg.Run.PingPongRounds = 4
	cfg.Run.PreemptPasses = 4
	cfg.Run.QueueDepth = 16
	return cfg
}

func simFactory(t *testing.T, cfg config.Config, extra ...sim.Option) DeviceFactory {
	t.Helper()
	engines, err := cfg.DeviceEngines()
	require.NoError(t, err)
	return func() (device.Device, error) {
		opts := []sim.Option{
			sim.WithName(cfg.Device.Name),
			sim.WithGeneration(device.Generation(cfg.Device.Generation)),
			sim.WithEngines(engines),
			sim.WithRingSize(cfg.Device.RingSize),
			sim.WithTick(cfg.Tick()),
			sim.WithPreemptTimeout(cfg.Device.PreemptTimeoutMs),
			sim.WithHeartbeatInterval(cfg.Device.HeartbeatIntervalMs),
			sim.WithTimesliceDuration(cfg.Device.TimesliceDurationMs),
		}
		return sim.New(append(opts, extra...)...)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	cfg := testConfig()

	_, err := NewRunner(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device factory is nil")

	bad := testConfig()
	bad.Device.Generation = 99
	_, err = NewRunner(bad, simFactory(t, cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot create runner")

	badRun := testConfig()
	badRun.Run.Engines = []string{"warpdrive0"}
	_, err = NewRunner(badRun, simFactory(t, cfg))
	require.Error(t, err)
}

func TestRunnerAllScenariosPassOnHealthyDevice(t *testing.T) {
	cfg := testConfig()
	runner, err := NewRunner(cfg, simFactory(t, cfg))
	require.NoError(t, err)

	report := runner.Run(context.Background(), All())

	for _, res := range report.Results {
		assert.Equalf(t, VerdictPass, res.Verdict, "%s: %s", res.Scenario, res.Detail)
	}
	assert.True(t, report.Passed())
	assert.Equal(t, Counters{Total: 12, Passed: 12}, report.Summary)
	assert.NotEmpty(t, report.RunID)
	assert.NotEmpty(t, report.Device)
}

func TestRunnerVerdictMachinery(t *testing.T) {
	cfg := testConfig()
	rec := &recordingStatsd{}
	reg := prometheus.NewRegistry()
	runner, err := NewRunner(cfg, simFactory(t, cfg), WithRegisterer(reg), WithStatsd(rec))
	require.NoError(t, err)

	scenarios := []Scenario{
		{Name: "passes", Description: "does nothing", Run: func(e *Env) {}},
		{Name: "records-failure", Description: "fails without stopping", Run: func(e *Env) {
			e.Errorf("deliberate failure %d", 1)
		}},
		{Name: "stops-on-failure", Description: "fails hard", Run: func(e *Env) {
			require.Fail(e, "forced stop")
			panic("unreachable")
		}},
		{Name: "skips", Description: "asks out", Run: func(e *Env) {
			e.Skipf("not on %s", "this device")
		}},
		{Name: "panics", Description: "blows up", Run: func(e *Env) {
			panic("boom")
		}},
	}

	report := runner.Run(context.Background(), scenarios)
	require.Len(t, report.Results, len(scenarios))

	byName := make(map[string]Result)
	for _, res := range report.Results {
		byName[res.Scenario] = res
	}
	assert.Equal(t, VerdictPass, byName["passes"].Verdict)
	assert.Equal(t, VerdictFail, byName["records-failure"].Verdict)
	assert.Contains(t, byName["records-failure"].Detail, "deliberate failure 1")
	assert.Equal(t, VerdictFail, byName["stops-on-failure"].Verdict)
	assert.Contains(t, byName["stops-on-failure"].Detail, "forced stop")
	assert.Equal(t, VerdictSkip, byName["skips"].Verdict)
	assert.Equal(t, "not on this device", byName["skips"].Detail)
	assert.Equal(t, VerdictError, byName["panics"].Verdict)
	assert.Contains(t, byName["panics"].Detail, "panic: boom")

	assert.Equal(t, Counters{Total: 5, Passed: 1, Skipped: 1, Failed: 2, Errors: 1}, report.Summary)
	assert.False(t, report.Passed())

	assert.Equal(t, len(scenarios), rec.incrs())

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "schedcheck_runner_scenarios_total")
	assert.Contains(t, names, "schedcheck_runner_scenario_duration_seconds")
}

func TestRunnerScenarioDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Run.ScenarioTimeoutMs = 300
	runner, err := NewRunner(cfg, simFactory(t, cfg))
	require.NoError(t, err)

	stuck := Scenario{
		Name:        "stuck",
		Description: "waits on a fence that never unplugs",
		Run: func(e *Env) {
			eng := e.Engines()[0]
			cctx := e.NewContext(device.DefaultPriority)
			scratch := e.NewScratch()
			plug := cork.Plug("stuck")
			f, err := submit.StoreDword(e.Context(), e.Device(), cctx, eng, scratch, 0, 1, submit.StoreOpts{
				Cork: plug,
			})
			require.NoError(e, err)
			err = f.Wait(context.Background())
			require.Error(e, err, "tearing down the device must fail the corked wait")
		},
	}

	start := time.Now()
	report := runner.Run(context.Background(), []Scenario{stuck})
	require.Len(t, report.Results, 1)
	assert.Equal(t, VerdictError, report.Results[0].Verdict)
	assert.Contains(t, report.Results[0].Detail, "deadline of")
	assert.Less(t, time.Since(start), leakGrace, "deadline handling must not hang the runner")
}

func TestRunnerCancelledRun(t *testing.T) {
	cfg := testConfig()
	runner, err := NewRunner(cfg, simFactory(t, cfg))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := runner.Run(ctx, All())

	require.Len(t, report.Results, len(All()))
	for _, res := range report.Results {
		assert.Equal(t, VerdictError, res.Verdict)
		assert.Equal(t, "run cancelled", res.Detail)
	}
}

func TestRunnerSkipsMissingCaps(t *testing.T) {
	cfg := testConfig()
	runner, err := NewRunner(cfg, simFactory(t, cfg, sim.WithoutCaps(device.CapPreemption)))
	require.NoError(t, err)

	scenarios, err := Filter(All(), []string{"^preempt", "^smoke$"}, nil)
	require.NoError(t, err)
	report := runner.Run(context.Background(), scenarios)

	for _, res := range report.Results {
		switch res.Scenario {
		case "smoke":
			assert.Equal(t, VerdictPass, res.Verdict)
		default:
			assert.Equalf(t, VerdictSkip, res.Verdict, "%s: %s", res.Scenario, res.Detail)
			assert.Equal(t, "device lacks preemption", res.Detail)
		}
	}
	assert.Equal(t, Counters{Total: 4, Passed: 1, Skipped: 3}, report.Summary)
}

func TestRunnerOldGenerationSkips(t *testing.T) {
	cfg := testConfig()
	runner, err := NewRunner(cfg, simFactory(t, cfg, sim.WithGeneration(7)))
	require.NoError(t, err)

	scenarios, err := Filter(All(), []string{"^timeslice$", "^semaphore-wait$", "^smoke$"}, nil)
	require.NoError(t, err)
	report := runner.Run(context.Background(), scenarios)

	byName := make(map[string]Result)
	for _, res := range report.Results {
		byName[res.Scenario] = res
	}
	assert.Equal(t, VerdictPass, byName["smoke"].Verdict, byName["smoke"].Detail)
	assert.Equal(t, VerdictSkip, byName["timeslice"].Verdict)
	assert.Contains(t, byName["timeslice"].Detail, "gen8")
	assert.Equal(t, VerdictSkip, byName["semaphore-wait"].Verdict)
	assert.Contains(t, byName["semaphore-wait"].Detail, "gen8")
}

func TestRunnerEngineFilter(t *testing.T) {
	var mu sync.Mutex
	var captured []string
	capture := Scenario{
		Name:        "capture",
		Description: "records the engine selection",
		Run: func(e *Env) {
			mu.Lock()
			defer mu.Unlock()
			captured = e.Engines().Names()
		},
	}

	cfg := testConfig()
	cfg.Run.Engines = []string{"rcs0"}
	runner, err := NewRunner(cfg, simFactory(t, cfg))
	require.NoError(t, err)
	report := runner.Run(context.Background(), []Scenario{capture})
	require.Equal(t, VerdictPass, report.Results[0].Verdict)
	mu.Lock()
	assert.Equal(t, []string{"rcs0"}, captured)
	mu.Unlock()

	// A filter naming an engine the device does not have selects nothing.
	cfg = testConfig()
	cfg.Run.Engines = []string{"vcs0"}
	runner, err = NewRunner(cfg, simFactory(t, cfg))
	require.NoError(t, err)
	report = runner.Run(context.Background(), []Scenario{capture})
	require.Equal(t, VerdictSkip, report.Results[0].Verdict)
	assert.Equal(t, "no engines selected", report.Results[0].Detail)
}

func TestReportWriters(t *testing.T) {
	cfg := testConfig()
	runner, err := NewRunner(cfg, simFactory(t, cfg))
	require.NoError(t, err)

	scenarios, err := Filter(All(), []string{"^smoke$"}, nil)
	require.NoError(t, err)
	report := runner.Run(context.Background(), scenarios)

	var jsonBuf bytes.Buffer
	require.NoError(t, report.WriteJSON(&jsonBuf))
	var decoded struct {
		RunID   string   `json:"run_id"`
		Device  string   `json:"device"`
		Results []Result `json:"results"`
		Summary Counters `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.NotEmpty(t, decoded.RunID)
	assert.NotEmpty(t, decoded.Device)
	require.Len(t, decoded.Results, 1)
	assert.Equal(t, "smoke", decoded.Results[0].Scenario)
	assert.Equal(t, Counters{Total: 1, Passed: 1}, decoded.Summary)

	var textBuf bytes.Buffer
	report.WriteText(&textBuf, false)
	text := textBuf.String()
	assert.Contains(t, text, "PASS")
	assert.Contains(t, text, "smoke")
	assert.Contains(t, text, "Total:1, Pass:1")
}

// recordingStatsd counts emissions; everything else is a no-op.
type recordingStatsd struct {
	statsd.NoOpClient
	mu    sync.Mutex
	count int
}

func (r *recordingStatsd) Incr(name string, tags []string, rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.HasPrefix(name, "schedcheck.") {
		r.count++
	}
	return nil
}

func (r *recordingStatsd) incrs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
