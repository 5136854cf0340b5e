// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// HostInfo identifies the machine a report was produced on.
type HostInfo struct {
	Hostname string `json:"hostname,omitempty"`
	OS       string `json:"os,omitempty"`
	Platform string `json:"platform,omitempty"`
	Kernel   string `json:"kernel_version,omitempty"`
	CPUs     int    `json:"cpus"`
}

// Report is the outcome of one runner invocation.
type Report struct {
	RunID   string        `json:"run_id"`
	Host    HostInfo      `json:"host"`
	Device  string        `json:"device,omitempty"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Results []Result      `json:"results"`
	Summary Counters      `json:"summary"`
}

func newReport() *Report {
	return &Report{
		RunID:   uuid.NewString(),
		Host:    collectHostInfo(),
		Started: time.Now().UTC(),
	}
}

func collectHostInfo() HostInfo {
	out := HostInfo{CPUs: runtime.NumCPU()}
	info, err := host.Info()
	if err != nil {
		log.Debugf("collecting host info: %v", err)
		return out
	}
	out.Hostname = info.Hostname
	out.OS = info.OS
	out.Platform = info.Platform
	out.Kernel = info.KernelVersion
	return out
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Summary.increment(res.Verdict)
}

// describeDevice records the device identity the first time it is seen.
func (r *Report) describeDevice(dev device.Device) {
	if r.Device != "" {
		return
	}
	info := dev.Info()
	r.Device = fmt.Sprintf("%s %s [%s]", info.Name, info.Generation, dev.Caps())
}

// Passed reports whether the run found no violation. Skipped scenarios do
// not count against it.
func (r *Report) Passed() bool {
	return r.Summary.Failed == 0 && r.Summary.Errors == 0
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// WriteText renders the report for a terminal. Detail lines for passing
// scenarios only appear in verbose mode.
func (r *Report) WriteText(w io.Writer, verbose bool) {
	if w != color.Output {
		color.NoColor = true
	}

	fmt.Fprintf(w, "=== schedcheck run %s ===\n", r.RunID)
	if r.Device != "" {
		fmt.Fprintf(w, "Device: %s\n", r.Device)
	}
	if r.Host.Hostname != "" {
		fmt.Fprintf(w, "Host: %s (%s %s, %d cpus)\n", r.Host.Hostname, r.Host.Platform, r.Host.Kernel, r.Host.CPUs)
	}
	fmt.Fprint(w, "\n")

	for _, res := range r.Results {
		fmt.Fprintf(w, "  %s %s (%v)\n", verdictLabel(res.Verdict), res.Scenario, res.Duration.Round(time.Millisecond))
		if res.Detail != "" && (res.Verdict != VerdictPass || verbose) {
			fmt.Fprintf(w, "       %s\n", res.Detail)
		}
	}

	fmt.Fprintf(w, "-------------------------\n  Total:%d", r.Summary.Total)
	if r.Summary.Passed > 0 {
		fmt.Fprintf(w, ", Pass:%d", r.Summary.Passed)
	}
	if r.Summary.Skipped > 0 {
		fmt.Fprintf(w, ", Skip:%d", r.Summary.Skipped)
	}
	if r.Summary.Failed > 0 {
		fmt.Fprintf(w, ", Fail:%d", r.Summary.Failed)
	}
	if r.Summary.Errors > 0 {
		fmt.Fprintf(w, ", Error:%d", r.Summary.Errors)
	}
	fmt.Fprintf(w, " in %v\n", r.Elapsed.Round(time.Millisecond))
}

func verdictLabel(v Verdict) string {
	switch v {
	case VerdictPass:
		return color.GreenString("PASS ")
	case VerdictSkip:
		return color.YellowString("SKIP ")
	case VerdictFail:
		return color.RedString("FAIL ")
	default:
		return color.New(color.FgRed, color.Bold).Sprint("ERROR")
	}
}
