// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := RootCommand()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "smoke")
	assert.Contains(t, out, "preempt-timeout")
	assert.Contains(t, out, "requires scheduler")
}

func TestListCommandFilter(t *testing.T) {
	out, err := execute(t, "list", "--filter", "^fifo$")
	require.NoError(t, err)
	assert.Contains(t, out, "fifo")
	assert.NotContains(t, out, "smoke")

	_, err = execute(t, "list", "--filter", "[")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "schedcheck")
	assert.Contains(t, out, "Commit:")
	assert.Contains(t, out, "Go version:")
}

func TestCapsCommand(t *testing.T) {
	out, err := execute(t, "caps")
	require.NoError(t, err)
	assert.Contains(t, out, "gen12")
	assert.Contains(t, out, "rcs0")
	assert.Contains(t, out, "scheduler")
	assert.Contains(t, out, "timeslice_duration_ms")
}

func TestRunCommandSmoke(t *testing.T) {
	cfgPath := writeConfig(t, `
log_level: error
device:
  engines: ["rcs0"]
`)

	out, err := execute(t, "run", "-c", cfgPath, "--filter", "^smoke$", "--json")
	require.NoError(t, err)

	var report struct {
		Results []struct {
			Scenario string `json:"scenario"`
			Verdict  string `json:"verdict"`
		} `json:"results"`
		Summary struct {
			Total  int `json:"total"`
			Passed int `json:"passed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "smoke", report.Results[0].Scenario)
	assert.Equal(t, "pass", report.Results[0].Verdict)
	assert.Equal(t, 1, report.Summary.Passed)
}

func TestRunCommandWritesReportFile(t *testing.T) {
	cfgPath := writeConfig(t, `
log_level: error
device:
  engines: ["rcs0"]
`)
	reportPath := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, "run", "-c", cfgPath, "--filter", "^smoke$", "--json", "-o", reportPath)
	require.NoError(t, err)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"verdict": "pass"`)
}

func TestRunCommandRejectsBadInput(t *testing.T) {
	_, err := execute(t, "run", "--filter", "[")
	require.Error(t, err)

	_, err = execute(t, "run", "--filter", "^no-such-scenario$")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios match")

	_, err = execute(t, "run", "-c", "/does/not/exist.yaml")
	require.Error(t, err)
}
