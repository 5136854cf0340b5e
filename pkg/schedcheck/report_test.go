// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device/mocks"
)

type ReportTestSuite struct {
	suite.Suite
	report *Report
}

func (suite *ReportTestSuite) SetupTest() {
	suite.report = newReport()
}

func (suite *ReportTestSuite) TestAddTallies() {
	suite.report.add(Result{Scenario: "a", Verdict: VerdictPass})
	suite.report.add(Result{Scenario: "b", Verdict: VerdictSkip})
	suite.report.add(Result{Scenario: "c", Verdict: VerdictFail})
	suite.report.add(Result{Scenario: "d", Verdict: VerdictError})
	suite.report.add(Result{Scenario: "e", Verdict: VerdictPass})

	suite.Equal(Counters{Total: 5, Passed: 2, Skipped: 1, Failed: 1, Errors: 1}, suite.report.Summary)
	suite.Len(suite.report.Results, 5)
	suite.Equal("a", suite.report.Results[0].Scenario)
}

func (suite *ReportTestSuite) TestPassedIgnoresSkips() {
	suite.report.add(Result{Scenario: "a", Verdict: VerdictPass})
	suite.report.add(Result{Scenario: "b", Verdict: VerdictSkip})
	suite.True(suite.report.Passed())

	suite.report.add(Result{Scenario: "c", Verdict: VerdictFail})
	suite.False(suite.report.Passed())
}

func (suite *ReportTestSuite) TestPassedCountsErrors() {
	suite.report.add(Result{Scenario: "a", Verdict: VerdictError})
	suite.False(suite.report.Passed())
}

func (suite *ReportTestSuite) TestDescribeDeviceKeepsTheFirst() {
	first := &mocks.Device{}
	first.On("Info").Return(device.Info{Name: "sim", Generation: 12})
	first.On("Caps").Return(device.CapScheduler | device.CapPriority)

	suite.report.describeDevice(first)
	suite.Equal("sim gen12 [scheduler,priority]", suite.report.Device)
	first.AssertExpectations(suite.T())

	second := &mocks.Device{}
	suite.report.describeDevice(second)
	suite.Equal("sim gen12 [scheduler,priority]", suite.report.Device)
	second.AssertNotCalled(suite.T(), "Info")
}

func (suite *ReportTestSuite) TestWriteTextGatesPassDetail() {
	suite.report.add(Result{Scenario: "quiet", Verdict: VerdictPass, Detail: "3 stores in order", Duration: 12 * time.Millisecond})
	suite.report.add(Result{Scenario: "loud", Verdict: VerdictFail, Detail: "store 2 overtook store 1"})

	var buf bytes.Buffer
	suite.report.WriteText(&buf, false)
	text := buf.String()
	suite.Contains(text, "PASS  quiet (12ms)")
	suite.Contains(text, "FAIL  loud (0s)")
	suite.Contains(text, "store 2 overtook store 1")
	suite.NotContains(text, "3 stores in order")

	buf.Reset()
	suite.report.WriteText(&buf, true)
	suite.Contains(buf.String(), "3 stores in order")
}

func (suite *ReportTestSuite) TestWriteTextSummaryOmitsZeroBuckets() {
	suite.report.add(Result{Scenario: "a", Verdict: VerdictPass})

	var buf bytes.Buffer
	suite.report.WriteText(&buf, false)
	suite.Contains(buf.String(), "Total:1, Pass:1 in ")
	suite.NotContains(buf.String(), "Skip:")
	suite.NotContains(buf.String(), "Fail:")

	suite.report.add(Result{Scenario: "b", Verdict: VerdictSkip})
	suite.report.add(Result{Scenario: "c", Verdict: VerdictFail})
	suite.report.add(Result{Scenario: "d", Verdict: VerdictError})
	buf.Reset()
	suite.report.WriteText(&buf, false)
	suite.Contains(buf.String(), "Total:4, Pass:1, Skip:1, Fail:1, Error:1 in ")
}

func (suite *ReportTestSuite) TestWriteJSONRoundTrips() {
	suite.report.Device = "sim gen12 [scheduler]"
	suite.report.Elapsed = 250 * time.Millisecond
	suite.report.add(Result{Scenario: "a", Verdict: VerdictPass, Duration: 40 * time.Millisecond})
	suite.report.add(Result{Scenario: "b", Verdict: VerdictError, Detail: "panic: boom"})

	var buf bytes.Buffer
	suite.NoError(suite.report.WriteJSON(&buf))

	var back Report
	suite.NoError(json.Unmarshal(buf.Bytes(), &back))
	suite.Equal(suite.report.RunID, back.RunID)
	suite.Equal(suite.report.Device, back.Device)
	suite.Equal(suite.report.Elapsed, back.Elapsed)
	suite.Equal(suite.report.Results, back.Results)
	suite.Equal(suite.report.Summary, back.Summary)
}

func TestReportTestSuite(t *testing.T) {
	suite.Run(t, new(ReportTestSuite))
}
