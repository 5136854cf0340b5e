// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package log wraps a seelog backend behind package-level helpers used by
// every other package in this repository.
package log

import (
	"fmt"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *harnessLogger

	// This buffer holds log lines sent to the logger before its
	// initialization: loading the config, probing the device and parsing
	// CLI flags all happen first and may want to log.
	//
	// This buffer should be very short lived.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex
	defaultStackDepth    = 3
)

// harnessLogger wrapper structure for seelog
type harnessLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupLogger configures the logger singleton with a seelog interface
func SetupLogger(l seelog.LoggerInterface, level string) {
	logger = &harnessLogger{
		inner: l,
	}

	lvl, ok := seelog.LogLevelFromString(level)
	if !ok {
		lvl = seelog.InfoLvl
	}
	logger.level = lvl

	// We're not going to call harnessLogger directly, but using the
	// exported functions, that will give us two frames in the stack
	// trace that should be skipped to get to the original caller.
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	// Flushing logs since the logger is now initialized. The replayed
	// lines re-enter the package-level helpers, so the buffer must be
	// detached before the mutex is released.
	bufferMutex.Lock()
	bufferLogsBeforeInit = false
	buffered := logsBuffer
	logsBuffer = []func(){}
	bufferMutex.Unlock()
	for _, logLine := range buffered {
		logLine()
	}
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	logsBuffer = append(logsBuffer, logHandle)
}

func (sw *harnessLogger) shouldLog(level seelog.LogLevel) bool {
	sw.l.RLock()
	shouldLog := level >= sw.level
	sw.l.RUnlock()
	return shouldLog
}

func (sw *harnessLogger) changeLogLevel(level string) error {
	lvl, ok := seelog.LogLevelFromString(level)
	if !ok {
		return fmt.Errorf("bad log level: %s", level)
	}
	sw.l.Lock()
	sw.level = lvl
	sw.l.Unlock()
	return nil
}

// ChangeLogLevel changes the current log level, valid levels are trace, debug,
// info, warn, error, critical and off
func ChangeLogLevel(level string) error {
	if logger != nil && logger.inner != nil {
		return logger.changeLogLevel(level)
	}
	return fmt.Errorf("cannot change loglevel: logger not initialized")
}

// GetLogLevel returns the current log level
func GetLogLevel() (seelog.LogLevel, error) {
	if logger != nil && logger.inner != nil {
		logger.l.RLock()
		defer logger.l.RUnlock()
		return logger.level, nil
	}
	return seelog.InfoLvl, fmt.Errorf("cannot get loglevel: logger not initialized")
}

// Tracef logs with format at the trace level
func Tracef(format string, params ...interface{}) {
	bufferMutex.Lock()
	buffered := bufferLogsBeforeInit
	bufferMutex.Unlock()
	if buffered && logger == nil {
		addLogToBuffer(func() { Tracef(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.TraceLvl) {
		logger.l.RLock()
		defer logger.l.RUnlock()
		logger.inner.Tracef(format, params...)
	}
}

// Debugf logs with format at the debug level
func Debugf(format string, params ...interface{}) {
	bufferMutex.Lock()
	buffered := bufferLogsBeforeInit
	bufferMutex.Unlock()
	if buffered && logger == nil {
		addLogToBuffer(func() { Debugf(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.DebugLvl) {
		logger.l.RLock()
		defer logger.l.RUnlock()
		logger.inner.Debugf(format, params...)
	}
}

// Infof logs with format at the info level
func Infof(format string, params ...interface{}) {
	bufferMutex.Lock()
	buffered := bufferLogsBeforeInit
	bufferMutex.Unlock()
	if buffered && logger == nil {
		addLogToBuffer(func() { Infof(format, params...) })
		return
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.InfoLvl) {
		logger.l.RLock()
		defer logger.l.RUnlock()
		logger.inner.Infof(format, params...)
	}
}

// Warnf logs with format at the warn level and returns an error containing
// the formatted log message
func Warnf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	bufferMutex.Lock()
	buffered := bufferLogsBeforeInit
	bufferMutex.Unlock()
	if buffered && logger == nil {
		addLogToBuffer(func() { _ = Warnf(format, params...) })
		return err
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.WarnLvl) {
		logger.l.RLock()
		defer logger.l.RUnlock()
		logger.inner.Warn(err.Error()) //nolint:errcheck
	}
	return err
}

// Errorf logs with format at the error level and returns an error containing
// the formatted log message
func Errorf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	bufferMutex.Lock()
	buffered := bufferLogsBeforeInit
	bufferMutex.Unlock()
	if buffered && logger == nil {
		addLogToBuffer(func() { _ = Errorf(format, params...) })
		return err
	}
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.ErrorLvl) {
		logger.l.RLock()
		defer logger.l.RUnlock()
		logger.inner.Error(err.Error()) //nolint:errcheck
	}
	return err
}

// Flush flushes the underlying inner log
func Flush() {
	if logger != nil && logger.inner != nil {
		logger.l.RLock()
		defer logger.l.RUnlock()
		logger.inner.Flush()
	}
}
