// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package clog provides a small pluggable logging facade shared by every
// satlink component, so callers can swap in their own sink without any
// component importing a concrete logging library directly.
package clog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogProvider RFC5424 log message levels only Critical Error Warn and Debug
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Clog Log internal debugging implementation
type Clog struct {
	provider LogProvider
	// is log output enabled,1: enable, 0: disable
	has uint32
}

// NewLogger creates a new Clog with the given component name attached to
// every line as a structured field on the default logrus-backed provider.
func NewLogger(component string) Clog {
	return Clog{
		defaultLogger{logrus.WithField("component", component)},
		0,
	}
}

// LogMode set enable or disable log output when you has set provider
func (sf *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider set provider provider
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

// Critical Log CRITICAL level message.
func (sf Clog) Critical(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(format, v...)
	}
}

// Error Log ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(format, v...)
	}
}

// Warn Log WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(format, v...)
	}
}

// Debug Log DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(format, v...)
	}
}

// defaultLogger adapts a logrus.Entry to LogProvider.
type defaultLogger struct {
	entry *logrus.Entry
}

var _ LogProvider = defaultLogger{}

// Critical Log CRITICAL level message. logrus has no built-in Critical
// level; it is modeled as Error plus a severity field so it still surfaces
// on an Error-filtered sink without terminating the process.
func (sf defaultLogger) Critical(format string, v ...interface{}) {
	sf.entry.WithField("severity", "critical").Errorf(format, v...)
}

// Error Log ERROR level message.
func (sf defaultLogger) Error(format string, v ...interface{}) {
	sf.entry.Errorf(format, v...)
}

// Warn Log WARN level message.
func (sf defaultLogger) Warn(format string, v ...interface{}) {
	sf.entry.Warnf(format, v...)
}

// Debug Log DEBUG level message.
func (sf defaultLogger) Debug(format string, v ...interface{}) {
	sf.entry.Debugf(format, v...)
}
