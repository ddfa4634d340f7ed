// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
)

// Logger is the logging interface used by this package. pkg/log sets up
// a Logger for us when it initializes, since it is itself configured
// through this package and can't be imported here.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Panic(format string, args ...interface{})
	DebugEnabled() bool
}

var log Logger = stderrLogger{debug: os.Getenv("CONFIG_DEBUG") != ""}

// SetLogger sets the Logger used by this package.
func SetLogger(logger Logger) {
	if logger != nil {
		log = logger
	}
}

// stderrLogger is used until SetLogger is called.
type stderrLogger struct {
	debug bool
}

func (l stderrLogger) emit(tag, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, tag+" [config] "+format+"\n", args...)
}

func (l stderrLogger) Debug(format string, args ...interface{}) {
	if l.debug {
		l.emit("D:", format, args...)
	}
}

func (l stderrLogger) Info(format string, args ...interface{}) {
	l.emit("I:", format, args...)
}

func (l stderrLogger) Warn(format string, args ...interface{}) {
	l.emit("W:", format, args...)
}

func (l stderrLogger) Error(format string, args ...interface{}) {
	l.emit("E:", format, args...)
}

func (l stderrLogger) Panic(format string, args ...interface{}) {
	l.emit("E:", format, args...)
	panic(fmt.Sprintf(format, args...))
}

func (l stderrLogger) DebugEnabled() bool {
	return l.debug
}
