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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// logging is the runtime state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level                // lowest unsuppressed severity
	backend map[string]BackendFn // registered backends
	active  Backend              // active backend
	loggers map[string]logger    // source name to logger mapping
	sources map[logger]string    // logger to source name mapping
	configs map[logger]config    // logger configurations
	forced  bool                 // forced full debugging
	align   int                  // longest source name seen
}

// log is our runtime logging state.
var log = &logging{
	level:   DefaultLevel,
	backend: make(map[string]BackendFn),
	loggers: make(map[string]logger),
	sources: make(map[logger]string),
	configs: make(map[logger]config),
}

// deflog is the logger named after the running binary.
var deflog = log.get(filepath.Base(filepath.Clean(os.Args[0])))

// Default returns the logger named after the running binary.
func Default() Logger {
	return deflog
}

// Get returns the named logger, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger creates a new logger, getting the existing one if possible.
func NewLogger(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest severity level of messages to pass through.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.setLevel(level)
}

// SetBackend activates the named Backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	return log.setBackend(name)
}

// Flush flushes any messages buffered by the active backend.
func Flush() {
	log.RLock()
	active := log.activeBackend()
	log.RUnlock()
	active.Flush()
}

// Sync waits until the active backend has emitted all pending messages.
func Sync() {
	log.RLock()
	active := log.activeBackend()
	log.RUnlock()
	active.Sync()
}

// get returns the logger for source, creating it if necessary.
func (log *logging) get(source string) Logger {
	source = strings.Trim(source, "[] ")

	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}
	if len(log.loggers) >= maxLoggers {
		panic(fmt.Sprintf("log: too many loggers, can't create logger for %q", source))
	}

	l := logger(len(log.loggers))
	log.loggers[source] = l
	log.sources[l] = source
	log.configs[l] = mkConfig(l, opt.Enable.isEnabled(source, true), opt.Debug.isEnabled(source, false))

	if len(source) > log.align {
		log.align = len(source)
		if log.active != nil {
			log.active.SetSourceAlignment(log.align)
		}
	}

	return l
}

// setLevel sets the logging threshold.
func (log *logging) setLevel(level Level) {
	log.level = level
}

// setBackend activates the named backend, stopping the previous one.
func (log *logging) setBackend(name string) error {
	if log.active != nil && log.active.Name() == name {
		return nil
	}

	fn, ok := log.backend[name]
	if !ok {
		return loggerError("can't activate unknown backend %q", name)
	}

	if log.active != nil {
		log.active.Sync()
		log.active.Stop()
	}
	log.active = fn()
	log.active.SetSourceAlignment(log.align)

	return nil
}

// activeBackend returns the active backend, falling back to fmt.
func (log *logging) activeBackend() Backend {
	if log.active == nil {
		log.active = createFmtBackend()
		log.active.SetSourceAlignment(log.align)
	}
	return log.active
}

// update reconfigures loggers from the given enable and debug maps.
func (log *logging) update(enable, debug srcmap) {
	for source, l := range log.loggers {
		cfg := log.configs[l]
		if enable != nil {
			cfg.setLogging(enable.isEnabled(source, true))
		}
		if debug != nil {
			cfg.setDebugging(debug.isEnabled(source, false))
		}
		log.configs[l] = cfg
	}
}

// forceDebug forces debugging on or off for all loggers.
func (log *logging) forceDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()

	old := log.forced
	log.forced = state

	return old
}

// debugForced returns true if full debugging is forced on.
func (log *logging) debugForced() bool {
	log.RLock()
	defer log.RUnlock()

	return log.forced
}

// isEnabled checks the state of source in the map, falling back to '*' then fallback.
func (m srcmap) isEnabled(source string, fallback bool) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return fallback
}

// loggerError returns a formatted package-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
