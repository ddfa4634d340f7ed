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
	"encoding/json"
	"flag"
	"sort"
	"strings"

	pkgcfg "github.com/intel/memreg/pkg/config"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling normal non-debug logging for sources.
	optEnable = optPrefix + "-sources"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
	// Flag for selecting logging backend.
	optLogger = optPrefix
	// configModule is our module name in the runtime configuration.
	configModule = optPrefix
)

// Logger options configurable via the command line or pkg/config.
type options struct {
	// Level is the logging severity/level.
	Level Level `json:"level"`
	// Enable is a map for enabling/disabling normal logging for sources.
	Enable srcmap `json:"enable,omitempty"`
	// Debug is a map for enabling/disabling debug logging for sources.
	Debug srcmap `json:"debug,omitempty"`
	// Logger is the name of the logger backend to use.
	Logger string `json:"logger,omitempty"`
}

// srcmap tracks logging or debugging settings for sources.
type srcmap map[string]bool

// Default configuration given on the command line.
var defaults = &options{
	Logger: FmtBackendName,
	Level:  DefaultLevel,
	Enable: make(srcmap),
	Debug:  make(srcmap),
}

// Runtime configuration, from the command line or a configuration file.
var opt = &options{
	Logger: FmtBackendName,
	Level:  DefaultLevel,
	Enable: make(srcmap),
	Debug:  make(srcmap),
}

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warning",
	LevelError: "error",
	LevelFatal: "fatal",
	LevelPanic: "panic",
}

// ParseLevel parses the given level name.
func ParseLevel(value string) (Level, error) {
	for level, name := range levelNames {
		if strings.EqualFold(name, value) {
			return level, nil
		}
	}
	if strings.EqualFold(value, "warn") {
		return LevelWarn, nil
	}
	return LevelInfo, loggerError("invalid logging level %q", value)
}

// String returns the name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[LevelInfo]
}

// MarshalJSON is the JSON marshaller for Level.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON is the JSON unmarshaller for Level.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return loggerError("invalid logging level %s: %v", string(raw), err)
	}
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// parse updates entries of srcmap by parsing the given value.
func (m srcmap) parse(value string) error {
	prev, state, src := "", "", ""
	for _, entry := range strings.Split(value, ",") {
		statesrc := strings.Split(entry, ":")
		switch len(statesrc) {
		case 2:
			state, src = statesrc[0], statesrc[1]
		case 1:
			state, src = "", statesrc[0]
		default:
			return loggerError("invalid state spec '%s' in source map", entry)
		}

		if state != "" {
			prev = state
		} else {
			state = prev
			if state == "" {
				state = "on"
			}
		}
		if src == "all" {
			src = "*"
		}

		enabled, err := parseEnabled(state)
		if err != nil {
			return loggerError("invalid state '%s' in source map", state)
		}
		m[src] = enabled
	}

	return nil
}

// String returns a string representation of the srcmap.
func (m srcmap) String() string {
	on, off := []string{}, []string{}
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	switch {
	case len(off) == 0:
		return "on:" + strings.Join(on, ",")
	case len(on) == 0:
		return "off:" + strings.Join(off, ",")
	}
	return "on:" + strings.Join(on, ",") + ",off:" + strings.Join(off, ",")
}

// MarshalJSON is the JSON marshaller for srcmap.
func (m srcmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON is the JSON unmarshaller for srcmap.
func (m *srcmap) UnmarshalJSON(raw []byte) error {
	*m = make(srcmap)

	rawmap := map[string][]string{}
	if err := json.Unmarshal(raw, &rawmap); err == nil {
		for state, sources := range rawmap {
			enabled, err := parseEnabled(state)
			if err != nil {
				return loggerError("invalid state '%s' in logger source map", state)
			}
			for _, src := range sources {
				if src == "all" {
					src = "*"
				}
				(*m)[src] = enabled
			}
		}
		return nil
	}

	cfgstr := ""
	if err := json.Unmarshal(raw, &cfgstr); err != nil {
		return loggerError("failed to unmarshal logger source map '%s': %v", string(raw), err)
	}
	return m.parse(cfgstr)
}

// copy state from another srcmap.
func (m srcmap) copy(o srcmap) {
	for src, state := range o {
		m[src] = state
	}
}

// parseEnabled parses an on/off-like boolean string.
func parseEnabled(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "enable", "enabled", "true", "1", "yes":
		return true, nil
	case "off", "disable", "disabled", "false", "0", "no":
		return false, nil
	}
	return false, loggerError("invalid enabled/disabled state '%s'", value)
}

// flagVar implements flag.Value for our command line options.
type flagVar struct {
	get func() string
	set func(string) error
}

func (v flagVar) String() string {
	if v.get == nil {
		return ""
	}
	return v.get()
}

func (v flagVar) Set(value string) error {
	return v.set(value)
}

// configNotify is the configuration change notification callback for options.
func (o *options) configNotify(event pkgcfg.Event, src pkgcfg.Source) error {
	log.Lock()
	defer log.Unlock()

	if len(opt.Enable) == 0 {
		opt.Enable = make(srcmap)
		opt.Enable.copy(defaults.Enable)
	}
	if len(opt.Debug) == 0 {
		opt.Debug = make(srcmap)
		opt.Debug.copy(defaults.Debug)
	}
	if opt.Logger == "" {
		opt.Logger = defaults.Logger
	}

	if err := log.setBackend(opt.Logger); err != nil {
		return err
	}
	log.setLevel(opt.Level)
	log.update(opt.Enable, opt.Debug)

	return nil
}

// defaultOptions returns the defaults given on the command line.
func defaultOptions() interface{} {
	o := &options{
		Logger: defaults.Logger,
		Level:  defaults.Level,
		Enable: make(srcmap),
		Debug:  make(srcmap),
	}
	o.Enable.copy(defaults.Enable)
	o.Debug.copy(defaults.Debug)

	return o
}

// Register us for command line parsing and configuration handling.
func init() {
	pkgcfg.SetLogger(log.get("config"))

	flag.Var(flagVar{
		get: func() string { return defaults.Logger },
		set: func(value string) error {
			if err := SetBackend(value); err != nil {
				return err
			}
			defaults.Logger, opt.Logger = value, value
			return nil
		},
	}, optLogger, "logger backend to use (fmt, klog).")
	flag.Var(flagVar{
		get: func() string { return defaults.Level.String() },
		set: func(value string) error {
			level, err := ParseLevel(value)
			if err != nil {
				return err
			}
			defaults.Level, opt.Level = level, level
			SetLevel(level)
			return nil
		},
	}, optLevel, "lowest severity level to pass through (debug, info, warning, error)")
	flag.Var(flagVar{
		get: func() string { return defaults.Enable.String() },
		set: func(value string) error { return setSourceMap(defaults.Enable, opt.Enable, value, true) },
	}, optEnable,
		"comma-separated list of source names to enable/disable.\n"+
			"Specify '*' or 'all' to enable all sources, which is also the default.\n"+
			"Prefix a source or list with 'off:' to disable.")
	flag.Var(flagVar{
		get: func() string { return defaults.Debug.String() },
		set: func(value string) error { return setSourceMap(defaults.Debug, opt.Debug, value, false) },
	}, optDebug,
		"comma-separated list of source names to enable debug messages for.\n"+
			"Specify '*' or 'all' to enable all sources.\n"+
			"Prefix a source or list with 'off:' to disable, which is also the default state.")

	pkgcfg.Register(configModule, configHelp, opt, defaultOptions,
		pkgcfg.WithNotify(opt.configNotify))
}

// setSourceMap parses value into a default and runtime map and reconfigures loggers.
func setSourceMap(def, runtime srcmap, value string, enable bool) error {
	log.Lock()
	defer log.Unlock()

	if err := def.parse(value); err != nil {
		return err
	}
	runtime.copy(def)
	if enable {
		log.update(runtime, nil)
	} else {
		log.update(nil, runtime)
	}

	return nil
}
