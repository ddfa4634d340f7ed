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
	"encoding/json"
	"reflect"
	"strings"
)

// Validator is implemented by configuration data that can check itself.
type Validator interface {
	Validate() error
}

// Module is a named piece of configuration data bound to a Go struct.
type Module struct {
	name        string
	description string
	parent      *Config
	ptr         interface{}
	getDefaults func() interface{}
	notifiers   []NotifyFn
}

// Option is an option for registering a Module.
type Option func(*Module)

// WithNotify adds a function to call after configuration updates.
func WithNotify(fn NotifyFn) Option {
	return func(m *Module) {
		m.notifiers = append(m.notifiers, fn)
	}
}

// Register registers a module in the default runtime configuration.
// ptr must point to the struct holding the runtime configuration of the
// module, getDefaults must return a pointer to a struct of the same type
// filled in with the defaults.
func Register(name, description string, ptr interface{}, getDefaults func() interface{}, opts ...Option) *Module {
	return DefaultConfig().Register(name, description, ptr, getDefaults, opts...)
}

// Register registers a module in the configuration.
func (c *Config) Register(name, description string, ptr interface{}, getDefaults func() interface{}, opts ...Option) *Module {
	c.Lock()
	defer c.Unlock()

	if m, ok := c.modules[name]; ok {
		log.Panic("%s: can't register module %s, already registered (%s)",
			c.name, name, m.description)
	}

	pv := reflect.ValueOf(ptr)
	if pv.Kind() != reflect.Ptr || pv.IsNil() {
		log.Panic("%s: module %s: need a non-nil pointer for data, got %T", c.name, name, ptr)
	}
	if getDefaults == nil {
		log.Panic("%s: module %s: no defaults given", c.name, name)
	}
	if dt := reflect.TypeOf(getDefaults()); dt != pv.Type() {
		log.Panic("%s: module %s: type mismatch, data %s, defaults %s", c.name, name, pv.Type(), dt)
	}

	if description == "" {
		description = "<no description for module " + c.name + "." + name + ">"
	}

	m := &Module{
		name:        name,
		description: description,
		parent:      c,
		ptr:         ptr,
		getDefaults: getDefaults,
	}
	for _, o := range opts {
		o(m)
	}

	c.modules[name] = m
	m.reset()

	return m
}

// Name returns the name of the module.
func (m *Module) Name() string {
	return m.name
}

// Description returns the description of the module.
func (m *Module) Description() string {
	return strings.TrimSpace(m.description)
}

// WatchUpdates adds a notifier function to the module.
func (m *Module) WatchUpdates(fn NotifyFn) {
	m.parent.Lock()
	defer m.parent.Unlock()
	m.notifiers = append(m.notifiers, fn)
}

func (m *Module) notify(event Event, source Source) error {
	for _, fn := range m.notifiers {
		if err := fn(event, source); err != nil {
			return err
		}
	}
	return nil
}

// reset resets the module data to its defaults.
func (m *Module) reset() {
	defaults := reflect.ValueOf(m.getDefaults()).Elem()
	reflect.ValueOf(m.ptr).Elem().Set(defaults)
}

func (m *Module) marshal() ([]byte, error) {
	return json.Marshal(m.ptr)
}

// unmarshal updates the module data from JSON.
func (m *Module) unmarshal(raw []byte) error {
	if err := json.Unmarshal(raw, m.ptr); err != nil {
		return err
	}
	if v, ok := m.ptr.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// apply resets the module to defaults, then applies any given data on top.
func (m *Module) apply(data Data) error {
	m.reset()
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.unmarshal(raw)
}
