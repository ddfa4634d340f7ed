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
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultRuntimeConfig is the name of the default runtime configuration.
	DefaultRuntimeConfig = "runtime-config"
)

// Config is a configuration collection, basically a set of configuration Modules.
type Config struct {
	sync.Mutex
	name        string
	description string
	modules     map[string]*Module
}

// Source describes where configuration data has been acquired from.
type Source string

const (
	// ConfigFile is a YAML/JSON file configuration source.
	ConfigFile Source = "configuration file"
	// External is an external configuration source.
	External Source = "external configuration"
	// ConfigBackup is a Snapshot, a backup of a previous configuration.
	ConfigBackup Source = "configuration backup"
)

// NotifyFn is the type of a configuration change notification functions.
type NotifyFn func(Event, Source) error

// Event describes the reason why a notification callback has been invoked.
type Event string

const (
	// UpdateEvent is the event type for a configuration update.
	UpdateEvent Event = "updated"
	// RevertEvent is the event type for a configuration rollback.
	RevertEvent Event = "reverted"
)

// Snapshot holds a snapshot of configuration data, used for backup/rollback.
type Snapshot struct {
	values map[string][]byte
}

// configs is used to look up configuration collections by name
var (
	configLock sync.Mutex
	configs    = make(map[string]*Config)
)

// NewConfig creates a new configuration collection.
func NewConfig(name, description string) *Config {
	configLock.Lock()
	defer configLock.Unlock()

	if c, ok := configs[name]; ok {
		log.Panic("can't create configuration collection %s, already exists (%s)",
			name, c.description)
	}

	if description == "" {
		description = "<no description provided for configuration collection " + name + ">"
	}
	c := &Config{
		name:        name,
		description: description,
		modules:     make(map[string]*Module),
	}
	configs[name] = c

	return c
}

// GetConfig looks up the named configuration.
func GetConfig(name string) *Config {
	configLock.Lock()
	defer configLock.Unlock()

	return configs[name]
}

// DefaultConfig returns the default runtime configuration collection.
func DefaultConfig() *Config {
	if c := GetConfig(DefaultRuntimeConfig); c != nil {
		return c
	}
	binary := filepath.Clean(os.Args[0])
	return NewConfig(DefaultRuntimeConfig, "runtime configuration for "+binary)
}

// Name returns the name of the configuration.
func (c *Config) Name() string {
	return c.name
}

// Description returns the description of the configuration.
func (c *Config) Description() string {
	return c.description
}

// Modules returns the sorted names of the modules in the configuration.
func (c *Config) Modules() []string {
	c.Lock()
	defer c.Unlock()
	return c.moduleNames()
}

// GetModule looks up the named module within the configuration.
func (c *Config) GetModule(name string) *Module {
	c.Lock()
	defer c.Unlock()
	return c.modules[name]
}

// moduleNames returns the sorted names of modules.
func (c *Config) moduleNames() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notify notifies configuration changes through all registered notifiers.
func (c *Config) Notify(event Event, source Source) error {
	c.Lock()
	defer c.Unlock()
	return c.notify(event, source)
}

func (c *Config) notify(event Event, source Source) error {
	var errors *multierror.Error

	for _, name := range c.moduleNames() {
		if err := c.modules[name].notify(event, source); err != nil {
			err = configError("%s: configuration rejected by module %s: %v", c.name, name, err)
			if source == ConfigBackup {
				log.Error("%v", err)
				continue
			}
			errors = multierror.Append(errors, err)
		}
	}

	return errors.ErrorOrNil()
}

// Reset resets the configuration to its defaults.
func (c *Config) Reset() error {
	c.Lock()
	defer c.Unlock()

	for _, name := range c.moduleNames() {
		c.modules[name].reset()
	}

	return c.notify(UpdateEvent, ConfigBackup)
}

// Backup returns a snapshot of the current configuration.
func (c *Config) Backup() *Snapshot {
	c.Lock()
	defer c.Unlock()
	return c.backup()
}

func (c *Config) backup() *Snapshot {
	snapshot := &Snapshot{values: make(map[string][]byte)}
	for name, m := range c.modules {
		raw, err := m.marshal()
		if err != nil {
			log.Error("failed to back up module %s: %v", name, err)
			continue
		}
		snapshot.values[name] = raw
	}
	return snapshot
}

// Restore restores a previous snapshot.
func (c *Config) Restore(snapshot *Snapshot) error {
	c.Lock()
	defer c.Unlock()

	if err := c.restore(snapshot); err != nil {
		return err
	}

	return c.notify(RevertEvent, ConfigBackup)
}

func (c *Config) restore(snapshot *Snapshot) error {
	var errors *multierror.Error

	for _, name := range c.moduleNames() {
		m := c.modules[name]
		m.reset()
		raw, ok := snapshot.values[name]
		if !ok {
			continue
		}
		if err := m.unmarshal(raw); err != nil {
			errors = multierror.Append(errors,
				configError("failed to restore module %s: %v", name, err))
		}
	}

	return errors.ErrorOrNil()
}

// ParseYAMLFile parses the given YAML file and updates the configuration.
func (c *Config) ParseYAMLFile(path string) error {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	data, err := DataFromFile(path)
	if err != nil {
		return err
	}
	return c.Update(data, ConfigFile)
}

// ParseYAMLData parses the given YAML data and updates the configuration.
func (c *Config) ParseYAMLData(raw []byte, source Source) error {
	data, err := DataFromYAML(raw)
	if err != nil {
		return err
	}
	return c.Update(data, source)
}

// Update updates the configuration from the given data. Modules without
// data are reset to their defaults. If any module fails to take its data,
// or any notifier rejects the update, the previous configuration is restored
// and notifiers are called with a RevertEvent.
func (c *Config) Update(data Data, source Source) error {
	c.Lock()
	defer c.Unlock()

	log.Debug("updating %s from %s:", c.name, source)
	data.Print(log.Debug)

	backup := c.backup()
	data = data.copy()

	var errors *multierror.Error
	for _, name := range c.moduleNames() {
		m := c.modules[name]
		modData, err := data.pick(name, true)
		if err != nil {
			errors = multierror.Append(errors, err)
			continue
		}
		if err := m.apply(modData); err != nil {
			errors = multierror.Append(errors, configError("module %s: %v", name, err))
		}
	}
	for key := range data {
		errors = multierror.Append(errors, configError("unknown configuration module %q", key))
	}

	if err := errors.ErrorOrNil(); err != nil {
		if rerr := c.restore(backup); rerr != nil {
			log.Error("failed to restore %s: %v", c.name, rerr)
		}
		return err
	}

	if err := c.notify(UpdateEvent, source); err != nil {
		if rerr := c.restore(backup); rerr != nil {
			log.Error("failed to restore %s: %v", c.name, rerr)
		}
		c.notify(RevertEvent, ConfigBackup)
		return err
	}

	return nil
}

// configError returns a formatted package-specific error.
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
