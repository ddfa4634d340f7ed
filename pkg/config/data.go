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
	"io/ioutil"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// Data is our internal representation of configuration data.
type Data map[string]interface{}

// DataFromYAML unmarshals the given YAML data.
func DataFromYAML(raw []byte) (Data, error) {
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, configError("failed to unmarshal YAML data: %v", err)
	}
	return data, nil
}

// DataFromFile reads and unmarshals the given YAML file.
func DataFromFile(path string) (Data, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, configError("failed to read file %q: %v", path, err)
	}
	data, err := DataFromYAML(raw)
	if err != nil {
		return nil, configError("file %q: %v", path, err)
	}
	return data, nil
}

// copy does a shallow copy of the data.
func (d Data) copy() Data {
	cp := make(Data, len(d))
	for key, value := range d {
		cp[key] = value
	}
	return cp
}

// pick returns the data under key, optionally removing it.
func (d Data) pick(key string, remove bool) (Data, error) {
	value, ok := d[key]
	if !ok {
		return nil, nil
	}
	if remove {
		delete(d, key)
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return Data(v), nil
	case Data:
		return v, nil
	}
	return nil, configError("module %s: expected a mapping, got %T", key, value)
}

// Print prints the data using the given function, one line per call.
func (d Data) Print(fn func(string, ...interface{})) {
	if fn == nil || !log.DebugEnabled() {
		return
	}
	raw, err := yaml.Marshal(d)
	if err != nil {
		fn("<failed to marshal data: %v>", err)
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		fn("  %s", line)
	}
}

// Dump returns the current configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	c.Lock()
	defer c.Unlock()

	data := make(map[string]interface{})
	for name, m := range c.modules {
		data[name] = m.ptr
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return nil, configError("failed to dump %s: %v", c.name, err)
	}
	return raw, nil
}

// Help returns the descriptions of the modules of the configuration.
func (c *Config) Help() string {
	c.Lock()
	defer c.Unlock()

	names := c.moduleNames()
	sort.Strings(names)
	help := "- " + c.name + ": " + c.description + "\n"
	for _, name := range names {
		help += "\n- module " + name + ":\n"
		for _, line := range strings.Split(c.modules[name].Description(), "\n") {
			help += "    " + line + "\n"
		}
	}
	return help
}
