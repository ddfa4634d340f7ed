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
// Package metrics keeps the set of prometheus collectors exported by a
// binary. Packages register an InitCollector during init; collectors are
// created lazily, once, when the first gatherer is built.
package metrics

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/intel/memreg/pkg/log"
)

// InitCollector is the type for functions that initialize collectors.
type InitCollector func() (prometheus.Collector, error)

type entry struct {
	init      InitCollector
	collector prometheus.Collector
	failed    bool
}

var (
	lock    sync.Mutex
	entries = make(map[string]*entry)
	log     = logger.NewLogger("metrics")
)

// RegisterCollector registers the named prometheus.Collector for metrics collection.
func RegisterCollector(name string, init InitCollector) error {
	lock.Lock()
	defer lock.Unlock()

	if _, found := entries[name]; found {
		return errors.Errorf("metrics: collector %q already registered", name)
	}

	log.Info("registering collector %s...", name)
	entries[name] = &entry{init: init}

	return nil
}

// Collectors returns the sorted names of all registered collectors.
func Collectors() []string {
	lock.Lock()
	defer lock.Unlock()
	return names()
}

func names() []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewMetricGatherer creates a new prometheus.Gatherer with all registered
// collectors. A collector failing to initialize is skipped, and not retried.
func NewMetricGatherer() (prometheus.Gatherer, error) {
	lock.Lock()
	defer lock.Unlock()

	reg := prometheus.NewPedanticRegistry()

	for _, name := range names() {
		e := entries[name]
		if e.collector == nil && !e.failed {
			c, err := e.init()
			if err != nil {
				log.Error("failed to initialize collector %s, skipping it: %v", name, err)
				e.failed = true
				continue
			}
			e.collector = c
		}
		if e.collector == nil {
			continue
		}
		if err := reg.Register(e.collector); err != nil {
			return nil, errors.Wrapf(err, "metrics: failed to register collector %s", name)
		}
	}

	return reg, nil
}
