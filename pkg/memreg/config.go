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

package memreg

import (
	"sync"
	"time"

	pkgcfg "github.com/intel/memreg/pkg/config"
	logger "github.com/intel/memreg/pkg/log"
)

const (
	// configModule is our module name in the runtime configuration.
	configModule = "memreg"
	// DefaultNotifyErrorInterval is the default rate limit for subscriber errors.
	DefaultNotifyErrorInterval = 5 * time.Second
)

// options are the runtime configurable options of registries.
type options struct {
	// StrictRegistration undoes registrations rejected by a subscriber.
	StrictRegistration bool `json:"strictRegistration,omitempty"`
	// LeafLimit is the default leaf table limit of maps, 0 for no limit.
	LeafLimit int `json:"leafLimit,omitempty"`
	// NotifyErrorInterval limits how often identical subscriber errors are logged.
	NotifyErrorInterval pkgcfg.Duration `json:"notifyErrorInterval,omitempty"`
}

var (
	log = logger.NewLogger("memreg")
	opt = defaultOptions().(*options)

	optLock sync.Mutex
	current = *opt
)

func defaultOptions() interface{} {
	return &options{
		NotifyErrorInterval: pkgcfg.Duration(DefaultNotifyErrorInterval),
	}
}

// Validate checks the options.
func (o *options) Validate() error {
	if o.LeafLimit < 0 {
		return invalidError("negative leafLimit %d", o.LeafLimit)
	}
	if o.NotifyErrorInterval < 0 {
		return invalidError("negative notifyErrorInterval %s", o.NotifyErrorInterval.String())
	}
	return nil
}

func currentOptions() options {
	optLock.Lock()
	defer optLock.Unlock()
	return current
}

// configNotify applies updated configuration to the default registry.
func configNotify(event pkgcfg.Event, source pkgcfg.Source) error {
	optLock.Lock()
	current = *opt
	o := current
	optLock.Unlock()

	log.Debug("configuration %s from %s", event, source)

	defaultLock.Lock()
	r := defaultRegistry
	defaultLock.Unlock()

	if r != nil {
		r.configure(o)
	}

	return nil
}

func init() {
	pkgcfg.Register(configModule, configHelp, opt, defaultOptions,
		pkgcfg.WithNotify(configNotify))
}
