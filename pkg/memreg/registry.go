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
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	logger "github.com/intel/memreg/pkg/log"
)

// Registry tracks which 2 MiB pages of the address space are registered
// and notifies subscriber Maps about registered and unregistered memory.
// The registration table and the subscriber list are only changed with
// the Registry lock held. Subscribers are notified in the order they were
// added.
type Registry struct {
	sync.Mutex
	table       *pageTable
	maps        []*Map
	strict      bool
	leafLimit   int
	errInterval time.Duration
	errlog      logger.Logger
	stats       *Stats
	closed      bool
	seq         int
}

// Option is an option for NewRegistry.
type Option func(*Registry)

// WithStrictRegistration makes Register undo a registration that a
// subscriber failed to accept. Subscribers notified before the failing
// one get an unregister notification and the pages are left unregistered.
func WithStrictRegistration() Option {
	return func(r *Registry) {
		r.strict = true
	}
}

// WithMapLeafLimit sets the default leaf table limit of allocated Maps.
func WithMapLeafLimit(limit int) Option {
	return func(r *Registry) {
		r.leafLimit = limit
	}
}

// WithNotifyErrorInterval sets the minimum interval between identical
// subscriber error messages logged during unregistration.
func WithNotifyErrorInterval(interval time.Duration) Option {
	return func(r *Registry) {
		r.errInterval = interval
	}
}

var (
	defaultLock     sync.Mutex
	defaultRegistry *Registry
)

// NewRegistry creates a new Registry, configured with the current
// runtime configuration and the given options.
func NewRegistry(opts ...Option) *Registry {
	cfg := currentOptions()
	r := &Registry{
		table:       newPageTable(0, 0),
		strict:      cfg.StrictRegistration,
		leafLimit:   cfg.LeafLimit,
		errInterval: time.Duration(cfg.NotifyErrorInterval),
		stats:       newStats(),
	}
	for _, o := range opts {
		o(r)
	}
	r.errlog = rateLimited(r.errInterval)

	return r
}

// Default returns the process-wide Registry.
func Default() *Registry {
	defaultLock.Lock()
	defer defaultLock.Unlock()

	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// Register registers memory with the default Registry.
func Register(vaddr, size uint64) error {
	return Default().Register(vaddr, size)
}

// Unregister unregisters memory from the default Registry.
func Unregister(vaddr, size uint64) error {
	return Default().Unregister(vaddr, size)
}

// Reserve reserves table space for memory in the default Registry.
func Reserve(vaddr, size uint64) error {
	return Default().Reserve(vaddr, size)
}

// AllocMap allocates a Map subscribed to the default Registry.
func AllocMap(defaultTranslation uint64, opts ...MapOption) (*Map, error) {
	return Default().AllocMap(defaultTranslation, opts...)
}

func rateLimited(interval time.Duration) logger.Logger {
	if interval <= 0 {
		return log
	}
	return logger.RateLimit(log, logger.Interval(interval))
}

// configure applies runtime configuration to the registry.
func (r *Registry) configure(o options) {
	r.Lock()
	defer r.Unlock()

	r.strict = o.StrictRegistration
	r.leafLimit = o.LeafLimit
	if interval := time.Duration(o.NotifyErrorInterval); interval != r.errInterval {
		r.errInterval = interval
		r.errlog = rateLimited(interval)
	}
}

// AllocMap allocates a new Map with the given default translation. If the
// Map has a subscriber, it is notified about every registered region
// before AllocMap returns. If the subscriber fails any of these, the
// regions it has already accepted are unregistered from it in reverse
// order and the subscriber's error is returned.
func (r *Registry) AllocMap(defaultTranslation uint64, opts ...MapOption) (*Map, error) {
	m := &Map{
		defaultTranslation: defaultTranslation,
		registry:           r,
		leafLimit:          -1,
	}
	for _, o := range opts {
		o(m)
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	r.seq++
	if m.name == "" {
		m.name = fmt.Sprintf("map%d", r.seq)
	}
	if m.leafLimit < 0 {
		m.leafLimit = r.leafLimit
	}
	m.table = newPageTable(defaultTranslation, m.leafLimit)

	if m.subscriber == nil {
		r.stats.store(statsCall{op: opAllocMap})
		return m, nil
	}

	if err := r.notifyWalk(m, ActionRegister); err != nil {
		m.freed.Store(true)
		m.table.release()
		r.stats.store(statsCall{op: opAllocMap, err: err})
		log.Debug("%s: catch-up notification failed: %v", m.name, err)
		return nil, err
	}

	r.maps = append(r.maps, m)
	r.stats.store(statsCall{op: opAllocMap})
	log.Debug("%s: subscribed", m.name)

	return m, nil
}

// removeMap unsubscribes a Map, notifying it about all registered memory
// going away.
func (r *Registry) removeMap(m *Map) {
	r.Lock()
	defer r.Unlock()

	for i, sm := range r.maps {
		if sm == m {
			r.notifyWalk(m, ActionUnregister)
			r.maps = append(r.maps[:i], r.maps[i+1:]...)
			r.stats.store(statsCall{op: opFreeMap})
			log.Debug("%s: unsubscribed", m.name)
			return
		}
	}
}

// Register registers [vaddr, vaddr+size) as a new region and notifies
// all subscribers about it. Both vaddr and size must be 2 MiB aligned,
// and no part of the range can be already registered. The first error
// returned by a subscriber is returned as such. Unless the Registry is
// strict, the range stays registered in this case.
func (r *Registry) Register(vaddr, size uint64) error {
	err := r.register(vaddr, size)
	r.stats.store(statsCall{op: opRegister, err: err})
	return err
}

func (r *Registry) register(vaddr, size uint64) error {
	if err := checkRange(vaddr, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		return ErrClosed
	}

	first, count := pfn(vaddr), size>>Shift2MB
	if err := r.checkUnregistered(first, count); err != nil {
		return err
	}
	if err := r.table.allocRange(first, count); err != nil {
		return err
	}

	for p := first; p < first+count; p++ {
		state := stateRegistered
		if p == first {
			state |= stateRegionStart
		}
		r.setState(p, state)
	}

	log.Debug("registered %s", AddrRange{vaddr, size})

	for i, m := range r.maps {
		err := r.notify(m, ActionRegister, vaddr, size)
		if err == nil {
			continue
		}
		log.Debug("%s: failed to register %s: %v", m.name, AddrRange{vaddr, size}, err)
		if r.strict {
			for j := i - 1; j >= 0; j-- {
				if uerr := r.notify(r.maps[j], ActionUnregister, vaddr, size); uerr != nil {
					r.errlog.Error("%s: failed to unregister %s: %v", r.maps[j].name,
						AddrRange{vaddr, size}, uerr)
				}
			}
			for p := first; p < first+count; p++ {
				r.setState(p, 0)
			}
			r.stats.store(statsRollback{})
		}
		return err
	}

	return nil
}

// Unregister unregisters [vaddr, vaddr+size) and notifies all subscribers
// about it. The range must start at the start of a registered region and
// end at the end of one. It may span several adjacent regions, in which
// case each of them is notified separately. Subscriber errors are logged
// and otherwise ignored.
func (r *Registry) Unregister(vaddr, size uint64) error {
	err := r.unregister(vaddr, size)
	r.stats.store(statsCall{op: opUnregister, err: err})
	return err
}

func (r *Registry) unregister(vaddr, size uint64) error {
	if err := checkRange(vaddr, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		return ErrClosed
	}

	first, count := pfn(vaddr), size>>Shift2MB
	end := first + count

	if s := r.state(first); s.registered() && !s.regionStart() {
		return rangeError("%#x is not the start of a registered region", vaddr)
	}
	for p := first; p < end; p++ {
		if !r.state(p).registered() {
			return invalidError("%#x is not registered", pageAddr(p))
		}
	}
	if end < maxPfn {
		if s := r.state(end); s.registered() && !s.regionStart() {
			return rangeError("%#x is not the end of a registered region", pageAddr(end))
		}
	}

	var errs *multierror.Error
	start := first
	for p := first; p < end; p++ {
		s := r.state(p)
		r.setState(p, 0)
		if p > start && s.regionStart() {
			errs = r.notifyAll(ActionUnregister, pageAddr(start), pageAddr(p-start), errs)
			start = p
		}
	}
	errs = r.notifyAll(ActionUnregister, pageAddr(start), pageAddr(end-start), errs)

	log.Debug("unregistered %s", AddrRange{vaddr, size})

	if err := errs.ErrorOrNil(); err != nil {
		r.errlog.Error("unregistering %s: %v", AddrRange{vaddr, size}, err)
	}

	return nil
}

// Reserve allocates the table space covering [vaddr, vaddr+size) in the
// registration table and in every subscriber Map, so that setting
// translations for the range later can't fail for lack of table space.
// Subscriber Maps get the default translation for the range.
func (r *Registry) Reserve(vaddr, size uint64) error {
	err := r.reserve(vaddr, size)
	r.stats.store(statsCall{op: opReserve, err: err})
	return err
}

func (r *Registry) reserve(vaddr, size uint64) error {
	if err := checkRange(vaddr, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	if r.closed {
		return ErrClosed
	}

	first, count := pfn(vaddr), size>>Shift2MB
	if err := r.checkUnregistered(first, count); err != nil {
		return err
	}
	if err := r.table.allocRange(first, count); err != nil {
		return err
	}
	for _, m := range r.maps {
		if err := m.table.setRange(first, count, m.defaultTranslation); err != nil {
			return err
		}
	}

	log.Debug("reserved %s", AddrRange{vaddr, size})

	return nil
}

// Regions returns the registered regions in ascending address order.
func (r *Registry) Regions() []AddrRange {
	r.Lock()
	defer r.Unlock()

	regions := []AddrRange{}
	if r.closed {
		return regions
	}
	r.walkRuns(func(start, end uint64) error {
		regions = append(regions, AddrRange{Addr: pageAddr(start), Size: pageAddr(end - start)})
		return nil
	})

	return regions
}

// IsRegistered returns true if the page containing vaddr is registered.
func (r *Registry) IsRegistered(vaddr uint64) bool {
	if vaddr >= MaxAddr {
		return false
	}

	r.Lock()
	defer r.Unlock()

	return !r.closed && r.state(pfn(vaddr)).registered()
}

// Maps returns the number of subscriber Maps.
func (r *Registry) Maps() int {
	r.Lock()
	defer r.Unlock()
	return len(r.maps)
}

// Stats returns the statistics of the registry.
func (r *Registry) Stats() *Stats {
	return r.stats
}

// Close tears down the registry. Every subscriber Map is notified about
// all registered memory going away and freed.
func (r *Registry) Close() error {
	r.Lock()
	defer r.Unlock()

	if r.closed {
		return ErrClosed
	}

	for _, m := range r.maps {
		r.notifyWalk(m, ActionUnregister)
		m.freed.Store(true)
		m.table.release()
	}
	r.maps = nil
	r.table.release()
	r.closed = true

	log.Debug("registry closed")

	return nil
}

func (r *Registry) state(pfn uint64) pageState {
	s, _ := r.table.get(pfn)
	return pageState(s)
}

// setState updates the state of a page with an already allocated leaf.
func (r *Registry) setState(pfn uint64, state pageState) {
	r.table.lookup(pfn).slots[leafIndex(pfn)].Store(uint64(state))
}

func (r *Registry) checkUnregistered(first, count uint64) error {
	for p := first; p < first+count; p++ {
		if r.state(p).registered() {
			return busyError("%#x is already registered", pageAddr(p))
		}
	}
	return nil
}

// notify notifies a single subscriber.
func (r *Registry) notify(m *Map, action Action, vaddr, size uint64) error {
	err := m.subscriber.Notify(m, action, vaddr, size)
	r.stats.store(statsNotify{action: action, err: err})
	return err
}

// notifyAll notifies every subscriber, collecting errors.
func (r *Registry) notifyAll(action Action, vaddr, size uint64, errs *multierror.Error) *multierror.Error {
	for _, m := range r.maps {
		if err := r.notify(m, action, vaddr, size); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", m.name, err))
		}
	}
	return errs
}
