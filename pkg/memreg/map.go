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
	"sync/atomic"
)

// Subscriber is notified about memory being registered or unregistered.
// Notify is called with the registry lock held, so it must not call back
// into the registration functions of the same Registry.
type Subscriber interface {
	Notify(m *Map, action Action, vaddr, size uint64) error
}

// NotifyFunc adapts a function to a Subscriber.
type NotifyFunc func(m *Map, action Action, vaddr, size uint64) error

// Notify calls f.
func (f NotifyFunc) Notify(m *Map, action Action, vaddr, size uint64) error {
	return f(m, action, vaddr, size)
}

// ContiguityFunc tells if the translation next can extend a run ending
// with the translation prev.
type ContiguityFunc func(prev, next uint64) bool

// Map maps 2 MiB pages of the virtual address space to opaque
// translations.
type Map struct {
	name               string
	table              *pageTable
	defaultTranslation uint64
	subscriber         Subscriber
	contiguous         ContiguityFunc
	leafLimit          int
	registry           *Registry
	freed              atomic.Bool
}

// MapOption is an option for AllocMap.
type MapOption func(*Map)

// WithNotify sets the subscriber of a Map.
func WithNotify(s Subscriber) MapOption {
	return func(m *Map) {
		m.subscriber = s
	}
}

// WithNotifyFunc sets a function as the subscriber of a Map.
func WithNotifyFunc(fn func(m *Map, action Action, vaddr, size uint64) error) MapOption {
	return WithNotify(NotifyFunc(fn))
}

// WithContiguity sets the contiguity predicate used by TranslateSize.
func WithContiguity(fn ContiguityFunc) MapOption {
	return func(m *Map) {
		m.contiguous = fn
	}
}

// WithLeafLimit caps the number of leaf tables of a Map. 0 means no limit.
func WithLeafLimit(limit int) MapOption {
	return func(m *Map) {
		m.leafLimit = limit
	}
}

// WithName sets the name of a Map, used in logs and metrics.
func WithName(name string) MapOption {
	return func(m *Map) {
		m.name = name
	}
}

// Name returns the name of the map.
func (m *Map) Name() string {
	return m.name
}

// DefaultTranslation returns the translation of pages without an entry.
func (m *Map) DefaultTranslation() uint64 {
	return m.defaultTranslation
}

// LeafCount returns the number of allocated leaf tables.
func (m *Map) LeafCount() int {
	return m.table.leafCount()
}

// Translate returns the translation of the page containing vaddr.
func (m *Map) Translate(vaddr uint64) uint64 {
	value, _ := m.TranslateSize(vaddr, 0)
	return value
}

// TranslateSize returns the translation of the page containing vaddr and
// the length of the virtually contiguous range starting at vaddr for
// which the translation holds, at most size. The range is only extended
// past the first page if the map has a contiguity predicate.
func (m *Map) TranslateSize(vaddr, size uint64) (uint64, uint64) {
	if vaddr >= MaxAddr {
		return m.defaultTranslation, 0
	}

	cur := uint64(PageSize2MB - vaddr&Mask2MB)
	page := pfn(vaddr)

	l := m.table.lookup(page)
	if l == nil {
		return m.defaultTranslation, min(size, cur)
	}

	first := l.slots[leafIndex(page)].Load()
	if size == 0 || m.contiguous == nil || first == m.defaultTranslation {
		return first, min(size, cur)
	}

	prev := first
	for cur < size {
		page++
		if page >= maxPfn {
			break
		}
		if l = m.table.lookup(page); l == nil {
			break
		}
		next := l.slots[leafIndex(page)].Load()
		if !m.contiguous(prev, next) {
			break
		}
		cur += PageSize2MB
		prev = next
	}

	return first, min(size, cur)
}

// SetTranslation sets the translation of every page in [vaddr, vaddr+size).
// Both vaddr and size must be 2 MiB aligned. If a leaf table can't be
// allocated, pages preceding the failure keep their new translation.
func (m *Map) SetTranslation(vaddr, size, value uint64) error {
	if err := checkRange(vaddr, size); err != nil {
		return err
	}
	return m.table.setRange(pfn(vaddr), size>>Shift2MB, value)
}

// ClearTranslation resets every page in [vaddr, vaddr+size) to the
// default translation.
func (m *Map) ClearTranslation(vaddr, size uint64) error {
	return m.SetTranslation(vaddr, size, m.defaultTranslation)
}

// Free releases the map. A map with a subscriber is first sent an
// unregister notification for all registered memory and removed from
// its Registry. Free is idempotent and can be called on a nil Map.
func (m *Map) Free() {
	if m == nil || !m.freed.CompareAndSwap(false, true) {
		return
	}
	if m.subscriber != nil && m.registry != nil {
		m.registry.removeMap(m)
	}
	m.table.release()
}

// FreeMap frees the map referenced by mp and clears the reference.
func FreeMap(mp **Map) {
	if mp == nil {
		return
	}
	(*mp).Free()
	*mp = nil
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
