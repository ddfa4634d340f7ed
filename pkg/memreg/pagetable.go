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
	"sync/atomic"
)

// leaf holds the translations of the 2 MiB pages in one 1 GiB window.
type leaf struct {
	slots [LeafEntries]atomic.Uint64
}

// pageTable is a sparse two-level table of per-page translations. The
// root is indexed by address bits [47:30] and leaves by bits [29:21].
// Leaves are allocated lazily under the table lock and published with
// an atomic store, so lookups never take the lock. A published leaf is
// never modified or freed until the whole table is released.
type pageTable struct {
	sync.Mutex
	root   []atomic.Pointer[leaf]
	defval uint64
	limit  int
	leaves atomic.Int64
}

func newPageTable(defval uint64, limit int) *pageTable {
	return &pageTable{
		root:   make([]atomic.Pointer[leaf], RootEntries),
		defval: defval,
		limit:  limit,
	}
}

func rootIndex(pfn uint64) uint64 {
	return pfn >> leafShift
}

func leafIndex(pfn uint64) uint64 {
	return pfn & leafMask
}

// lookup returns the leaf covering pfn, or nil if it is not allocated.
func (t *pageTable) lookup(pfn uint64) *leaf {
	return t.root[rootIndex(pfn)].Load()
}

// getOrAllocLeaf returns the leaf covering pfn, allocating it if necessary.
func (t *pageTable) getOrAllocLeaf(pfn uint64) (*leaf, error) {
	idx := rootIndex(pfn)
	if l := t.root[idx].Load(); l != nil {
		return l, nil
	}

	t.Lock()
	defer t.Unlock()

	if l := t.root[idx].Load(); l != nil {
		return l, nil
	}

	if t.limit > 0 && t.leaves.Load() >= int64(t.limit) {
		return nil, nomemError("can't allocate table for %#x, limit of %d tables reached",
			pageAddr(pfn), t.limit)
	}

	l := &leaf{}
	if t.defval != 0 {
		for i := range l.slots {
			l.slots[i].Store(t.defval)
		}
	}
	t.root[idx].Store(l)
	t.leaves.Add(1)

	return l, nil
}

// get returns the translation of pfn and whether its leaf is allocated.
func (t *pageTable) get(pfn uint64) (uint64, bool) {
	l := t.lookup(pfn)
	if l == nil {
		return t.defval, false
	}
	return l.slots[leafIndex(pfn)].Load(), true
}

// set stores the translation of pfn, allocating its leaf if necessary.
func (t *pageTable) set(pfn, value uint64) error {
	l, err := t.getOrAllocLeaf(pfn)
	if err != nil {
		return err
	}
	l.slots[leafIndex(pfn)].Store(value)
	return nil
}

// setRange stores value for count pages starting at pfn. Pages stored
// before an allocation failure keep their new value.
func (t *pageTable) setRange(pfn, count, value uint64) error {
	for end := pfn + count; pfn < end; pfn++ {
		if err := t.set(pfn, value); err != nil {
			return err
		}
	}
	return nil
}

// allocRange makes sure every leaf covering count pages from pfn exists.
func (t *pageTable) allocRange(pfn, count uint64) error {
	if count == 0 {
		return nil
	}
	for idx, last := rootIndex(pfn), rootIndex(pfn+count-1); idx <= last; idx++ {
		if _, err := t.getOrAllocLeaf(idx << leafShift); err != nil {
			return err
		}
	}
	return nil
}

func (t *pageTable) leafCount() int {
	return int(t.leaves.Load())
}

// release drops all leaves of the table.
func (t *pageTable) release() {
	t.Lock()
	defer t.Unlock()

	for i := range t.root {
		if t.root[i].Load() != nil {
			t.root[i].Store(nil)
		}
	}
	t.leaves.Store(0)
}
