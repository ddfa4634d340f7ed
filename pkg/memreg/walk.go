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

	"github.com/hashicorp/go-multierror"
)

// runFn is called with the page frame range [start, end) of a run.
type runFn func(start, end uint64) error

// walkRuns calls fn for every maximal run of registered pages in
// ascending address order. Pages in a missing leaf end a run, and a
// region start always begins a new run, so two adjacent regions are
// never merged. The walk stops at the first error returned by fn.
func (r *Registry) walkRuns(fn runFn) error {
	var (
		inRun      bool
		start, end uint64
	)
	flush := func() error {
		if !inRun {
			return nil
		}
		inRun = false
		return fn(start, end)
	}

	for ri := uint64(0); ri < RootEntries; ri++ {
		l := r.table.root[ri].Load()
		if l == nil {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		for li := uint64(0); li < LeafEntries; li++ {
			page := ri<<leafShift | li
			s := pageState(l.slots[li].Load())
			switch {
			case !s.registered():
				if err := flush(); err != nil {
					return err
				}
			case inRun && !s.regionStart():
				end = page + 1
			default:
				if err := flush(); err != nil {
					return err
				}
				inRun, start, end = true, page, page+1
			}
		}
	}

	return flush()
}

// walkRunsReverse calls fn for every run of registered pages below the
// page frame below, in descending address order. Runs are delimited the
// same way as in walkRuns.
func (r *Registry) walkRunsReverse(below uint64, fn runFn) error {
	var (
		inRun      bool
		start, end uint64
	)
	flush := func() error {
		if !inRun {
			return nil
		}
		inRun = false
		return fn(start, end)
	}

	if below == 0 {
		return nil
	}
	last := below - 1

	for ri := int64(rootIndex(last)); ri >= 0; ri-- {
		l := r.table.root[ri].Load()
		if l == nil {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		hi := int64(leafMask)
		if uint64(ri) == rootIndex(last) {
			hi = int64(leafIndex(last))
		}
		for li := hi; li >= 0; li-- {
			page := uint64(ri)<<leafShift | uint64(li)
			s := pageState(l.slots[li].Load())
			if !s.registered() {
				if err := flush(); err != nil {
					return err
				}
				continue
			}
			if !inRun {
				inRun, end = true, page+1
			}
			start = page
			if s.regionStart() {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}

	return flush()
}

// notifyWalk notifies a Map about every registered run. If a register
// notification fails, runs notified so far are unregistered in reverse
// order and the failure is returned. Unregister failures are logged.
func (r *Registry) notifyWalk(m *Map, action Action) error {
	if action == ActionUnregister {
		var errs *multierror.Error
		r.walkRuns(func(start, end uint64) error {
			err := r.notify(m, ActionUnregister, pageAddr(start), pageAddr(end-start))
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w",
					AddrRange{pageAddr(start), pageAddr(end - start)}, err))
			}
			return nil
		})
		if err := errs.ErrorOrNil(); err != nil {
			r.errlog.Error("%s: unregister notification failed: %v", m.name, err)
		}
		return nil
	}

	var failed uint64
	err := r.walkRuns(func(start, end uint64) error {
		if err := r.notify(m, ActionRegister, pageAddr(start), pageAddr(end-start)); err != nil {
			failed = start
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}

	r.walkRunsReverse(failed, func(start, end uint64) error {
		if uerr := r.notify(m, ActionUnregister, pageAddr(start), pageAddr(end-start)); uerr != nil {
			r.errlog.Error("%s: failed to roll back %s: %v", m.name,
				AddrRange{pageAddr(start), pageAddr(end - start)}, uerr)
		}
		return nil
	})
	r.stats.store(statsRollback{})

	return err
}
