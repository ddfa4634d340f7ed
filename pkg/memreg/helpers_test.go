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
)

const (
	mb2 = uint64(PageSize2MB)
	gb1 = uint64(1) << Shift1GB
)

// event is a notification received by a recorder.
type event struct {
	Map    string
	Action Action
	Addr   uint64
	Size   uint64
}

func (e event) String() string {
	return fmt.Sprintf("%s:%s:%#x+%#x", e.Map, e.Action, e.Addr, e.Size)
}

// recorder is a Subscriber recording the notifications it accepts.
type recorder struct {
	sync.Mutex
	events []event
	fail   func(action Action, vaddr, size uint64) error
}

func (r *recorder) Notify(m *Map, action Action, vaddr, size uint64) error {
	r.Lock()
	defer r.Unlock()
	if r.fail != nil {
		if err := r.fail(action, vaddr, size); err != nil {
			return err
		}
	}
	r.events = append(r.events, event{Map: m.Name(), Action: action, Addr: vaddr, Size: size})
	return nil
}

func (r *recorder) recorded() []event {
	r.Lock()
	defer r.Unlock()
	return append([]event{}, r.events...)
}

// failAt returns a failure function rejecting register notifications
// covering addr.
func failAt(addr uint64, err error) func(Action, uint64, uint64) error {
	return func(action Action, vaddr, size uint64) error {
		if action == ActionRegister && vaddr <= addr && addr < vaddr+size {
			return err
		}
		return nil
	}
}

func reg(m string, addr, size uint64) event {
	return event{Map: m, Action: ActionRegister, Addr: addr, Size: size}
}

func unreg(m string, addr, size uint64) event {
	return event{Map: m, Action: ActionUnregister, Addr: addr, Size: size}
}
