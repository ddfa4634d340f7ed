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
	"sort"
	"strings"
	"sync"
)

const (
	opRegister   = "register"
	opUnregister = "unregister"
	opReserve    = "reserve"
	opAllocMap   = "allocmap"
	opFreeMap    = "freemap"
)

// Stats collects statistics about the operations of a Registry.
type Stats struct {
	sync.Mutex
	calls          map[string]uint64
	failures       map[string]map[string]uint64
	notifications  map[Action]uint64
	notifyFailures map[Action]uint64
	rollbacks      uint64
}

type statsCall struct {
	op  string
	err error
}

type statsNotify struct {
	action Action
	err    error
}

type statsRollback struct{}

func newStats() *Stats {
	return &Stats{
		calls:          make(map[string]uint64),
		failures:       make(map[string]map[string]uint64),
		notifications:  make(map[Action]uint64),
		notifyFailures: make(map[Action]uint64),
	}
}

func (s *Stats) store(entry interface{}) {
	s.Lock()
	defer s.Unlock()

	switch v := entry.(type) {
	case statsCall:
		s.calls[v.op]++
		if v.err != nil {
			errs, ok := s.failures[v.op]
			if !ok {
				errs = make(map[string]uint64)
				s.failures[v.op] = errs
			}
			errs[errnoName(v.err)]++
		}
	case statsNotify:
		s.notifications[v.action]++
		if v.err != nil {
			s.notifyFailures[v.action]++
		}
	case statsRollback:
		s.rollbacks++
	}
}

// Calls returns the number of calls of an operation.
func (s *Stats) Calls(op string) uint64 {
	s.Lock()
	defer s.Unlock()
	return s.calls[op]
}

// Failures returns the number of failed calls of an operation with the
// given error class, or of any class if errno is empty.
func (s *Stats) Failures(op, errno string) uint64 {
	s.Lock()
	defer s.Unlock()

	if errno != "" {
		return s.failures[op][errno]
	}
	sum := uint64(0)
	for _, cnt := range s.failures[op] {
		sum += cnt
	}
	return sum
}

// Notifications returns the number of sent and failed notifications.
func (s *Stats) Notifications(action Action) (uint64, uint64) {
	s.Lock()
	defer s.Unlock()
	return s.notifications[action], s.notifyFailures[action]
}

// Rollbacks returns the number of rolled back notification sequences.
func (s *Stats) Rollbacks() uint64 {
	s.Lock()
	defer s.Unlock()
	return s.rollbacks
}

// Summarize returns a table of the statistics.
func (s *Stats) Summarize() string {
	s.Lock()
	defer s.Unlock()

	lines := []string{}
	lines = append(lines, fmt.Sprintf("%-12s %10s %10s %s", "operation", "calls", "failures", "errors"))
	for _, op := range sortedKeys(s.calls) {
		fails := uint64(0)
		errs := []string{}
		for _, name := range sortedKeys(s.failures[op]) {
			cnt := s.failures[op][name]
			fails += cnt
			errs = append(errs, fmt.Sprintf("%s:%d", name, cnt))
		}
		lines = append(lines, fmt.Sprintf("%-12s %10d %10d %s", op, s.calls[op], fails, strings.Join(errs, ",")))
	}
	for _, action := range []Action{ActionRegister, ActionUnregister} {
		lines = append(lines, fmt.Sprintf("%-12s %10d %10d", "notify-"+action.String(),
			s.notifications[action], s.notifyFailures[action]))
	}
	lines = append(lines, fmt.Sprintf("%-12s %10d", "rollbacks", s.rollbacks))

	return strings.Join(lines, "\n") + "\n"
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
