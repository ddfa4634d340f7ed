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

const (
	// Shift2MB is the page shift of the tracking granularity.
	Shift2MB = 21
	// PageSize2MB is the size of a tracked page.
	PageSize2MB = 1 << Shift2MB
	// Mask2MB masks the offset within a tracked page.
	Mask2MB = PageSize2MB - 1

	// Shift1GB is the shift of the window covered by a single leaf table.
	Shift1GB = 30
	// Shift256TB is the width of the valid usermode virtual address space.
	Shift256TB = 48
	// MaxAddr is the first invalid virtual address.
	MaxAddr = 1 << Shift256TB

	// LeafEntries is the number of 2 MiB pages per leaf table.
	LeafEntries = 1 << (Shift1GB - Shift2MB)
	// RootEntries is the number of leaf tables covering the address space.
	RootEntries = 1 << (Shift256TB - Shift1GB)

	leafShift = Shift1GB - Shift2MB
	leafMask  = LeafEntries - 1
	maxPfn    = MaxAddr >> Shift2MB
)

// Action is the type of a registration event delivered to subscribers.
type Action int

const (
	// ActionRegister announces memory that became available.
	ActionRegister Action = iota
	// ActionUnregister announces memory that is going away.
	ActionUnregister
)

func (a Action) String() string {
	switch a {
	case ActionRegister:
		return "register"
	case ActionUnregister:
		return "unregister"
	}
	return "unknown"
}

// pageState is the per-page bitfield of the registration table.
type pageState uint64

const (
	stateRegistered  pageState = 1 << 62
	stateRegionStart pageState = 1 << 63
)

func (s pageState) registered() bool {
	return s&stateRegistered != 0
}

func (s pageState) regionStart() bool {
	return s&stateRegionStart != 0
}

// pfn returns the 2 MiB page frame number of an address.
func pfn(vaddr uint64) uint64 {
	return vaddr >> Shift2MB
}

// pageAddr returns the address of a 2 MiB page frame.
func pageAddr(pfn uint64) uint64 {
	return pfn << Shift2MB
}
