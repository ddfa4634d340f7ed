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

// Package memreg tracks per-page metadata of the virtual address space
// and the registration of memory regions with interested subscribers.
//
// A Map stores an opaque 64-bit translation for every 2 MiB page of the
// 48-bit virtual address space, in a sparse two-level table whose leaves
// are allocated on first use. Lookups are lock-free.
//
// A Registry records which pages are registered. Memory is registered
// and unregistered in regions. Every Map allocated with a subscriber is
// told about each registered region, both the ones that exist when it is
// allocated and the ones registered or unregistered afterwards.
package memreg

var configHelp = `
Memory registration.

The memreg module controls how the process-wide memory registry behaves.

  memreg:
    # Undo a registration if any subscriber fails to accept it.
    strictRegistration: false
    # Default limit for the number of 1 GiB leaf tables per map, 0 for none.
    leafLimit: 0
    # Minimum interval between logging identical subscriber errors.
    notifyErrorInterval: 5s
`
