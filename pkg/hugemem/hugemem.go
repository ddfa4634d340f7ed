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

// Package hugemem allocates 2 MiB aligned anonymous memory that can be
// registered with a memreg.Registry.
package hugemem

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	logger "github.com/intel/memreg/pkg/log"
	"github.com/intel/memreg/pkg/memreg"
)

var log = logger.NewLogger("hugemem")

// Buffer is a 2 MiB aligned anonymous memory mapping.
type Buffer struct {
	sync.Mutex
	mapping  []byte
	data     []byte
	registry *memreg.Registry
	huge     bool
}

// Option is an option for Alloc.
type Option func(*Buffer)

// WithHugePages advises the kernel to back the buffer with huge pages.
func WithHugePages() Option {
	return func(b *Buffer) {
		b.huge = true
	}
}

// Alloc allocates a buffer of at least size bytes. The size is rounded
// up to a multiple of 2 MiB. The mapping is over-allocated by one 2 MiB
// page so that the buffer can start at a 2 MiB boundary.
func Alloc(size uint64, opts ...Option) (*Buffer, error) {
	if size == 0 {
		return nil, errors.Wrap(unix.EINVAL, "hugemem: zero size")
	}
	size = (size + memreg.Mask2MB) &^ uint64(memreg.Mask2MB)

	b := &Buffer{}
	for _, o := range opts {
		o(b)
	}

	mapping, err := unix.Mmap(-1, 0, int(size+memreg.PageSize2MB),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.Wrapf(err, "hugemem: failed to map %d bytes", size)
	}

	base := uint64(uintptr(unsafe.Pointer(&mapping[0])))
	off := (memreg.PageSize2MB - base&memreg.Mask2MB) & memreg.Mask2MB
	b.mapping = mapping
	b.data = mapping[off : off+size : off+size]

	if b.huge {
		if err := unix.Madvise(b.data, unix.MADV_HUGEPAGE); err != nil {
			log.Warn("failed to advise huge pages for %s: %v", b.Range(), err)
		}
	}

	log.Debug("allocated %s", b.Range())

	return b, nil
}

// Addr returns the start address of the buffer.
func (b *Buffer) Addr() uint64 {
	if len(b.data) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b.data[0])))
}

// Size returns the size of the buffer.
func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

// Range returns the address range of the buffer.
func (b *Buffer) Range() memreg.AddrRange {
	return memreg.AddrRange{Addr: b.Addr(), Size: b.Size()}
}

// Bytes returns the memory of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Register registers the buffer as a single region with the registry.
func (b *Buffer) Register(r *memreg.Registry) error {
	b.Lock()
	defer b.Unlock()

	if b.mapping == nil {
		return errors.Wrap(unix.EINVAL, "hugemem: buffer already freed")
	}
	if b.registry != nil {
		return errors.Wrapf(unix.EBUSY, "hugemem: %s already registered", b.Range())
	}
	if err := r.Register(b.Addr(), b.Size()); err != nil {
		// A rejecting subscriber can leave the range registered.
		if r.IsRegistered(b.Addr()) {
			b.registry = r
		}
		return err
	}
	b.registry = r

	return nil
}

// Unregister unregisters the buffer from the registry it was registered with.
func (b *Buffer) Unregister() error {
	b.Lock()
	defer b.Unlock()
	return b.unregister()
}

func (b *Buffer) unregister() error {
	if b.registry == nil {
		return nil
	}
	if err := b.registry.Unregister(b.Addr(), b.Size()); err != nil && !errors.Is(err, memreg.ErrClosed) {
		return err
	}
	b.registry = nil
	return nil
}

// Free unregisters the buffer if necessary and unmaps it.
func (b *Buffer) Free() error {
	b.Lock()
	defer b.Unlock()

	if b.mapping == nil {
		return nil
	}
	if err := b.unregister(); err != nil {
		return err
	}
	r := b.Range()
	if err := unix.Munmap(b.mapping); err != nil {
		return errors.Wrapf(err, "hugemem: failed to unmap %s", r)
	}
	b.mapping, b.data = nil, nil

	log.Debug("freed %s", r)

	return nil
}
