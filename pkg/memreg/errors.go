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
	"errors"

	pkgerr "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by a Registry which has been closed.
var ErrClosed = errors.New("memreg: registry closed")

func invalidError(format string, args ...interface{}) error {
	return pkgerr.Wrapf(unix.EINVAL, "memreg: "+format, args...)
}

func busyError(format string, args ...interface{}) error {
	return pkgerr.Wrapf(unix.EBUSY, "memreg: "+format, args...)
}

func rangeError(format string, args ...interface{}) error {
	return pkgerr.Wrapf(unix.ERANGE, "memreg: "+format, args...)
}

func nomemError(format string, args ...interface{}) error {
	return pkgerr.Wrapf(unix.ENOMEM, "memreg: "+format, args...)
}

// errnoName returns a short label for the class of an error.
func errnoName(err error) string {
	var errno unix.Errno
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.As(err, &errno):
		if name := unix.ErrnoName(errno); name != "" {
			return name
		}
		return "errno"
	}
	return "subscriber"
}

// checkRange validates an address range for page-granular operations.
func checkRange(vaddr, size uint64) error {
	if vaddr >= MaxAddr {
		return invalidError("invalid address %#x", vaddr)
	}
	if vaddr&Mask2MB != 0 || size&Mask2MB != 0 {
		return invalidError("unaligned range %#x+%#x", vaddr, size)
	}
	if size > MaxAddr-vaddr {
		return invalidError("range %#x+%#x beyond address space", vaddr, size)
	}
	return nil
}
