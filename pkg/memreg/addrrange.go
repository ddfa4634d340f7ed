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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AddrRange is a range of virtual addresses.
type AddrRange struct {
	Addr uint64
	Size uint64
}

// NewAddrRange returns the range between two addresses, in either order.
func NewAddrRange(startAddr, stopAddr uint64) AddrRange {
	if stopAddr < startAddr {
		startAddr, stopAddr = stopAddr, startAddr
	}
	return AddrRange{Addr: startAddr, Size: stopAddr - startAddr}
}

// End returns the first address after the range.
func (r AddrRange) End() uint64 {
	return r.Addr + r.Size
}

// Pages returns the number of 2 MiB pages the range spans.
func (r AddrRange) Pages() uint64 {
	if r.Size == 0 {
		return 0
	}
	return pfn(r.End()-1) - pfn(r.Addr) + 1
}

// Aligned returns true if both ends of the range are 2 MiB aligned.
func (r AddrRange) Aligned() bool {
	return r.Addr&Mask2MB == 0 && r.Size&Mask2MB == 0
}

// Contains returns true if addr is within the range.
func (r AddrRange) Contains(addr uint64) bool {
	return r.Addr <= addr && addr-r.Addr < r.Size
}

func (r AddrRange) String() string {
	return fmt.Sprintf("%x-%x (%s)", r.Addr, r.End(), FormatBytes(r.Size))
}

// ParseAddrRange parses an address range. Accepted formats are START
// (one 2 MiB page at START), START-END and START+SIZE[UNIT]. Addresses
// are hexadecimal, with or without a 0x prefix.
func ParseAddrRange(s string) (AddrRange, error) {
	s = strings.TrimSpace(s)
	invalid := func() (AddrRange, error) {
		return AddrRange{}, errors.Errorf("invalid address range %q, expected START, START-END or START+SIZE[UNIT]", s)
	}

	if i := strings.IndexAny(s, "-+"); i >= 0 {
		start, err := ParseAddr(s[:i])
		if err != nil {
			return invalid()
		}
		if s[i] == '-' {
			end, err := ParseAddr(s[i+1:])
			if err != nil {
				return invalid()
			}
			return NewAddrRange(start, end), nil
		}
		size, err := ParseBytes(s[i+1:])
		if err != nil {
			return invalid()
		}
		return AddrRange{Addr: start, Size: size}, nil
	}

	start, err := ParseAddr(s)
	if err != nil {
		return invalid()
	}
	return AddrRange{Addr: start, Size: PageSize2MB}, nil
}

// ParseAddr parses a hexadecimal address.
func ParseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return 0, errors.New("syntax error in address: string is empty")
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "syntax error in address %q", s)
	}
	return addr, nil
}

// ParseBytes parses a size with an optional k, M, G or T unit suffix
// (powers of 1024), optionally followed by iB or B.
func ParseBytes(s string) (uint64, error) {
	origS := s
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, errors.New("syntax error in bytes: string is empty")
	}
	s = strings.TrimSuffix(s, "B")
	s = strings.TrimSuffix(s, "i")
	if len(s) == 0 {
		return 0, errors.Errorf("syntax error in bytes %q", origS)
	}

	factor := uint64(1)
	numpart := s[:len(s)-1]
	switch c := s[len(s)-1]; {
	case c == 'k' || c == 'K':
		factor = 1 << 10
	case c == 'M':
		factor = 1 << 20
	case c == 'G':
		factor = 1 << 30
	case c == 'T':
		factor = 1 << 40
	case '0' <= c && c <= '9':
		numpart = s
	default:
		return 0, errors.Errorf("syntax error in bytes %q: unexpected unit %q", origS, c)
	}

	n, err := strconv.ParseUint(strings.TrimSpace(numpart), 0, 64)
	if err != nil {
		return 0, errors.Errorf("syntax error in bytes %q: bad numeric part %q", origS, numpart)
	}
	if n > (1<<64-1)/factor {
		return 0, errors.Errorf("bytes %q out of range", origS)
	}
	return n * factor, nil
}

// FormatBytes formats a size using the largest exact binary unit.
func FormatBytes(n uint64) string {
	units := []struct {
		suffix string
		shift  uint
	}{{"T", 40}, {"G", 30}, {"M", 20}, {"k", 10}}
	for _, u := range units {
		if n != 0 && n&(1<<u.shift-1) == 0 {
			return strconv.FormatUint(n>>u.shift, 10) + u.suffix
		}
	}
	return strconv.FormatUint(n, 10)
}
