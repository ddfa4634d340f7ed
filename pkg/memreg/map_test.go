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
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const testDefault = uint64(0xffffffffffffffff)

func equalTranslations(prev, next uint64) bool {
	return prev == next
}

func newTestMap(t *testing.T, opts ...MapOption) (*Registry, *Map) {
	r := NewRegistry()
	m, err := r.AllocMap(testDefault, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Free() })
	return r, m
}

func TestFreeMapIsIdempotent(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}
	m, err := r.AllocMap(0, WithNotify(rec))
	require.NoError(t, err)
	require.Equal(t, 1, r.Maps())

	FreeMap(&m)
	require.Nil(t, m)
	require.Equal(t, 0, r.Maps())

	FreeMap(&m)
	require.Nil(t, m)
	FreeMap(nil)

	var nilMap *Map
	nilMap.Free()

	m2, err := r.AllocMap(0)
	require.NoError(t, err)
	m2.Free()
	m2.Free()
}

func TestSetTranslationRoundTrip(t *testing.T) {
	tcases := []struct {
		name  string
		vaddr uint64
		size  uint64
		value uint64
	}{
		{
			name:  "single page at zero",
			vaddr: 0,
			size:  mb2,
			value: 1,
		},
		{
			name:  "several pages",
			vaddr: 0x7f0000000000,
			size:  8 * mb2,
			value: 0x1234,
		},
		{
			name:  "across 1 GiB windows",
			vaddr: 3*gb1 - 2*mb2,
			size:  4 * mb2,
			value: 0,
		},
		{
			name:  "last page of the address space",
			vaddr: MaxAddr - mb2,
			size:  mb2,
			value: 99,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, m := newTestMap(t)
			require.NoError(t, m.SetTranslation(tc.vaddr, tc.size, tc.value))
			for a := tc.vaddr; a < tc.vaddr+tc.size; a += mb2 {
				require.Equal(t, tc.value, m.Translate(a))
				require.Equal(t, tc.value, m.Translate(a+mb2-1))
			}
			if tc.vaddr+tc.size < MaxAddr {
				require.Equal(t, testDefault, m.Translate(tc.vaddr+tc.size))
			}
		})
	}
}

func TestSetTranslationLastWriteWins(t *testing.T) {
	_, m := newTestMap(t)
	require.NoError(t, m.SetTranslation(gb1, 4*mb2, 1))
	require.NoError(t, m.SetTranslation(gb1+mb2, mb2, 2))
	require.Equal(t, uint64(1), m.Translate(gb1))
	require.Equal(t, uint64(2), m.Translate(gb1+mb2))
	require.Equal(t, uint64(1), m.Translate(gb1+2*mb2))
}

func TestClearRevertsToDefault(t *testing.T) {
	_, m := newTestMap(t)
	require.NoError(t, m.SetTranslation(gb1, 4*mb2, 7))
	require.NoError(t, m.ClearTranslation(gb1+mb2, 2*mb2))

	require.Equal(t, uint64(7), m.Translate(gb1))
	require.Equal(t, testDefault, m.Translate(gb1+mb2))
	require.Equal(t, testDefault, m.Translate(gb1+2*mb2))
	require.Equal(t, uint64(7), m.Translate(gb1+3*mb2))
}

func TestTranslateCoalescing(t *testing.T) {
	_, m := newTestMap(t, WithContiguity(equalTranslations))
	base := 4 * gb1

	require.NoError(t, m.SetTranslation(base, 3*mb2, 0x5000))
	value, size := m.TranslateSize(base, 3*mb2)
	require.Equal(t, uint64(0x5000), value)
	require.Equal(t, 3*mb2, size)

	require.NoError(t, m.ClearTranslation(base+mb2, mb2))
	value, size = m.TranslateSize(base, 3*mb2)
	require.Equal(t, uint64(0x5000), value)
	require.Equal(t, mb2, size)
}

func TestTranslateSize(t *testing.T) {
	_, m := newTestMap(t, WithContiguity(func(prev, next uint64) bool {
		return next == prev+mb2
	}))
	_, plain := newTestMap(t)

	// 3 contiguous pages ending at a 1 GiB boundary, continued by 2 more
	base := 2*gb1 - 3*mb2
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, m.SetTranslation(base+i*mb2, mb2, 0x100000000+i*mb2))
		require.NoError(t, plain.SetTranslation(base+i*mb2, mb2, 0x100000000+i*mb2))
	}

	tcases := []struct {
		name          string
		m             *Map
		vaddr         uint64
		size          uint64
		expectedValue uint64
		expectedSize  uint64
	}{
		{
			name:          "invalid address",
			m:             m,
			vaddr:         MaxAddr,
			size:          mb2,
			expectedValue: testDefault,
			expectedSize:  0,
		},
		{
			name:          "unmapped 1 GiB window capped to a page",
			m:             m,
			vaddr:         100 * gb1,
			size:          10 * mb2,
			expectedValue: testDefault,
			expectedSize:  mb2,
		},
		{
			name:          "unmapped window with offset",
			m:             m,
			vaddr:         100*gb1 + 0x1000,
			size:          10 * mb2,
			expectedValue: testDefault,
			expectedSize:  mb2 - 0x1000,
		},
		{
			name:          "no size requested",
			m:             m,
			vaddr:         base,
			size:          0,
			expectedValue: 0x100000000,
			expectedSize:  0,
		},
		{
			name:          "request within the first page",
			m:             m,
			vaddr:         base,
			size:          0x1000,
			expectedValue: 0x100000000,
			expectedSize:  0x1000,
		},
		{
			name:          "across a 1 GiB boundary",
			m:             m,
			vaddr:         base,
			size:          5 * mb2,
			expectedValue: 0x100000000,
			expectedSize:  5 * mb2,
		},
		{
			name:          "capped at the requested size",
			m:             m,
			vaddr:         base + mb2,
			size:          2*mb2 + 0x10,
			expectedValue: 0x100000000 + mb2,
			expectedSize:  2*mb2 + 0x10,
		},
		{
			name:          "stops at discontinuity",
			m:             m,
			vaddr:         base + 0x2000,
			size:          20 * mb2,
			expectedValue: 0x100000000,
			expectedSize:  5*mb2 - 0x2000,
		},
		{
			name:          "no contiguity predicate",
			m:             plain,
			vaddr:         base,
			size:          5 * mb2,
			expectedValue: 0x100000000,
			expectedSize:  mb2,
		},
		{
			name:          "default translation is not extended",
			m:             m,
			vaddr:         base - mb2,
			size:          5 * mb2,
			expectedValue: testDefault,
			expectedSize:  mb2,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			value, size := tc.m.TranslateSize(tc.vaddr, tc.size)
			require.Equal(t, tc.expectedValue, value)
			require.Equal(t, tc.expectedSize, size)
		})
	}
}

func TestTranslateStopsAtMissingLeaf(t *testing.T) {
	_, m := newTestMap(t, WithContiguity(func(prev, next uint64) bool { return true }))
	require.NoError(t, m.SetTranslation(gb1-mb2, mb2, 1))

	value, size := m.TranslateSize(gb1-mb2, 4*mb2)
	require.Equal(t, uint64(1), value)
	require.Equal(t, mb2, size)
}

func TestSetTranslationRejectsInvalidRanges(t *testing.T) {
	tcases := []struct {
		name  string
		vaddr uint64
		size  uint64
	}{
		{name: "unaligned address", vaddr: gb1 + 0x1000, size: mb2},
		{name: "unaligned size", vaddr: gb1, size: mb2 + 1},
		{name: "address beyond 48 bits", vaddr: MaxAddr, size: mb2},
		{name: "high bits set", vaddr: 1<<63 | gb1, size: mb2},
		{name: "range beyond 48 bits", vaddr: MaxAddr - mb2, size: 2 * mb2},
		{name: "wrapping range", vaddr: gb1, size: ^uint64(0) - gb1 + 1},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, m := newTestMap(t)
			err := m.SetTranslation(tc.vaddr, tc.size, 1)
			require.True(t, errors.Is(err, unix.EINVAL), "got %v", err)
			err = m.ClearTranslation(tc.vaddr, tc.size)
			require.True(t, errors.Is(err, unix.EINVAL), "got %v", err)
			require.Equal(t, 0, m.LeafCount())
		})
	}
}

func TestZeroLengthSetIsNoop(t *testing.T) {
	_, m := newTestMap(t)
	require.NoError(t, m.SetTranslation(gb1, 0, 1))
	require.NoError(t, m.ClearTranslation(gb1, 0))
	require.Equal(t, 0, m.LeafCount())
}

func TestSetTranslationPartialFailure(t *testing.T) {
	_, m := newTestMap(t, WithLeafLimit(1))

	err := m.SetTranslation(gb1-2*mb2, 4*mb2, 3)
	require.True(t, errors.Is(err, unix.ENOMEM), "got %v", err)

	require.Equal(t, uint64(3), m.Translate(gb1-2*mb2))
	require.Equal(t, uint64(3), m.Translate(gb1-mb2))
	require.Equal(t, testDefault, m.Translate(gb1))
	require.Equal(t, 1, m.LeafCount())
}

func TestMapAccessors(t *testing.T) {
	r := NewRegistry()
	m, err := r.AllocMap(5, WithName("dma"))
	require.NoError(t, err)
	defer m.Free()
	require.Equal(t, "dma", m.Name())
	require.Equal(t, uint64(5), m.DefaultTranslation())

	anon, err := r.AllocMap(0)
	require.NoError(t, err)
	defer anon.Free()
	require.NotEmpty(t, anon.Name())
	require.NotEqual(t, m.Name(), anon.Name())
}

func TestConcurrentSetAndTranslate(t *testing.T) {
	_, m := newTestMap(t, WithContiguity(equalTranslations))

	const workers = 8
	var g errgroup.Group
	for w := uint64(0); w < workers; w++ {
		w := w
		g.Go(func() error {
			base := (w + 1) * gb1
			for i := uint64(0); i < 64; i++ {
				if err := m.SetTranslation(base+i*mb2, mb2, w); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			base := (w + 1) * gb1
			for i := 0; i < 1000; i++ {
				v, size := m.TranslateSize(base, 64*mb2)
				if v != testDefault && v != w {
					return errors.New("unexpected translation")
				}
				if size == 0 || size > 64*mb2 {
					return errors.New("unexpected size")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for w := uint64(0); w < workers; w++ {
		v, size := m.TranslateSize((w+1)*gb1, 64*mb2)
		require.Equal(t, w, v)
		require.Equal(t, 64*mb2, size)
	}
}
