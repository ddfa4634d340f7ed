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

func TestPageTableLazyAllocation(t *testing.T) {
	pt := newPageTable(0xdead, 0)

	v, ok := pt.get(pfn(5 * gb1))
	require.False(t, ok)
	require.Equal(t, uint64(0xdead), v)
	require.Equal(t, 0, pt.leafCount())

	require.NoError(t, pt.set(pfn(5*gb1+mb2), 42))
	require.Equal(t, 1, pt.leafCount())

	v, ok = pt.get(pfn(5*gb1 + mb2))
	require.True(t, ok)
	require.Equal(t, uint64(42), v)

	// other slots of a new leaf hold the default
	v, ok = pt.get(pfn(5 * gb1))
	require.True(t, ok)
	require.Equal(t, uint64(0xdead), v)

	require.NoError(t, pt.setRange(pfn(6*gb1-mb2), 2, 7))
	require.Equal(t, 2, pt.leafCount())

	require.NoError(t, pt.allocRange(pfn(10*gb1), 3*LeafEntries))
	require.Equal(t, 5, pt.leafCount())

	pt.release()
	require.Equal(t, 0, pt.leafCount())
	_, ok = pt.get(pfn(5 * gb1))
	require.False(t, ok)
}

func TestPageTableLeafLimit(t *testing.T) {
	pt := newPageTable(0, 1)

	require.NoError(t, pt.set(pfn(gb1), 1))
	require.NoError(t, pt.set(pfn(gb1+mb2), 1))

	err := pt.set(pfn(2*gb1), 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, unix.ENOMEM))
	require.Equal(t, 1, pt.leafCount())
	require.Nil(t, pt.lookup(pfn(2*gb1)))
}

func TestPageTableConcurrentAllocation(t *testing.T) {
	pt := newPageTable(0, 0)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		i := uint64(i)
		g.Go(func() error {
			for j := uint64(0); j < LeafEntries; j += 16 {
				if err := pt.set(pfn(3*gb1)+j+i, j+i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, pt.leafCount())

	for j := uint64(0); j < LeafEntries; j++ {
		v, ok := pt.get(pfn(3*gb1) + j)
		require.True(t, ok)
		require.Equal(t, j, v)
	}
}
