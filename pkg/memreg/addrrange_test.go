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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddrRange(t *testing.T) {
	tcases := []struct {
		name        string
		input       string
		expected    AddrRange
		expectedErr bool
	}{
		{
			name:     "single page",
			input:    "40000000",
			expected: AddrRange{0x40000000, mb2},
		},
		{
			name:     "start and end",
			input:    "0x40000000-0x40400000",
			expected: AddrRange{0x40000000, 2 * mb2},
		},
		{
			name:     "reversed ends",
			input:    "40400000-40000000",
			expected: AddrRange{0x40000000, 2 * mb2},
		},
		{
			name:     "start and size",
			input:    "7f0000000000+1G",
			expected: AddrRange{0x7f0000000000, gb1},
		},
		{
			name:     "size with iB suffix",
			input:    " 0x200000+4MiB ",
			expected: AddrRange{0x200000, 4 << 20},
		},
		{
			name:     "plain size",
			input:    "0+4096",
			expected: AddrRange{0, 4096},
		},
		{
			name:        "empty",
			input:       "",
			expectedErr: true,
		},
		{
			name:        "bad address",
			input:       "0xfoo",
			expectedErr: true,
		},
		{
			name:        "bad end",
			input:       "40000000-",
			expectedErr: true,
		},
		{
			name:        "bad unit",
			input:       "40000000+2X",
			expectedErr: true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ar, err := ParseAddrRange(tc.input)
			if tc.expectedErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid address range")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, ar)
		})
	}
}

func TestParseBytes(t *testing.T) {
	tcases := []struct {
		input       string
		expected    uint64
		expectedErr bool
	}{
		{input: "0", expected: 0},
		{input: "1234", expected: 1234},
		{input: "0x1000", expected: 0x1000},
		{input: "4k", expected: 4 << 10},
		{input: "4K", expected: 4 << 10},
		{input: "2M", expected: 2 << 20},
		{input: "2MB", expected: 2 << 20},
		{input: "3GiB", expected: 3 << 30},
		{input: "1T", expected: 1 << 40},
		{input: "", expectedErr: true},
		{input: "B", expectedErr: true},
		{input: "2m", expectedErr: true},
		{input: "G", expectedErr: true},
		{input: "-1", expectedErr: true},
		{input: "16777216T", expectedErr: true},
	}
	for _, tc := range tcases {
		t.Run(tc.input, func(t *testing.T) {
			n, err := ParseBytes(tc.input)
			if tc.expectedErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, n)
		})
	}
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "0", FormatBytes(0))
	require.Equal(t, "1000", FormatBytes(1000))
	require.Equal(t, "4k", FormatBytes(4096))
	require.Equal(t, "2M", FormatBytes(mb2))
	require.Equal(t, "6M", FormatBytes(3*mb2))
	require.Equal(t, "1G", FormatBytes(gb1))
	require.Equal(t, "1025M", FormatBytes(gb1+1<<20))
	require.Equal(t, "256T", FormatBytes(MaxAddr))
}

func TestAddrRange(t *testing.T) {
	ar := AddrRange{Addr: 0x40000000, Size: 2 * mb2}
	require.Equal(t, uint64(0x40400000), ar.End())
	require.Equal(t, uint64(2), ar.Pages())
	require.True(t, ar.Aligned())
	require.True(t, ar.Contains(0x40000000))
	require.True(t, ar.Contains(0x403fffff))
	require.False(t, ar.Contains(0x40400000))
	require.False(t, ar.Contains(0x3fffffff))
	require.Equal(t, "40000000-40400000 (4M)", ar.String())

	ar = AddrRange{Addr: 0x1000, Size: mb2}
	require.False(t, ar.Aligned())
	require.Equal(t, uint64(2), ar.Pages())

	require.Equal(t, uint64(0), AddrRange{Addr: 0x1000}.Pages())
	require.False(t, AddrRange{Addr: 0x1000}.Contains(0x1000))
	require.Equal(t, AddrRange{Addr: 0x1000, Size: 0x1000}, NewAddrRange(0x2000, 0x1000))
}
