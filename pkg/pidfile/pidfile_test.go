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

package pidfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestPidFile(t *testing.T) *PidFile {
	p := New(filepath.Join(t.TempDir(), "run", "memregd.pid"))
	t.Cleanup(func() { p.Remove() })
	return p
}

func TestWriteAndRead(t *testing.T) {
	p := newTestPidFile(t)

	pid, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, 0, pid)

	require.NoError(t, p.Write())
	require.NoError(t, p.Write())

	pid, err = p.Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	owner, err := p.OwnerPid()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), owner)

	// another instance can't take over the file
	require.Error(t, New(p.Path()).Write())
}

func TestRemove(t *testing.T) {
	p := newTestPidFile(t)

	require.NoError(t, p.Remove())
	require.NoError(t, p.Write())
	require.NoError(t, p.Remove())

	_, err := os.Stat(p.Path())
	require.True(t, os.IsNotExist(err))
	require.NoError(t, p.Write())
}

func TestInvalidContent(t *testing.T) {
	p := newTestPidFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(p.Path()), 0755))
	require.NoError(t, os.WriteFile(p.Path(), []byte("not-a-pid\n"), 0644))

	pid, err := p.Read()
	require.Error(t, err)
	require.Equal(t, -1, pid)

	_, err = p.OwnerPid()
	require.Error(t, err)
	require.Error(t, p.Acquire())
}

func TestAcquire(t *testing.T) {
	tcases := []struct {
		name    string
		content string
		busy    bool
	}{
		{name: "no file"},
		{name: "stale file", content: "2147483646\n"},
		{name: "running owner", content: "1\n", busy: true},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPidFile(t)
			if tc.content != "" {
				require.NoError(t, os.MkdirAll(filepath.Dir(p.Path()), 0755))
				require.NoError(t, os.WriteFile(p.Path(), []byte(tc.content), 0644))
			}

			err := p.Acquire()
			if tc.busy {
				require.True(t, errors.Is(err, unix.EBUSY), "got %v", err)
				return
			}
			require.NoError(t, err)
			pid, err := p.Read()
			require.NoError(t, err)
			require.Equal(t, os.Getpid(), pid)
			require.NoError(t, p.Acquire())
		})
	}
}

func TestDefaultPath(t *testing.T) {
	require.Equal(t, DefaultPath(), New("").Path())
	require.Equal(t, filepath.Base(os.Args[0])+".pid", filepath.Base(DefaultPath()))
}
