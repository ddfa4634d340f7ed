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

// Package pidfile keeps a daemon from running twice against the same
// runtime directory.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PidFile is a file holding the ID of the process owning it.
type PidFile struct {
	path string
	file *os.File
}

// New returns a PidFile for the given path, or for the default path of
// the running binary if path is empty.
func New(path string) *PidFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PidFile{path: path}
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Write creates the PID file and writes our process ID to it. It fails
// if the file already exists. The file is kept open until Remove.
func (p *PidFile) Write() error {
	if p.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for PID file %s", p.path)
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create PID file %s", p.path)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		f.Close()
		os.Remove(p.path)
		return errors.Wrapf(err, "failed to write PID file %s", p.path)
	}
	p.file = f

	return nil
}

// Acquire writes the PID file, replacing a stale one left behind by a
// process which is no longer running.
func (p *PidFile) Acquire() error {
	owner, err := p.OwnerPid()
	switch {
	case err != nil:
		return err
	case owner == os.Getpid():
		return nil
	case owner > 0:
		return errors.Wrapf(unix.EBUSY, "PID file %s is owned by running process %d", p.path, owner)
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove stale PID file %s", p.path)
	}
	return p.Write()
}

// Read returns the process ID in the PID file, 0 if the file does not
// exist, or -1 and an error if it can't be read.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrapf(err, "failed to read PID file %s", p.path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file %s", string(buf), p.path)
	}

	return pid, nil
}

// Remove closes and removes the PID file.
func (p *PidFile) Remove() error {
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove PID file %s", p.path)
	}
	return nil
}

// OwnerPid returns the ID of the running process owning the PID file,
// or 0 if there is no such process.
func (p *PidFile) OwnerPid() (int, error) {
	pid, err := p.Read()
	if err != nil || pid <= 0 {
		return pid, err
	}

	switch err := unix.Kill(pid, 0); err {
	case nil, unix.EPERM:
		return pid, nil
	case unix.ESRCH:
		return 0, nil
	default:
		return -1, errors.Wrapf(err, "failed to check process %d", pid)
	}
}

// DefaultPath returns the default PID file path of the running binary.
func DefaultPath() string {
	name := filepath.Base(os.Args[0])
	if os.Geteuid() > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/", "var", "run", name+".pid")
}
