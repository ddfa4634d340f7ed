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

// Package testutils has helpers for checking errors in tests.
package testutils

import (
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// VerifyError checks that err is a multierror with the expected number
// of errors and that its message contains all the expected substrings.
func VerifyError(t *testing.T, err error, expectedCount int, expectedSubstrings []string) bool {
	t.Helper()

	if expectedCount == 0 {
		if err != nil {
			t.Errorf("expected no errors, got %v", err)
			return false
		}
		return true
	}
	if err == nil {
		t.Errorf("expected %d errors, got nil", expectedCount)
		return false
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Errorf("expected %d errors, got %#v instead of a multierror", expectedCount, err)
		return false
	}
	if len(merr.Errors) != expectedCount {
		t.Errorf("expected %d errors, got %d: %v", expectedCount, len(merr.Errors), merr)
		return false
	}

	ok := true
	for _, substring := range expectedSubstrings {
		if !strings.Contains(err.Error(), substring) {
			t.Errorf("expected error with substring %q, got %q", substring, err)
			ok = false
		}
	}
	return ok
}

// VerifyErrno checks that err wraps the expected errno.
func VerifyErrno(t *testing.T, err error, expected unix.Errno) bool {
	t.Helper()

	if !errors.Is(err, expected) {
		t.Errorf("expected error %s (%v), got %v", unix.ErrnoName(expected), expected, err)
		return false
	}
	return true
}
