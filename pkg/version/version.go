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

// Package version holds the version metadata of binaries, set at link
// time with
//
//	-ldflags "-X=github.com/intel/memreg/pkg/version.Version=<version> \
//	          -X=github.com/intel/memreg/pkg/version.Build=<build-id>"
package version

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var (
	// Version is the version as given by 'git describe'.
	Version = "unknown"
	// Build is the SHA1 of the repository the binary was built from.
	Build = "unknown"
)

// Info returns the version information of the running binary.
func Info() string {
	return fmt.Sprintf("%s version information:\n"+
		"  - version: %s\n"+
		"  - build:   %s\n"+
		"  - go:      %s\n",
		filepath.Base(os.Args[0]), Version, Build, runtime.Version())
}
