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

package log

import (
	"os"
	"os/signal"
	"sync"
)

var (
	toggleLock sync.Mutex
	toggleStop func()
)

// SetupDebugToggleSignal makes the given signal toggle forced full
// debugging on and off. Any previously set up toggle signal is cleared.
func SetupDebugToggleSignal(sig os.Signal) {
	toggleLock.Lock()
	defer toggleLock.Unlock()

	clearDebugToggleSignal()

	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sig)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				forced := !log.debugForced()
				log.forceDebug(forced)
				if forced {
					deflog.Warn("forced full debugging is now on (%s)", sig)
				} else {
					deflog.Warn("forced full debugging is now off (%s)", sig)
				}
			}
		}
	}()

	toggleStop = func() {
		signal.Stop(ch)
		close(done)
	}
}

// ClearDebugToggleSignal stops toggling debugging by a signal.
func ClearDebugToggleSignal() {
	toggleLock.Lock()
	defer toggleLock.Unlock()
	clearDebugToggleSignal()
}

func clearDebugToggleSignal() {
	if toggleStop != nil {
		toggleStop()
		toggleStop = nil
	}
}
