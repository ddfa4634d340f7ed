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
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate is the maximum rate at which identical messages are emitted.
type Rate struct {
	// Limit is the sustained rate of identical messages.
	Limit rate.Limit
	// Burst is the number of identical messages allowed at once.
	Burst int
	// Window is the number of distinct messages tracked.
	Window int
}

const (
	// DefaultWindow is the default number of distinct messages tracked.
	DefaultWindow = 256
	// MinimumWindow is the smallest number of distinct messages tracked.
	MinimumWindow = 32
)

// Every returns the rate limit of one message per interval.
func Every(interval time.Duration) rate.Limit {
	return rate.Every(interval)
}

// Interval returns a Rate of one message per interval.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// ratelimited suppresses identical messages emitted too often. Limiters
// of the most recent distinct messages are kept in a ring.
type ratelimited struct {
	Logger
	sync.Mutex
	rate   Rate
	ring   []string
	next   int
	limits map[string]*rate.Limiter
}

// RateLimit returns a Logger which drops identical messages exceeding
// the given rate. Debug messages are checked only when debugging is on.
func RateLimit(l Logger, r Rate) Logger {
	switch {
	case r.Window == 0:
		r.Window = DefaultWindow
	case r.Window < MinimumWindow:
		r.Window = MinimumWindow
	}
	if r.Burst < 1 {
		r.Burst = 1
	}
	return &ratelimited{
		Logger: l,
		rate:   r,
		ring:   make([]string, 0, r.Window),
		limits: make(map[string]*rate.Limiter, r.Window),
	}
}

func (rl *ratelimited) Debug(format string, args ...interface{}) {
	if rl.Logger.DebugEnabled() {
		rl.emit(rl.Logger.Debug, format, args...)
	}
}

func (rl *ratelimited) Info(format string, args ...interface{}) {
	rl.emit(rl.Logger.Info, format, args...)
}

func (rl *ratelimited) Warn(format string, args ...interface{}) {
	rl.emit(rl.Logger.Warn, format, args...)
}

func (rl *ratelimited) Error(format string, args ...interface{}) {
	rl.emit(rl.Logger.Error, format, args...)
}

func (rl *ratelimited) emit(fn func(string, ...interface{}), format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if rl.limiter(msg).Allow() {
		fn("<rate-limited> %s", msg)
	}
}

// limiter returns the limiter of a message, replacing the limiter of the
// oldest tracked message if the ring is full.
func (rl *ratelimited) limiter(msg string) *rate.Limiter {
	rl.Lock()
	defer rl.Unlock()

	if lim, ok := rl.limits[msg]; ok {
		return lim
	}

	if len(rl.ring) < cap(rl.ring) {
		rl.ring = append(rl.ring, msg)
	} else {
		delete(rl.limits, rl.ring[rl.next])
		rl.ring[rl.next] = msg
		rl.next = (rl.next + 1) % len(rl.ring)
	}

	lim := rate.NewLimiter(rl.rate.Limit, rl.rate.Burst)
	rl.limits[msg] = lim

	return lim
}
