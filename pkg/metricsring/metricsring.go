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

// Package metricsring keeps a fixed number of recent samples of a
// metric along with their moving average.
package metricsring

import (
	"container/ring"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
)

// Ring holds the most recent samples of a metric.
type Ring struct {
	sync.Mutex
	r     *ring.Ring
	count int
	avg   ewma.MovingAverage
}

type sample struct {
	value float64
	stamp time.Time
}

// New creates a Ring of the given size. The moving average has a
// warm-up period of 10 samples, during which it reads as 0.
func New(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{
		r:   ring.New(size),
		avg: ewma.NewMovingAverage(float64(size)),
	}
}

// Push adds a new sample, replacing the oldest one if the ring is full.
func (mr *Ring) Push(value float64) {
	mr.Lock()
	defer mr.Unlock()

	mr.r.Value = sample{value: value, stamp: time.Now()}
	mr.r = mr.r.Next()
	mr.avg.Add(value)
	if mr.count < mr.r.Len() {
		mr.count++
	}
}

// Average returns the exponentially weighted moving average of samples.
func (mr *Ring) Average() float64 {
	mr.Lock()
	defer mr.Unlock()
	return mr.avg.Value()
}

// Len returns the number of samples in the ring.
func (mr *Ring) Len() int {
	mr.Lock()
	defer mr.Unlock()
	return mr.count
}

// Span returns the time between the oldest and the latest sample.
func (mr *Ring) Span() time.Duration {
	mr.Lock()
	defer mr.Unlock()

	if mr.count < 2 {
		return 0
	}
	latest := mr.r.Prev().Value.(sample).stamp
	oldest := mr.r.Move(-mr.count).Value.(sample).stamp
	return latest.Sub(oldest)
}

// Last returns up to n of the most recent samples, oldest first.
func (mr *Ring) Last(n int) []float64 {
	mr.Lock()
	defer mr.Unlock()

	switch {
	case n > mr.count:
		n = mr.count
	case n < 0:
		n = 0
	}
	values := make([]float64, 0, n)
	p := mr.r.Move(-n)
	for i := 0; i < n; i++ {
		values = append(values, p.Value.(sample).value)
		p = p.Next()
	}
	return values
}
