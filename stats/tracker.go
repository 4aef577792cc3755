/*
Copyright 2017 Google Inc. All Rights Reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats tracks aggregate copy throughput across every in-flight
// copy, in the teacher's agent/stats/throughput.Tracker ring-buffer idiom.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

const measurementWindowSeconds = 10

// Tracker aggregates bytes copied per second over a rolling window, for
// the UI boundary's statistics_update payload and the Prometheus
// throughput gauge.
type Tracker struct {
	mu         sync.RWMutex
	throughput int64 // bytes/second, most recent window average

	bytesChan chan int64
	ring      []int64
}

// NewTracker starts the aggregation loop and returns a Tracker. The
// returned Tracker stops accepting further updates once ctx is done.
func NewTracker(ctx context.Context) *Tracker {
	t := &Tracker{
		bytesChan: make(chan int64, 256),
		ring:      make([]int64, measurementWindowSeconds),
	}
	go t.run(ctx)
	return t
}

// RecordBytesCopied should be called once per chunk actually written to a
// destination, across every in-flight copy.
func (t *Tracker) RecordBytesCopied(n int64) {
	select {
	case t.bytesChan <- n:
	default:
		glog.V(2).Info("stats: tracker channel full, dropping a sample")
	}
}

// Throughput returns the most recently computed bytes/second average.
func (t *Tracker) Throughput() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.throughput
}

func (t *Tracker) run(ctx context.Context) {
	idx := 0
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-t.bytesChan:
			t.ring[idx] += n
		case <-ticker.C:
			var total int64
			for _, b := range t.ring {
				total += b
			}
			t.mu.Lock()
			t.throughput = total / int64(len(t.ring))
			t.mu.Unlock()

			idx = (idx + 1) % len(t.ring)
			t.ring[idx] = 0
		}
	}
}
