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

// Package queue implements the priority-ordered JobQueue: QueueJobs become
// visible to workers strictly in creation_time order, ties broken by
// enqueue time, and Dequeue is a timed wait so worker loops stay
// cancellable.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/metrics"
)

// Job is an immutable snapshot of the work a worker must perform. It is
// never mutated after construction; the authoritative, mutable state lives
// in the FileRecord the job's Identity points to.
type Job struct {
	FileIdentity       filemodel.Identity
	Path               string
	Size               int64
	CreationTime       time.Time
	IsGrowingAtEnqueue bool
	EnqueuedAt         time.Time
	RetryCount         int
}

// jobHeap orders by CreationTime ascending, ties broken by EnqueuedAt.
type jobHeap []Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if !h[i].CreationTime.Equal(h[j].CreationTime) {
		return h[i].CreationTime.Before(h[j].CreationTime)
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a thread-safe, unbounded priority queue of Jobs. Dequeue is a
// timed wait implemented with a notify channel rather than a condition
// variable, so it composes cleanly with context cancellation.
type Queue struct {
	mu     sync.Mutex
	h      jobHeap
	notify chan struct{}
	closed bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// wake signals at most one blocked Dequeue without blocking itself.
func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue adds job to the queue and wakes one waiting Dequeue call.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	heap.Push(&q.h, job)
	depth := q.h.Len()
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(depth))
	q.wake()
}

// Len returns the number of jobs currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Close wakes every blocked Dequeue call so worker loops can observe
// shutdown; subsequent Dequeue calls always return immediately with
// ok=false once the queue has drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Dequeue waits up to timeout for a job to become available, popping the
// highest-priority one if so. It returns ok=false on timeout, on Close, or
// if ctx is done — callers are expected to loop and recheck shutdown
// conditions on a false return, matching the 1s timed-wait worker-loop
// design.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.h.Len() > 0 {
			job := heap.Pop(&q.h).(Job)
			depth := q.h.Len()
			q.mu.Unlock()
			metrics.QueueDepth.Set(float64(depth))
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			// Pass the wake-up on so every other blocked Dequeue sees the close too.
			q.wake()
			return Job{}, false
		}

		select {
		case <-q.notify:
			continue
		case <-deadline.C:
			return Job{}, false
		case <-ctx.Done():
			return Job{}, false
		}
	}
}
