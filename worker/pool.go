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

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mediavault/transferagent/queue"
)

// dequeueTimeout is how long each worker loop blocks in Dequeue before
// re-checking ctx/shutdown, matching the teacher's 1-second timed-wait
// worker-loop idiom.
const dequeueTimeout = time.Second

// Pool runs N worker goroutines, each looping Dequeue -> ProcessJob.
type Pool struct {
	q        *queue.Queue
	handlers *Handlers
	size     int
	wg       sync.WaitGroup
}

func NewPool(q *queue.Queue, handlers *Handlers, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{q: q, handlers: handlers, size: size}
}

// Start launches size worker goroutines. It returns immediately; cancel
// ctx to wind them down, then call Stop to wait for them.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Stop waits for every worker goroutine to exit. The loops return only
// once ctx is cancelled; closing the queue alone does not stop them.
func (p *Pool) Stop() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok := p.q.Dequeue(ctx, dequeueTimeout)
		if !ok {
			continue
		}
		p.handlers.ProcessJob(ctx, job)
	}
}
