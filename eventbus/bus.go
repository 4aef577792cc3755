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

package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// Handler processes one published Event. A Handler that returns an error,
// or panics, is logged and does not prevent sibling handlers for the same
// event from running, nor does it propagate to the publisher.
type Handler func(ctx context.Context, e Event) error

// Bus is a typed publish/subscribe dispatcher. The handler registry is
// guarded by a lock that is never held during Publish, so a slow or
// re-entrant handler (one that itself calls Subscribe or Publish) cannot
// deadlock against registration.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be invoked for every future Publish of events of
// type t. Handlers are invoked in subscription order for deterministic
// single-handler ordering, though distinct handlers for the same type may
// run concurrently during Publish.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish fans e out to every handler subscribed to type(e) and waits for
// all of them to finish. A handler's error or panic is logged with
// context and swallowed; it never surfaces to the caller and never
// prevents other handlers from observing e. Publish itself never returns
// an error: by design, this is the one layer in the system that
// intentionally isolates failures (see the error handling table).
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[e.Type()]))
	copy(hs, b.handlers[e.Type()])
	b.mu.RUnlock()

	if len(hs) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(hs))
	for _, h := range hs {
		h := h
		go func() {
			defer wg.Done()
			b.safeExecute(ctx, e, h)
		}()
	}
	wg.Wait()
}

func (b *Bus) safeExecute(ctx context.Context, e Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("event handler for %s (file %s) panicked: %v", e.Type(), e.Base().FileIdentity, r)
		}
	}()
	if err := h(ctx, e); err != nil {
		glog.Errorf("event handler for %s (file %s) returned error: %v", e.Type(), e.Base().FileIdentity, err)
	}
}

// NewEventID returns a readable, unique enough identifier for an event's
// EventID field. It is not a UUID: event IDs are for log correlation, not
// external identity, so a cheap monotonic-ish value is enough.
var eventSeq struct {
	mu  sync.Mutex
	ctr uint64
}

func NewEventID(prefix string) string {
	eventSeq.mu.Lock()
	eventSeq.ctr++
	n := eventSeq.ctr
	eventSeq.mu.Unlock()
	return fmt.Sprintf("%s-%d", prefix, n)
}
