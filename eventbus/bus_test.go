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
	"sync"
	"testing"
)

type fakeEvent struct {
	Base
}

func (fakeEvent) Type() EventType { return FileDiscovered }

func TestPublish_FansOutToAllHandlersAndWaits(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var calls []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(FileDiscovered, func(ctx context.Context, e Event) error {
			mu.Lock()
			calls = append(calls, i)
			mu.Unlock()
			return nil
		})
	}

	bus.Publish(context.Background(), fakeEvent{})

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("want 3 handler invocations, got %d", len(calls))
	}
}

func TestPublish_PanickingHandlerDoesNotStopSiblings(t *testing.T) {
	bus := New()
	ran := false

	bus.Subscribe(FileDiscovered, func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(FileDiscovered, func(ctx context.Context, e Event) error {
		ran = true
		return nil
	})

	bus.Publish(context.Background(), fakeEvent{})

	if !ran {
		t.Fatal("sibling handler did not run after a panicking handler")
	}
}

func TestPublish_NoSubscribersIsANoop(t *testing.T) {
	bus := New()
	bus.Publish(context.Background(), fakeEvent{})
}

func TestNewEventID_ReturnsDistinctValues(t *testing.T) {
	a := NewEventID("test")
	b := NewEventID("test")
	if a == b {
		t.Fatalf("want distinct event IDs, got %q twice", a)
	}
}
