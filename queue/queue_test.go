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

package queue

import (
	"context"
	"testing"
	"time"
)

func TestDequeue_OrdersByCreationTimeThenEnqueuedAt(t *testing.T) {
	q := New()
	base := time.Now()

	q.Enqueue(Job{FileIdentity: "b", CreationTime: base.Add(time.Second)})
	q.Enqueue(Job{FileIdentity: "a", CreationTime: base})
	q.Enqueue(Job{FileIdentity: "c", CreationTime: base.Add(2 * time.Second)})

	var got []string
	for i := 0; i < 3; i++ {
		job, ok := q.Dequeue(context.Background(), time.Second)
		if !ok {
			t.Fatalf("expected a job, got none at index %d", i)
		}
		got = append(got, string(job.FileIdentity))
	}

	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want order %v, got %v", want, got)
		}
	}
}

func TestDequeue_TimesOutWhenEmpty(t *testing.T) {
	q := New()
	start := time.Now()
	_, ok := q.Dequeue(context.Background(), 20*time.Millisecond)
	if ok {
		t.Fatal("want timeout on empty queue, got a job")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Dequeue returned before its timeout elapsed")
	}
}

func TestDequeue_WakesImmediatelyOnEnqueue(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(context.Background(), 5*time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Job{FileIdentity: "x"})

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("want a job, got timeout")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up promptly after Enqueue")
	}
}

func TestClose_UnblocksWaitingDequeue(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(context.Background(), 5*time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("want ok=false after Close, got a job")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}

func TestDequeue_RespectsContextCancellation(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx, 5*time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("want ok=false after ctx cancellation, got a job")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return promptly after ctx cancellation")
	}
}
