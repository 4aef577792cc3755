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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/queue"
)

func TestPool_ProcessesAnEnqueuedJobAndStopsOnCancel(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	h, repo, _, q := newTestHandlers(t, destDir)

	srcPath := filepath.Join(srcDir, "clip.mov")
	content := []byte("pool test content")
	os.WriteFile(srcPath, content, 0o644)

	rec := filemodel.Record{Identity: filemodel.NewIdentity(), Path: srcPath, Size: int64(len(content)), Status: filemodel.InQueue, DiscoveredAt: time.Now()}
	repo.Add(rec)

	p := NewPool(q, h, 2)
	ctx, cancel := context.WithCancel(context.Background())

	p.Start(ctx)
	q.Enqueue(queue.Job{FileIdentity: rec.Identity, Path: srcPath, Size: int64(len(content))})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := repo.GetByID(rec.Identity)
		if got.Status == filemodel.Completed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, _ := repo.GetByID(rec.Identity)
	if got.Status != filemodel.Completed {
		t.Fatalf("want the worker pool to drive the job to Completed, got %v", got.Status)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return promptly after ctx cancellation")
	}
}

func TestNewPool_ClampsSizeToAtLeastOne(t *testing.T) {
	p := NewPool(queue.New(), nil, 0)
	if p.size != 1 {
		t.Fatalf("want size clamped to 1, got %d", p.size)
	}
}
