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

package copyengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediavault/transferagent/agenterrors"
	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/statemachine"
)

func testParams() Params {
	return Params{
		ChunkSizeBytes:      4096,
		SafetyMarginBytes:   1024,
		PollInterval:        10 * time.Millisecond,
		ThrottlePause:       0,
		GrowthTimeout:       50 * time.Millisecond,
		MinGrowingSizeBytes: 0,
		IOTimeout:           time.Second,
		UseTemporaryFile:    true,
		MaxDeleteRetries:    2,
		DeleteRetryDelay:    5 * time.Millisecond,
	}
}

func TestCopy_StaticFileCompletesAndDeletesSource(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "clip.mov")
	content := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("fixture setup: %v", err)
	}

	repo := repository.New()
	bus := eventbus.New()
	sm := statemachine.New(repo, bus, nil)

	rec := filemodel.Record{
		Identity: filemodel.NewIdentity(),
		Path:     srcPath,
		Size:     int64(len(content)),
		Status:   filemodel.Copying,
	}
	repo.Add(rec)

	e := New(sm, bus, nil, testParams(), nil)
	destPath := filepath.Join(dstDir, "clip.mov")

	if err := e.Copy(context.Background(), rec, destPath); err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("destination file missing: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("want copied content %q, got %q", content, got)
	}
	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Fatal("want source deleted after a clean copy")
	}

	final, ok := repo.GetByID(rec.Identity)
	if !ok || final.Status != filemodel.Completed {
		t.Fatalf("want status Completed, got %+v ok=%v", final, ok)
	}
}

func TestFinalize_SizeMismatchReturnsIntegrityError(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "clip.mov")
	destPath := filepath.Join(dstDir, "clip.mov")
	os.WriteFile(srcPath, []byte("12345"), 0o644)
	os.WriteFile(destPath, []byte("1234"), 0o644)

	repo := repository.New()
	bus := eventbus.New()
	sm := statemachine.New(repo, bus, nil)

	rec := filemodel.Record{Identity: filemodel.NewIdentity(), Path: srcPath, Status: filemodel.Copying}
	repo.Add(rec)

	e := New(sm, bus, nil, testParams(), nil)
	err := e.finalize(context.Background(), rec, destPath, 4)
	if err == nil {
		t.Fatal("want an error when source and destination sizes disagree")
	}
	if _, ok := err.(*agenterrors.IntegrityMismatchError); !ok {
		t.Fatalf("want a *agenterrors.IntegrityMismatchError, got %T: %v", err, err)
	}
}

func TestCopy_GrowingFileCatchesUpPastSafetyMarginOnceGrowthStops(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "clip.mov")
	content := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("fixture setup: %v", err)
	}

	repo := repository.New()
	bus := eventbus.New()
	sm := statemachine.New(repo, bus, nil)

	rec := filemodel.Record{
		Identity: filemodel.NewIdentity(),
		Path:     srcPath,
		Size:     int64(len(content)),
		Status:   filemodel.GrowingCopy,
	}
	repo.Add(rec)

	e := New(sm, bus, nil, testParams(), nil)
	destPath := filepath.Join(dstDir, "clip.mov")

	done := make(chan error, 1)
	go func() { done <- e.Copy(context.Background(), rec, destPath) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Copy returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Copy never reached caughtUp&&growthStopped; safeCopyTo stayed pinned below currentSize by SafetyMarginBytes")
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("destination file missing: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("want fully copied content %q, got %q", content, got)
	}
}

func TestIsGrowing_ClassifiesBySizeIncreaseAboveThreshold(t *testing.T) {
	e := New(statemachine.New(repository.New(), eventbus.New(), nil), eventbus.New(), nil, testParams(), nil)

	stable := filemodel.Record{
		Status: filemodel.Ready,
		Size:   100,
		Growth: filemodel.GrowthInfo{FirstSeenSize: 100},
	}
	if e.IsGrowing(stable) {
		t.Fatal("want an unchanged-size file classified as not growing")
	}

	grew := filemodel.Record{
		Status: filemodel.Ready,
		Size:   2 << 20,
		Growth: filemodel.GrowthInfo{FirstSeenSize: 100},
	}
	if !e.IsGrowing(grew) {
		t.Fatal("want a file that grew past the 1MiB/10%% threshold classified as growing")
	}

	alreadyGrowing := filemodel.Record{Status: filemodel.Growing}
	if !e.IsGrowing(alreadyGrowing) {
		t.Fatal("want a record already in a Growing status classified as growing regardless of size")
	}
}
