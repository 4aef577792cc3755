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

package scanner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/statemachine"
)

func newTestScanner(t *testing.T, root string, stableTime time.Duration) (*Scanner, *repository.Repository) {
	t.Helper()
	repo := repository.New()
	sm := statemachine.New(repo, eventbus.New(), nil)
	s, err := New(repo, sm, Params{Root: root, StableTime: stableTime, PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, repo
}

func TestAddFile_DiscoversANewPathOnce(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mov")
	os.WriteFile(path, []byte("data"), 0o644)

	s, repo := newTestScanner(t, root, time.Hour)
	s.AddFile(path)
	s.AddFile(path)

	all := repo.GetAll()
	if len(all) != 1 {
		t.Fatalf("want exactly 1 record after two AddFile calls on the same path, got %d", len(all))
	}
	if all[0].Status != filemodel.Discovered {
		t.Fatalf("want status Discovered, got %v", all[0].Status)
	}
}

func TestCheckStability_TransitionsToReadyAfterStableTime(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mov")
	os.WriteFile(path, []byte("data"), 0o644)

	s, repo := newTestScanner(t, root, 10*time.Millisecond)
	s.AddFile(path)

	time.Sleep(20 * time.Millisecond)
	s.checkStability()

	rec, _ := repo.ActiveForPath(path)
	if rec.Status != filemodel.Ready {
		t.Fatalf("want Ready after the stable window elapses, got %v", rec.Status)
	}
}

func TestCheckStability_DoesNotFireBeforeStableTimeElapses(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mov")
	os.WriteFile(path, []byte("data"), 0o644)

	s, repo := newTestScanner(t, root, time.Hour)
	s.AddFile(path)
	s.checkStability()

	rec, _ := repo.ActiveForPath(path)
	if rec.Status != filemodel.Discovered {
		t.Fatalf("want still Discovered before the stable window elapses, got %v", rec.Status)
	}
}

func TestCleanupMissing_RemovesRecordsForDeletedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mov")
	os.WriteFile(path, []byte("data"), 0o644)

	s, repo := newTestScanner(t, root, time.Hour)
	s.AddFile(path)
	os.Remove(path)
	s.CleanupMissing()

	if _, ok := repo.ActiveForPath(path); ok {
		t.Fatal("want no active record after cleanup")
	}
	all := repo.GetAll()
	if len(all) != 1 || all[0].Status != filemodel.Removed {
		t.Fatalf("want the record transitioned to Removed, got %+v", all)
	}
}

func TestCleanupMissing_SkipsInFlightRecords(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mov")
	os.WriteFile(path, []byte("data"), 0o644)

	repo := repository.New()
	sm := statemachine.New(repo, eventbus.New(), nil)
	s, err := New(repo, sm, Params{Root: root, StableTime: time.Hour, PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Stop)

	rec := filemodel.Record{Identity: filemodel.NewIdentity(), Path: path, Status: filemodel.Copying}
	repo.Add(rec)
	os.Remove(path)
	s.CleanupMissing()

	got, _ := repo.GetByID(rec.Identity)
	if got.Status != filemodel.Copying {
		t.Fatalf("want an in-flight record left untouched, got %v", got.Status)
	}
}

func TestObserveGrowth_GrowingFileAdvancesThroughGrowingStates(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mov")
	os.WriteFile(path, []byte("0123456789"), 0o644)

	repo := repository.New()
	sm := statemachine.New(repo, eventbus.New(), nil)
	s, err := New(repo, sm, Params{Root: root, StableTime: time.Hour, PollInterval: time.Hour, GrowingEnabled: true, GrowingMinSizeBytes: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Stop)

	s.AddFile(path)
	os.WriteFile(path, []byte("0123456789extra"), 0o644)
	s.AddFile(path)

	rec, _ := repo.ActiveForPath(path)
	if rec.Status != filemodel.Growing {
		t.Fatalf("want Growing after the file grows, got %v", rec.Status)
	}

	os.WriteFile(path, []byte("0123456789extra-more"), 0o644)
	s.AddFile(path)

	rec, _ = repo.ActiveForPath(path)
	if rec.Status != filemodel.ReadyToStartGrowing {
		t.Fatalf("want ReadyToStartGrowing after a second growth observation, got %v", rec.Status)
	}
}
