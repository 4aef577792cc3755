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

// Package scanner is the reference filesystem-watching implementation:
// fsnotify-driven discovery plus a periodic authoritative poll, since
// fsnotify alone misses deletes on some network filesystems and gives no
// stability signal by itself.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"

	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/statemachine"
)

// Params bundles the scanner's config-derived tunables.
type Params struct {
	Root                string
	StableTime          time.Duration
	PollInterval        time.Duration
	GrowingMinSizeBytes int64
	GrowingEnabled      bool
}

// Scanner watches Params.Root for new and changing files, advancing each
// discovered FileRecord from Discovered to Ready once its size and mtime
// have held steady for StableTime, or, for a file of at least
// GrowingMinSizeBytes that is still growing, from Discovered through
// Growing to ReadyToStartGrowing (from which the worker handlers queue it
// directly), and removes records whose file has disappeared.
type Scanner struct {
	repo   *repository.Repository
	sm     *statemachine.StateMachine
	params Params
	clock  func() time.Time

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	lastSeen map[string]seenState
}

type seenState struct {
	size       int64
	mtime      time.Time
	observedAt time.Time
}

func New(repo *repository.Repository, sm *statemachine.StateMachine, params Params) (*Scanner, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Scanner{
		repo: repo, sm: sm, params: params,
		clock:    time.Now,
		watcher:  watcher,
		lastSeen: make(map[string]seenState),
	}, nil
}

// Start walks Root once to discover existing files, begins watching for
// fsnotify events, and launches the periodic poll loop. It returns after
// the initial walk and watch registration; the poll loop runs in the
// background until ctx is done.
func (s *Scanner) Start(ctx context.Context) error {
	if err := s.watcher.Add(s.params.Root); err != nil {
		return err
	}
	if err := s.walkOnce(); err != nil {
		glog.Warningf("scanner: initial walk of %s failed: %v", s.params.Root, err)
	}

	go s.watchLoop(ctx)
	go s.pollLoop(ctx)
	return nil
}

func (s *Scanner) Stop() {
	s.watcher.Close()
}

func (s *Scanner) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.AddFile(ev.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			glog.Warningf("scanner: watcher error: %v", err)
		}
	}
}

func (s *Scanner) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.params.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkStability()
			s.CleanupMissing()
		}
	}
}

func (s *Scanner) walkOnce() error {
	return filepath.WalkDir(s.params.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		s.AddFile(path)
		return nil
	})
}

// AddFile records path as discovered if it has no active record, or
// otherwise refreshes the growth bookkeeping on its existing record. It
// is the single entry point both fsnotify events and the initial walk
// funnel through, so duplicate observation of the same path is always
// idempotent.
func (s *Scanner) AddFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	if rec, ok := s.repo.ActiveForPath(path); ok {
		s.observeGrowth(rec, info)
		return
	}

	rec := filemodel.Record{
		Identity:     filemodel.NewIdentity(),
		Path:         path,
		Size:         info.Size(),
		Mtime:        info.ModTime(),
		DiscoveredAt: time.Now(),
		Status:       filemodel.Discovered,
		Growth:       filemodel.GrowthInfo{FirstSeenSize: info.Size(), PreviousSize: info.Size(), GrowthStableSince: time.Now()},
	}
	s.repo.Add(rec)
	s.noteSeen(path, info)
}

// observeGrowth updates a record already being tracked, transitioning it
// into Growing once it exceeds GrowingMinSizeBytes while still changing,
// and into ReadyToStartGrowing once enough of it has been written for
// the growing-copy path to safely begin.
func (s *Scanner) observeGrowth(rec filemodel.Record, info os.FileInfo) {
	s.noteSeen(rec.Path, info)

	trackable := rec.Status == filemodel.Discovered || rec.Status == filemodel.Growing || rec.Status == filemodel.ReadyToStartGrowing
	if !trackable {
		return
	}

	growth := rec.Growth
	growing := info.Size() > growth.PreviousSize
	growth.PreviousSize = info.Size()
	if growing {
		growth.GrowthStableSince = time.Now()
	}

	size := info.Size()
	mtime := info.ModTime()

	if s.params.GrowingEnabled && growing && size >= s.params.GrowingMinSizeBytes {
		if rec.Status == filemodel.Discovered {
			s.sm.Transition(context.Background(), rec.Identity, filemodel.Growing, statemachine.Update{Size: &size, Mtime: &mtime, Growth: &growth})
		} else if rec.Status == filemodel.Growing {
			s.sm.Transition(context.Background(), rec.Identity, filemodel.ReadyToStartGrowing, statemachine.Update{Size: &size, Mtime: &mtime, Growth: &growth})
		}
	}
	// A size/mtime change that doesn't cross a status boundary is not
	// persisted to the record: Transition is a no-op on same-status calls
	// by design, and checkStability's stability window is tracked from
	// Scanner's own lastSeen map instead, so nothing is lost.
}

// checkStability transitions any Discovered record whose size/mtime have
// held steady for StableTime into Ready.
func (s *Scanner) checkStability() {
	now := s.clock()
	s.mu.Lock()
	snapshot := make(map[string]seenState, len(s.lastSeen))
	for k, v := range s.lastSeen {
		snapshot[k] = v
	}
	s.mu.Unlock()

	for _, rec := range s.repo.GetAll() {
		if rec.Status != filemodel.Discovered {
			continue
		}
		seen, ok := snapshot[rec.Path]
		if !ok {
			continue
		}
		if now.Sub(seen.observedAt) >= s.params.StableTime {
			s.sm.Transition(context.Background(), rec.Identity, filemodel.Ready, statemachine.Update{})
		}
	}
}

// CleanupMissing transitions every non-terminal, non-in-flight record
// whose file no longer exists on disk to Removed.
func (s *Scanner) CleanupMissing() {
	for _, rec := range s.repo.GetAll() {
		if rec.Status.Terminal() || rec.Status.InFlight() {
			continue
		}
		if _, err := os.Stat(rec.Path); os.IsNotExist(err) {
			s.sm.Transition(context.Background(), rec.Identity, filemodel.Removed, statemachine.Update{})
			s.mu.Lock()
			delete(s.lastSeen, rec.Path)
			s.mu.Unlock()
		}
	}
}

func (s *Scanner) noteSeen(path string, info os.FileInfo) {
	s.mu.Lock()
	prev, existed := s.lastSeen[path]
	now := time.Now()
	if existed && prev.size == info.Size() && prev.mtime.Equal(info.ModTime()) {
		// Unchanged since last observation: keep the original
		// observedAt so stability is measured from when the file
		// actually stopped changing, not from this poll tick.
		s.lastSeen[path] = seenState{size: info.Size(), mtime: info.ModTime(), observedAt: prev.observedAt}
	} else {
		s.lastSeen[path] = seenState{size: info.Size(), mtime: info.ModTime(), observedAt: now}
	}
	s.mu.Unlock()
}
