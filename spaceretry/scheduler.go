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

// Package spaceretry implements the SpaceRetryScheduler: deferred,
// cancellable retries for files blocked on a temporary destination space
// shortage, giving up to a terminal SpaceError after enough attempts.
package spaceretry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/metrics"
	"github.com/mediavault/transferagent/statemachine"
	"github.com/mediavault/transferagent/storage"
)

// RecordLookup resolves an identity to its current record; satisfied by
// *repository.Repository.GetByID.
type RecordLookup func(filemodel.Identity) (filemodel.Record, bool)

// Scheduler arms and cancels the one-shot timers that return a
// WaitingForSpace record to Ready. One Scheduler instance owns every
// pending timer; scheduling a new retry for an identity that already has
// one cancels the previous timer first.
type Scheduler struct {
	sm              *statemachine.StateMachine
	lookup          RecordLookup
	maxSpaceRetries int
	baseDelay       time.Duration

	mu      sync.Mutex
	pending map[filemodel.Identity]context.CancelFunc
}

// New returns a Scheduler. maxSpaceRetries and baseDelay come from
// config.Settings (MaxSpaceRetries, SpaceRetryDelay).
func New(sm *statemachine.StateMachine, lookup RecordLookup, maxSpaceRetries int, baseDelay time.Duration) *Scheduler {
	return &Scheduler{
		sm:              sm,
		lookup:          lookup,
		maxSpaceRetries: maxSpaceRetries,
		baseDelay:       baseDelay,
		pending:         make(map[filemodel.Identity]context.CancelFunc),
	}
}

// HandleShortage is called by a worker that just observed a
// *storage.SpaceShortage for rec. It increments the retry count, gives up
// to SpaceError if the count has reached the configured maximum, and
// otherwise arms a short or long retry depending on how severe the
// shortage is.
func (s *Scheduler) HandleShortage(ctx context.Context, rec filemodel.Record, shortage *storage.SpaceShortage) {
	newCount := rec.RetryCount + 1

	if newCount >= s.maxSpaceRetries {
		msg := fmt.Sprintf("permanent space issue after %d retries: %v", s.maxSpaceRetries, shortage)
		s.sm.Transition(ctx, rec.Identity, filemodel.SpaceError, statemachine.Update{
			ErrorMessage: &msg,
			RetryCount:   &newCount,
		})
		glog.Warningf("spaceretry: %s given up after %d retries: %v", rec.Path, newCount, shortage)
		return
	}

	delay := s.baseDelay
	if shortage.Temporary() {
		delay = s.baseDelay / 2
	}

	reason := fmt.Sprintf("space shortage: %v, retrying in %s", shortage, delay)
	ri := filemodel.RetryInfo{
		ScheduledAt: time.Now(),
		FiresAt:     time.Now().Add(delay),
		Reason:      reason,
		Kind:        filemodel.RetryKindSpace,
	}
	msg := reason
	if _, err := s.sm.Transition(ctx, rec.Identity, filemodel.WaitingForSpace, statemachine.Update{
		ErrorMessage: &msg,
		RetryInfo:    &ri,
		RetryCount:   &newCount,
	}); err != nil {
		glog.Warningf("spaceretry: failed to move %s to WaitingForSpace: %v", rec.Path, err)
		return
	}

	metrics.SpaceRetries.Inc()
	s.arm(rec.Identity, delay)
}

// arm schedules a one-shot timer for id, cancelling any timer already
// pending for that identity.
func (s *Scheduler) arm(id filemodel.Identity, delay time.Duration) {
	s.mu.Lock()
	if cancel, ok := s.pending[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pending[id] = cancel
	s.mu.Unlock()

	go s.fire(ctx, id, delay)
}

// Cancel cancels any pending retry timer for id without transitioning the
// record; used when a record advances out of WaitingForSpace by some
// other path before its timer fires.
func (s *Scheduler) Cancel(id filemodel.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.pending[id]; ok {
		cancel()
		delete(s.pending, id)
	}
}

// Shutdown cancels every pending retry timer.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.pending {
		cancel()
		delete(s.pending, id)
	}
}

func (s *Scheduler) fire(ctx context.Context, id filemodel.Identity, delay time.Duration) {
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		glog.V(1).Infof("spaceretry: timer for %s cancelled before firing", id)
		return
	case <-timer.C:
	}

	rec, ok := s.lookup(id)
	if !ok || rec.Status != filemodel.WaitingForSpace {
		glog.V(1).Infof("spaceretry: %s no longer WaitingForSpace at fire time, skipping", id)
		return
	}

	empty := ""
	if _, err := s.sm.Transition(context.Background(), id, filemodel.Ready, statemachine.Update{
		ErrorMessage:   &empty,
		ClearRetryInfo: true,
	}); err != nil {
		glog.Warningf("spaceretry: failed to return %s to Ready: %v", id, err)
	}
}
