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

// Package statemachine is the sole mutator of FileRecord.Status. It
// validates transitions against the allowed table, applies an explicit,
// enumerated Update to non-status fields, and schedules (without
// awaiting) publication of a FileStatusChanged event after releasing its
// lock — so a slow subscriber can never stall a state change.
package statemachine

import (
	"context"
	"sync"
	"time"

	"github.com/mediavault/transferagent/agenterrors"
	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/helpers"
	"github.com/mediavault/transferagent/repository"
)

// Update is the explicit, enumerated set of fields a Transition may write
// besides Status. Only a pointer field's presence (non-nil) causes a
// write; this replaces the kwargs/attribute-introspection pattern of the
// original implementation per the design notes.
type Update struct {
	ErrorMessage    *string
	ClearError      bool // explicit clear when the new state has no error
	DestinationPath *string
	Progress        *filemodel.Progress
	RetryInfo       *filemodel.RetryInfo
	ClearRetryInfo  bool
	RetryCount      *int
	Size            *int64
	Mtime           *time.Time
	Growth          *filemodel.GrowthInfo
}

// StateMachine is the sole authority for status transitions.
type StateMachine struct {
	mu    sync.Mutex
	repo  *repository.Repository
	bus   *eventbus.Bus
	clock helpers.Clock
}

// New returns a StateMachine backed by repo, publishing to bus. clock is
// used only for timestamping terminal-state entry and defaults to the
// real wall clock.
func New(repo *repository.Repository, bus *eventbus.Bus, clock helpers.Clock) *StateMachine {
	if clock == nil {
		clock = helpers.NewClock()
	}
	return &StateMachine{repo: repo, bus: bus, clock: clock}
}

// Transition validates and applies a status change for the record at id.
// If newStatus equals the record's current status, it is a no-op: the
// record is returned unchanged and no event is published, even if update
// carries field writes (idempotence is defined on Status alone, matching
// the distilled design).
func (sm *StateMachine) Transition(ctx context.Context, id filemodel.Identity, newStatus filemodel.Status, update Update) (filemodel.Record, error) {
	sm.mu.Lock()
	rec, ok := sm.repo.GetByID(id)
	if !ok {
		sm.mu.Unlock()
		return filemodel.Record{}, &agenterrors.NotFound{Identity: string(id)}
	}

	if rec.Status == newStatus {
		sm.mu.Unlock()
		return rec, nil
	}

	if !isAllowed(rec.Status, newStatus) {
		sm.mu.Unlock()
		return filemodel.Record{}, &agenterrors.InvalidTransition{From: string(rec.Status), To: string(newStatus)}
	}

	old := rec.Status
	rec.ErrorMessage = ""
	applyUpdate(&rec, update)
	rec.Status = newStatus

	now := sm.clock.Now()
	if newStatus.Terminal() {
		if newStatus == filemodel.Failed || newStatus == filemodel.SpaceError {
			rec.FailedAt = now
		} else {
			rec.CompletedAt = now
		}
	}

	sm.repo.Update(rec)
	sm.mu.Unlock()

	go sm.publish(context.WithoutCancel(ctx), id, old, newStatus, rec)
	return rec, nil
}

func applyUpdate(rec *filemodel.Record, u Update) {
	if u.ErrorMessage != nil {
		rec.ErrorMessage = *u.ErrorMessage
	}
	if u.DestinationPath != nil {
		rec.DestinationPath = *u.DestinationPath
	}
	if u.Progress != nil {
		rec.Progress = *u.Progress
	}
	if u.ClearRetryInfo {
		rec.RetryInfo = nil
	}
	if u.RetryInfo != nil {
		ri := *u.RetryInfo
		rec.RetryInfo = &ri
	}
	if u.RetryCount != nil {
		rec.RetryCount = *u.RetryCount
	}
	if u.Size != nil {
		rec.Size = *u.Size
	}
	if u.Mtime != nil {
		rec.Mtime = *u.Mtime
	}
	if u.Growth != nil {
		rec.Growth = *u.Growth
	}
}

func (sm *StateMachine) publish(ctx context.Context, id filemodel.Identity, old, newStatus filemodel.Status, rec filemodel.Record) {
	sm.bus.Publish(ctx, eventbus.FileStatusChangedEvent{
		Base: eventbus.Base{
			EventID:      eventbus.NewEventID("status"),
			Timestamp:    sm.clock.Now(),
			FileIdentity: id,
		},
		Old:    old,
		New:    newStatus,
		Record: rec,
	})
}
