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

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/statemachine"
)

func TestMonitor_CheckAll_PublishesOnlyOnStatusChange(t *testing.T) {
	repo := repository.New()
	bus := eventbus.New()
	sm := statemachine.New(repo, bus, nil)

	var updates int
	bus.Subscribe(eventbus.StorageUpdate, func(ctx context.Context, e eventbus.Event) error {
		updates++
		return nil
	})

	dir := t.TempDir()
	m := New(repo, sm, bus, nil, dir, dir, Thresholds{}, Thresholds{}, time.Hour)
	m.checkAll(context.Background())
	m.checkAll(context.Background())

	if updates != 2 {
		t.Fatalf("want exactly one StorageUpdate per path on the first check (2 total), got %d", updates)
	}
}

func TestMonitor_ProcessWaitingNetworkFiles_RediscoversOnRecovery(t *testing.T) {
	repo := repository.New()
	bus := eventbus.New()
	sm := statemachine.New(repo, bus, nil)

	rec := filemodel.Record{Identity: filemodel.NewIdentity(), Path: "/src/f.mov", Status: filemodel.WaitingForNetwork}
	repo.Add(rec)

	dir := t.TempDir()
	m := New(repo, sm, bus, nil, dir, dir, Thresholds{}, Thresholds{}, time.Hour)

	m.handleChange(context.Background(), "destination", &m.destInfo, Info{Path: dir, Status: StatusError})
	m.handleChange(context.Background(), "destination", &m.destInfo, Info{Path: dir, Status: StatusOK})

	got, _ := repo.GetByID(rec.Identity)
	if got.Status != filemodel.Discovered {
		t.Fatalf("want the WaitingForNetwork record rediscovered after recovery, got %v", got.Status)
	}
}

func TestMonitor_SourceInfoDestInfo_EmptyBeforeFirstCheck(t *testing.T) {
	repo := repository.New()
	bus := eventbus.New()
	sm := statemachine.New(repo, bus, nil)
	m := New(repo, sm, bus, nil, t.TempDir(), t.TempDir(), Thresholds{}, Thresholds{}, time.Hour)

	if _, ok := m.SourceInfo(); ok {
		t.Fatal("want no SourceInfo before the first check")
	}
	if _, ok := m.DestInfo(); ok {
		t.Fatal("want no DestInfo before the first check")
	}
}
