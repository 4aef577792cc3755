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

// Package ui is the reference UI/broadcaster boundary: it subscribes to
// the EventBus and fans out JSON envelopes to every connected Sink,
// grounded on original_source/app/services/websocket_manager.py's
// four message kinds (initial_state, file_update, storage_update,
// statistics_update) plus mount_status, carried here as a generic
// "storage_update" variant since this port has no separate network-
// share mount concept.
package ui

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/glog"

	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/stats"
	"github.com/mediavault/transferagent/storage"
)

// Sink is anything that can receive one serialized envelope at a time;
// a WebSocket connection, an SSE stream, or a test buffer all satisfy it.
// Broadcaster may call Send for the same Sink from several goroutines at
// once (events are published concurrently), so Send must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// envelope is the common shape of every message the UI boundary emits.
type envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Broadcaster fans out repository and storage-monitor state changes to
// every connected Sink as JSON envelopes.
type Broadcaster struct {
	repo    *repository.Repository
	monitor *storage.Monitor
	tracker *stats.Tracker

	mu    sync.Mutex
	sinks map[Sink]struct{}
}

func New(repo *repository.Repository, monitor *storage.Monitor, tracker *stats.Tracker) *Broadcaster {
	return &Broadcaster{repo: repo, monitor: monitor, tracker: tracker, sinks: make(map[Sink]struct{})}
}

// Register subscribes the broadcaster to the bus's file and storage
// events. Call once during wiring, after all other subscribers so
// ordering across subscribers within one EventType stays in subscription
// order.
func (b *Broadcaster) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.FileStatusChanged, func(ctx context.Context, ev eventbus.Event) error {
		sc := ev.(eventbus.FileStatusChangedEvent)
		b.broadcast(ctx, "file_update", map[string]interface{}{
			"file_identity": sc.FileIdentity,
			"old_status":    sc.Old,
			"new_status":    sc.New,
			"file":          sc.Record,
		})
		return nil
	})
	bus.Subscribe(eventbus.StorageUpdate, func(ctx context.Context, ev eventbus.Event) error {
		su := ev.(eventbus.StorageUpdateEvent)
		b.broadcast(ctx, "storage_update", map[string]interface{}{
			"path":   su.Path,
			"status": su.Status,
		})
		return nil
	})
}

// Connect registers sink and immediately sends it the initial_state
// envelope, matching the original's connect()/_send_initial_state pairing.
func (b *Broadcaster) Connect(ctx context.Context, sink Sink) {
	b.mu.Lock()
	b.sinks[sink] = struct{}{}
	b.mu.Unlock()

	b.sendInitialState(ctx, sink)
}

// Disconnect removes sink from the fan-out set.
func (b *Broadcaster) Disconnect(sink Sink) {
	b.mu.Lock()
	delete(b.sinks, sink)
	b.mu.Unlock()
}

func (b *Broadcaster) sendInitialState(ctx context.Context, sink Sink) {
	files := b.repo.GetAll()
	data := map[string]interface{}{
		"files":      files,
		"statistics": b.statistics(files),
	}
	if src, ok := b.monitor.SourceInfo(); ok {
		data["source"] = src
	}
	if dst, ok := b.monitor.DestInfo(); ok {
		data["destination"] = dst
	}

	payload, err := json.Marshal(envelope{Type: "initial_state", Data: data, Timestamp: now()})
	if err != nil {
		glog.Errorf("ui: failed to marshal initial_state: %v", err)
		return
	}
	if err := sink.Send(ctx, payload); err != nil {
		glog.V(1).Infof("ui: initial_state send failed, dropping sink: %v", err)
		b.Disconnect(sink)
	}
}

// BroadcastStatistics sends a statistics_update envelope to every
// connected sink; intended to be called on a periodic ticker by main.
func (b *Broadcaster) BroadcastStatistics(ctx context.Context) {
	files := b.repo.GetAll()
	b.broadcast(ctx, "statistics_update", map[string]interface{}{"statistics": b.statistics(files)})
}

func (b *Broadcaster) statistics(files []filemodel.Record) map[string]interface{} {
	counts := make(map[filemodel.Status]int)
	var totalBytes int64
	for _, f := range files {
		counts[f.Status]++
		totalBytes += f.Size
	}
	result := map[string]interface{}{
		"total_files": len(files),
		"by_status":   counts,
		"total_bytes": totalBytes,
	}
	if b.tracker != nil {
		result["throughput_bytes_per_second"] = b.tracker.Throughput()
	}
	return result
}

func (b *Broadcaster) broadcast(ctx context.Context, msgType string, data interface{}) {
	payload, err := json.Marshal(envelope{Type: msgType, Data: data, Timestamp: now()})
	if err != nil {
		glog.Errorf("ui: failed to marshal %s: %v", msgType, err)
		return
	}

	b.mu.Lock()
	targets := make([]Sink, 0, len(b.sinks))
	for s := range b.sinks {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, sink := range targets {
		if err := sink.Send(ctx, payload); err != nil {
			glog.V(1).Infof("ui: send failed, dropping sink: %v", err)
			b.Disconnect(sink)
		}
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
