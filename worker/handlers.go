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

// Package worker hosts the JobWorkerPool and the command/event handlers
// that drive a FileRecord from Ready through a terminal status: deciding
// whether a file can be queued yet, preparing its destination path, and
// invoking the CopyEngine.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/mediavault/transferagent/agenterrors"
	"github.com/mediavault/transferagent/copyengine"
	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/metrics"
	"github.com/mediavault/transferagent/queue"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/spaceretry"
	"github.com/mediavault/transferagent/statemachine"
	"github.com/mediavault/transferagent/storage"
	"github.com/mediavault/transferagent/template"
)

// Handlers wires the StateMachine, Queue, CopyEngine, and supporting
// components into the two commands the worker pool drives:
// QueueFile (FileReady -> job visible) and ProcessJob (dequeued job ->
// terminal status). It also owns the event subscriptions that trigger
// QueueFile and storage-recovery rediscovery.
type Handlers struct {
	repo        *repository.Repository
	sm          *statemachine.StateMachine
	bus         *eventbus.Bus
	q           *queue.Queue
	monitor     *storage.Monitor
	spaceChecker *storage.SpaceChecker
	spaceRetry  *spaceretry.Scheduler
	engine      *copyengine.Engine
	resolver    *template.Resolver
	destRoot    string

	enablePreCopySpaceCheck bool
	safetyMarginBytes       int64
}

func New(
	repo *repository.Repository,
	sm *statemachine.StateMachine,
	bus *eventbus.Bus,
	q *queue.Queue,
	monitor *storage.Monitor,
	spaceChecker *storage.SpaceChecker,
	spaceRetry *spaceretry.Scheduler,
	engine *copyengine.Engine,
	resolver *template.Resolver,
	destRoot string,
	enablePreCopySpaceCheck bool,
	safetyMarginBytes int64,
) *Handlers {
	return &Handlers{
		repo: repo, sm: sm, bus: bus, q: q, monitor: monitor,
		spaceChecker: spaceChecker, spaceRetry: spaceRetry, engine: engine,
		resolver: resolver, destRoot: destRoot,
		enablePreCopySpaceCheck: enablePreCopySpaceCheck,
		safetyMarginBytes:       safetyMarginBytes,
	}
}

// Register subscribes the event-driven half of Handlers: a file reaching
// Ready or ReadyToStartGrowing becomes a QueueFile command, and the storage monitor's own
// recovery logic (processWaitingNetworkFiles) independently returns
// WaitingForNetwork records to Discovered, from which the scanner/queue
// path picks them back up without a dedicated subscription here.
func (h *Handlers) Register() {
	h.bus.Subscribe(eventbus.FileStatusChanged, func(ctx context.Context, ev eventbus.Event) error {
		sc := ev.(eventbus.FileStatusChangedEvent)
		if sc.New != filemodel.Ready && sc.New != filemodel.ReadyToStartGrowing {
			return nil
		}
		h.QueueFile(ctx, sc.Record)
		return nil
	})
}

// QueueFile is the command handler run when a record becomes Ready or
// ReadyToStartGrowing. It checks destination reachability first: an
// unreachable destination parks a Ready file in WaitingForNetwork instead
// of enqueuing doomed work (ReadyToStartGrowing has no WaitingForNetwork
// edge, so such a record keeps its status and a warning is logged).
// The transition to InQueue happens before the job is appended, so a
// worker can never observe a job whose record is still Ready.
func (h *Handlers) QueueFile(ctx context.Context, rec filemodel.Record) {
	if info, ok := h.monitor.DestInfo(); ok && (info.Status == storage.StatusError || info.Status == storage.StatusCritical) {
		if _, err := h.sm.Transition(ctx, rec.Identity, filemodel.WaitingForNetwork, statemachine.Update{}); err != nil {
			glog.Warningf("worker: failed to park %s on unreachable destination: %v", rec.Path, err)
		}
		return
	}

	updated, err := h.sm.Transition(ctx, rec.Identity, filemodel.InQueue, statemachine.Update{})
	if err != nil {
		glog.Warningf("worker: failed to move %s to InQueue: %v", rec.Path, err)
		return
	}

	h.q.Enqueue(queue.Job{
		FileIdentity:       rec.Identity,
		Path:               rec.Path,
		Size:               rec.Size,
		CreationTime:       rec.DiscoveredAt,
		IsGrowingAtEnqueue: h.engine.IsGrowing(updated),
		EnqueuedAt:         time.Now(),
	})
}

// ProcessJob is the command handler a pool worker runs for each dequeued
// Job: optional pre-copy space check (handing shortages to the
// SpaceRetryScheduler rather than failing outright), destination path
// resolution and conflict handling, status entry into Copying or
// GrowingCopy, and the CopyEngine invocation itself. A copy error is
// mapped as follows: a shortage goes to the scheduler, a network error
// parks the record in WaitingForNetwork, a missing source moves it to
// Removed, and anything else moves it to Failed. A job whose record is
// unknown, or whose start transition is rejected, is dropped with a
// warning and no transition.
func (h *Handlers) ProcessJob(ctx context.Context, job queue.Job) {
	rec, ok := h.repo.GetByID(job.FileIdentity)
	if !ok {
		glog.Warningf("worker: job for unknown identity %s dropped", job.FileIdentity)
		return
	}

	destPath, err := h.resolver.Resolve(h.destRoot, rec)
	if err != nil {
		h.fail(ctx, rec, fmt.Sprintf("destination path resolution failed: %v", err))
		return
	}

	if h.enablePreCopySpaceCheck {
		if err := h.spaceChecker.Check(h.destRoot, rec.Size, h.safetyMarginBytes); err != nil {
			if shortage, ok := err.(*storage.SpaceShortage); ok {
				h.spaceRetry.HandleShortage(ctx, rec, shortage)
				return
			}
			h.fail(ctx, rec, fmt.Sprintf("space check failed: %v", err))
			return
		}
	}

	startStatus := filemodel.Copying
	if job.IsGrowingAtEnqueue {
		startStatus = filemodel.GrowingCopy
	}
	destCopy := destPath
	started, err := h.sm.Transition(ctx, rec.Identity, startStatus, statemachine.Update{DestinationPath: &destCopy})
	if err != nil {
		glog.Warningf("worker: failed to start copy for %s: %v", rec.Path, err)
		return
	}

	if err := h.engine.Copy(ctx, started, destPath); err != nil {
		if shortage, ok := err.(*storage.SpaceShortage); ok {
			h.spaceRetry.HandleShortage(ctx, started, shortage)
			return
		}
		if agenterrors.IsNetworkError(err) {
			h.monitor.TriggerImmediateCheck()
			if _, terr := h.sm.Transition(ctx, started.Identity, filemodel.WaitingForNetwork, statemachine.Update{}); terr != nil {
				glog.Warningf("worker: failed to park %s on network error: %v", started.Path, terr)
			}
			return
		}
		if os.IsNotExist(err) || agenterrors.IsNotFound(err) {
			if _, terr := h.sm.Transition(ctx, started.Identity, filemodel.Removed, statemachine.Update{}); terr != nil {
				glog.Warningf("worker: failed to mark %s Removed: %v", started.Path, terr)
			}
			return
		}
		h.monitor.TriggerImmediateCheck()
		h.fail(ctx, started, err.Error())
		return
	}
}

func (h *Handlers) fail(ctx context.Context, rec filemodel.Record, reason string) {
	if _, err := h.sm.Transition(ctx, rec.Identity, filemodel.Failed, statemachine.Update{ErrorMessage: &reason}); err != nil {
		glog.Warningf("worker: failed to mark %s Failed: %v", rec.Path, err)
	}
	metrics.FilesCompleted.WithLabelValues("failed").Inc()
	h.bus.Publish(ctx, eventbus.FileCopyFailedEvent{
		Base:   eventbus.Base{EventID: eventbus.NewEventID("copyfail"), Timestamp: time.Now(), FileIdentity: rec.Identity},
		Reason: reason,
	})
}
