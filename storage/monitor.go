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
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/sony/gobreaker"

	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/helpers"
	"github.com/mediavault/transferagent/metrics"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/statemachine"
)

// Thresholds bundles the warning/critical free-space thresholds for one
// monitored path.
type Thresholds struct {
	WarningGB, CriticalGB float64
}

// Monitor periodically checks the source and destination paths and
// publishes StorageUpdate events on status change. A destination that
// flips from non-OK-or-WARNING to OK-or-WARNING is treated as a recovery:
// every WaitingForNetwork record is transitioned back to Discovered for
// re-evaluation.
type Monitor struct {
	checker *Checker
	bus     *eventbus.Bus
	repo    *repository.Repository
	sm      *statemachine.StateMachine
	clock   helpers.Clock

	sourcePath, destPath string
	sourceThresh, destThresh Thresholds
	checkInterval            time.Duration

	// destBreaker wraps every destination check checkAll makes, whether
	// from the periodic tick or from TriggerImmediateCheck. After three
	// consecutive ERROR/CRITICAL results it opens; while open, checkAll
	// skips the destination check and records ERROR, until checkInterval
	// has passed and one trial check is let through.
	destBreaker *gobreaker.CircuitBreaker

	mu         sync.Mutex
	sourceInfo *Info
	destInfo   *Info

	immediate chan struct{}
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Monitor. sourcePath/destPath are checked every
// checkInterval; sm is used to re-discover WaitingForNetwork records on
// destination recovery.
func New(repo *repository.Repository, sm *statemachine.StateMachine, bus *eventbus.Bus, clock helpers.Clock,
	sourcePath, destPath string, sourceThresh, destThresh Thresholds, checkInterval time.Duration) *Monitor {
	if clock == nil {
		clock = helpers.NewClock()
	}
	return &Monitor{
		checker:       NewChecker(),
		bus:           bus,
		repo:          repo,
		sm:            sm,
		clock:         clock,
		sourcePath:    sourcePath,
		destPath:      destPath,
		sourceThresh:  sourceThresh,
		destThresh:    destThresh,
		checkInterval: checkInterval,
		destBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "destination-storage",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     checkInterval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		immediate: make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Start launches the background check loop, with an immediate first
// check before returning.
func (m *Monitor) Start(ctx context.Context) {
	m.checker.CleanupStaleProbes(m.sourcePath)
	m.checker.CleanupStaleProbes(m.destPath)
	m.checkAll(ctx)

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop signals the check loop to exit and waits for it.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// TriggerImmediateCheck forces a check without waiting for the next tick,
// e.g. right after a worker observes ENOSPC on the destination.
func (m *Monitor) TriggerImmediateCheck() {
	select {
	case m.immediate <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		case <-m.immediate:
			m.checkAll(ctx)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	m.checker.CleanupStaleProbes(m.sourcePath)
	m.checker.CleanupStaleProbes(m.destPath)

	srcInfo := m.checker.CheckPath(ctx, m.sourcePath, m.sourceThresh.WarningGB, m.sourceThresh.CriticalGB)
	m.handleChange(ctx, "source", &m.sourceInfo, srcInfo)

	destResult, breakerErr := m.destBreaker.Execute(func() (interface{}, error) {
		info := m.checker.CheckPath(ctx, m.destPath, m.destThresh.WarningGB, m.destThresh.CriticalGB)
		if info.Status == StatusError || info.Status == StatusCritical {
			return info, errDestUnhealthy
		}
		return info, nil
	})
	var destInfo Info
	if breakerErr != nil {
		if destResult != nil {
			destInfo = destResult.(Info)
		} else {
			// Breaker is open; we didn't even attempt a check. Report the
			// last known info as ERROR so downstream status-change logic
			// still sees the unhealthy state rather than going stale.
			destInfo = Info{Path: m.destPath, Status: StatusError, LastChecked: m.clock.Now(), ErrorMessage: breakerErr.Error()}
		}
	} else {
		destInfo = destResult.(Info)
	}
	m.handleChange(ctx, "destination", &m.destInfo, destInfo)
}

var errDestUnhealthy = &unhealthyError{}

type unhealthyError struct{}

func (*unhealthyError) Error() string { return "destination storage unhealthy" }

func (m *Monitor) handleChange(ctx context.Context, label string, cur **Info, newInfo Info) {
	m.mu.Lock()
	old := *cur
	*cur = &newInfo
	m.mu.Unlock()

	var oldStatus Status
	hadOld := old != nil
	if hadOld {
		oldStatus = old.Status
	}
	if hadOld && oldStatus == newInfo.Status {
		return
	}

	glog.Infof("storage: %s status %v -> %v (%s, %.1fGB free)", label, oldStatus, newInfo.Status, newInfo.Path, newInfo.FreeGB)
	metrics.StorageStatus.WithLabelValues(newInfo.Path, label).Set(metrics.StatusCode(string(newInfo.Status)))
	m.bus.Publish(ctx, eventbus.StorageUpdateEvent{
		Base: eventbus.Base{
			EventID:   eventbus.NewEventID("storage"),
			Timestamp: m.clock.Now(),
		},
		Path:   newInfo.Path,
		Status: string(newInfo.Status),
	})

	if label != "destination" {
		return
	}
	recovering := hadOld && !healthy(oldStatus) && healthy(newInfo.Status)
	if recovering {
		m.processWaitingNetworkFiles(ctx)
	}
}

func healthy(s Status) bool { return s == StatusOK || s == StatusWarning }

// processWaitingNetworkFiles transitions every WaitingForNetwork record
// back to Discovered so the scanner can re-evaluate it from scratch.
func (m *Monitor) processWaitingNetworkFiles(ctx context.Context) {
	for _, rec := range m.repo.GetAll() {
		if rec.Status != filemodel.WaitingForNetwork {
			continue
		}
		if _, err := m.sm.Transition(ctx, rec.Identity, filemodel.Discovered, statemachine.Update{}); err != nil {
			glog.Warningf("storage: failed to rediscover %s after network recovery: %v", rec.Identity, err)
		}
	}
}

// SourceInfo and DestInfo return the most recently observed Info, for the
// UI boundary's initial_state/storage_update payloads.
func (m *Monitor) SourceInfo() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sourceInfo == nil {
		return Info{}, false
	}
	return *m.sourceInfo, true
}

func (m *Monitor) DestInfo() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destInfo == nil {
		return Info{}, false
	}
	return *m.destInfo, true
}
