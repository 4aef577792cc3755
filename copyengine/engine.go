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

// Package copyengine streams one file from its source path to its
// resolved destination path, handling both ordinary static files and
// files still being appended to by an upstream writer (the
// growing-copy loop). It is the only component that ever reads bytes
// from a source file or writes them to a destination.
package copyengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/mediavault/transferagent/agenterrors"
	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/filemodel"
	"github.com/mediavault/transferagent/helpers"
	"github.com/mediavault/transferagent/metrics"
	"github.com/mediavault/transferagent/statemachine"
	"github.com/mediavault/transferagent/stats"
)

// Params bundles the copy-loop tunables carried in config.Settings; Engine
// holds one Params value built once at wiring time.
type Params struct {
	ChunkSizeBytes      int64
	SafetyMarginBytes   int64
	PollInterval        time.Duration
	ThrottlePause       time.Duration
	GrowthTimeout       time.Duration
	MinGrowingSizeBytes int64
	IOTimeout           time.Duration
	UseTemporaryFile    bool

	MaxDeleteRetries int
	DeleteRetryDelay time.Duration

	Limiter      *rate.Limiter
	OpenFileSem  *semaphore.Weighted
}

// Engine copies one file at a time on behalf of a worker goroutine; it is
// safe to share a single Engine across every concurrent worker since all
// of its state is either immutable Params or passed in per call.
type Engine struct {
	sm       *statemachine.StateMachine
	bus      *eventbus.Bus
	detector NetworkErrorDetector
	clock    helpers.Clock
	params   Params
	tracker  *stats.Tracker
}

// New constructs an Engine. tracker may be nil, in which case per-chunk
// throughput samples are simply not recorded.
func New(sm *statemachine.StateMachine, bus *eventbus.Bus, clock helpers.Clock, params Params, tracker *stats.Tracker) *Engine {
	if clock == nil {
		clock = helpers.NewClock()
	}
	return &Engine{sm: sm, bus: bus, clock: clock, params: params, tracker: tracker}
}

func (e *Engine) recordBytes(n int64) {
	if e.tracker != nil {
		e.tracker.RecordBytesCopied(n)
	}
}

// IsGrowing classifies rec as still being written to: the status was
// already one of the growing states, or its growth bookkeeping shows a
// nonzero rate, or its size has increased by more than the greater of
// 10% or 1 MiB since it was first observed.
func (e *Engine) IsGrowing(rec filemodel.Record) bool {
	if rec.Status.Growing() {
		return true
	}
	if rec.Growth.GrowthRate > 0 {
		return true
	}
	increase := rec.Size - rec.Growth.FirstSeenSize
	threshold := rec.Growth.FirstSeenSize / 10
	if threshold < 1<<20 {
		threshold = 1 << 20
	}
	return increase > threshold
}

// Copy streams rec's source file to destPath, dispatching to the growing
// or static loop by rec's current status, and performs verify-then-delete
// finalization. It returns a non-nil error only for conditions the caller
// (the worker's ProcessJob handler) must translate into a terminal or
// retriable status transition itself; all progress/status bookkeeping
// Copy can perform on its own (progress events, Copying/GrowingCopy entry)
// it performs directly via the StateMachine.
func (e *Engine) Copy(ctx context.Context, rec filemodel.Record, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("copyengine: create destination directory: %w", err)
	}

	writePath := destPath
	if e.params.UseTemporaryFile {
		writePath = destPath + ".tmp"
	}

	e.bus.Publish(ctx, eventbus.FileCopyStartedEvent{
		Base: eventbus.Base{EventID: eventbus.NewEventID("copy"), Timestamp: e.clock.Now(), FileIdentity: rec.Identity},
		Path: rec.Path,
	})

	var bytesCopied int64
	var err error
	if rec.Status.Growing() {
		bytesCopied, err = e.growingCopy(ctx, rec, writePath)
	} else {
		bytesCopied, err = e.staticCopy(ctx, rec, writePath)
	}
	if err != nil {
		return err
	}

	if e.params.UseTemporaryFile {
		if err := os.Rename(writePath, destPath); err != nil {
			return fmt.Errorf("copyengine: rename temp file into place: %w", err)
		}
	}

	return e.finalize(ctx, rec, destPath, bytesCopied)
}

// staticCopy streams a file that is not growing, in one pass, at full
// speed modulo the shared rate limiter.
func (e *Engine) staticCopy(ctx context.Context, rec filemodel.Record, writePath string) (int64, error) {
	src, err := os.Open(rec.Path)
	if err != nil {
		return 0, e.classify(ctx, rec, err)
	}
	defer src.Close()

	dst, err := os.Create(writePath)
	if err != nil {
		return 0, fmt.Errorf("copyengine: create destination: %w", err)
	}
	defer dst.Close()

	reader := newSemAcquiringReader(ctx, newRateLimitedReader(ctx, src, e.params.Limiter), e.params.OpenFileSem)

	copyStart := e.clock.Now()
	lastReport := copyStart
	var copied int64
	buf := make([]byte, e.params.ChunkSizeBytes)
	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return copied, fmt.Errorf("copyengine: write destination: %w", werr)
			}
			copied += int64(n)
			e.recordBytes(int64(n))
			lastReport = e.maybeReportProgress(ctx, rec, copied, rec.Size, copyStart, lastReport)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return copied, e.classify(ctx, rec, rerr)
		}
	}
	return copied, nil
}

// growingCopy implements the growing-file algorithm: it repeatedly stats
// the source to find how far it is safe to copy (source size minus the
// configured safety margin), copies up to that point, and decides between
// throttled and full-speed reads depending on how close the copy head is
// to the live write head. It stops once the source has gone
// GrowthTimeout without changing size AND the copy has caught up to the
// last observed size.
func (e *Engine) growingCopy(ctx context.Context, rec filemodel.Record, writePath string) (int64, error) {
	dst, err := os.Create(writePath)
	if err != nil {
		return 0, fmt.Errorf("copyengine: create destination: %w", err)
	}
	defer dst.Close()

	var copied int64
	var lastSize int64
	var lastChangeAt = e.clock.Now()
	copyStart := e.clock.Now()
	lastReport := copyStart
	maxNoGrowthCycles := int(e.params.GrowthTimeout / e.params.PollInterval)
	if maxNoGrowthCycles < 1 {
		maxNoGrowthCycles = 1
	}
	noGrowthCycles := 0

	for {
		info, err := e.statWithTimeout(ctx, rec.Path)
		if err != nil {
			return copied, e.classify(ctx, rec, err)
		}
		currentSize := info.Size()

		if currentSize > lastSize {
			noGrowthCycles = 0
			lastChangeAt = e.clock.Now()
		} else {
			noGrowthCycles++
		}
		lastSize = currentSize

		growthStopped := noGrowthCycles >= maxNoGrowthCycles

		safeCopyTo := currentSize - e.params.SafetyMarginBytes
		if growthStopped {
			safeCopyTo = currentSize
		}
		if safeCopyTo < 0 {
			safeCopyTo = 0
		}

		if safeCopyTo > copied {
			distanceFromHead := currentSize - copied
			throttle := distanceFromHead < 2*e.params.SafetyMarginBytes

			n, err := e.copyChunkRange(ctx, rec.Path, dst, copied, safeCopyTo, throttle)
			copied += n
			if err != nil {
				return copied, e.classify(ctx, rec, err)
			}
			lastReport = e.maybeReportProgress(ctx, rec, copied, currentSize, copyStart, lastReport)
		}

		caughtUp := copied >= currentSize
		if caughtUp && growthStopped {
			break
		}

		select {
		case <-ctx.Done():
			return copied, ctx.Err()
		case <-time.After(e.params.PollInterval):
		}
	}

	glog.V(1).Infof("copyengine: %s finished growing after %s with no size change", rec.Path, e.clock.Now().Sub(lastChangeAt))
	return copied, nil
}

// copyChunkRange copies [from, to) from the file at path into dst, which
// is already positioned so that sequential writes land at the right
// offset (dst is only ever written to by one goroutine per copy, in
// increasing-offset order). When throttle is true, a pause is inserted
// between chunks in addition to the shared rate limiter, since the copy
// head is close enough to the live write head that pulling harder would
// race the writer rather than help it.
func (e *Engine) copyChunkRange(ctx context.Context, path string, dst *os.File, from, to int64, throttle bool) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if _, err := src.Seek(from, io.SeekStart); err != nil {
		return 0, err
	}

	reader := newSemAcquiringReader(ctx, newRateLimitedReader(ctx, src, e.params.Limiter), e.params.OpenFileSem)

	remaining := to - from
	var copied int64
	buf := make([]byte, e.params.ChunkSizeBytes)
	for remaining > 0 {
		readLen := int64(len(buf))
		if remaining < readLen {
			readLen = remaining
		}
		n, rerr := reader.Read(buf[:readLen])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return copied, werr
			}
			copied += int64(n)
			remaining -= int64(n)
			e.recordBytes(int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return copied, rerr
		}
		if throttle && e.params.ThrottlePause > 0 {
			select {
			case <-ctx.Done():
				return copied, ctx.Err()
			case <-time.After(e.params.ThrottlePause):
			}
		}
	}
	return copied, nil
}

func (e *Engine) statWithTimeout(ctx context.Context, path string) (os.FileInfo, error) {
	cctx, cancel := context.WithTimeout(ctx, e.params.IOTimeout)
	defer cancel()

	type result struct {
		info os.FileInfo
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		info, err := os.Stat(path)
		ch <- result{info, err}
	}()

	select {
	case <-cctx.Done():
		return nil, cctx.Err()
	case r := <-ch:
		return r.info, r.err
	}
}

// maybeReportProgress publishes a FileCopyProgressEvent and persists the
// same progress via a same-status StateMachine.Transition, but at most
// once per second, matching the specification's progress-event rate cap.
// CopySpeed is the average rate since copyStart (every copy starts at
// byte offset 0).
func (e *Engine) maybeReportProgress(ctx context.Context, rec filemodel.Record, copied, total int64, copyStart, lastReport time.Time) time.Time {
	now := e.clock.Now()
	if now.Sub(lastReport) < time.Second {
		return lastReport
	}

	elapsed := now.Sub(copyStart).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(copied) / elapsed
	}
	progress := filemodel.Progress{BytesCopied: copied, TotalBytes: total, CopySpeed: speed}

	e.bus.Publish(ctx, eventbus.FileCopyProgressEvent{
		Base:     eventbus.Base{EventID: eventbus.NewEventID("progress"), Timestamp: now, FileIdentity: rec.Identity},
		Progress: progress,
	})

	if _, err := e.sm.Transition(ctx, rec.Identity, rec.Status, statemachine.Update{Progress: &progress}); err != nil {
		glog.Warningf("copyengine: failed to persist progress for %s: %v", rec.Path, err)
	}

	return now
}

// classify turns a raw I/O error into a NetworkFailureDetectedEvent
// publication plus a classified return (either os.ErrNotExist-compatible,
// a *agenterrors.NetworkError, or err unchanged) for the caller to act on.
func (e *Engine) classify(ctx context.Context, rec filemodel.Record, err error) error {
	classified := e.detector.Classify(err)
	if agenterrors.IsNetworkError(classified) {
		metrics.NetworkFailures.Inc()
		e.bus.Publish(ctx, eventbus.NetworkFailureDetectedEvent{
			Base: eventbus.Base{EventID: eventbus.NewEventID("netfail"), Timestamp: e.clock.Now(), FileIdentity: rec.Identity},
			Err:  err,
		})
	}
	return classified
}

// finalize verifies source and destination sizes agree, then deletes the
// source with up to MaxDeleteRetries attempts spaced DeleteRetryDelay
// apart, transitioning the record to Completed or, if every delete
// attempt failed, CompletedDeleteFailed (never back to Failed: the bytes
// already landed safely at the destination).
func (e *Engine) finalize(ctx context.Context, rec filemodel.Record, destPath string, bytesCopied int64) error {
	srcInfo, err := os.Stat(rec.Path)
	if err != nil {
		return e.classify(ctx, rec, err)
	}
	dstInfo, err := os.Stat(destPath)
	if err != nil {
		return fmt.Errorf("copyengine: stat destination after copy: %w", err)
	}
	if srcInfo.Size() != dstInfo.Size() {
		return &agenterrors.IntegrityMismatchError{SourceSize: srcInfo.Size(), DestSize: dstInfo.Size()}
	}

	deleteFailed := false
	// WithMaxRetries counts retries after the first attempt.
	retries := e.params.MaxDeleteRetries - 1
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewConstant(e.params.DeleteRetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if rerr := os.Remove(rec.Path); rerr != nil {
			if os.IsNotExist(rerr) {
				return nil
			}
			return retry.RetryableError(rerr)
		}
		return nil
	})
	if err != nil {
		glog.Warningf("copyengine: giving up deleting source %s after %d attempts: %v", rec.Path, e.params.MaxDeleteRetries, err)
		deleteFailed = true
	}

	finalStatus := filemodel.Completed
	outcome := "completed"
	if deleteFailed {
		finalStatus = filemodel.CompletedDeleteFailed
		outcome = "completed_delete_failed"
	}

	destCopy := destPath
	if _, err := e.sm.Transition(ctx, rec.Identity, finalStatus, statemachine.Update{DestinationPath: &destCopy}); err != nil {
		return fmt.Errorf("copyengine: transition to %s: %w", finalStatus, err)
	}
	metrics.FilesCompleted.WithLabelValues(outcome).Inc()
	metrics.BytesCopied.Add(float64(bytesCopied))

	e.bus.Publish(ctx, eventbus.FileCopyCompletedEvent{
		Base:         eventbus.Base{EventID: eventbus.NewEventID("copycomplete"), Timestamp: e.clock.Now(), FileIdentity: rec.Identity},
		BytesCopied:  bytesCopied,
		DeleteFailed: deleteFailed,
	})
	return nil
}
