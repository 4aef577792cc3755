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

package eventbus

import (
	"time"

	"github.com/mediavault/transferagent/filemodel"
)

// EventType discriminates the handler registry. It is intentionally a
// string, not an iota, so log lines and the UI boundary's JSON envelopes
// carry a readable value without a translation table.
type EventType string

const (
	FileDiscovered        EventType = "FileDiscovered"
	FileStatusChanged     EventType = "FileStatusChanged"
	FileReady             EventType = "FileReady"
	FileCopyStarted       EventType = "FileCopyStarted"
	FileCopyProgress      EventType = "FileCopyProgress"
	FileCopyCompleted     EventType = "FileCopyCompleted"
	FileCopyFailed        EventType = "FileCopyFailed"
	NetworkFailureDetected EventType = "NetworkFailureDetected"
	StorageUpdate         EventType = "StorageUpdate"
)

// Event is the common shape every published value satisfies. Concrete
// event payloads embed Base and add their own fields.
type Event interface {
	Type() EventType
	Base() Base
}

// Base carries the envelope fields every event type shares.
type Base struct {
	EventID      string
	Timestamp    time.Time
	FileIdentity filemodel.Identity
}

func (b Base) Base() Base { return b }

// FileDiscoveredEvent is published when the scanner adds a new record.
type FileDiscoveredEvent struct {
	Base
	Path string
}

func (FileDiscoveredEvent) Type() EventType { return FileDiscovered }

// FileStatusChangedEvent is published by the StateMachine after every
// non-idempotent transition.
type FileStatusChangedEvent struct {
	Base
	Old    filemodel.Status
	New    filemodel.Status
	Record filemodel.Record
}

func (FileStatusChangedEvent) Type() EventType { return FileStatusChanged }

// FileReadyEvent signals a file has reached Ready and should be enqueued.
type FileReadyEvent struct {
	Base
	Path string
	Size int64
}

func (FileReadyEvent) Type() EventType { return FileReady }

// FileCopyStartedEvent is published when a worker begins streaming bytes.
type FileCopyStartedEvent struct {
	Base
	Path string
}

func (FileCopyStartedEvent) Type() EventType { return FileCopyStarted }

// FileCopyProgressEvent is published at most once per second per file.
type FileCopyProgressEvent struct {
	Base
	Progress filemodel.Progress
}

func (FileCopyProgressEvent) Type() EventType { return FileCopyProgress }

// FileCopyCompletedEvent is published exactly once, whether the outcome was
// Completed or CompletedDeleteFailed.
type FileCopyCompletedEvent struct {
	Base
	BytesCopied int64
	DeleteFailed bool
}

func (FileCopyCompletedEvent) Type() EventType { return FileCopyCompleted }

// FileCopyFailedEvent is published on any terminal copy failure.
type FileCopyFailedEvent struct {
	Base
	Reason string
}

func (FileCopyFailedEvent) Type() EventType { return FileCopyFailed }

// NetworkFailureDetectedEvent is published when the NetworkErrorDetector
// classifies an I/O error as transient/network-related.
type NetworkFailureDetectedEvent struct {
	Base
	Err error
}

func (NetworkFailureDetectedEvent) Type() EventType { return NetworkFailureDetected }

// StorageUpdateEvent is published by StorageMonitor on every status
// transition of either the source or destination path.
type StorageUpdateEvent struct {
	Base
	Path   string
	Status string
}

func (StorageUpdateEvent) Type() EventType { return StorageUpdate }
