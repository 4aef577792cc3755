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

package filemodel

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the opaque, never-reused key that identifies one file
// instance across its entire lifetime, including history after a filename
// is reused.
type Identity string

// NewIdentity returns a fresh, globally unique Identity.
func NewIdentity() Identity {
	return Identity(uuid.NewString())
}

// Progress describes the in-flight byte-level state of a copy. It is only
// meaningful while Status is Copying or GrowingCopy.
type Progress struct {
	BytesCopied int64
	TotalBytes  int64
	CopySpeed   float64 // bytes/second
}

// RetryKind enumerates why a RetryInfo was attached to a record. Space is
// the only kind this design produces; the field exists so a future retry
// source doesn't require a schema change.
type RetryKind string

const RetryKindSpace RetryKind = "space"

// RetryInfo describes a pending deferred retry. Its presence on a record is
// only valid while Status == WaitingForSpace (see invariant 5).
type RetryInfo struct {
	ScheduledAt time.Time
	FiresAt     time.Time
	Reason      string
	Kind        RetryKind
}

// GrowthInfo holds the bookkeeping CopyEngine and the scanner use to decide
// whether a file is still being appended to.
type GrowthInfo struct {
	FirstSeenSize     int64
	PreviousSize      int64
	GrowthStableSince time.Time
	GrowthRate        float64 // bytes/second, 0 once stable
}

// Record is the central entity: one FileRecord for one observed file
// instance. A Record is only ever mutated through statemachine.Transition;
// every other component treats it as a read-only snapshot obtained from
// the repository.
type Record struct {
	Identity Identity
	Path     string

	Size  int64
	Mtime time.Time

	DiscoveredAt     time.Time
	StartedCopyingAt time.Time
	CompletedAt      time.Time
	FailedAt         time.Time

	Status Status

	Progress Progress

	RetryCount   int
	ErrorMessage string

	DestinationPath string

	Growth GrowthInfo

	RetryInfo *RetryInfo
}

// Clone returns a deep-enough copy of r suitable for handing to callers
// outside the repository's lock: all fields are value types except
// RetryInfo, which is copied if present.
func (r Record) Clone() Record {
	if r.RetryInfo != nil {
		ri := *r.RetryInfo
		r.RetryInfo = &ri
	}
	return r
}
