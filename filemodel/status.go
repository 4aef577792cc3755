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

// Package filemodel defines the central FileRecord entity and its status
// enumeration, tracked by the agent from discovery through to a terminal
// state.
package filemodel

// Status is one of the states a FileRecord can occupy. Transitions between
// them are validated exclusively by the statemachine package; nothing in
// this package enforces the transition table.
type Status string

const (
	Discovered Status = "Discovered"
	Ready      Status = "Ready"
	InQueue    Status = "InQueue"
	Copying    Status = "Copying"

	Completed             Status = "Completed"
	CompletedDeleteFailed Status = "CompletedDeleteFailed"
	Failed                Status = "Failed"
	Removed               Status = "Removed"

	Growing              Status = "Growing"
	ReadyToStartGrowing  Status = "ReadyToStartGrowing"
	GrowingCopy          Status = "GrowingCopy"

	WaitingForSpace Status = "WaitingForSpace"
	SpaceError      Status = "SpaceError"

	WaitingForNetwork Status = "WaitingForNetwork"
)

// Terminal reports whether s is one of the states from which the record
// makes no further forward progress without external intervention.
func (s Status) Terminal() bool {
	switch s {
	case Completed, CompletedDeleteFailed, Failed, Removed, SpaceError:
		return true
	default:
		return false
	}
}

// InFlight reports whether a record in this status has an active copy
// goroutine pinned to it; cleanup_missing must never touch these.
func (s Status) InFlight() bool {
	switch s {
	case Copying, GrowingCopy:
		return true
	default:
		return false
	}
}

// Growing reports whether s belongs to the growing-file side of the
// lifecycle, used by CopyEngine classification.
func (s Status) Growing() bool {
	switch s {
	case Growing, ReadyToStartGrowing, GrowingCopy:
		return true
	default:
		return false
	}
}
