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

// Package agenterrors defines the typed error vocabulary shared by the
// control-plane components, in the teacher's AgentError idiom
// (agent/tasks/common/errors.go) generalized with errors.As/Is support via
// %w wrapping.
package agenterrors

import (
	"errors"
	"fmt"
)

// FailureType classifies why an operation failed, mirroring the teacher's
// taskpb.FailureType without a proto dependency.
type FailureType int

const (
	UnsetFailure FailureType = iota
	UnknownFailure
	NetworkFailure
	FileNotFoundFailure
	PermissionFailure
	SpaceFailure
	IntegrityFailure
	InvalidTransitionFailure
	NotFoundFailure
)

// AgentError is the general-purpose typed error carried through the
// control plane. Msg is the human-readable description; FailureType lets
// callers classify without string matching.
type AgentError struct {
	Msg         string
	FailureType FailureType
	Err         error
}

func (e AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e AgentError) Unwrap() error { return e.Err }

// NotFound is returned by the repository and StateMachine when an
// identity is not present.
type NotFound struct {
	Identity string
}

func (e *NotFound) Error() string { return fmt.Sprintf("file record not found: %s", e.Identity) }

// InvalidTransition is returned by the StateMachine when a requested
// status pair is not in the allowed-transitions table.
type InvalidTransition struct {
	From, To string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// NetworkError wraps an I/O error the NetworkErrorDetector classified as
// transient/connectivity-related. Workers treat this as retriable via
// WaitingForNetwork, never as a permanent failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// SpaceShortageError carries the required/available bytes that triggered
// a SpaceRetryScheduler handoff.
type SpaceShortageError struct {
	Required  int64
	Available int64
}

func (e *SpaceShortageError) Error() string {
	return fmt.Sprintf("insufficient space: need %d bytes, have %d", e.Required, e.Available)
}

// IntegrityMismatchError is returned by CopyEngine's verify step when
// source and destination sizes disagree after copy.
type IntegrityMismatchError struct {
	SourceSize, DestSize int64
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("size mismatch after copy: source=%d dest=%d", e.SourceSize, e.DestSize)
}

// IsNetworkError reports whether err is, or wraps, a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsNotFound reports whether err is, or wraps, a *NotFound.
func IsNotFound(err error) bool {
	var nf *NotFound
	return errors.As(err, &nf)
}
