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

package statemachine

import "github.com/mediavault/transferagent/filemodel"

// allowed is the complete transition table. A pair not present here is
// rejected with InvalidTransition. Every non-terminal state has a recovery
// edge back toward the work pipeline; Removed is the single sink for
// "gone from source".
var allowed = map[filemodel.Status][]filemodel.Status{
	filemodel.Discovered: {filemodel.Ready, filemodel.Growing, filemodel.Removed},

	filemodel.Growing: {filemodel.ReadyToStartGrowing, filemodel.Removed},

	filemodel.ReadyToStartGrowing: {filemodel.InQueue, filemodel.Removed},

	filemodel.Ready: {filemodel.InQueue, filemodel.WaitingForNetwork, filemodel.Removed},

	filemodel.InQueue: {filemodel.Copying, filemodel.GrowingCopy, filemodel.Ready, filemodel.WaitingForSpace, filemodel.SpaceError},

	filemodel.Copying: {
		filemodel.Completed,
		filemodel.CompletedDeleteFailed,
		filemodel.Failed,
		filemodel.WaitingForNetwork,
		filemodel.WaitingForSpace,
		filemodel.SpaceError,
		filemodel.Removed,
	},

	filemodel.GrowingCopy: {
		filemodel.Copying,
		filemodel.Failed,
		filemodel.WaitingForNetwork,
		filemodel.WaitingForSpace,
		filemodel.SpaceError,
		filemodel.Removed,
	},

	filemodel.WaitingForNetwork: {filemodel.Ready, filemodel.Discovered},

	filemodel.WaitingForSpace: {filemodel.Ready},

	filemodel.Failed: {filemodel.Ready, filemodel.Discovered},

	filemodel.SpaceError: {filemodel.Ready},

	filemodel.Completed:             {filemodel.Discovered},
	filemodel.CompletedDeleteFailed: {filemodel.Discovered},
	filemodel.Removed:               {filemodel.Discovered},
}

func isAllowed(from, to filemodel.Status) bool {
	for _, candidate := range allowed[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
