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

package copyengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/mediavault/transferagent/agenterrors"
)

func TestClassify_FileNotFoundTakesPrecedenceOverErrnoOverlap(t *testing.T) {
	// os.ErrNotExist-compatible errors must be returned unchanged even
	// though syscall.ENOENT is also present in networkErrnoCodes: the
	// original implementation raises FileNotFoundError as a distinct,
	// earlier-checked exception before its generic network-error
	// inspection ever runs.
	err := &os.PathError{Op: "open", Path: "/gone", Err: syscall.ENOENT}

	got := (NetworkErrorDetector{}).Classify(err)
	if !os.IsNotExist(got) {
		t.Fatalf("want a not-exist error preserved, got %v", got)
	}
	if agenterrors.IsNetworkError(got) {
		t.Fatal("ENOENT must classify as not-exist, not as a NetworkError")
	}
}

func TestClassify_NetworkErrnoIsWrapped(t *testing.T) {
	err := &os.PathError{Op: "write", Path: "/mnt/share/f", Err: syscall.ECONNRESET}

	got := (NetworkErrorDetector{}).Classify(err)
	if !agenterrors.IsNetworkError(got) {
		t.Fatalf("want a NetworkError, got %v", got)
	}
}

func TestClassify_DeadlineExceededIsNetworkError(t *testing.T) {
	got := (NetworkErrorDetector{}).Classify(context.DeadlineExceeded)
	if !agenterrors.IsNetworkError(got) {
		t.Fatalf("want a NetworkError for a deadline error, got %v", got)
	}
}

func TestClassify_StringFallbackForOpaqueFilesystemErrors(t *testing.T) {
	err := errors.New("mount error: SMB error while reading share")
	got := (NetworkErrorDetector{}).Classify(err)
	if !agenterrors.IsNetworkError(got) {
		t.Fatalf("want a NetworkError via string fallback, got %v", got)
	}
}

func TestClassify_UnrelatedErrorPassesThroughUnchanged(t *testing.T) {
	err := fmt.Errorf("permission denied on chmod")
	got := (NetworkErrorDetector{}).Classify(err)
	if agenterrors.IsNetworkError(got) {
		t.Fatal("unrelated error must not be classified as network-related")
	}
	if got != err {
		t.Fatalf("want err returned unchanged, got %v", got)
	}
}

func TestClassify_NilIsNil(t *testing.T) {
	if got := (NetworkErrorDetector{}).Classify(nil); got != nil {
		t.Fatalf("want nil, got %v", got)
	}
}
