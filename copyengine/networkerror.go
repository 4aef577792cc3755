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
	"os"
	"strings"
	"syscall"

	"github.com/mediavault/transferagent/agenterrors"
)

// networkErrnoCodes mirrors network_error_detector.py's NETWORK_ERRNO_CODES,
// restricted to the Linux errno space since that's what this port targets;
// the Windows-specific numeric codes (53, 67, 1231) are kept as literal
// fallbacks since their meaning is purely numeric, not a named syscall
// constant on this platform.
var networkErrnoCodes = map[syscall.Errno]bool{
	syscall.EIO:         true,
	syscall.ECONNREFUSED: true,
	syscall.ETIMEDOUT:    true,
	syscall.ENETUNREACH:  true,
	syscall.EHOSTUNREACH: true,
	syscall.EPIPE:        true,
	syscall.EACCES:       true,
	syscall.ENOTCONN:     true,
	syscall.ECONNRESET:   true,
	syscall.EINVAL:       true,
	syscall.ENOENT:       true,
}

const windowsNetworkErrno53 = 53
const windowsNetworkErrno67 = 67
const windowsNetworkErrno1231 = 1231

// networkErrorStrings mirrors NETWORK_ERROR_STRINGS for filesystems (SMB/CIFS
// under FUSE, for instance) that don't surface a clean errno through Go's
// os/syscall layer.
var networkErrorStrings = []string{
	"input/output error",
	"connection refused",
	"network is unreachable",
	"no route to host",
	"connection timed out",
	"broken pipe",
	"smb error",
	"cifs error",
	"mount_smbfs",
	"network mount",
	"network path was not found",
	"the network name cannot be found",
	"the network location cannot be reached",
}

// NetworkErrorDetector classifies a failed read/write/stat error as a
// transient network condition, a missing source file, or a plain failure.
// It is stateless; one instance may be shared across all in-flight copies.
type NetworkErrorDetector struct{}

// Classify inspects err (which may be a context deadline error, an
// *os.PathError wrapping a syscall.Errno, or any other error) and returns
// exactly one of: a *agenterrors.NetworkError; err itself unchanged when
// os.IsNotExist(err) holds (the source is gone); or err itself unchanged
// for anything else (caller should treat as FAILED).
//
// FileNotFound on the source path is checked first, ahead of the
// errno/string network classification: the original implementation raises
// FileNotFoundError as its own first-class exception on the source-path
// operations, caught and re-raised before the generic network-error
// inspection ever runs (see growing_copy.py's copy_file: "except
// FileNotFoundError: raise" precedes "except NetworkError: raise"). ENOENT
// is otherwise one of the errno codes NetworkErrorDetector treats as
// network-related (a Windows "network path not found" can surface as
// ENOENT), so checking order matters here.
func (NetworkErrorDetector) Classify(err error) error {
	if err == nil {
		return nil
	}

	if os.IsNotExist(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return &agenterrors.NetworkError{Err: err}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if networkErrnoCodes[errno] || errno == windowsNetworkErrno53 || errno == windowsNetworkErrno67 || errno == windowsNetworkErrno1231 {
			return &agenterrors.NetworkError{Err: err}
		}
	}

	lower := strings.ToLower(err.Error())
	for _, indicator := range networkErrorStrings {
		if strings.Contains(lower, indicator) {
			return &agenterrors.NetworkError{Err: err}
		}
	}

	return err
}
