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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxConflictSuffix is the hard cap on conflict-resolution attempts named
// in the specification: a 9999th collision at the same base name is
// treated as a configuration problem, not something to retry forever.
const maxConflictSuffix = 9999

// ErrConflictExhausted is returned by ConflictFreePath when every suffix
// up to maxConflictSuffix is already taken.
var ErrConflictExhausted = fmt.Errorf("no conflict-free destination path found up to _%d", maxConflictSuffix)

// ConflictFreePath returns a path under destDir for baseName that does
// not currently exist, inserting _N before the full extension sequence
// (e.g. archive.tar.gz -> archive_1.tar.gz) when the unmodified name is
// already taken.
func ConflictFreePath(destDir, baseName string) (string, error) {
	candidate := filepath.Join(destDir, baseName)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	stem, ext := splitExtensions(baseName)
	for n := 1; n <= maxConflictSuffix; n++ {
		name := fmt.Sprintf("%s_%d%s", stem, n, ext)
		candidate = filepath.Join(destDir, name)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", ErrConflictExhausted
}

// splitExtensions splits "archive.tar.gz" into ("archive", ".tar.gz"),
// treating every dot-separated suffix after the first component as part
// of the extension sequence, so _N is inserted before all of them.
func splitExtensions(name string) (stem, ext string) {
	parts := strings.Split(name, ".")
	if len(parts) <= 1 {
		return name, ""
	}
	return parts[0], "." + strings.Join(parts[1:], ".")
}
