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

import "syscall"

const gib = 1024 * 1024 * 1024

// diskUsage reports free/total/used space at path, in GB, via statfs.
// This is the one place this package reaches for syscall directly rather
// than a library: no pack example wraps statfs, and the teacher's own
// disk-usage equivalent is GCS bucket metadata, which doesn't apply to a
// local/network-mounted path.
func diskUsage(path string) (freeGB, totalGB, usedGB float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - (stat.Bfree * uint64(stat.Bsize))
	return float64(free) / gib, float64(total) / gib, float64(used) / gib, nil
}
