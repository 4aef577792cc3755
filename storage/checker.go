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

// Package storage implements SpaceChecker and StorageMonitor: periodic
// health/space checks of the source and destination paths, classified
// into an overall status and used to drive network-availability
// transitions and pre-copy space checks.
package storage

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/mediavault/transferagent/helpers"
)

// Status mirrors the levels a path's health can be classified into.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusError    Status = "ERROR"
)

// statusPriority orders statuses for overall-status aggregation: the
// worst status across source and destination wins.
var statusPriority = map[Status]int{
	StatusCritical: 3,
	StatusError:    2,
	StatusWarning:  1,
	StatusOK:       0,
}

// Worse returns the more severe of a and b. CRITICAL outranks ERROR so
// that a critically-low-but-reachable destination is never reported as
// merely "inaccessible" when aggregated with a healthy source — matching
// the priority order CRITICAL > ERROR > WARNING > OK named in the design.
func Worse(a, b Status) Status {
	if statusPriority[a] >= statusPriority[b] {
		return a
	}
	return b
}

// Info is a single health-check result for one path.
type Info struct {
	Path            string
	IsAccessible    bool
	HasWriteAccess  bool
	FreeGB          float64
	TotalGB         float64
	UsedGB          float64
	Status          Status
	WarningThreshGB float64
	CriticalThreshGB float64
	LastChecked     time.Time
	ErrorMessage    string
}

// TestFilePrefix identifies probe files StorageChecker creates to verify
// write access. StorageMonitor sweeps files with this prefix on startup
// and on every check, since a crash mid-probe would otherwise leave
// artifacts on network volumes.
const TestFilePrefix = ".storage_test_"

// Checker performs a single path's health check: existence, free/total/
// used space, and a create-then-delete probe for write access.
type Checker struct {
	clock helpers.Clock
}

// NewChecker returns a Checker using the real wall clock.
func NewChecker() *Checker {
	return &Checker{clock: helpers.NewClock()}
}

// CheckPath classifies path's health against the given thresholds.
func (c *Checker) CheckPath(ctx context.Context, path string, warningGB, criticalGB float64) Info {
	info := Info{
		Path:             path,
		WarningThreshGB:  warningGB,
		CriticalThreshGB: criticalGB,
		LastChecked:      c.clock.Now(),
	}

	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		info.Status = StatusError
		if err != nil {
			info.ErrorMessage = fmt.Sprintf("path %s is not accessible: %v", path, err)
		} else {
			info.ErrorMessage = fmt.Sprintf("path %s is not a directory", path)
		}
		return info
	}
	info.IsAccessible = true

	free, total, used, err := diskUsage(path)
	if err != nil {
		info.Status = StatusError
		info.ErrorMessage = fmt.Sprintf("disk usage check failed: %v", err)
		return info
	}
	info.FreeGB, info.TotalGB, info.UsedGB = free, total, used

	info.HasWriteAccess = c.checkWriteAccess(path)
	info.Status = evaluateStatus(info.FreeGB, warningGB, criticalGB, info.IsAccessible, info.HasWriteAccess)
	return info
}

func evaluateStatus(freeGB, warnGB, critGB float64, accessible, writable bool) Status {
	if !accessible {
		return StatusError
	}
	if !writable {
		return StatusCritical
	}
	if freeGB < critGB {
		return StatusCritical
	}
	if freeGB < warnGB {
		return StatusWarning
	}
	return StatusOK
}

func (c *Checker) checkWriteAccess(dir string) bool {
	probe, err := c.createTestFile(dir)
	if err != nil {
		glog.V(1).Infof("storage: write access check failed for %s: %v", dir, err)
		return false
	}
	c.cleanupTestFile(probe)
	return true
}

func (c *Checker) createTestFile(dir string) (string, error) {
	name := fmt.Sprintf("%s%016x.tmp", TestFilePrefix, rand.Int63())
	probe := filepath.Join(dir, name)
	if err := os.WriteFile(probe, []byte("storage_write_test"), 0o644); err != nil {
		return "", fmt.Errorf("cannot create probe file in %s: %w", dir, err)
	}
	return probe, nil
}

func (c *Checker) cleanupTestFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		glog.Warningf("storage: could not clean up probe file %s: %v", path, err)
	}
}

// CleanupStaleProbes removes any leftover probe file in dir, matching
// TestFilePrefix. A crash between creating and deleting a probe would
// otherwise leave it on a network volume indefinitely.
func (c *Checker) CleanupStaleProbes(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cleaned := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, TestFilePrefix) && strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				cleaned++
			}
		}
	}
	if cleaned > 0 {
		glog.Infof("storage: cleaned up %d stale probe files in %s", cleaned, dir)
	}
	return cleaned
}
