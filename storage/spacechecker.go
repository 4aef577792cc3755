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

import "fmt"

// SpaceShortage describes a failed pre-copy space check: required bytes
// versus bytes actually available at the destination.
type SpaceShortage struct {
	Required, Available int64
}

func (s *SpaceShortage) Error() string {
	return fmt.Sprintf("insufficient destination space: need %d bytes, have %d", s.Required, s.Available)
}

// Shortfall returns how many bytes short of Required the destination is.
func (s *SpaceShortage) Shortfall() int64 {
	d := s.Required - s.Available
	if d < 0 {
		return 0
	}
	return d
}

// Temporary reports whether the shortage is small enough (< 20% of
// required) to be worth a short retry rather than a long one.
func (s *SpaceShortage) Temporary() bool {
	if s.Required <= 0 {
		return true
	}
	return float64(s.Shortfall())/float64(s.Required) < 0.20
}

// SpaceChecker computes whether the destination has enough free space for
// a file of a given size plus the configured safety margin.
type SpaceChecker struct {
	checker *Checker
}

func NewSpaceChecker() *SpaceChecker {
	return &SpaceChecker{checker: NewChecker()}
}

// Check returns nil if destPath has enough free space for fileSize plus
// safetyMarginBytes; otherwise it returns a *SpaceShortage.
func (c *SpaceChecker) Check(destPath string, fileSize, safetyMarginBytes int64) error {
	freeGB, _, _, err := diskUsage(destPath)
	if err != nil {
		return fmt.Errorf("space check: %w", err)
	}
	availableBytes := int64(freeGB * gib)
	required := fileSize + safetyMarginBytes
	if availableBytes < required {
		return &SpaceShortage{Required: required, Available: availableBytes}
	}
	return nil
}
