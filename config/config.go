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

// Package config loads the agent's Settings from command-line flags:
// Register binds one flag per field on a caller-supplied flag.FlagSet,
// which the caller's main parses once.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Settings is the full set of tunables named in the specification's
// configuration list, plus the ambient fields (logging verbosity,
// profiling, metrics) this expansion adds.
type Settings struct {
	SourceDirectory      string
	DestinationDirectory string

	MaxConcurrentCopies int
	ChunkSizeBytes      int64
	UseTemporaryFile    bool

	FileStableTime time.Duration

	EnableGrowingFileSupport   bool
	GrowingFileMinSizeBytes    int64
	GrowingFileSafetyMarginBytes int64
	GrowingFilePollInterval    time.Duration
	GrowingCopyPause           time.Duration
	GrowingFileGrowthTimeout   time.Duration

	EnablePreCopySpaceCheck bool
	SpaceRetryDelay         time.Duration
	MaxSpaceRetries         int

	StorageCheckInterval time.Duration

	SourceWarningThresholdGB    float64
	SourceCriticalThresholdGB   float64
	DestWarningThresholdGB      float64
	DestCriticalThresholdGB     float64

	MaxRetryAttempts       int
	FileOperationTimeout   time.Duration
	KeepCompletedFilesTime time.Duration

	// Ambient fields.
	LogVerbosity int
	PprofEnabled bool
	PprofPort    int
	MetricsPort  int
}

// Register binds every Settings field to a flag on fs, defaulting to
// production-sane values observed in the original implementation, and
// returns a finalize func that must be called once, immediately after
// fs.Parse, to convert the raw int/MiB flag values into the derived
// Settings fields (flag has no native duration-from-seconds or
// bytes-from-MiB support) and validate required fields. Register itself
// does not call fs.Parse; callers do that once in main, matching the
// teacher's agentmain.go init()/flag.Parse() split.
func Register(fs *flag.FlagSet, s *Settings) (finalize func() error) {
	fs.StringVar(&s.SourceDirectory, "source-directory", "", "Directory the scanner watches for incoming files. Must be set.")
	fs.StringVar(&s.DestinationDirectory, "destination-directory", "", "Directory copies are streamed to. Must be set.")

	fs.IntVar(&s.MaxConcurrentCopies, "max-concurrent-copies", 4, "Number of JobWorkerPool workers draining the queue concurrently.")
	chunkMB := fs.Int64("chunk-size-mb", 8, "Copy chunk size, in MiB.")
	fs.BoolVar(&s.UseTemporaryFile, "use-temporary-file", true, "Copy to a .tmp sibling then rename on completion.")

	stableSecs := fs.Int("file-stable-time-seconds", 10, "How long a file's size/mtime must be unchanged before it is considered Ready.")

	fs.BoolVar(&s.EnableGrowingFileSupport, "enable-growing-file-support", true, "Classify and copy still-growing files with the growing-copy loop.")
	minSizeMB := fs.Int64("growing-file-min-size-mb", 50, "Minimum size, in MiB, before a growing file begins growing-copy.")
	safetyMB := fs.Int64("growing-file-safety-margin-mb", 10, "Bytes kept between the copy head and the source write-head while growing, in MiB.")
	pollSecs := fs.Int("growing-file-poll-interval-seconds", 2, "Poll interval for growing-file size checks.")
	pauseMS := fs.Int("growing-copy-pause-ms", 50, "Pause inserted between chunks when throttling a growing copy.")
	growthTimeoutSecs := fs.Int("growing-file-growth-timeout-seconds", 30, "Seconds of unchanged size before a growing file is considered finished growing.")

	fs.BoolVar(&s.EnablePreCopySpaceCheck, "enable-pre-copy-space-check", true, "Check destination free space before starting a copy.")
	spaceRetrySecs := fs.Int("space-retry-delay-seconds", 60, "Base delay before retrying a space-blocked file.")
	fs.IntVar(&s.MaxSpaceRetries, "max-space-retries", 10, "Number of space retries before a file is moved to SpaceError.")

	storageCheckSecs := fs.Int("storage-check-interval-seconds", 15, "How often StorageMonitor re-checks source and destination.")

	fs.Float64Var(&s.SourceWarningThresholdGB, "source-warning-threshold-gb", 50, "Free-space warning threshold for the source path, in GB.")
	fs.Float64Var(&s.SourceCriticalThresholdGB, "source-critical-threshold-gb", 10, "Free-space critical threshold for the source path, in GB.")
	fs.Float64Var(&s.DestWarningThresholdGB, "destination-warning-threshold-gb", 100, "Free-space warning threshold for the destination path, in GB.")
	fs.Float64Var(&s.DestCriticalThresholdGB, "destination-critical-threshold-gb", 20, "Free-space critical threshold for the destination path, in GB.")

	fs.IntVar(&s.MaxRetryAttempts, "max-retry-attempts", 3, "General-purpose retry attempt cap (e.g. delete-after-copy retries).")
	opTimeoutSecs := fs.Int("file-operation-timeout-seconds", 30, "Timeout applied to each individual filesystem operation (one stat, one chunk read, one chunk write, one unlink attempt).")
	keepHours := fs.Int("keep-completed-files-hours", 72, "Age, in hours, after which terminal records are swept from the repository.")

	fs.IntVar(&s.LogVerbosity, "v", 0, "glog verbosity level.")
	fs.BoolVar(&s.PprofEnabled, "pprof-enabled", false, "Serve continuous pprof profiles.")
	fs.IntVar(&s.PprofPort, "pprof-port", 6060, "Port for the pprof HTTP server.")
	fs.IntVar(&s.MetricsPort, "metrics-port", 9090, "Port for the Prometheus /metrics HTTP server.")

	return func() error {
		s.ChunkSizeBytes = *chunkMB << 20
		s.FileStableTime = time.Duration(*stableSecs) * time.Second
		s.GrowingFileMinSizeBytes = *minSizeMB << 20
		s.GrowingFileSafetyMarginBytes = *safetyMB << 20
		s.GrowingFilePollInterval = time.Duration(*pollSecs) * time.Second
		s.GrowingCopyPause = time.Duration(*pauseMS) * time.Millisecond
		s.GrowingFileGrowthTimeout = time.Duration(*growthTimeoutSecs) * time.Second
		s.SpaceRetryDelay = time.Duration(*spaceRetrySecs) * time.Second
		s.StorageCheckInterval = time.Duration(*storageCheckSecs) * time.Second
		s.FileOperationTimeout = time.Duration(*opTimeoutSecs) * time.Second
		s.KeepCompletedFilesTime = time.Duration(*keepHours) * time.Hour

		if s.SourceDirectory == "" {
			return fmt.Errorf("config: -source-directory is required")
		}
		if s.DestinationDirectory == "" {
			return fmt.Errorf("config: -destination-directory is required")
		}
		return nil
	}
}
