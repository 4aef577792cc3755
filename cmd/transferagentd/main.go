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

package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/mediavault/transferagent/config"
	"github.com/mediavault/transferagent/copyengine"
	"github.com/mediavault/transferagent/eventbus"
	"github.com/mediavault/transferagent/queue"
	"github.com/mediavault/transferagent/repository"
	"github.com/mediavault/transferagent/scanner"
	"github.com/mediavault/transferagent/spaceretry"
	"github.com/mediavault/transferagent/statemachine"
	"github.com/mediavault/transferagent/stats"
	"github.com/mediavault/transferagent/storage"
	"github.com/mediavault/transferagent/template"
	"github.com/mediavault/transferagent/ui"
	"github.com/mediavault/transferagent/worker"
)

var (
	settings          config.Settings
	rateLimitMBPerSec float64
	maxOpenSourceFDs  int64

	templateEnabled     bool
	templateRulesJSON   string
	templateDefaultCat  string
	templateDateFormat  string

	statsBroadcastInterval time.Duration
)

func init() {
	flag.Float64Var(&rateLimitMBPerSec, "copy-rate-limit-mb-per-sec", 0, "Aggregate copy bandwidth cap across all workers, in MiB/s. 0 means unlimited.")
	flag.Int64Var(&maxOpenSourceFDs, "max-open-source-fds", 8, "Maximum number of source files concurrently being actively read, independent of worker count.")

	flag.BoolVar(&templateEnabled, "output-folder-template-enabled", false, "Resolve destination subfolders from -output-folder-rules instead of copying flat into the destination root.")
	flag.StringVar(&templateRulesJSON, "output-folder-rules", "", "JSON array of {pattern, folder, priority, is_regex} template rules.")
	flag.StringVar(&templateDefaultCat, "output-folder-default-category", "Uncategorized", "Subfolder used when no rule matches.")
	flag.StringVar(&templateDateFormat, "output-folder-date-format", "", "filename[start:end] slice notation for the {date} template variable; empty means the first 6 characters.")

	flag.DurationVar(&statsBroadcastInterval, "statistics-broadcast-interval", 5*time.Second, "How often the UI boundary pushes a statistics_update envelope.")
}

func main() {
	finalize := config.Register(flag.CommandLine, &settings)
	flag.Parse()
	defer glog.Flush()

	if err := finalize(); err != nil {
		glog.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.New()
	bus := eventbus.New()
	sm := statemachine.New(repo, bus, nil)
	q := queue.New()

	var limiter *rate.Limiter
	if rateLimitMBPerSec > 0 {
		bytesPerSec := rateLimitMBPerSec * (1 << 20)
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	}
	var sem *semaphore.Weighted
	if maxOpenSourceFDs > 0 {
		sem = semaphore.NewWeighted(maxOpenSourceFDs)
	}

	monitor := storage.New(repo, sm, bus, nil,
		settings.SourceDirectory, settings.DestinationDirectory,
		storage.Thresholds{WarningGB: settings.SourceWarningThresholdGB, CriticalGB: settings.SourceCriticalThresholdGB},
		storage.Thresholds{WarningGB: settings.DestWarningThresholdGB, CriticalGB: settings.DestCriticalThresholdGB},
		settings.StorageCheckInterval,
	)
	monitor.Start(ctx)
	defer monitor.Stop()

	spaceChecker := storage.NewSpaceChecker()
	spaceScheduler := spaceretry.New(sm, repo.GetByID, settings.MaxSpaceRetries, settings.SpaceRetryDelay)
	defer spaceScheduler.Shutdown()

	tracker := stats.NewTracker(ctx)

	engine := copyengine.New(sm, bus, nil, copyengine.Params{
		ChunkSizeBytes:      settings.ChunkSizeBytes,
		SafetyMarginBytes:   settings.GrowingFileSafetyMarginBytes,
		PollInterval:        settings.GrowingFilePollInterval,
		ThrottlePause:       settings.GrowingCopyPause,
		GrowthTimeout:       settings.GrowingFileGrowthTimeout,
		MinGrowingSizeBytes: settings.GrowingFileMinSizeBytes,
		IOTimeout:           settings.FileOperationTimeout,
		UseTemporaryFile:    settings.UseTemporaryFile,
		MaxDeleteRetries:    settings.MaxRetryAttempts,
		DeleteRetryDelay:    2 * time.Second,
		Limiter:             limiter,
		OpenFileSem:         sem,
	}, tracker)

	rules, err := template.ParseRulesJSON(templateRulesJSON)
	if err != nil {
		glog.Fatalf("template: %v", err)
	}
	if !templateEnabled {
		rules = nil
	}
	resolver := template.NewResolver(rules, templateDefaultCat, templateDateFormat)

	handlers := worker.New(repo, sm, bus, q, monitor, spaceChecker, spaceScheduler, engine, resolver,
		settings.DestinationDirectory, settings.EnablePreCopySpaceCheck, settings.GrowingFileSafetyMarginBytes)
	handlers.Register()

	pool := worker.NewPool(q, handlers, settings.MaxConcurrentCopies)
	pool.Start(ctx)

	sc, err := scanner.New(repo, sm, scanner.Params{
		Root:                settings.SourceDirectory,
		StableTime:          settings.FileStableTime,
		PollInterval:        settings.GrowingFilePollInterval,
		GrowingMinSizeBytes: settings.GrowingFileMinSizeBytes,
		GrowingEnabled:      settings.EnableGrowingFileSupport,
	})
	if err != nil {
		glog.Fatalf("scanner: %v", err)
	}
	if err := sc.Start(ctx); err != nil {
		glog.Fatalf("scanner: failed to start: %v", err)
	}
	defer sc.Stop()

	broadcaster := ui.New(repo, monitor, tracker)
	broadcaster.Register(bus)
	go statisticsLoop(ctx, broadcaster, statsBroadcastInterval)

	if settings.MetricsPort > 0 {
		go serveMetrics(settings.MetricsPort)
	}
	if settings.PprofEnabled {
		go servePprof(settings.PprofPort)
	}

	waitForShutdown()
	glog.Info("transferagentd: shutting down")
	cancel()
	q.Close()
	pool.Stop()
}

func statisticsLoop(ctx context.Context, b *ui.Broadcaster, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.BroadcastStatistics(ctx)
		}
	}
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":" + strconv.Itoa(port)
	glog.Infof("transferagentd: serving /metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		glog.Errorf("metrics server exited: %v", err)
	}
}

// servePprof exposes the standard pprof profiles on their own port, kept
// separate from the Prometheus /metrics endpoint since pprof is opt-in and
// not meant to be scraped.
func servePprof(port int) {
	addr := ":" + strconv.Itoa(port)
	glog.Infof("transferagentd: serving pprof on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		glog.Errorf("pprof server exited: %v", err)
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
