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

// Package metrics exposes the agent's Prometheus instrumentation:
// counters and gauges for queue depth, copy throughput, retries, and
// storage status, registered against the default registry and served by
// promhttp in cmd/transferagentd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transferagent",
		Name:      "files_completed_total",
		Help:      "Files that reached a terminal completed status, by outcome.",
	}, []string{"outcome"})

	BytesCopied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transferagent",
		Name:      "bytes_copied_total",
		Help:      "Total bytes successfully written to the destination.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferagent",
		Name:      "queue_depth",
		Help:      "Number of jobs currently waiting in the JobQueue.",
	})

	SpaceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transferagent",
		Name:      "space_retries_total",
		Help:      "Number of times a file was deferred for a destination space shortage.",
	})

	NetworkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transferagent",
		Name:      "network_failures_total",
		Help:      "Number of I/O errors classified as transient/network-related.",
	})

	StorageStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "transferagent",
		Name:      "storage_status",
		Help:      "Most recent storage status per path, as an enum (0=OK,1=WARNING,2=ERROR,3=CRITICAL).",
	}, []string{"path", "role"})

	ActiveCopies = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferagent",
		Name:      "active_copies",
		Help:      "Number of copies currently in flight.",
	})

	ThroughputBytesPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferagent",
		Name:      "throughput_bytes_per_second",
		Help:      "Rolling-window measured copy throughput.",
	})
)

// StatusCode maps a storage.Status string to the gauge value documented
// on StorageStatus's Help text.
func StatusCode(status string) float64 {
	switch status {
	case "OK":
		return 0
	case "WARNING":
		return 1
	case "ERROR":
		return 2
	case "CRITICAL":
		return 3
	default:
		return -1
	}
}
