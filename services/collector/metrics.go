// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsReceived counts stored events.
	// Labels: endpoint (single, batch)
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveytrace",
		Subsystem: "collector",
		Name:      "events_received_total",
		Help:      "Total events accepted by the collector",
	}, []string{"endpoint"})

	// requestsRejected counts rejected requests.
	// Labels: endpoint, reason (decode, invalid, store)
	requestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveytrace",
		Subsystem: "collector",
		Name:      "requests_rejected_total",
		Help:      "Total requests rejected by the collector",
	}, []string{"endpoint", "reason"})

	// batchSize records the size of accepted resync batches.
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "surveytrace",
		Subsystem: "collector",
		Name:      "batch_size",
		Help:      "Events per accepted resync batch",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	// sinkErrors counts failed sink writes.
	// Labels: sink
	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveytrace",
		Subsystem: "collector",
		Name:      "sink_errors_total",
		Help:      "Total failed writes to secondary sinks",
	}, []string{"sink"})
)
