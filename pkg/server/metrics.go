// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peermap_channels_connected",
			Help: "Number of currently open channels",
		},
	)

	sessionsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peermap_sessions_registered",
			Help: "Number of currently registered sessions",
		},
	)

	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peermap_broadcasts_total",
			Help: "Total number of broadcast fan-outs, by message type",
		},
		[]string{"type"},
	)

	rejectedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peermap_rejected_events_total",
			Help: "Total number of silently rejected malformed events, by message type",
		},
		[]string{"type"},
	)

	droppedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peermap_dropped_deliveries_total",
			Help: "Total number of per-destination deliveries dropped because the queue was full",
		},
	)
)
