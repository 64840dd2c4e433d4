// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Notification hub
	HubSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachsync_hub_sessions",
			Help: "Current number of live notification sessions",
		},
	)

	HubEventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_hub_events_dispatched_total",
			Help: "Domain events routed by the notification hub",
		},
		[]string{"type"},
	)

	HubEnvelopesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coachsync_hub_envelopes_delivered_total",
			Help: "Envelopes written to a live session",
		},
	)

	HubEnvelopesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_hub_envelopes_dropped_total",
			Help: "Envelopes discarded before or during delivery",
		},
		[]string{"reason"}, // "queue_full", "send_failed", "closed"
	)

	HubSessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coachsync_hub_sessions_expired_total",
			Help: "Sessions disconnected by the liveness sweeper",
		},
	)

	// Services
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_store_retries_total",
			Help: "Transient store failures retried at the service boundary",
		},
		[]string{"operation"},
	)

	AccessDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_access_denied_total",
			Help: "Authorization denials by resource kind and reason",
		},
		[]string{"resource", "reason"},
	)
)

// Dropped reasons.
const (
	DropQueueFull  = "queue_full"
	DropSendFailed = "send_failed"
	DropClosed     = "closed"
)
